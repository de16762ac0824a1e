package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"Legend-Guardian/pkg/logger"
)

const defaultCapacity = 1000

// RingStore 是容量固定的内存实现。
// 写满后按先进先出淘汰，并同步维护事件类型索引。
type RingStore struct {
	mu       sync.RWMutex
	capacity int
	episodes []Episode
	byType   map[string][]string
	scorer   Scorer
}

// RingOption 定义可选配置。
type RingOption func(*RingStore)

// WithScorer 替换默认的词面重合度打分。
func WithScorer(scorer Scorer) RingOption {
	return func(s *RingStore) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// NewRingStore 创建容量为 capacity 的内存情节存储。
func NewRingStore(capacity int, opts ...RingOption) *RingStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	s := &RingStore{
		capacity: capacity,
		byType:   make(map[string][]string),
		scorer:   overlapScorer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ Store = (*RingStore)(nil)

// Append 写入一条情节。ID 与时间缺省时自动补齐。
func (s *RingStore) Append(_ context.Context, episode Episode) error {
	if episode.ID == "" {
		episode.ID = uuid.NewString()
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.episodes) >= s.capacity {
		evicted := s.episodes[0]
		s.episodes = s.episodes[1:]
		s.removeFromTypeIndex(evicted)
		logger.L().Debug("情节记忆已满, 淘汰最旧记录",
			"evicted_id", evicted.ID, "event_type", evicted.EventType)
	}

	s.episodes = append(s.episodes, episode)
	s.byType[episode.EventType] = append(s.byType[episode.EventType], episode.ID)
	return nil
}

func (s *RingStore) removeFromTypeIndex(episode Episode) {
	ids := s.byType[episode.EventType]
	for i, id := range ids {
		if id == episode.ID {
			s.byType[episode.EventType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byType[episode.EventType]) == 0 {
		delete(s.byType, episode.EventType)
	}
}

// Recent 返回最近的 n 条情节，新者在前。
func (s *RingStore) Recent(_ context.Context, n int) ([]Episode, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.episodes) {
		n = len(s.episodes)
	}
	out := make([]Episode, 0, n)
	for i := len(s.episodes) - 1; i >= len(s.episodes)-n; i-- {
		out = append(out, s.episodes[i])
	}
	return out, nil
}

// ByEventType 返回指定事件类型的全部情节，新者在前。
func (s *RingStore) ByEventType(_ context.Context, eventType string) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byType[eventType]
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]Episode, 0, len(ids))
	for i := len(s.episodes) - 1; i >= 0; i-- {
		if _, ok := wanted[s.episodes[i].ID]; ok {
			out = append(out, s.episodes[i])
		}
	}
	return out, nil
}

// Similar 返回与查询最相似的 k 条情节。
// 分数为零的情节不会出现在结果里。
func (s *RingStore) Similar(_ context.Context, query string, k int) ([]ScoredEpisode, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ScoredEpisode
	// 从新到旧打分, 同分时较新的情节自然排前。
	for i := len(s.episodes) - 1; i >= 0; i-- {
		episode := s.episodes[i]
		score := s.scorer.Score(query, episode.Summary)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredEpisode{Episode: episode, Score: score})
	}
	stableSortByScore(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len 返回当前存量。
func (s *RingStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes), nil
}

// Close 对内存实现是空操作。
func (s *RingStore) Close() error {
	return nil
}

func stableSortByScore(items []ScoredEpisode) {
	// 插入排序保持稳定性, 存量规模下开销可以忽略。
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// overlapScorer 用词面重合度近似相似度。
type overlapScorer struct{}

func (overlapScorer) Score(query, summary string) float64 {
	queryTerms := termSet(query)
	summaryTerms := termSet(summary)
	if len(queryTerms) == 0 || len(summaryTerms) == 0 {
		return 0
	}
	overlap := 0
	for term := range queryTerms {
		if _, ok := summaryTerms[term]; ok {
			overlap++
		}
	}
	union := len(queryTerms) + len(summaryTerms) - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

func termSet(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		field = strings.Trim(field, ".,;:!?()[]{}\"'`")
		if len(field) < 2 {
			continue
		}
		terms[field] = struct{}{}
	}
	return terms
}
