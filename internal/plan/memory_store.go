package plan

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "Legend-Guardian/internal/errors"
)

// MemoryStore 将计划保存在内存中，适合单机部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*Plan)}
}

var _ Store = (*MemoryStore)(nil)

// Create 插入新计划。ID 重复返回 ErrPlanConflict。
func (s *MemoryStore) Create(_ context.Context, p *Plan) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; ok {
		return ErrPlanConflict
	}
	now := time.Now().Unix()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = StatusPending
	}
	s.plans[p.ID] = clonePlan(p)
	return nil
}

// Get 返回指定计划的副本。
func (s *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return clonePlan(p), nil
}

// Claim 把待执行计划标记为 running。
func (s *MemoryStore) Claim(_ context.Context, id string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	if p.Terminal() {
		return nil, ErrPlanTerminal
	}
	if p.Status == StatusRunning {
		return nil, ErrPlanConflict
	}
	p.Status = StatusRunning
	p.UpdatedAt = time.Now().Unix()
	return clonePlan(p), nil
}

// Finish 回写计划的终态与结果。
func (s *MemoryStore) Finish(_ context.Context, p *Plan) error {
	if p == nil || !p.Terminal() {
		return xerrors.New(xerrors.CodeInvalidArgument, "只能回写终态计划")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.plans[p.ID]
	if !ok {
		return ErrPlanNotFound
	}
	existing.Status = p.Status
	existing.Results = append([]StepResult(nil), p.Results...)
	existing.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的计划，按更新时间降序。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Plan, error) {
	opts.applyDefaults()

	s.mu.RLock()
	matched := make([]*Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if !matchPlan(p, opts) {
			continue
		}
		matched = append(matched, clonePlan(p))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt != matched[j].UpdatedAt {
			return matched[i].UpdatedAt > matched[j].UpdatedAt
		}
		return matched[i].ID > matched[j].ID
	})

	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 返回计划状态统计。
func (s *MemoryStore) Stats(_ context.Context) (PlanStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats PlanStats
	for _, p := range s.plans {
		stats.Total++
		switch p.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCanceled:
			stats.Canceled++
		}
	}
	return stats, nil
}

// Close 对内存实现是空操作。
func (s *MemoryStore) Close() error {
	return nil
}

func matchPlan(p *Plan, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		found := false
		for _, status := range opts.Statuses {
			if p.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.Query != "" {
		needle := strings.ToLower(opts.Query)
		if !strings.Contains(strings.ToLower(p.Goal), needle) &&
			!strings.Contains(strings.ToLower(p.ProjectID), needle) {
			return false
		}
	}
	return true
}

func clonePlan(p *Plan) *Plan {
	raw, err := json.Marshal(p)
	if err != nil {
		cloned := *p
		return &cloned
	}
	var cloned Plan
	if err := json.Unmarshal(raw, &cloned); err != nil {
		fallback := *p
		return &fallback
	}
	return &cloned
}
