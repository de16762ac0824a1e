package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"Legend-Guardian/internal/llm"
	"Legend-Guardian/pkg/logger"
)

// Chunk 是知识库中可检索的最小单元。
type Chunk struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Ordinal int       `json:"ordinal"`
	Text    string    `json:"text"`
	Vector  []float64 `json:"vector,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// ScoredChunk 是检索结果，分数越大越相关。
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Index 维护全部切片并提供相似检索。
// 配置了 Embedder 时使用余弦相似度，否则退化为词面重合度。
type Index struct {
	mu       sync.RWMutex
	chunker  *Chunker
	embedder llm.Embedder
	chunks   []Chunk
	seq      int
}

// IndexOption 定义索引的可选配置。
type IndexOption func(*Index)

// WithEmbedder 启用向量检索。
func WithEmbedder(embedder llm.Embedder) IndexOption {
	return func(idx *Index) {
		idx.embedder = embedder
	}
}

// WithChunker 替换默认切分参数。
func WithChunker(chunker *Chunker) IndexOption {
	return func(idx *Index) {
		if chunker != nil {
			idx.chunker = chunker
		}
	}
}

// NewIndex 创建空索引。
func NewIndex(opts ...IndexOption) *Index {
	idx := &Index{chunker: NewChunker(defaultChunkSize, defaultChunkOverlap)}
	for _, opt := range opts {
		if opt != nil {
			opt(idx)
		}
	}
	return idx
}

// Ingest 切分文档并写入索引。返回新增的切片数量。
// 向量化失败不会丢弃文档，相关切片会以词面检索兜底。
func (idx *Index) Ingest(ctx context.Context, source, text string) (int, error) {
	pieces := idx.chunker.Split(text)
	if len(pieces) == 0 {
		return 0, nil
	}

	var vectors [][]float64
	if idx.embedder != nil {
		var err error
		vectors, err = idx.embedder.Embed(ctx, pieces)
		if err != nil {
			logger.L().Warn("文档向量化失败, 回退到词面检索",
				"source", source, "error", err)
			vectors = nil
		}
	}

	now := time.Now()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, piece := range pieces {
		chunk := Chunk{
			ID:      fmt.Sprintf("%s#%d", source, idx.seq),
			Source:  source,
			Ordinal: i,
			Text:    piece,
			AddedAt: now,
		}
		if vectors != nil && i < len(vectors) {
			chunk.Vector = vectors[i]
		}
		idx.chunks = append(idx.chunks, chunk)
		idx.seq++
	}
	return len(pieces), nil
}

// Len 返回索引内的切片数量。
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Query 返回与查询最相关的 topK 个切片，按分数降序。
// 分数相同的切片, 较新者优先; 仍相同则按写入顺序。
// 查询为空或索引为空时返回空结果，不报错。
func (idx *Index) Query(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	chunks := make([]Chunk, len(idx.chunks))
	copy(chunks, idx.chunks)
	idx.mu.RUnlock()
	if len(chunks) == 0 {
		return nil, nil
	}

	var queryVector []float64
	if idx.embedder != nil {
		vectors, err := idx.embedder.Embed(ctx, []string{query})
		if err != nil {
			logger.L().Warn("查询向量化失败, 回退到词面检索", "error", err)
		} else if len(vectors) == 1 {
			queryVector = vectors[0]
		}
	}
	// 余弦与词面分数不可比, 只要存在无向量的切片就整体退化到词面检索,
	// 保证一次排序里的分数来自同一个量纲。
	if queryVector != nil {
		for _, chunk := range chunks {
			if chunk.Vector == nil {
				queryVector = nil
				break
			}
		}
	}

	type ranked struct {
		chunk Chunk
		score float64
		order int
	}
	queryTerms := tokenize(query)
	results := make([]ranked, 0, len(chunks))
	for i, chunk := range chunks {
		var score float64
		if queryVector != nil && chunk.Vector != nil {
			score = cosine(queryVector, chunk.Vector)
		} else {
			score = lexicalOverlap(queryTerms, tokenize(chunk.Text))
		}
		if score <= 0 {
			continue
		}
		results = append(results, ranked{chunk: chunk, score: score, order: i})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if !results[i].chunk.AddedAt.Equal(results[j].chunk.AddedAt) {
			return results[i].chunk.AddedAt.After(results[j].chunk.AddedAt)
		}
		return results[i].order < results[j].order
	})

	if len(results) > topK {
		results = results[:topK]
	}
	scored := make([]ScoredChunk, len(results))
	for i, r := range results {
		scored[i] = ScoredChunk{Chunk: r.chunk, Score: r.score}
	}
	return scored, nil
}

func tokenize(text string) map[string]struct{} {
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

// lexicalOverlap 计算两个词集合的 Jaccard 相似度。
func lexicalOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for term := range a {
		if _, ok := b[term]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
