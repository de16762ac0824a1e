package memory

import (
	"context"
	"time"
)

// Episode 记录一次完整交互的结果，供后续决策时回忆。
type Episode struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	Summary   string            `json:"summary"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ScoredEpisode 是相似检索的结果。
type ScoredEpisode struct {
	Episode Episode `json:"episode"`
	Score   float64 `json:"score"`
}

// Store 定义情节记忆的统一接口。
type Store interface {
	// Append 写入一条情节。容量已满时淘汰最旧的一条。
	Append(ctx context.Context, episode Episode) error
	// Recent 返回最近的 n 条情节，新者在前。
	Recent(ctx context.Context, n int) ([]Episode, error)
	// ByEventType 返回指定事件类型的全部情节，新者在前。
	ByEventType(ctx context.Context, eventType string) ([]Episode, error)
	// Similar 返回与查询最相似的 k 条情节，按分数降序。
	Similar(ctx context.Context, query string, k int) ([]ScoredEpisode, error)
	// Len 返回当前存量。
	Len(ctx context.Context) (int, error)
	// Close 释放底层资源。
	Close() error
}

// Scorer 计算查询与情节摘要的相似度，分数越大越相似。
type Scorer interface {
	Score(query, summary string) float64
}
