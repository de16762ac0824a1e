package plan

import (
	"context"
	"strings"
)

// Store 抽象了计划状态的持久化接口。
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	// Claim 把待执行计划置为 running 并返回。已终态的计划返回 ErrPlanTerminal。
	Claim(ctx context.Context, id string) (*Plan, error)
	// Finish 回写终态计划的结果。
	Finish(ctx context.Context, p *Plan) error
	List(ctx context.Context, opts ListOptions) ([]*Plan, error)
	Stats(ctx context.Context) (PlanStats, error)
	Close() error
}

// ListOptions 控制计划列表的过滤与分页。
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	Query    string
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if len(opts.Statuses) > 0 {
		valid := opts.Statuses[:0]
		seen := make(map[Status]struct{}, len(opts.Statuses))
		for _, status := range opts.Statuses {
			if !IsValidStatus(status) {
				continue
			}
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			valid = append(valid, status)
		}
		opts.Statuses = valid
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// PlanStats 聚合了计划状态的统计信息。
type PlanStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}
