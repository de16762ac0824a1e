package plan

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/pkg/logger"
)

// Service 负责计划的创建、查询与调度。
type Service struct {
	store    Store
	producer Producer
	runner   Runner
	registry *Registry
}

// NewService 构造计划服务。runner 用于同步执行，producer 用于异步投递。
func NewService(store Store, producer Producer, runner Runner, registry *Registry) *Service {
	return &Service{store: store, producer: producer, runner: runner, registry: registry}
}

// Preview 校验计划并补齐标识, 但不登记也不执行。
// 供调用方在 execute=false 的试运行请求里拿到可提交的计划原样。
func (s *Service) Preview(ctx context.Context, p *Plan) (*Plan, error) {
	if s.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "计划服务未初始化")
	}
	if err := s.prepare(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Submit 校验并登记计划。execute 为 true 时同步执行，否则投递到队列。
func (s *Service) Submit(ctx context.Context, p *Plan, execute bool) (*Plan, error) {
	if s.store == nil || s.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "计划服务未初始化")
	}
	if err := s.prepare(p); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, p); err != nil {
		if stdErrors.Is(err, ErrPlanConflict) {
			existing, getErr := s.store.Get(ctx, p.ID)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if execute {
		return s.runNow(ctx, p.ID)
	}

	if s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置计划队列")
	}
	if err := s.producer.Publish(ctx, p.ID); err != nil {
		wrapped := xerrors.Wrap(CodePlanPublish, err, "发布计划到队列失败")
		logger.L().Error("计划入队失败", slog.Any("error", wrapped), slog.String("plan_id", p.ID))
		failed := *p
		failed.Status = StatusFailed
		_ = s.store.Finish(ctx, &failed)
		return nil, wrapped
	}
	logger.Audit().Info("计划入队成功",
		slog.String("plan_id", p.ID),
		slog.String("correlation_id", p.CorrelationID),
		slog.String("goal", p.Goal),
		slog.Int("steps", len(p.Steps)))
	return p, nil
}

// prepare 做提交前的公共校验与标识补齐。
func (s *Service) prepare(p *Plan) error {
	if p == nil || strings.TrimSpace(p.Goal) == "" {
		return xerrors.New(CodePlanValidation, "计划目标不能为空")
	}
	if err := s.registry.Validate(p); err != nil {
		return err
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if strings.TrimSpace(p.CorrelationID) == "" {
		p.CorrelationID = uuid.NewString()
	}
	if p.OnError == "" {
		p.OnError = PolicyAbort
	}
	p.Status = StatusPending
	return nil
}

// runNow 同步抢占并执行计划。
func (s *Service) runNow(ctx context.Context, planID string) (*Plan, error) {
	if s.runner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置计划执行器")
	}
	claimed, err := s.store.Claim(ctx, planID)
	if err != nil {
		return nil, err
	}
	execErr := s.runner.Execute(ctx, claimed)
	if finishErr := s.store.Finish(ctx, claimed); finishErr != nil {
		logger.L().Error("回写计划结果失败",
			slog.Any("error", finishErr), slog.String("plan_id", claimed.ID))
	}
	if execErr != nil {
		// 结果已经完整记录, 调用方从计划状态里读取失败详情。
		logger.Audit().Warn("计划同步执行未成功",
			slog.String("plan_id", claimed.ID),
			slog.String("status", string(claimed.Status)),
			slog.String("error", execErr.Error()))
	}
	return claimed, nil
}

// Get 返回指定计划的状态。
func (s *Service) Get(ctx context.Context, id string) (*Plan, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "计划存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的计划列表。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Plan, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "计划存储未初始化")
	}
	return s.store.List(ctx, opts)
}

// Stats 返回计划状态统计。
func (s *Service) Stats(ctx context.Context) (PlanStats, error) {
	if s.store == nil {
		return PlanStats{}, xerrors.New(xerrors.CodeInitializationFailure, "计划存储未初始化")
	}
	return s.store.Stats(ctx)
}

// Actions 返回全部可用动作，供接口层自描述。
func (s *Service) Actions() []string {
	if s.registry == nil {
		return nil
	}
	return s.registry.Actions()
}

// WaitUntilTerminal 在指定间隔内轮询计划状态，直到终态或上下文取消。
func (s *Service) WaitUntilTerminal(ctx context.Context, id string, interval time.Duration) (*Plan, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Terminal() {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放底层资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
