package plan

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/observability/alerting"
	"Legend-Guardian/pkg/logger"
)

// Runner 定义了处理器所需的执行能力。
type Runner interface {
	Execute(ctx context.Context, p *Plan) error
}

// Processor 负责从队列消费计划并交给执行器。
type Processor struct {
	runner      Runner
	store       Store
	consumer    Consumer
	workerCount int
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner Runner, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动计划处理循环，阻塞到上下文取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置计划消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, planID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}

	claimed, err := p.store.Claim(ctx, planID)
	if err != nil {
		if stdErrors.Is(err, ErrPlanNotFound) || stdErrors.Is(err, ErrPlanTerminal) || stdErrors.Is(err, ErrPlanConflict) {
			logger.L().Debug("跳过计划",
				slog.String("plan_id", planID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取计划失败", slog.Any("error", err), slog.String("plan_id", planID))
		p.emitAlert(ctx, planID, err)
		return err
	}

	execErr := p.runner.Execute(ctx, claimed)
	if finishErr := p.store.Finish(ctx, claimed); finishErr != nil {
		logger.L().Error("回写计划结果失败",
			slog.Any("error", finishErr), slog.String("plan_id", claimed.ID))
		p.emitAlert(ctx, claimed.ID, finishErr)
		return finishErr
	}

	if execErr != nil {
		logger.Audit().Warn("计划执行未成功",
			slog.String("plan_id", claimed.ID),
			slog.String("goal", claimed.Goal),
			slog.String("status", string(claimed.Status)),
			slog.String("error", execErr.Error()))
		if xerrors.ShouldAlert(execErr) {
			p.emitAlert(ctx, claimed.ID, execErr)
		}
		return nil
	}

	logger.Audit().Info("计划执行完成",
		slog.String("plan_id", claimed.ID),
		slog.String("goal", claimed.Goal),
		slog.Int("steps", len(claimed.Results)))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, planID string, cause error) {
	if p == nil || p.alerter == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		PlanID:     planID,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err), slog.String("plan_id", planID))
	}
}
