package plan

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/memory"
	"Legend-Guardian/internal/observability/metrics"
	"Legend-Guardian/pkg/logger"
)

const (
	defaultStepTimeout = 60 * time.Second
	defaultGracePeriod = 5 * time.Second
)

// 情节记忆的事件类型。
const (
	EventPlanCompleted = "plan_completed"
	EventPlanFailed    = "plan_failed"
	EventPlanCanceled  = "plan_canceled"
)

// Executor 按顺序执行计划中的步骤并记录结果。
type Executor struct {
	registry    *Registry
	episodes    memory.Store
	stepTimeout time.Duration
	gracePeriod time.Duration
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithStepTimeout 限制单步执行时长。
func WithStepTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.stepTimeout = timeout
		}
	}
}

// WithGracePeriod 控制取消后留给当前步骤的收尾时间。
func WithGracePeriod(period time.Duration) ExecutorOption {
	return func(e *Executor) {
		if period > 0 {
			e.gracePeriod = period
		}
	}
}

// WithEpisodeStore 在计划终态时写入情节记忆。
func WithEpisodeStore(store memory.Store) ExecutorOption {
	return func(e *Executor) {
		e.episodes = store
	}
}

// NewExecutor 构造执行器。
func NewExecutor(registry *Registry, opts ...ExecutorOption) (*Executor, error) {
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置动作注册表")
	}
	e := &Executor{
		registry:    registry,
		stepTimeout: defaultStepTimeout,
		gracePeriod: defaultGracePeriod,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Execute 依序执行全部步骤并在 p 上就地记录结果。
// 返回错误仅表示计划以失败或取消收场，结果本身总是完整写入 p.Results。
func (e *Executor) Execute(ctx context.Context, p *Plan) error {
	if err := e.registry.Validate(p); err != nil {
		p.Status = StatusFailed
		return err
	}
	if p.OnError == "" {
		p.OnError = PolicyAbort
	}

	p.Status = StatusRunning
	p.Results = make([]StepResult, 0, len(p.Steps))

	var firstErr error
	canceled := false
	for i, step := range p.Steps {
		if canceled || (firstErr != nil && p.OnError == PolicyAbort) {
			p.Results = append(p.Results, StepResult{Action: step.Action, Status: StepSkipped})
			continue
		}

		result := e.runStep(ctx, p, i, step)
		p.Results = append(p.Results, result)

		if result.Status == StepFailed {
			stepErr := stdErrors.New(result.Error.Message)
			if result.Error.Kind == ErrKindCanceled {
				canceled = true
			}
			if firstErr == nil {
				firstErr = xerrors.Wrap(xerrors.CodeExecutorFailure, stepErr,
					fmt.Sprintf("步骤 %d (%s) 失败", i, step.Action),
					xerrors.WithMetadata("action", step.Action))
			}
		}
		if ctx.Err() != nil {
			canceled = true
		}
	}

	switch {
	case canceled:
		p.Status = StatusCanceled
		if firstErr == nil {
			firstErr = xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "计划被取消")
		}
	case firstErr != nil && p.OnError == PolicyAbort:
		p.Status = StatusFailed
	case firstErr != nil:
		// continue 策略下允许部分失败, 计划整体视为完成。
		p.Status = StatusCompleted
		firstErr = nil
	default:
		p.Status = StatusCompleted
	}

	metrics.ObservePlan(string(p.Status))
	e.recordEpisode(p)
	return firstErr
}

// runStep 执行单个步骤。父上下文被取消时给当前步骤留出收尾窗口，
// 窗口耗尽后强制结束并标记为取消。
func (e *Executor) runStep(ctx context.Context, p *Plan, index int, step Step) StepResult {
	result := StepResult{
		Action:    step.Action,
		StartedAt: time.Now().Unix(),
	}

	handler, ok := e.registry.Lookup(step.Action)
	if !ok {
		// Validate 已拦截, 此处兜底。
		result.Status = StepFailed
		result.Error = NewStepError(xerrors.New(xerrors.CodeUnknownAction,
			fmt.Sprintf("动作 %s 未注册", step.Action)))
		result.FinishedAt = time.Now().Unix()
		return result
	}

	// 步骤自身的超时独立于取消收尾逻辑。
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.stepTimeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	args := scopedArgs(p, step.Args)
	go func() {
		output, err := handler(stepCtx, args)
		done <- outcome{output: output, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// 父上下文取消: 给当前步骤 gracePeriod 的收尾时间。
		// 步骤如在窗口内结束, 其结果照常记录; 后续步骤由调用方跳过。
		select {
		case out = <-done:
		case <-time.After(e.gracePeriod):
			cancel()
			result.Status = StepFailed
			result.Error = &StepError{
				Kind:    ErrKindCanceled,
				Message: "计划被取消, 当前步骤未在收尾窗口内结束",
			}
			result.FinishedAt = time.Now().Unix()
			logger.L().Warn("步骤收尾超时",
				slog.String("plan_id", p.ID),
				slog.Int("step", index),
				slog.String("action", step.Action))
			return result
		}
	}

	result.FinishedAt = time.Now().Unix()
	if out.err != nil {
		result.Status = StepFailed
		result.Error = NewStepError(out.err)
		if stdErrors.Is(out.err, context.DeadlineExceeded) {
			result.Error.Kind = ErrKindTimeout
		}
		logger.L().Warn("步骤执行失败",
			slog.String("plan_id", p.ID),
			slog.Int("step", index),
			slog.String("action", step.Action),
			slog.Any("error", out.err))
		return result
	}

	result.Status = StepSucceeded
	result.Output = out.output
	return result
}

// scopedArgs 复制步骤参数并补齐计划级别的项目与工作区。
// 步骤显式给出的值优先。
func scopedArgs(p *Plan, args map[string]any) map[string]any {
	merged := cloneArgs(args)
	if merged == nil {
		merged = make(map[string]any, 2)
	}
	if p.ProjectID != "" {
		if _, ok := merged["project_id"]; !ok {
			merged["project_id"] = p.ProjectID
		}
	}
	if p.WorkspaceID != "" {
		if _, ok := merged["workspace_id"]; !ok {
			merged["workspace_id"] = p.WorkspaceID
		}
	}
	return merged
}

// recordEpisode 在计划终态时写入一条情节记忆。
func (e *Executor) recordEpisode(p *Plan) {
	if e.episodes == nil || !p.Terminal() {
		return
	}

	eventType := EventPlanCompleted
	switch p.Status {
	case StatusFailed:
		eventType = EventPlanFailed
	case StatusCanceled:
		eventType = EventPlanCanceled
	}

	var parts []string
	parts = append(parts, p.Goal)
	for _, result := range p.Results {
		if result.Status == StepFailed && result.Error != nil {
			parts = append(parts, fmt.Sprintf("%s failed: %s", result.Action, result.Error.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s", result.Action, result.Status))
		}
	}

	episode := memory.Episode{
		EventType: eventType,
		Summary:   strings.Join(parts, "; "),
		Metadata: map[string]string{
			"plan_id":        p.ID,
			"correlation_id": p.CorrelationID,
			"status":         string(p.Status),
		},
	}
	if err := e.episodes.Append(context.Background(), episode); err != nil {
		logger.L().Error("写入情节记忆失败",
			slog.Any("error", err),
			slog.String("plan_id", p.ID))
	}
}
