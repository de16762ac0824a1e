package plan

import (
	xerrors "Legend-Guardian/internal/errors"
)

// Status 表示执行计划在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// ErrorPolicy 控制单步失败后计划的走向。
type ErrorPolicy string

const (
	// PolicyAbort 在首个失败步骤处终止计划，剩余步骤标记为跳过。
	PolicyAbort ErrorPolicy = "abort"
	// PolicyContinue 记录失败并继续执行剩余步骤。
	PolicyContinue ErrorPolicy = "continue"
)

// StepStatus 表示单个步骤的执行结果。
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step 是计划中的一个原子动作。
type Step struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// StepError 是面向调用方的结构化失败描述。
type StepError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// StepResult 记录一个步骤的执行情况。
type StepResult struct {
	Action     string         `json:"action"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      *StepError     `json:"error,omitempty"`
	StartedAt  int64          `json:"started_at,omitempty"`
	FinishedAt int64          `json:"finished_at,omitempty"`
}

// Plan 描述一次完整的意图执行。
type Plan struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Goal          string         `json:"goal"`
	ProjectID     string         `json:"project_id,omitempty"`
	WorkspaceID   string         `json:"workspace_id,omitempty"`
	Source        string         `json:"source,omitempty"`
	OnError       ErrorPolicy    `json:"on_error"`
	Steps         []Step         `json:"steps"`
	Results       []StepResult   `json:"results,omitempty"`
	Status        Status         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Terminal 判断计划是否已经进入终态。
func (p *Plan) Terminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

var (
	// ErrPlanNotFound 表示指定的计划不存在。
	ErrPlanNotFound = xerrors.New(CodePlanNotFound, "plan not found")
	// ErrPlanConflict 表示计划在当前状态下无法进行所请求的操作。
	ErrPlanConflict = xerrors.New(CodePlanConflict, "plan conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrPlanTerminal 表示计划已经进入终态。
	ErrPlanTerminal = xerrors.New(CodePlanTerminal, "plan already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodePlanNotFound   xerrors.Code = "PLAN_NOT_FOUND"
	CodePlanConflict   xerrors.Code = "PLAN_CONFLICT"
	CodePlanTerminal   xerrors.Code = "PLAN_TERMINAL"
	CodePlanValidation xerrors.Code = "PLAN_VALIDATION_FAILED"
	CodePlanPublish    xerrors.Code = "PLAN_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodePlanNotFound, xerrors.Attributes{
		Message:   "plan not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanConflict, xerrors.Attributes{
		Message:   "plan conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanTerminal, xerrors.Attributes{
		Message:   "plan already terminal",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanValidation, xerrors.Attributes{
		Message:   "plan validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanPublish, xerrors.Attributes{
		Message:   "failed to publish plan",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的计划状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// StepError 的 kind 枚举。
const (
	ErrKindUnknownAction   = "unknown_action"
	ErrKindInvalidArgument = "invalid_argument"
	ErrKindUpstream        = "upstream"
	ErrKindTimeout         = "timeout"
	ErrKindCanceled        = "canceled"
	ErrKindInternal        = "internal"
)

// NewStepError 把任意 error 归一成结构化的步骤错误。
func NewStepError(err error) *StepError {
	if err == nil {
		return nil
	}
	stepErr := &StepError{Kind: ErrKindInternal, Message: err.Error()}
	coded, ok := xerrors.From(err)
	if !ok {
		return stepErr
	}
	stepErr.Hint = coded.Hint()
	switch coded.Code() {
	case xerrors.CodeUnknownAction:
		stepErr.Kind = ErrKindUnknownAction
	case xerrors.CodeInvalidArgument, CodePlanValidation:
		stepErr.Kind = ErrKindInvalidArgument
	case xerrors.CodeUpstreamFailure, xerrors.CodeNotFound, xerrors.CodeConflict:
		stepErr.Kind = ErrKindUpstream
	case xerrors.CodeTimeout:
		stepErr.Kind = ErrKindTimeout
	}
	return stepErr
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	cloned := make(map[string]any, len(args))
	for key, value := range args {
		cloned[key] = value
	}
	return cloned
}
