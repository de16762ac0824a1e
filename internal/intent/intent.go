// Package intent 把自然语言请求解析成可执行的计划。
package intent

import (
	"Legend-Guardian/internal/plan"
)

// Request 是一次意图解析的输入。
type Request struct {
	Prompt      string         `json:"prompt"`
	ProjectID   string         `json:"project_id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Execute     bool           `json:"execute"`
}

// 解析来源。
const (
	SourceLLM      = "llm"
	SourceRules    = "rules"
	SourceFlow     = "flow"
	SourceSentinel = "none"
)

// IntentNoAction 是解析不出任何可执行动作时的哨兵意图。
const IntentNoAction = "no_actionable_intent"

// Result 是解析输出。Plan 永远非 nil；
// 哨兵结果携带唯一一个 no_actionable_intent 步骤。
type Result struct {
	Intent string     `json:"intent"`
	Source string     `json:"source"`
	Plan   *plan.Plan `json:"plan"`
}
