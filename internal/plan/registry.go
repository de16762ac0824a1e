package plan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	xerrors "Legend-Guardian/internal/errors"
)

// Handler 执行一个动作并返回结构化输出。
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry 是动作名到处理函数的只读映射。
// 构造完成后不可再修改，执行期查找无需加锁。
type Registry struct {
	handlers map[string]Handler
	actions  []string
}

// NewRegistry 校验并固化处理函数表。
// 空动作名或 nil 处理函数直接拒绝，问题在启动阶段暴露。
func NewRegistry(handlers map[string]Handler) (*Registry, error) {
	if len(handlers) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "处理函数表不能为空")
	}
	frozen := make(map[string]Handler, len(handlers))
	actions := make([]string, 0, len(handlers))
	for name, handler := range handlers {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "动作名不能为空")
		}
		if handler == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("动作 %s 缺少处理函数", name))
		}
		if _, ok := frozen[name]; ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("动作 %s 重复注册", name))
		}
		frozen[name] = handler
		actions = append(actions, name)
	}
	sort.Strings(actions)
	return &Registry{handlers: frozen, actions: actions}, nil
}

// Lookup 返回动作对应的处理函数。
func (r *Registry) Lookup(action string) (Handler, bool) {
	handler, ok := r.handlers[action]
	return handler, ok
}

// Actions 返回全部已注册的动作名，按字典序。
func (r *Registry) Actions() []string {
	out := make([]string, len(r.actions))
	copy(out, r.actions)
	return out
}

// Validate 检查计划中的每个步骤都有对应的处理函数。
func (r *Registry) Validate(p *Plan) error {
	if p == nil || len(p.Steps) == 0 {
		return xerrors.New(CodePlanValidation, "计划不能为空")
	}
	for i, step := range p.Steps {
		if strings.TrimSpace(step.Action) == "" {
			return xerrors.New(CodePlanValidation,
				fmt.Sprintf("步骤 %d 缺少动作名", i))
		}
		if _, ok := r.handlers[step.Action]; !ok {
			return xerrors.New(xerrors.CodeUnknownAction,
				fmt.Sprintf("步骤 %d 的动作 %s 未注册", i, step.Action),
				xerrors.WithMetadata("action", step.Action))
		}
	}
	return nil
}
