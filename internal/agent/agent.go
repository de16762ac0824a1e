// Package agent 把计划步骤落实为对 Legend 平台的真实操作。
package agent

import (
	"Legend-Guardian/internal/platform"
	"Legend-Guardian/internal/plan"
)

// Agent 持有三个上游客户端并提供全部动作处理函数。
type Agent struct {
	engine *platform.EngineClient
	sdlc   *platform.SDLCClient
	depot  *platform.DepotClient
	policy *Policy

	defaultProjectID   string
	defaultWorkspaceID string
}

// Option 定义可选配置。
type Option func(*Agent)

// WithPolicy 替换默认策略。
func WithPolicy(policy *Policy) Option {
	return func(a *Agent) {
		if policy != nil {
			a.policy = policy
		}
	}
}

// WithDefaults 设置参数缺省时使用的项目与工作区。
func WithDefaults(projectID, workspaceID string) Option {
	return func(a *Agent) {
		a.defaultProjectID = projectID
		a.defaultWorkspaceID = workspaceID
	}
}

// New 创建智能体。
func New(engine *platform.EngineClient, sdlc *platform.SDLCClient, depot *platform.DepotClient, opts ...Option) *Agent {
	a := &Agent{
		engine: engine,
		sdlc:   sdlc,
		depot:  depot,
		policy: NewPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Registry 构建并固化全部动作的注册表。
func (a *Agent) Registry() (*plan.Registry, error) {
	return plan.NewRegistry(map[string]plan.Handler{
		"create_workspace": a.createWorkspace,
		"create_model":     a.createModel,
		"create_mapping":   a.createMapping,
		"apply_changes":    a.applyChanges,
		"add_constraints":  a.addConstraints,
		"compile":          a.compile,
		"run_tests":        a.runTests,
		"generate_service": a.generateService,
		"create_service":   a.createService,
		"run_service":      a.runService,
		"open_review":      a.openReview,
		"publish":          a.publish,
		"search_depot":     a.searchDepot,
		"import_model":     a.importModel,
		"transform_schema": a.transformSchema,
		"record_manifest":  a.recordManifest,
		"rollback_service": a.rollbackService,
		// 哨兵动作: 解析不出可执行意图时的占位步骤, 执行时什么都不做。
		"no_actionable_intent": a.noActionableIntent,
	})
}

// Policy 暴露当前策略, 供外层在计划提交前做批准检查。
func (a *Agent) Policy() *Policy {
	return a.policy
}
