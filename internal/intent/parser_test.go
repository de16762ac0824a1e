package intent

import (
	"context"
	"testing"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/llm"
	"Legend-Guardian/internal/plan"
)

func newTestRegistry(t *testing.T) *plan.Registry {
	t.Helper()
	noop := func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, nil
	}
	handlers := map[string]plan.Handler{}
	for _, action := range []string{
		"create_workspace", "create_model", "create_mapping", "apply_changes",
		"add_constraints", "compile", "run_tests", "generate_service",
		"create_service", "run_service", "open_review", "publish",
		"search_depot", "import_model", "transform_schema", "record_manifest",
		"rollback_service", "no_actionable_intent",
	} {
		handlers[action] = noop
	}
	registry, err := plan.NewRegistry(handlers)
	if err != nil {
		t.Fatalf("构建动作表失败: %v", err)
	}
	return registry
}

// stubChat 按序返回预置回复。
type stubChat struct {
	replies []string
	calls   int
}

func (s *stubChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if s.calls >= len(s.replies) {
		return "[]", nil
	}
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

func TestParseRulesCompileAndTest(t *testing.T) {
	parser := NewParser(newTestRegistry(t), WithDefaults("demo-project", "guardian-dev"))

	result, err := parser.Parse(context.Background(), Request{
		Prompt: "Compile the workspace and run all tests",
	})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if result.Source != SourceRules {
		t.Fatalf("期望规则来源, 得到 %s", result.Source)
	}
	if result.Plan.ProjectID != "demo-project" || result.Plan.WorkspaceID != "guardian-dev" {
		t.Fatalf("默认项目/工作区未填充: %+v", result.Plan)
	}
	actions := stepActions(result.Plan.Steps)
	if len(actions) != 2 || actions[0] != "compile" || actions[1] != "run_tests" {
		t.Fatalf("步骤不符: %v", actions)
	}
}

func TestParseRulesModelThenCompile(t *testing.T) {
	parser := NewParser(newTestRegistry(t))

	result, err := parser.Parse(context.Background(), Request{
		Prompt: "Create a Trade model with ticker and price, then compile it",
	})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	actions := stepActions(result.Plan.Steps)
	if len(actions) != 2 || actions[0] != "create_model" || actions[1] != "compile" {
		t.Fatalf("步骤不符: %v", actions)
	}
	model := result.Plan.Steps[0].Args
	if model["name"] != "Trade" {
		t.Fatalf("模型名不符: %v", model["name"])
	}
	fields, ok := model["fields"].([]string)
	if !ok || len(fields) != 2 || fields[0] != "ticker" || fields[1] != "price" {
		t.Fatalf("字段不符: %v", model["fields"])
	}
}

func TestParseRulesReviewCarriesFixedTitle(t *testing.T) {
	parser := NewParser(newTestRegistry(t))

	result, err := parser.Parse(context.Background(), Request{
		Prompt: "Please open a review for my changes",
	})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(result.Plan.Steps) != 1 || result.Plan.Steps[0].Action != "open_review" {
		t.Fatalf("步骤不符: %+v", result.Plan.Steps)
	}
	if title := result.Plan.Steps[0].Args["title"]; title != "Review from Legend Guardian" {
		t.Fatalf("评审标题不符: %v", title)
	}
}

func TestParseSentinelOnNoMatch(t *testing.T) {
	parser := NewParser(newTestRegistry(t))

	result, err := parser.Parse(context.Background(), Request{
		Prompt: "tell me a joke about databases",
	})
	if err != nil {
		t.Fatalf("哨兵路径不应报错: %v", err)
	}
	if result.Intent != IntentNoAction || result.Source != SourceSentinel {
		t.Fatalf("期望哨兵结果, 得到 %+v", result)
	}
	if len(result.Plan.Steps) != 1 || result.Plan.Steps[0].Action != IntentNoAction {
		t.Fatalf("哨兵计划应只含一个占位步骤: %+v", result.Plan.Steps)
	}
	if result.Plan.Metadata["intent"] != IntentNoAction {
		t.Fatalf("元数据缺少意图标记: %+v", result.Plan.Metadata)
	}
}

func TestParseLLMHappyPath(t *testing.T) {
	chat := &stubChat{replies: []string{
		"```json\n[{\"action\":\"compile\",\"args\":{}},{\"action\":\"publish\",\"args\":{}}]\n```",
	}}
	parser := NewParser(newTestRegistry(t), WithChatClient(chat))

	result, err := parser.Parse(context.Background(), Request{Prompt: "ship it"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if result.Source != SourceLLM {
		t.Fatalf("期望 LLM 来源, 得到 %s", result.Source)
	}
	actions := stepActions(result.Plan.Steps)
	if len(actions) != 2 || actions[0] != "compile" || actions[1] != "publish" {
		t.Fatalf("步骤不符: %v", actions)
	}
	if chat.calls != 1 {
		t.Fatalf("期望一次调用, 实际 %d", chat.calls)
	}
}

func TestParseLLMCorrectiveRetryThenSuccess(t *testing.T) {
	chat := &stubChat{replies: []string{
		"I would suggest compiling first.",
		`[{"action":"warp_drive","args":{}}]`,
		`[{"action":"compile","args":{}}]`,
	}}
	parser := NewParser(newTestRegistry(t), WithChatClient(chat))

	result, err := parser.Parse(context.Background(), Request{Prompt: "compile"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if result.Source != SourceLLM {
		t.Fatalf("期望 LLM 来源, 得到 %s", result.Source)
	}
	if chat.calls != 3 {
		t.Fatalf("期望三次调用, 实际 %d", chat.calls)
	}
}

func TestParseLLMExhaustedFallsBackToRules(t *testing.T) {
	chat := &stubChat{replies: []string{"nope", "still nope", "nope again"}}
	parser := NewParser(newTestRegistry(t), WithChatClient(chat))

	result, err := parser.Parse(context.Background(), Request{
		Prompt: "compile the project",
	})
	if err != nil {
		t.Fatalf("回退路径不应报错: %v", err)
	}
	if result.Source != SourceRules {
		t.Fatalf("期望回退到规则表, 得到 %s", result.Source)
	}
	if chat.calls != llmMaxAttempts {
		t.Fatalf("期望 %d 次调用, 实际 %d", llmMaxAttempts, chat.calls)
	}
}

func TestDecodeStepsWrapperForm(t *testing.T) {
	parser := NewParser(newTestRegistry(t))

	steps, err := parser.decodeSteps(`{"steps":[{"action":"compile","args":{}}]}`)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(steps) != 1 || steps[0].Action != "compile" {
		t.Fatalf("步骤不符: %+v", steps)
	}
}

func TestExpandFlowSubstitutesContext(t *testing.T) {
	parser := NewParser(newTestRegistry(t), WithDefaults("demo-project", "guardian-dev"))

	result, err := parser.ParseFlow(context.Background(), "ingest_publish", Request{
		Prompt: "onboard trades feed",
		Context: map[string]any{
			"model_name":   "Trade",
			"csv_data":     "id,price\n1,10.5",
			"mapping_name": "TradeMapping",
			"service_path": "trades/latest",
		},
	})
	if err != nil {
		t.Fatalf("展开流程失败: %v", err)
	}
	if result.Source != SourceFlow {
		t.Fatalf("期望流程来源, 得到 %s", result.Source)
	}
	steps := result.Plan.Steps
	if steps[1].Args["name"] != "Trade" {
		t.Fatalf("占位符未替换: %+v", steps[1].Args)
	}
	if steps[4].Args["path"] != "trades/latest" {
		t.Fatalf("占位符未替换: %+v", steps[4].Args)
	}
}

func TestExpandFlowDropsUnresolvedPlaceholders(t *testing.T) {
	steps, err := DefaultFlows().Expand("incident_rollback", Request{
		Context: map[string]any{"coordinate": "finos:legend-demo"},
	})
	if err != nil {
		t.Fatalf("展开流程失败: %v", err)
	}
	args := steps[0].Args
	if args["coordinate"] != "finos:legend-demo" {
		t.Fatalf("占位符未替换: %+v", args)
	}
	// 上下文缺失的占位参数不应以 "${...}" 字面量漏给处理器。
	for _, key := range []string{"service", "version"} {
		if _, ok := args[key]; ok {
			t.Fatalf("缺失上下文的参数 %s 应被丢弃: %+v", key, args)
		}
	}
}

func TestExpandFlowUnknownName(t *testing.T) {
	parser := NewParser(newTestRegistry(t))

	_, err := parser.ParseFlow(context.Background(), "time_travel", Request{})
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("期望 NOT_FOUND, 得到 %v", err)
	}
}

func TestBuiltinFlowsOnlyUseRegisteredActions(t *testing.T) {
	registry := newTestRegistry(t)
	known := map[string]bool{}
	for _, action := range registry.Actions() {
		known[action] = true
	}
	for _, flow := range builtinFlows {
		for _, step := range flow.Steps {
			if !known[step.Action] {
				t.Fatalf("流程 %s 引用了未注册动作 %s", flow.Name, step.Action)
			}
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"[]", "[]"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n[2,3]\n``` ", "[2,3]"},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.input); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, 期望 %q", tc.input, got, tc.want)
		}
	}
}

func stepActions(steps []plan.Step) []string {
	actions := make([]string, len(steps))
	for i, step := range steps {
		actions[i] = step.Action
	}
	return actions
}
