package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/llm"
	"Legend-Guardian/internal/observability/metrics"
	"Legend-Guardian/internal/plan"
	"Legend-Guardian/internal/rag"
	"Legend-Guardian/pkg/logger"
)

const (
	// llmMaxAttempts 是 LLM 解析的总尝试次数:首次请求加两次纠错重试。
	llmMaxAttempts = 3
	// defaultContextTopK 是注入提示词的知识切片数量。
	defaultContextTopK = 5
)

// Parser 把自然语言提示词解析成计划。解析是全函数:
// LLM 失败退化到规则表,规则也无命中时返回哨兵结果,永不报错。
type Parser struct {
	chat               llm.ChatClient
	index              *rag.Index
	flows              *FlowSet
	actions            map[string]struct{}
	topK               int
	defaultProjectID   string
	defaultWorkspaceID string
}

// ParserOption 定义解析器的可选配置。
type ParserOption func(*Parser)

// WithChatClient 启用 LLM 解析路径。
func WithChatClient(chat llm.ChatClient) ParserOption {
	return func(p *Parser) {
		p.chat = chat
	}
}

// WithIndex 启用知识检索,命中的切片会注入 LLM 提示词。
func WithIndex(index *rag.Index) ParserOption {
	return func(p *Parser) {
		p.index = index
	}
}

// WithFlows 注册具名流程模板。
func WithFlows(flows *FlowSet) ParserOption {
	return func(p *Parser) {
		if flows != nil {
			p.flows = flows
		}
	}
}

// WithTopK 调整注入提示词的切片数量。
func WithTopK(topK int) ParserOption {
	return func(p *Parser) {
		if topK > 0 {
			p.topK = topK
		}
	}
}

// WithDefaults 设置请求未指定时使用的项目与工作区。
func WithDefaults(projectID, workspaceID string) ParserOption {
	return func(p *Parser) {
		p.defaultProjectID = projectID
		p.defaultWorkspaceID = workspaceID
	}
}

// NewParser 创建解析器。registry 提供合法动作集合,
// LLM 产出的未知动作会被当作解析失败处理。
func NewParser(registry *plan.Registry, opts ...ParserOption) *Parser {
	p := &Parser{
		actions: make(map[string]struct{}),
		flows:   DefaultFlows(),
		topK:    defaultContextTopK,
	}
	if registry != nil {
		for _, action := range registry.Actions() {
			p.actions[action] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Parse 解析请求并返回计划。计划未提交也未执行,由调用方决定去向。
func (p *Parser) Parse(ctx context.Context, req Request) (*Result, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.ProjectID == "" {
		req.ProjectID = p.defaultProjectID
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = p.defaultWorkspaceID
	}
	if req.Prompt == "" {
		return p.sentinel(req), nil
	}

	if p.chat != nil {
		steps, err := p.parseWithLLM(ctx, req)
		if err == nil && len(steps) > 0 {
			metrics.ObserveIntentParse("llm")
			return p.result(req, SourceLLM, steps), nil
		}
		if err != nil {
			logger.L().Warn("LLM 意图解析失败, 回退到规则表",
				"error", err, "prompt_len", len(req.Prompt))
		}
	}

	if steps := parseRules(req); len(steps) > 0 {
		metrics.ObserveIntentParse("fallback")
		return p.result(req, SourceRules, steps), nil
	}
	return p.sentinel(req), nil
}

// ParseFlow 展开具名流程模板。流程不存在时返回 NOT_FOUND。
func (p *Parser) ParseFlow(ctx context.Context, name string, req Request) (*Result, error) {
	if req.ProjectID == "" {
		req.ProjectID = p.defaultProjectID
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = p.defaultWorkspaceID
	}
	steps, err := p.flows.Expand(name, req)
	if err != nil {
		return nil, err
	}
	return p.result(req, SourceFlow, steps), nil
}

func (p *Parser) result(req Request, source string, steps []plan.Step) *Result {
	pl := &plan.Plan{
		Goal:        req.Prompt,
		ProjectID:   req.ProjectID,
		WorkspaceID: req.WorkspaceID,
		Source:      source,
		Steps:       steps,
	}
	return &Result{Intent: "execute_plan", Source: source, Plan: pl}
}

// sentinel 返回哨兵结果: 单步 no_actionable_intent 计划。
// 无可执行意图不是错误, 哨兵步骤在动作表中注册为空操作。
func (p *Parser) sentinel(req Request) *Result {
	pl := &plan.Plan{
		Goal:        req.Prompt,
		ProjectID:   req.ProjectID,
		WorkspaceID: req.WorkspaceID,
		Source:      SourceSentinel,
		Steps:       []plan.Step{{Action: IntentNoAction}},
		Metadata:    map[string]any{"intent": IntentNoAction},
	}
	return &Result{Intent: IntentNoAction, Source: SourceSentinel, Plan: pl}
}

// parseWithLLM 请求 LLM 产出 JSON 步骤列表。
// 解析或校验失败时把错误回写给模型, 最多纠错两次。
func (p *Parser) parseWithLLM(ctx context.Context, req Request) ([]plan.Step, error) {
	messages := p.buildMessages(ctx, req)
	var lastErr error
	for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
		reply, err := p.chat.Chat(ctx, messages)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "LLM 请求失败")
		}
		steps, err := p.decodeSteps(reply)
		if err == nil {
			return steps, nil
		}
		lastErr = err
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: reply},
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
				"上一次输出无法使用: %v。请只输出 JSON 步骤数组, 不要附加解释。", err)},
		)
	}
	return nil, xerrors.Wrap(xerrors.CodeParseFailure, lastErr, "LLM 输出多次纠错后仍不可用")
}

// decodeSteps 解析模型输出。兼容裸数组与 {"steps": [...]} 两种形态,
// 并容忍 Markdown 代码块包裹。
func (p *Parser) decodeSteps(reply string) ([]plan.Step, error) {
	payload := stripCodeFence(reply)
	var steps []plan.Step
	if err := json.Unmarshal([]byte(payload), &steps); err != nil {
		var wrapper struct {
			Steps []plan.Step `json:"steps"`
		}
		if inner := json.Unmarshal([]byte(payload), &wrapper); inner != nil {
			return nil, xerrors.New(xerrors.CodeParseFailure,
				"输出不是合法的 JSON 步骤数组",
				xerrors.WithHint("期望形如 [{\"action\":\"compile\",\"args\":{}}]"))
		}
		steps = wrapper.Steps
	}
	if len(steps) == 0 {
		return nil, xerrors.New(xerrors.CodeParseFailure, "步骤数组为空")
	}
	for i, step := range steps {
		if step.Action == "" {
			return nil, xerrors.New(xerrors.CodeParseFailure,
				fmt.Sprintf("第 %d 步缺少 action 字段", i+1))
		}
		if _, ok := p.actions[step.Action]; !ok {
			return nil, xerrors.New(xerrors.CodeUnknownAction,
				fmt.Sprintf("第 %d 步的动作 %q 不在可用动作表中", i+1, step.Action),
				xerrors.WithMetadata("action", step.Action))
		}
	}
	return steps, nil
}

// stripCodeFence 剥掉 ```json ... ``` 包裹。
func stripCodeFence(reply string) string {
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, "```") {
		return reply
	}
	reply = strings.TrimPrefix(reply, "```")
	if idx := strings.IndexByte(reply, '\n'); idx >= 0 {
		reply = reply[idx+1:]
	}
	reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")
	return strings.TrimSpace(reply)
}

func (p *Parser) buildMessages(ctx context.Context, req Request) []llm.Message {
	var sb strings.Builder
	sb.WriteString("你是 FINOS Legend 平台的运维规划助手。")
	sb.WriteString("把用户请求翻译成 JSON 步骤数组, 形如 ")
	sb.WriteString(`[{"action":"compile","args":{}}]`)
	sb.WriteString("。只能使用以下动作:\n")
	for _, action := range sortedActions(p.actions) {
		sb.WriteString("- ")
		sb.WriteString(action)
		sb.WriteString("\n")
	}
	sb.WriteString("无法规划时输出空数组 []。只输出 JSON, 不要解释。")

	messages := []llm.Message{{Role: llm.RoleSystem, Content: sb.String()}}

	if p.index != nil {
		if chunks, err := p.index.Query(ctx, req.Prompt, p.topK); err == nil && len(chunks) > 0 {
			var kb strings.Builder
			kb.WriteString("以下是相关的平台知识片段:\n")
			for _, sc := range chunks {
				kb.WriteString("---\n")
				kb.WriteString(sc.Chunk.Text)
				kb.WriteString("\n")
			}
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: kb.String()})
		}
	}
	if len(req.Context) > 0 {
		if payload, err := json.Marshal(req.Context); err == nil {
			messages = append(messages, llm.Message{
				Role:    llm.RoleSystem,
				Content: "调用方附加上下文: " + string(payload),
			})
		}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: req.Prompt})
}

func sortedActions(set map[string]struct{}) []string {
	actions := make([]string, 0, len(set))
	for action := range set {
		actions = append(actions, action)
	}
	// 固定顺序, 保证提示词可复现。
	sort.Strings(actions)
	return actions
}
