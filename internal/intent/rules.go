package intent

import (
	"strings"

	"Legend-Guardian/internal/plan"
)

// rule 是一条确定性的关键词规则:所有 markers 命中则追加对应步骤。
type rule struct {
	markers []string
	any     []string
	build   func(req Request) plan.Step
}

// ruleTable 按固定顺序求值,保证同一提示词总是产出同一计划。
// 顺序按典型工作流排列:先工作区,再建模,再编译测试,最后评审发布。
var ruleTable = []rule{
	{
		markers: []string{"create", "workspace"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "create_workspace", Args: map[string]any{}}
		},
	},
	{
		markers: []string{"create", "model"},
		build: func(req Request) plan.Step {
			args := map[string]any{"description": req.Prompt}
			if name := extractModelName(req.Prompt); name != "" {
				args["name"] = name
			}
			if fields := extractFields(req.Prompt); len(fields) > 0 {
				args["fields"] = fields
			}
			return plan.Step{Action: "create_model", Args: args}
		},
	},
	{
		markers: []string{"mapping"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "create_mapping", Args: map[string]any{
				"description": req.Prompt,
			}}
		},
	},
	{
		markers: []string{"search"},
		any:     []string{"depot", "model", "dataset"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "search_depot", Args: map[string]any{
				"query": req.Prompt,
			}}
		},
	},
	{
		markers: []string{"import"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "import_model", Args: map[string]any{
				"query": req.Prompt,
			}}
		},
	},
	{
		markers: []string{"transform"},
		any:     []string{"schema", "csv", "sql", "json"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "transform_schema", Args: map[string]any{
				"description": req.Prompt,
			}}
		},
	},
	{
		markers: []string{"constraint"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "add_constraints", Args: map[string]any{
				"description": req.Prompt,
			}}
		},
	},
	{
		markers: []string{"compile"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "compile", Args: map[string]any{}}
		},
	},
	{
		markers: []string{"test"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "run_tests", Args: map[string]any{}}
		},
	},
	{
		markers: []string{"service"},
		any:     []string{"generate", "create", "expose"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "generate_service", Args: map[string]any{
				"description": req.Prompt,
			}}
		},
	},
	{
		any: []string{"review", "pull request", " pr ", "merge request"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "open_review", Args: map[string]any{
				"title":       "Review from Legend Guardian",
				"description": req.Prompt,
			}}
		},
	},
	{
		any: []string{"publish", "deploy", "release"},
		build: func(req Request) plan.Step {
			return plan.Step{Action: "publish", Args: map[string]any{}}
		},
	},
}

// parseRules 用规则表解析提示词,命中零条规则时返回空切片。
func parseRules(req Request) []plan.Step {
	prompt := " " + strings.ToLower(req.Prompt) + " "
	var steps []plan.Step
	for _, r := range ruleTable {
		if !matchAll(prompt, r.markers) {
			continue
		}
		if len(r.any) > 0 && !matchAny(prompt, r.any) {
			continue
		}
		steps = append(steps, r.build(req))
	}
	return steps
}

// extractModelName 取 "model" 前一个词作为模型名。
// "Create a Trade model" 里取出 Trade;取不到时返回空串,由处理器端兜底。
func extractModelName(prompt string) string {
	words := strings.Fields(prompt)
	for i, word := range words {
		if strings.ToLower(strings.Trim(word, ".,;:")) != "model" || i == 0 {
			continue
		}
		candidate := strings.Trim(words[i-1], ".,;:\"'")
		if candidate == "" || !isAlphaWord(candidate) {
			continue
		}
		switch strings.ToLower(candidate) {
		case "a", "an", "the", "new", "data":
			continue
		}
		return strings.ToUpper(candidate[:1]) + candidate[1:]
	}
	return ""
}

// extractFields 收集 "with ticker and price" 这类片段里的字段名。
// 遇到下一个子句("then" 或逗号后的动词)即停止。
func extractFields(prompt string) []string {
	words := strings.Fields(strings.ToLower(prompt))
	start := -1
	for i, word := range words {
		if strings.Trim(word, ".,;:") == "with" {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}
	var fields []string
	for _, word := range words[start:] {
		trimmed := strings.Trim(word, ".,;:\"'")
		if trimmed == "then" {
			break
		}
		if trimmed == "and" || !isAlphaWord(trimmed) {
			continue
		}
		fields = append(fields, trimmed)
		// 逗号结束字段枚举,后面通常是下一个子句。
		if strings.HasSuffix(word, ",") {
			break
		}
	}
	return fields
}

func isAlphaWord(word string) bool {
	for _, r := range word {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return len(word) > 0
}

func matchAll(prompt string, markers []string) bool {
	for _, m := range markers {
		if !strings.Contains(prompt, m) {
			return false
		}
	}
	return true
}

func matchAny(prompt string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(prompt, m) {
			return true
		}
	}
	return false
}
