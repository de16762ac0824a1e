package intent

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/plan"
)

// Flow 是一个具名的多步骤模板。步骤参数里的 "${key}" 占位符
// 在展开时用请求上下文中的同名值替换。
type Flow struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Steps       []plan.Step `yaml:"steps" json:"steps"`
}

// FlowSet 保存全部已注册的流程模板。
type FlowSet struct {
	flows map[string]Flow
}

// DefaultFlows 返回内置的流程模板集合。
func DefaultFlows() *FlowSet {
	fs := &FlowSet{flows: make(map[string]Flow)}
	for _, f := range builtinFlows {
		fs.flows[f.Name] = f
	}
	return fs
}

// LoadFlowsFile 从 YAML 文件追加或覆盖流程模板。
func (fs *FlowSet) LoadFlowsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取流程模板文件失败")
	}
	var flows []Flow
	if err := yaml.Unmarshal(data, &flows); err != nil {
		return xerrors.Wrap(xerrors.CodeParseFailure, err, "流程模板文件解析失败",
			xerrors.WithMetadata("path", path))
	}
	for _, f := range flows {
		if f.Name == "" || len(f.Steps) == 0 {
			return xerrors.New(xerrors.CodeInvalidArgument,
				"流程模板必须包含 name 且至少一个步骤",
				xerrors.WithMetadata("path", path))
		}
		fs.flows[f.Name] = f
	}
	return nil
}

// Names 返回全部流程名, 升序。
func (fs *FlowSet) Names() []string {
	names := make([]string, 0, len(fs.flows))
	for name := range fs.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand 展开流程模板并替换占位参数。未知流程返回 NOT_FOUND。
func (fs *FlowSet) Expand(name string, req Request) ([]plan.Step, error) {
	flow, ok := fs.flows[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("流程 %q 不存在", name),
			xerrors.WithHint("可用流程: "+strings.Join(fs.Names(), ", ")))
	}
	steps := make([]plan.Step, len(flow.Steps))
	for i, step := range flow.Steps {
		args := make(map[string]any, len(step.Args))
		for key, value := range step.Args {
			resolved, ok := resolvePlaceholder(value, req.Context)
			if !ok {
				// 上下文缺失的占位参数直接丢弃, 由处理器按缺参报错或取默认值。
				continue
			}
			args[key] = resolved
		}
		steps[i] = plan.Step{Action: step.Action, Args: args}
	}
	return steps, nil
}

// resolvePlaceholder 把 "${key}" 形态的字符串替换为上下文同名值。
// 第二个返回值标记该参数是否可用。
func resolvePlaceholder(value any, context map[string]any) (any, bool) {
	text, ok := value.(string)
	if !ok || !strings.HasPrefix(text, "${") || !strings.HasSuffix(text, "}") {
		return value, true
	}
	key := text[2 : len(text)-1]
	if resolved, ok := context[key]; ok {
		return resolved, true
	}
	return nil, false
}

// builtinFlows 覆盖从数据接入到事故回滚的典型治理场景。
var builtinFlows = []Flow{
	{
		Name:        "ingest_publish",
		Description: "CSV 接入 → 建模 → 映射 → 编译 → 发布服务",
		Steps: []plan.Step{
			{Action: "create_workspace", Args: map[string]any{}},
			{Action: "create_model", Args: map[string]any{
				"name": "${model_name}", "csv_data": "${csv_data}",
			}},
			{Action: "create_mapping", Args: map[string]any{
				"name": "${mapping_name}", "model": "${model_name}",
			}},
			{Action: "compile", Args: map[string]any{}},
			{Action: "generate_service", Args: map[string]any{
				"path": "${service_path}",
			}},
			{Action: "open_review", Args: map[string]any{
				"title": "Review from Legend Guardian",
			}},
		},
	},
	{
		Name:        "safe_rollout",
		Description: "模型变更的安全灰度: 变更 → 编译 → 测试 → v2 服务 → 评审",
		Steps: []plan.Step{
			{Action: "create_workspace", Args: map[string]any{}},
			{Action: "apply_changes", Args: map[string]any{
				"model_path": "${model_path}", "changes": "${changes}",
			}},
			{Action: "compile", Args: map[string]any{}},
			{Action: "run_tests", Args: map[string]any{}},
			{Action: "generate_service", Args: map[string]any{
				"path": "${service_path}", "keep_previous": true,
			}},
			{Action: "open_review", Args: map[string]any{
				"title": "Review from Legend Guardian",
			}},
		},
	},
	{
		Name:        "model_reuse",
		Description: "跨团队模型复用: 检索仓库 → 导入 → 格式转换 → 建服务",
		Steps: []plan.Step{
			{Action: "search_depot", Args: map[string]any{
				"query": "${search_query}",
			}},
			{Action: "import_model", Args: map[string]any{
				"coordinate": "${coordinate}", "version": "${version}",
			}},
			{Action: "transform_schema", Args: map[string]any{
				"format": "${target_format}",
			}},
			{Action: "create_service", Args: map[string]any{
				"name": "${service_name}",
			}},
		},
	},
	{
		Name:        "reverse_etl",
		Description: "数据库表反向建模为数据产品",
		Steps: []plan.Step{
			{Action: "create_workspace", Args: map[string]any{}},
			{Action: "create_model", Args: map[string]any{
				"name":         "${model_name}",
				"source_table": "${source_table}",
				"columns":      "${table_columns}",
			}},
			{Action: "add_constraints", Args: map[string]any{
				"constraints": "${constraints}",
			}},
			{Action: "compile", Args: map[string]any{}},
			{Action: "transform_schema", Args: map[string]any{
				"format": "jsonSchema",
			}},
			{Action: "open_review", Args: map[string]any{
				"title": "Review from Legend Guardian",
			}},
		},
	},
	{
		Name:        "bulk_backfill",
		Description: "批量回填与回归校验",
		Steps: []plan.Step{
			{Action: "run_service", Args: map[string]any{
				"path": "${service_path}", "window_size": "${window_size}",
			}},
			{Action: "run_tests", Args: map[string]any{}},
			{Action: "record_manifest", Args: map[string]any{
				"source": "${data_source}",
			}},
		},
	},
	{
		Name:        "governance_audit",
		Description: "治理审计: 全量编译 → 约束回归 → 留痕清单 → 评审",
		Steps: []plan.Step{
			{Action: "compile", Args: map[string]any{}},
			{Action: "run_tests", Args: map[string]any{}},
			{Action: "record_manifest", Args: map[string]any{
				"source": "governance_audit", "scope": "${audit_scope}",
			}},
			{Action: "open_review", Args: map[string]any{
				"title": "Review from Legend Guardian",
			}},
		},
	},
	{
		Name:        "contract_first",
		Description: "契约优先: schema 导入建模 → 编译测试 → 服务 → 契约清单",
		Steps: []plan.Step{
			{Action: "create_workspace", Args: map[string]any{}},
			{Action: "transform_schema", Args: map[string]any{
				"format": "${schema_format}",
			}},
			{Action: "compile", Args: map[string]any{}},
			{Action: "run_tests", Args: map[string]any{}},
			{Action: "generate_service", Args: map[string]any{
				"path": "${service_path}",
			}},
			{Action: "record_manifest", Args: map[string]any{
				"source": "schema_contract",
			}},
		},
	},
	{
		Name:        "incident_rollback",
		Description: "事故响应: 回退到最近的健康版本",
		Steps: []plan.Step{
			{Action: "rollback_service", Args: map[string]any{
				"coordinate": "${coordinate}",
				"service":    "${service_path}",
				"version":    "${target_version}",
			}},
			{Action: "compile", Args: map[string]any{}},
			{Action: "run_tests", Args: map[string]any{}},
			{Action: "open_review", Args: map[string]any{
				"title": "Review from Legend Guardian",
			}},
		},
	},
}
