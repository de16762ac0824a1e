package agent

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/pkg/logger"
)

// 策略校验相关错误码。
const (
	CodePolicyViolation  xerrors.Code = "POLICY_VIOLATION"
	CodeApprovalRequired xerrors.Code = "APPROVAL_REQUIRED"
)

func init() {
	xerrors.Register(CodePolicyViolation, xerrors.Attributes{
		Message:  "action violates governance policy",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeApprovalRequired, xerrors.Attributes{
		Message:  "action requires human approval",
		Severity: xerrors.SeverityWarning,
		Hint:     "resubmit with approval metadata once granted",
	})
}

// piiPatterns 按顺序检查: 邮箱、SSN、银行卡、电话。
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
}

var (
	modelNamePattern   = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	servicePathPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9/]*$`)
	workspacePattern   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

// PolicyConfig 允许通过 YAML 覆盖默认阈值。
type PolicyConfig struct {
	ProhibitedActions []string `yaml:"prohibited_actions"`
	RequireApproval   []string `yaml:"require_approval"`
	MaxEntities       int      `yaml:"max_entities_per_request"`
	MaxReviewTitle    int      `yaml:"max_review_title_length"`
	AllowedSchemas    []string `yaml:"allowed_schema_types"`
}

// Policy 对动作参数做合规性检查: PII 泄漏、命名规范、数量上限。
type Policy struct {
	prohibited     map[string]struct{}
	approval       map[string]struct{}
	maxEntities    int
	maxReviewTitle int
	allowedSchemas map[string]struct{}
}

// NewPolicy 返回默认策略。
func NewPolicy() *Policy {
	return &Policy{
		prohibited: map[string]struct{}{},
		approval: map[string]struct{}{
			"delete": {}, "merge": {}, "publish": {},
		},
		maxEntities:    100,
		maxReviewTitle: 200,
		allowedSchemas: map[string]struct{}{
			"jsonSchema": {}, "avro": {}, "protobuf": {},
		},
	}
}

// LoadFile 用 YAML 文件覆盖默认策略, 只覆盖出现的字段。
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取策略文件失败")
	}
	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return xerrors.Wrap(xerrors.CodeParseFailure, err, "策略文件解析失败",
			xerrors.WithMetadata("path", path))
	}
	if cfg.ProhibitedActions != nil {
		p.prohibited = toSet(cfg.ProhibitedActions)
	}
	if cfg.RequireApproval != nil {
		p.approval = toSet(cfg.RequireApproval)
	}
	if cfg.MaxEntities > 0 {
		p.maxEntities = cfg.MaxEntities
	}
	if cfg.MaxReviewTitle > 0 {
		p.maxReviewTitle = cfg.MaxReviewTitle
	}
	if cfg.AllowedSchemas != nil {
		p.allowedSchemas = toSet(cfg.AllowedSchemas)
	}
	logger.L().Info("策略文件已加载", "path", path)
	return nil
}

// Prohibited 判断动作是否被禁用。
func (p *Policy) Prohibited(action string) bool {
	_, ok := p.prohibited[action]
	return ok
}

// RequiresApproval 判断动作是否需要人工批准。
func (p *Policy) RequiresApproval(action string) bool {
	_, ok := p.approval[action]
	return ok
}

// CheckPII 扫描文本中的个人敏感信息。
func (p *Policy) CheckPII(text string) error {
	for _, pattern := range piiPatterns {
		if pattern.MatchString(text) {
			return xerrors.New(CodePolicyViolation, "参数疑似包含个人敏感信息",
				xerrors.WithHint("移除邮箱、证件号、卡号或电话后重试"))
		}
	}
	return nil
}

// CheckModelName 要求模型名为 PascalCase。
func (p *Policy) CheckModelName(name string) error {
	if !modelNamePattern.MatchString(name) {
		return xerrors.New(CodePolicyViolation,
			fmt.Sprintf("模型名 %q 不符合命名规范", name),
			xerrors.WithHint("模型名须为 PascalCase, 如 TradeOrder"))
	}
	return nil
}

// CheckServicePath 要求服务路径小写开头, 允许斜杠分段。
func (p *Policy) CheckServicePath(path string) error {
	if !servicePathPattern.MatchString(path) {
		return xerrors.New(CodePolicyViolation,
			fmt.Sprintf("服务路径 %q 不符合命名规范", path),
			xerrors.WithHint("服务路径须形如 trades/latest"))
	}
	return nil
}

// CheckWorkspaceID 要求工作区为 kebab-case。
func (p *Policy) CheckWorkspaceID(id string) error {
	if !workspacePattern.MatchString(id) {
		return xerrors.New(CodePolicyViolation,
			fmt.Sprintf("工作区 %q 不符合命名规范", id),
			xerrors.WithHint("工作区须为 kebab-case, 如 guardian-dev"))
	}
	return nil
}

// CheckReviewTitle 限制评审标题长度。
func (p *Policy) CheckReviewTitle(title string) error {
	if len(title) > p.maxReviewTitle {
		return xerrors.New(CodePolicyViolation,
			fmt.Sprintf("评审标题超过 %d 字符上限", p.maxReviewTitle))
	}
	return nil
}

// CheckEntityCount 限制单次写入的实体数量。
func (p *Policy) CheckEntityCount(count int) error {
	if count > p.maxEntities {
		return xerrors.New(CodePolicyViolation,
			fmt.Sprintf("单次写入 %d 个实体, 超过上限 %d", count, p.maxEntities))
	}
	return nil
}

// CheckSchemaType 校验 schema 转换的目标格式。
func (p *Policy) CheckSchemaType(schemaType string) error {
	if _, ok := p.allowedSchemas[schemaType]; !ok {
		return xerrors.New(CodePolicyViolation,
			fmt.Sprintf("不支持的 schema 格式 %q", schemaType),
			xerrors.WithHint("可用格式: jsonSchema, avro, protobuf"))
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
