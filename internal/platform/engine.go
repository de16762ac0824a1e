package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// EngineClient 访问 Legend Engine：编译、转换、执行与服务生成。
type EngineClient struct {
	core *client
}

// NewEngineClient 创建 Engine 客户端。
func NewEngineClient(opts Options) (*EngineClient, error) {
	core, err := newClient("engine", opts)
	if err != nil {
		return nil, err
	}
	return &EngineClient{core: core}, nil
}

// CompileResult 是编译接口的结构化输出。
type CompileResult struct {
	Status   string         `json:"status,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Errors   []CompileIssue `json:"errors,omitempty"`
}

// CompileIssue 描述一处编译问题。
type CompileIssue struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// Compile 提交 PURE 代码进行编译。编译是只读操作，可以安全重试。
func (c *EngineClient) Compile(ctx context.Context, projectID, workspaceID, pureCode string) (*CompileResult, error) {
	path := fmt.Sprintf("/api/pure/v1/compilation/compile?projectId=%s&workspaceId=%s",
		url.QueryEscape(projectID), url.QueryEscape(workspaceID))
	var result CompileResult
	payload := map[string]string{"code": pureCode}
	if err := c.core.call(ctx, http.MethodPost, path, payload, &result, true); err != nil {
		return nil, err
	}
	if result.Status == "" {
		result.Status = "COMPILED"
	}
	return &result, nil
}

// TransformSchema 把外部 schema（csv、sql、json 等）转换为 PURE 模型文本。
func (c *EngineClient) TransformSchema(ctx context.Context, schemaType, classPath string) (map[string]any, error) {
	payload := map[string]string{
		"schemaType": schemaType,
		"classPath":  classPath,
	}
	var result map[string]any
	if err := c.core.call(ctx, http.MethodPost, "/api/pure/v1/schema/generation", payload, &result, true); err != nil {
		return nil, err
	}
	return result, nil
}

// GeneratePlan 为给定的 mapping/runtime/query 生成执行计划。
func (c *EngineClient) GeneratePlan(ctx context.Context, mapping, runtime, query string) (map[string]any, error) {
	payload := map[string]string{
		"mapping": mapping,
		"runtime": runtime,
		"query":   query,
	}
	var result map[string]any
	if err := c.core.call(ctx, http.MethodPost, "/api/pure/v1/execution/execute", payload, &result, true); err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateService 在工作区内生成服务定义。
func (c *EngineClient) GenerateService(ctx context.Context, projectID, workspaceID, servicePath, query string) (map[string]any, error) {
	path := fmt.Sprintf("/api/pure/v1/service/generation?projectId=%s&workspaceId=%s",
		url.QueryEscape(projectID), url.QueryEscape(workspaceID))
	payload := map[string]string{
		"servicePath": servicePath,
		"query":       query,
	}
	var result map[string]any
	// 服务生成会写入工作区, 不做自动重试。
	if err := c.core.call(ctx, http.MethodPost, path, payload, &result, false); err != nil {
		return nil, err
	}
	return result, nil
}

// RunService 执行一个已发布的服务。
func (c *EngineClient) RunService(ctx context.Context, servicePath string, params map[string]string) (map[string]any, error) {
	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	path := "/api/service/v1/execute/" + servicePath
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var result map[string]any
	if err := c.core.call(ctx, http.MethodGet, path, nil, &result, true); err != nil {
		return nil, err
	}
	return result, nil
}
