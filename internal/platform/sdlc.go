package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/pkg/logger"
)

// SDLCClient 访问 Legend SDLC：项目、工作区、实体与评审。
type SDLCClient struct {
	core *client
}

// NewSDLCClient 创建 SDLC 客户端。
func NewSDLCClient(opts Options) (*SDLCClient, error) {
	core, err := newClient("sdlc", opts)
	if err != nil {
		return nil, err
	}
	return &SDLCClient{core: core}, nil
}

// Entity 是 SDLC 中的模型实体。
type Entity struct {
	Path           string         `json:"path"`
	ClassifierPath string         `json:"classifierPath,omitempty"`
	Content        map[string]any `json:"content,omitempty"`
}

// Review 是一次待合并的评审。
type Review struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
	WebURL      string `json:"webURL,omitempty"`
}

// ListProjects 返回全部项目。
func (c *SDLCClient) ListProjects(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.core.call(ctx, http.MethodGet, "/projects", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateWorkspace 创建工作区。工作区已存在（409）视为成功，因此整体幂等。
func (c *SDLCClient) CreateWorkspace(ctx context.Context, projectID, workspaceID string) error {
	path := fmt.Sprintf("/projects/%s/workspaces/%s",
		url.PathEscape(projectID), url.PathEscape(workspaceID))
	err := c.core.call(ctx, http.MethodPost, path, nil, nil, true)
	if err != nil && xerrors.CodeOf(err) == xerrors.CodeConflict {
		logger.L().Debug("工作区已存在, 视为创建成功",
			"project_id", projectID, "workspace_id", workspaceID)
		return nil
	}
	return err
}

// GetEntities 返回工作区内的全部实体。
func (c *SDLCClient) GetEntities(ctx context.Context, projectID, workspaceID string) ([]Entity, error) {
	path := fmt.Sprintf("/projects/%s/workspaces/%s/entities",
		url.PathEscape(projectID), url.PathEscape(workspaceID))
	var out []Entity
	if err := c.core.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertEntities 写入实体。replace 为 true 时整体替换工作区内容。
// 同一批实体重复提交结果一致, 允许重试。
func (c *SDLCClient) UpsertEntities(ctx context.Context, projectID, workspaceID string, entities []Entity, replace bool) error {
	path := fmt.Sprintf("/projects/%s/workspaces/%s/entities",
		url.PathEscape(projectID), url.PathEscape(workspaceID))
	payload := map[string]any{
		"entities": entities,
		"replace":  replace,
		"message":  "guardian entity update",
	}
	return c.core.call(ctx, http.MethodPost, path, payload, nil, true)
}

// CreateReview 发起评审。评审不幂等，绝不自动重试。
func (c *SDLCClient) CreateReview(ctx context.Context, projectID, workspaceID, title, description string) (*Review, error) {
	path := fmt.Sprintf("/projects/%s/workspaces/%s/review",
		url.PathEscape(projectID), url.PathEscape(workspaceID))
	payload := map[string]string{
		"title":       title,
		"description": description,
	}
	var review Review
	if err := c.core.call(ctx, http.MethodPost, path, payload, &review, false); err != nil {
		return nil, err
	}
	return &review, nil
}

// CreateVersion 基于当前主干打一个版本。版本号重复会得到 409，由调用方决定语义。
func (c *SDLCClient) CreateVersion(ctx context.Context, projectID, versionID, notes string) error {
	path := fmt.Sprintf("/projects/%s/versions/%s",
		url.PathEscape(projectID), url.PathEscape(versionID))
	payload := map[string]string{"notes": notes}
	return c.core.call(ctx, http.MethodPost, path, payload, nil, false)
}
