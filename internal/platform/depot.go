package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	xerrors "Legend-Guardian/internal/errors"
)

// DepotClient 访问 Legend Depot：已发布模型的检索与读取。
type DepotClient struct {
	core *client
}

// NewDepotClient 创建 Depot 客户端。
func NewDepotClient(opts Options) (*DepotClient, error) {
	core, err := newClient("depot", opts)
	if err != nil {
		return nil, err
	}
	return &DepotClient{core: core}, nil
}

// DepotProject 是仓库中的一条项目记录。
type DepotProject struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	ProjectID  string `json:"projectId,omitempty"`
}

// Search 按关键字检索已发布的项目。
func (c *DepotClient) Search(ctx context.Context, query string) ([]DepotProject, error) {
	path := "/projects?search=" + url.QueryEscape(query)
	var out []DepotProject
	if err := c.core.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVersions 返回指定坐标下的全部版本号。
func (c *DepotClient) ListVersions(ctx context.Context, coordinate string) ([]string, error) {
	groupID, artifactID, err := splitCoordinate(coordinate)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/projects/%s/%s/versions",
		url.PathEscape(groupID), url.PathEscape(artifactID))
	var out []string
	if err := c.core.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEntities 返回指定版本的全部实体。
func (c *DepotClient) GetEntities(ctx context.Context, coordinate, version string) ([]Entity, error) {
	groupID, artifactID, err := splitCoordinate(coordinate)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/projects/%s/%s/versions/%s/entities",
		url.PathEscape(groupID), url.PathEscape(artifactID), url.PathEscape(version))
	var out []Entity
	if err := c.core.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// splitCoordinate 把 "group:artifact" 坐标拆开；无冒号时 group 与 artifact 同名。
func splitCoordinate(coordinate string) (string, string, error) {
	coordinate = strings.TrimSpace(coordinate)
	if coordinate == "" {
		return "", "", xerrors.New(xerrors.CodeInvalidArgument, "项目坐标不能为空")
	}
	if group, artifact, ok := strings.Cut(coordinate, ":"); ok {
		if group == "" || artifact == "" {
			return "", "", xerrors.New(xerrors.CodeInvalidArgument, "项目坐标格式应为 group:artifact")
		}
		return group, artifact, nil
	}
	return coordinate, coordinate, nil
}
