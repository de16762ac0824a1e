package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/platform"
)

// newTestAgent 把三个上游都指向同一个 httptest 服务。
func newTestAgent(t *testing.T, handler http.Handler) (*Agent, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts := platform.Options{BaseURL: server.URL, MaxRetries: 1}
	engine, err := platform.NewEngineClient(opts)
	if err != nil {
		t.Fatalf("创建 engine 客户端失败: %v", err)
	}
	sdlc, err := platform.NewSDLCClient(opts)
	if err != nil {
		t.Fatalf("创建 sdlc 客户端失败: %v", err)
	}
	depot, err := platform.NewDepotClient(opts)
	if err != nil {
		t.Fatalf("创建 depot 客户端失败: %v", err)
	}
	return New(engine, sdlc, depot, WithDefaults("demo-project", "guardian-dev")), server
}

func TestRegistryExposesAllActions(t *testing.T) {
	a, _ := newTestAgent(t, http.NotFoundHandler())
	registry, err := a.Registry()
	if err != nil {
		t.Fatalf("构建注册表失败: %v", err)
	}
	if got := len(registry.Actions()); got != 18 {
		t.Fatalf("期望 18 个动作, 实际 %d: %v", got, registry.Actions())
	}
}

func TestCreateWorkspaceUsesDefaults(t *testing.T) {
	var path atomic.Value
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	out, err := a.createWorkspace(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("创建工作区失败: %v", err)
	}
	if got := path.Load(); got != "/projects/demo-project/workspaces/guardian-dev" {
		t.Fatalf("请求路径不符: %v", got)
	}
	if out["status"] != "ready" {
		t.Fatalf("输出不符: %v", out)
	}
}

func TestCreateWorkspaceRejectsBadName(t *testing.T) {
	a, _ := newTestAgent(t, http.NotFoundHandler())

	_, err := a.createWorkspace(context.Background(), map[string]any{
		"workspace_id": "BadName",
	})
	if xerrors.CodeOf(err) != CodePolicyViolation {
		t.Fatalf("期望策略违规, 得到 %v", err)
	}
}

func TestCreateModelFromCSV(t *testing.T) {
	var body struct {
		Entities []platform.Entity `json:"entities"`
	}
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))

	out, err := a.createModel(context.Background(), map[string]any{
		"name":     "Trade",
		"csv_data": "ticker,quantity\nAAPL,10",
	})
	if err != nil {
		t.Fatalf("建模失败: %v", err)
	}
	if out["model"] != "model::Trade" {
		t.Fatalf("模型路径不符: %v", out)
	}
	if len(body.Entities) != 1 || body.Entities[0].Path != "model::Trade" {
		t.Fatalf("写入实体不符: %+v", body.Entities)
	}
	props, _ := body.Entities[0].Content["properties"].([]any)
	if len(props) != 2 {
		t.Fatalf("属性数量不符: %v", body.Entities[0].Content)
	}
}

func TestCreateModelFromColumns(t *testing.T) {
	var body struct {
		Entities []platform.Entity `json:"entities"`
	}
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))

	out, err := a.createModel(context.Background(), map[string]any{
		"name": "Trade",
		"columns": []any{
			map[string]any{"name": "quantity", "type": "INT"},
			map[string]any{"name": "price", "type": "DECIMAL(10,2)", "nullable": true},
			map[string]any{"name": "ticker"},
		},
		"constraints":  []any{"qtyPositive"},
		"source_table": "trades",
	})
	if err != nil {
		t.Fatalf("建模失败: %v", err)
	}

	pure, _ := out["pure"].(string)
	for _, want := range []string{
		"quantity: Integer[1];",
		"price: Float[0..1];",
		"ticker: String[1];",
		"constraint qtyPositive",
	} {
		if !strings.Contains(pure, want) {
			t.Fatalf("PURE 文本缺少 %q:\n%s", want, pure)
		}
	}
	if len(body.Entities) != 1 {
		t.Fatalf("写入实体不符: %+v", body.Entities)
	}
	if body.Entities[0].Content["sourceTable"] != "trades" {
		t.Fatalf("来源表未记录: %v", body.Entities[0].Content)
	}
	props, _ := body.Entities[0].Content["properties"].([]any)
	if len(props) != 3 {
		t.Fatalf("属性数量不符: %v", body.Entities[0].Content)
	}
}

func TestCreateModelRejectsPII(t *testing.T) {
	a, _ := newTestAgent(t, http.NotFoundHandler())

	_, err := a.createModel(context.Background(), map[string]any{
		"name":     "Customer",
		"csv_data": "email\nalice@example.com",
	})
	if xerrors.CodeOf(err) != CodePolicyViolation {
		t.Fatalf("期望策略违规, 得到 %v", err)
	}
}

func TestCompileFailsOnEngineErrors(t *testing.T) {
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/projects/demo-project/workspaces/guardian-dev/entities":
			_ = json.NewEncoder(w).Encode([]platform.Entity{{
				Path:           "model::Trade",
				ClassifierPath: classClassifier,
				Content:        map[string]any{"name": "Trade"},
			}})
		case r.URL.Path == "/api/pure/v1/compilation/compile":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "FAILED",
				"errors": []map[string]any{{"message": "unknown type Foo", "line": 3}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	_, err := a.compile(context.Background(), map[string]any{})
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("期望上游失败, 得到 %v", err)
	}
}

func TestPublishRequiresApproval(t *testing.T) {
	var calls atomic.Int32
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	_, err := a.publish(context.Background(), map[string]any{})
	if xerrors.CodeOf(err) != CodeApprovalRequired {
		t.Fatalf("期望需要批准, 得到 %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("未批准时不应触达上游")
	}

	out, err := a.publish(context.Background(), map[string]any{
		"approved": true,
		"version":  "v1.2.0",
	})
	if err != nil {
		t.Fatalf("批准后发布失败: %v", err)
	}
	if out["version"] != "v1.2.0" {
		t.Fatalf("版本不符: %v", out)
	}
}

func TestImportModelRequiresCoordinate(t *testing.T) {
	a, _ := newTestAgent(t, http.NotFoundHandler())

	_, err := a.importModel(context.Background(), map[string]any{})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("期望参数错误, 得到 %v", err)
	}
}

func TestImportModelRoundTrip(t *testing.T) {
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/projects/finos/legend-demo/versions/1.0.0/entities":
			_ = json.NewEncoder(w).Encode([]platform.Entity{
				{Path: "model::Trade", ClassifierPath: classClassifier},
				{Path: "model::Position", ClassifierPath: classClassifier},
			})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	out, err := a.importModel(context.Background(), map[string]any{
		"coordinate": "finos:legend-demo",
		"version":    "1.0.0",
	})
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if out["imported"] != 2 {
		t.Fatalf("导入数量不符: %v", out)
	}
}

func TestTransformSchemaRejectsUnknownFormat(t *testing.T) {
	a, _ := newTestAgent(t, http.NotFoundHandler())

	_, err := a.transformSchema(context.Background(), map[string]any{
		"format": "xml",
	})
	if xerrors.CodeOf(err) != CodePolicyViolation {
		t.Fatalf("期望策略违规, 得到 %v", err)
	}
}

func TestRollbackServicePicksLatestVersion(t *testing.T) {
	var hotfixPath atomic.Value
	a, _ := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/projects/finos/legend-demo/versions" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode([]string{"1.0.0", "1.1.0", "1.2.0"})
		case r.URL.Path == "/projects/finos/legend-demo/versions/1.2.0/entities":
			_ = json.NewEncoder(w).Encode([]platform.Entity{
				{Path: "model::Trade", ClassifierPath: classClassifier},
			})
		case r.Method == http.MethodPost:
			hotfixPath.Store(r.URL.Path)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	out, err := a.rollbackService(context.Background(), map[string]any{
		"coordinate": "finos:legend-demo",
		"service":    "trades/latest",
	})
	if err != nil {
		t.Fatalf("回退失败: %v", err)
	}
	if out["version"] != "1.2.0" {
		t.Fatalf("版本不符: %v", out)
	}
	if out["workspace_id"] != "hotfix-trades-latest" {
		t.Fatalf("热修复工作区不符: %v", out)
	}
	_ = hotfixPath.Load()
}

func TestRecordManifestIsDeterministic(t *testing.T) {
	a, _ := newTestAgent(t, http.NotFoundHandler())

	first, err := a.recordManifest(context.Background(), map[string]any{"source": "s3://bucket/feed"})
	if err != nil {
		t.Fatalf("记录清单失败: %v", err)
	}
	second, err := a.recordManifest(context.Background(), map[string]any{"source": "s3://bucket/feed"})
	if err != nil {
		t.Fatalf("记录清单失败: %v", err)
	}
	if first["checksum"] != second["checksum"] {
		t.Fatalf("相同参数应得到相同校验和")
	}
	if first["source"] != "s3://bucket/feed" {
		t.Fatalf("清单缺少来源: %v", first)
	}
}
