package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuardDisabledAllowsEverything(t *testing.T) {
	guard := NewGuard(false, nil)
	if !guard.Allow("") || !guard.Allow("anything") {
		t.Fatalf("关闭鉴权时应放行全部请求")
	}
}

func TestGuardTokenAllowList(t *testing.T) {
	guard := NewGuard(true, []string{"secret-a", " secret-b "})

	if !guard.Allow("secret-a") || !guard.Allow("secret-b") {
		t.Fatalf("白名单令牌应放行")
	}
	if guard.Allow("secret-c") || guard.Allow("") {
		t.Fatalf("未知令牌应被拒绝")
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	guard := NewGuard(true, []string{"secret"})
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少令牌应返回 401, 得到 %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set("Authorization", "Bearer secret")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("合法令牌应放行, 得到 %d", rec.Code)
	}
}
