package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Legend-Guardian/internal/llm"
)

func TestChatReturnsFirstChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("意外的请求路径: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("缺少鉴权头: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"intent\":\"compile\"} "}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	out, err := client.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "compile"}})
	if err != nil {
		t.Fatalf("调用失败: %v", err)
	}
	if out != `{"intent":"compile"}` {
		t.Fatalf("应当去除首尾空白, 实际: %q", out)
	}
}

func TestChatSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	_, err = client.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("应当返回错误")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("错误信息应包含状态码: %v", err)
	}
}

func TestEmbedOrdersVectorsByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("意外的请求路径: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5,0.5]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("调用失败: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("应返回两个向量, 实际 %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 0.5 {
		t.Fatalf("向量顺序应按 index 还原: %v", vectors)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("缺少 API Key 时应报错")
	}
}
