package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Legend-Guardian/internal/llm"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModelName      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultTimeout        = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容接口所需的信息。
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的补全与向量化能力。
type Client struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	httpClient     *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:         apiKey,
		baseURL:        baseURL,
		model:          model,
		embeddingModel: embeddingModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

var _ llm.ChatClient = (*Client)(nil)
var _ llm.Embedder = (*Client)(nil)

// Chat 调用 Chat Completions 接口并返回首个 choice 的文本内容。
func (c *Client) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("消息列表为空")
	}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	payload := struct {
		Model    string    `json:"model"`
		Messages []message `json:"messages"`
	}{Model: c.model}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, message{Role: m.Role, Content: m.Content})
	}

	body, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("OpenAI 响应内容为空")
	}
	return content, nil
}

// Embed 调用 Embeddings 接口，为每段文本返回一个向量。
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: c.embeddingModel, Input: texts}

	body, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("向量数量与输入不一致: 期望 %d 实际 %d", len(texts), len(decoded.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("向量下标越界: %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(resp.Body)
}
