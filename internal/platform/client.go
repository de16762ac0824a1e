// Package platform 封装 Legend 平台三个上游服务的 HTTP 访问。
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/observability/metrics"
	"Legend-Guardian/pkg/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	retryBackoff      = 500 * time.Millisecond
)

// Options 描述访问单个上游服务的配置。
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// client 是三个上游客户端共享的 HTTP 内核。
type client struct {
	name       string
	baseURL    string
	token      string
	maxRetries int
	httpClient *http.Client
}

func newClient(name string, opts Options) (*client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 服务地址不能为空", name))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &client{
		name:       name,
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// call 发送一次 JSON 请求。幂等请求在网络错误、429 和 5xx 时做有限次重试；
// 非幂等请求最多发送一次，避免上游产生重复副作用。
func (c *client) call(ctx context.Context, method, path string, body, out any, idempotent bool) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求体失败")
		}
		payload = raw
	}

	attempts := 1
	if idempotent {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), fmt.Sprintf("请求 %s 被取消", c.name))
			case <-time.After(retryBackoff):
			}
			metrics.ObserveUpstreamRetry(c.name)
			logger.L().Debug("重试上游请求",
				"service", c.name, "method", method, "path", path, "attempt", attempt)
		}

		status, respBody, err := c.do(ctx, method, path, payload)
		if err != nil {
			lastErr = xerrors.Wrap(xerrors.CodeUpstreamFailure, err,
				fmt.Sprintf("请求 %s 失败", c.name))
			continue
		}
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			lastErr = newStatusError(c.name, status, respBody)
			continue
		}
		if status >= http.StatusBadRequest {
			return newStatusError(c.name, status, respBody)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return xerrors.Wrap(xerrors.CodeUpstreamFailure, err,
					fmt.Sprintf("解析 %s 响应失败", c.name))
			}
		}
		return nil
	}
	return lastErr
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// StatusError 携带上游返回的状态码，调用方可据此做差异化处理。
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s 返回状态 %d: %s", e.Service, e.Status, e.Body)
}

func newStatusError(service string, status int, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 512 {
		trimmed = trimmed[:512]
	}
	statusErr := &StatusError{Service: service, Status: status, Body: trimmed}
	code := xerrors.CodeUpstreamFailure
	if status == http.StatusNotFound {
		code = xerrors.CodeNotFound
	}
	if status == http.StatusConflict {
		code = xerrors.CodeConflict
	}
	return xerrors.Wrap(code, statusErr, fmt.Sprintf("%s 请求未成功", service),
		xerrors.WithMetadata("status", fmt.Sprintf("%d", status)))
}

// StatusOf 提取错误中的上游状态码，不是上游错误时返回 0。
func StatusOf(err error) int {
	var statusErr *StatusError
	if stdErrors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}
