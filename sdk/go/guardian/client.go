// Package guardian provides a small client for the Legend Guardian REST API.
package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the Legend Guardian REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// IntentRequest is the payload for intent submission.
// Execute false asks the server for a dry run: the parsed plan is
// validated and returned without being executed.
type IntentRequest struct {
	Prompt      string         `json:"prompt"`
	ProjectID   string         `json:"project_id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Execute     bool           `json:"execute"`
}

// Step is one planned action.
type Step struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// StepError describes a structured step failure.
type StepError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Action string         `json:"action"`
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  *StepError     `json:"error,omitempty"`
}

// Plan is the server side execution record.
type Plan struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	Goal          string         `json:"goal"`
	ProjectID     string         `json:"project_id,omitempty"`
	WorkspaceID   string         `json:"workspace_id,omitempty"`
	Source        string         `json:"source,omitempty"`
	OnError       string         `json:"on_error"`
	Steps         []Step         `json:"steps"`
	Results       []StepResult   `json:"results,omitempty"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IntentResponse is returned by the intent and flow endpoints.
type IntentResponse struct {
	Intent        string `json:"intent"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Plan          *Plan  `json:"plan,omitempty"`
}

// Episode is one remembered plan outcome.
type Episode struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	Summary   string            `json:"summary"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Hint       string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("guardian api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("guardian api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken stores the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SubmitIntent parses the prompt and, when req.Execute is set, runs the
// resulting plan synchronously. With Execute false the server returns the
// validated plan without executing it.
func (c *Client) SubmitIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	var resp IntentResponse
	if err := c.post(ctx, "/api/v1/intent", req, &resp); err != nil {
		return IntentResponse{}, err
	}
	return resp, nil
}

// SubmitIntentAsync parses the prompt and enqueues the plan for background
// execution. Use GetPlan or WaitForPlan to observe progress.
func (c *Client) SubmitIntentAsync(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	var resp IntentResponse
	if err := c.post(ctx, "/api/v1/intent/async", req, &resp); err != nil {
		return IntentResponse{}, err
	}
	return resp, nil
}

// RunFlow executes a named multi step flow template.
func (c *Client) RunFlow(ctx context.Context, name string, req IntentRequest) (IntentResponse, error) {
	var resp IntentResponse
	if err := c.post(ctx, "/api/v1/flows/"+url.PathEscape(name), req, &resp); err != nil {
		return IntentResponse{}, err
	}
	return resp, nil
}

// GetPlan fetches plan details by identifier.
func (c *Client) GetPlan(ctx context.Context, planID string) (Plan, error) {
	var plan Plan
	if err := c.get(ctx, "/api/v1/plans/"+url.PathEscape(planID), &plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Actions lists the action vocabulary supported by the server.
func (c *Client) Actions(ctx context.Context) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	if err := c.get(ctx, "/api/v1/actions", &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// Episodes returns recent episodic memory entries, optionally filtered by
// event type.
func (c *Client) Episodes(ctx context.Context, eventType string, limit int) ([]Episode, error) {
	endpoint := "/api/v1/episodes"
	query := url.Values{}
	if eventType != "" {
		query.Set("event_type", eventType)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp struct {
		Episodes []Episode `json:"episodes"`
	}
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Episodes, nil
}

// WaitForPlan polls until the plan reaches a terminal status or the context
// is cancelled.
func (c *Client) WaitForPlan(ctx context.Context, planID string, interval time.Duration) (Plan, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		plan, err := c.GetPlan(ctx, planID)
		if err != nil {
			return Plan{}, err
		}
		switch plan.Status {
		case "completed", "failed", "canceled":
			return plan, nil
		}
		select {
		case <-ctx.Done():
			return plan, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("read error response: %w", readErr)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
