// Package api 暴露 REST 接口, 供外部提交意图并查询计划与记忆。
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"time"

	"Legend-Guardian/internal/agent"
	"Legend-Guardian/internal/auth"
	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/intent"
	"Legend-Guardian/internal/memory"
	"Legend-Guardian/internal/observability/metrics"
	"Legend-Guardian/internal/plan"
	"Legend-Guardian/pkg/logger"
)

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	parser          *intent.Parser
	plans           *plan.Service
	episodes        memory.Store
	policy          *agent.Policy
	guard           *auth.Guard
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithEpisodes 启用情节记忆查询接口。
func WithEpisodes(store memory.Store) Option {
	return func(s *Server) {
		s.episodes = store
	}
}

// WithGuard 启用令牌鉴权。
func WithGuard(guard *auth.Guard) Option {
	return func(s *Server) {
		if guard != nil {
			s.guard = guard
		}
	}
}

// WithPolicy 在计划提交前做批准标记检查。
func WithPolicy(policy *agent.Policy) Option {
	return func(s *Server) {
		s.policy = policy
	}
}

// WithTimeouts 覆盖默认的读写与停机超时。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, parser *intent.Parser, plans *plan.Service, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		parser:          parser,
		plans:           plans,
		guard:           auth.NewGuard(false, nil),
		readTimeout:     30 * time.Second,
		writeTimeout:    60 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装全部路由。健康检查与指标不走鉴权。
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/intent", s.handleIntent)
	api.HandleFunc("POST /api/v1/intent/async", s.handleIntentAsync)
	api.HandleFunc("POST /api/v1/flows/{name}", s.handleFlow)
	api.HandleFunc("GET /api/v1/plans", s.handleListPlans)
	api.HandleFunc("GET /api/v1/plans/stats", s.handlePlanStats)
	api.HandleFunc("GET /api/v1/plans/{id}", s.handleGetPlan)
	api.HandleFunc("GET /api/v1/actions", s.handleActions)
	api.HandleFunc("GET /api/v1/episodes", s.handleEpisodes)

	root := http.NewServeMux()
	root.Handle("/api/v1/", s.guard.Middleware(api))
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("GET /metrics", metrics.Handler())
	return withMetrics(root)
}

// Start 启动 HTTP 服务, 直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("API 服务启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// intentResponse 是意图接口的统一响应。
type intentResponse struct {
	Intent        string     `json:"intent"`
	Source        string     `json:"source"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Plan          *plan.Plan `json:"plan,omitempty"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	s.parseAndSubmit(w, r, false)
}

func (s *Server) handleIntentAsync(w http.ResponseWriter, r *http.Request) {
	s.parseAndSubmit(w, r, true)
}

func (s *Server) parseAndSubmit(w http.ResponseWriter, r *http.Request, async bool) {
	var req intent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	result, err := s.parser.Parse(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Intent == intent.IntentNoAction {
		writeJSON(w, http.StatusOK, intentResponse{
			Intent: result.Intent,
			Source: result.Source,
			Plan:   result.Plan,
		})
		return
	}
	// execute=false 只做试运行: 校验并返回解析出的计划, 不登记也不执行。
	if !async && !req.Execute {
		preview, err := s.plans.Preview(r.Context(), result.Plan)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, intentResponse{
			Intent:        result.Intent,
			Source:        result.Source,
			CorrelationID: preview.CorrelationID,
			Plan:          preview,
		})
		return
	}
	s.submitPlan(w, r, result, !async)
}

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req intent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	result, err := s.parser.ParseFlow(r.Context(), name, req)
	if err != nil {
		writeError(w, err)
		return
	}
	result.Plan.Goal = "flow: " + name
	s.submitPlan(w, r, result, true)
}

func (s *Server) submitPlan(w http.ResponseWriter, r *http.Request, result *intent.Result, execute bool) {
	if err := s.checkApproval(result.Plan); err != nil {
		writeError(w, err)
		return
	}
	submitted, err := s.plans.Submit(r.Context(), result.Plan, execute)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !execute {
		status = http.StatusAccepted
	}
	writeJSON(w, status, intentResponse{
		Intent:        result.Intent,
		Source:        result.Source,
		CorrelationID: submitted.CorrelationID,
		Plan:          submitted,
	})
}

// checkApproval 拦截包含需批准动作且未带批准标记的计划。
func (s *Server) checkApproval(p *plan.Plan) error {
	if s.policy == nil {
		return nil
	}
	for _, step := range p.Steps {
		if !s.policy.RequiresApproval(step.Action) {
			continue
		}
		if approved, _ := step.Args["approved"].(bool); !approved {
			return xerrors.New(agent.CodeApprovalRequired,
				"动作 "+step.Action+" 需要人工批准",
				xerrors.WithHint("在步骤参数中带上 approved: true"))
		}
	}
	return nil
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.plans.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	opts := plan.ListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
		Query:  r.URL.Query().Get("q"),
	}
	for _, status := range r.URL.Query()["status"] {
		opts.Statuses = append(opts.Statuses, plan.Status(status))
	}
	plans, err := s.plans.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "count": len(plans)})
}

func (s *Server) handlePlanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.plans.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.plans.Actions()})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if s.episodes == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "未配置情节记忆"))
		return
	}
	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = 20
	}

	ctx := r.Context()
	if query := r.URL.Query().Get("q"); query != "" {
		scored, err := s.episodes.Similar(ctx, query, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"episodes": scored, "count": len(scored)})
		return
	}
	if eventType := r.URL.Query().Get("event_type"); eventType != "" {
		episodes, err := s.episodes.ByEventType(ctx, eventType)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(episodes) > limit {
			episodes = episodes[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{"episodes": episodes, "count": len(episodes)})
		return
	}
	episodes, err := s.episodes.Recent(ctx, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": episodes, "count": len(episodes)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorResponse 是全部错误响应的统一形态。
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	resp := errorResponse{
		Code:    string(code),
		Message: err.Error(),
		Hint:    xerrors.AttributesOf(code).Hint,
	}
	var typed *xerrors.Error
	if stdErrors.As(err, &typed) && typed.Hint() != "" {
		resp.Hint = typed.Hint()
	}
	writeJSON(w, statusForCode(code), resp)
}

func statusForCode(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, plan.CodePlanValidation,
		xerrors.CodeParseFailure, xerrors.CodeUnknownAction,
		agent.CodePolicyViolation:
		return http.StatusBadRequest
	case agent.CodeApprovalRequired:
		return http.StatusForbidden
	case xerrors.CodeNotFound, plan.CodePlanNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, plan.CodePlanConflict, plan.CodePlanTerminal:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// statusRecorder 捕获响应码供指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(r.URL.Path, r.Method, recorder.status, time.Since(start))
	})
}
