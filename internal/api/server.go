package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MarketSeer/internal/auth"
	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/observability/metrics"
	"MarketSeer/internal/run"
	"MarketSeer/internal/storage/mysql"
	"MarketSeer/pkg/logger"
)

// 接口权限定义。
const (
	PermRunsRead    = "runs:read"
	PermRunsWrite   = "runs:write"
	PermReportsRead = "reports:read"
)

// RunService 覆盖 HTTP 层需要的运行操作。
type RunService interface {
	Submit(ctx context.Context, req run.SubmitRequest) (*run.Run, error)
	Get(ctx context.Context, id string) (*run.Run, error)
	List(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error)
	Stats(ctx context.Context, opts ...run.ListOption) (run.RunStats, error)
}

// ReportArchive 覆盖 HTTP 层需要的报告查询操作。
type ReportArchive interface {
	GetByRunID(ctx context.Context, runID string) (*mysql.ReportRecord, error)
	ListLatest(ctx context.Context, limit int) ([]mysql.ReportRecord, error)
}

// Server 负责暴露 REST 接口，供外部提交和查询调研运行。
type Server struct {
	addr    string
	runs    RunService
	reports ReportArchive
	auth    *auth.Service
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithReportArchive 挂载报告档案，启用 /api/v1/reports 端点。
func WithReportArchive(archive ReportArchive) Option {
	return func(s *Server) {
		s.reports = archive
	}
}

// WithAuth 启用身份认证与授权。
func WithAuth(service *auth.Service) Option {
	return func(s *Server) {
		s.auth = service
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs RunService, opts ...Option) *Server {
	s := &Server{addr: addr, runs: runs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/v1/auth/token",
		metrics.Middleware("auth_token", http.HandlerFunc(s.handleToken)))

	mux.Handle("/api/v1/runs", s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {PermRunsRead},
			http.MethodPost: {PermRunsWrite},
		},
		AuditEvent: "runs",
	}, metrics.Middleware("runs", http.HandlerFunc(s.handleRuns))))

	mux.Handle("/api/v1/runs/stats", s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{http.MethodGet: {PermRunsRead}},
		AuditEvent:          "run_stats",
	}, metrics.Middleware("run_stats", http.HandlerFunc(s.handleRunStats))))

	mux.Handle("/api/v1/runs/", s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{http.MethodGet: {PermRunsRead}},
		AuditEvent:          "run_detail",
	}, metrics.Middleware("run_detail", http.HandlerFunc(s.handleRunDetail))))

	mux.Handle("/api/v1/reports", s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{http.MethodGet: {PermReportsRead}},
		AuditEvent:          "reports",
	}, metrics.Middleware("reports", http.HandlerFunc(s.handleReports))))

	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Named("api").Info("API 服务已启动", "addr", s.addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// guard 在配置了认证服务时套上认证授权中间件。
func (s *Server) guard(cfg auth.MiddlewareConfig, next http.Handler) http.Handler {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return next
	}
	return s.auth.Middleware(cfg)(next)
}

// handleToken 处理令牌签发请求。
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		http.Error(w, "身份认证未启用", http.StatusNotFound)
		return
	}

	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrUnsupportedGrant) {
			status = http.StatusBadRequest
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleRuns 处理运行的创建和列表查询。
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req run.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	submitted, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleRunStats 返回运行的统计概览。
func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRunDetail 处理单个运行及其报告的查询。
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	wantReport := false
	if trimmed, ok := strings.CutSuffix(rest, "/report"); ok {
		rest = trimmed
		wantReport = true
	}
	runID := strings.Trim(rest, "/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "无效的运行 ID", http.StatusBadRequest)
		return
	}

	if wantReport {
		s.handleRunReport(w, r, runID)
		return
	}

	current, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// handleRunReport 返回运行的最终报告，报告读取需要单独的权限。
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request, runID string) {
	if err := s.authorize(r.Context(), PermReportsRead); err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	current, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(current.Report) == 0 {
		http.Error(w, "运行尚未产出报告", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    current.ID,
		"status":    current.Status,
		"objective": current.Objective,
		"report":    current.Report,
	})
}

// handleReports 返回已归档的最新报告列表。
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.reports == nil {
		http.Error(w, "报告档案未启用", http.StatusNotFound)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "无效的 limit 参数", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.reports.ListLatest(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": records, "count": len(records)})
}

// handleHealthz 是存活探针。
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// authorize 在启用了认证时检查上下文主体的权限。
func (s *Server) authorize(ctx context.Context, perms ...string) error {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return nil
	}
	subject := auth.SubjectFromContext(ctx)
	if subject == nil {
		return auth.ErrInvalidToken
	}
	return subject.Authorize(perms...)
}

// parseListOptions 解析列表查询参数。
func parseListOptions(r *http.Request) ([]run.ListOption, error) {
	query := r.URL.Query()
	var opts []run.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("无效的 limit 参数")
		}
		opts = append(opts, run.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("无效的 offset 参数")
		}
		opts = append(opts, run.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []run.Status
		for _, part := range strings.Split(raw, ",") {
			status := run.Status(strings.ToLower(strings.TrimSpace(part)))
			if !run.IsValidStatus(status) {
				return nil, errors.New("无效的 status 参数")
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, errors.New("无效的 updated_since 参数")
		}
		opts = append(opts, run.WithUpdatedSince(ts))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, errors.New("无效的 updated_until 参数")
		}
		opts = append(opts, run.WithUpdatedUntil(ts))
	}
	if raw := query.Get("has_report"); raw != "" {
		hasReport, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("无效的 has_report 参数")
		}
		opts = append(opts, run.WithReportPresence(hasReport))
	}
	if raw := query.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, run.WithSortOrder(run.SortByUpdatedDesc))
		default:
			return nil, errors.New("无效的 order 参数")
		}
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, run.WithQuery(raw))
	}
	return opts, nil
}

// parseTimestamp 同时接受 Unix 秒和 RFC3339 格式。
func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// writeError 将运行层错误映射为 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch {
	case run.IsRunError(err, run.CodeRunNotFound):
		status = http.StatusNotFound
	case code == run.CodeRunValidation, code == xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case code == run.CodeRunPublish:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
