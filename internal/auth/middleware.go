package auth

import (
	"log/slog"
	"net/http"
	"time"

	loggerpkg "MarketSeer/pkg/logger"
)

// MiddlewareConfig 配置认证中间件的授权规则。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法声明所需权限，键 "*" 作为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定审计日志中的事件名称，为空时使用请求路径。
	AuditEvent string
}

// Middleware 返回处理认证与授权的 HTTP 中间件。
// 认证关闭时请求原样放行，不产生审计记录。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				if err == ErrPermissionDenied || err == ErrSubjectRevoked {
					status = http.StatusForbidden
				}
				s.deny(w, r, status, "access_denied", "", err)
				return
			}

			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if len(perms) > 0 {
				if err := subject.Authorize(perms...); err != nil {
					s.deny(w, r, http.StatusForbidden, "permission_denied", subject.Username, err)
					return
				}
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithSubject(r.Context(), subject)
			next.ServeHTTP(aw, r.WithContext(ctx))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Username,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, status int, event, user string, err error) {
	http.Error(w, http.StatusText(status), status)
	s.auditLogger().Warn(event,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"user", user,
	)
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter 捕获响应状态码用于审计记录。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
