package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	xerrors "IntentLayer-Lite/internal/errors"
	loggerpkg "IntentLayer-Lite/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredScopes 定义每个 HTTP 方法所需的 scope，"*" 作为缺省项。
	RequiredScopes map[string][]string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			logger := s.audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeDenied(w, http.StatusUnauthorized, xerrors.CodeUnauthenticated, err)
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", http.StatusUnauthorized,
					"error", err.Error(),
				)
				return
			}

			scopes := cfg.RequiredScopes[r.Method]
			if len(scopes) == 0 {
				scopes = cfg.RequiredScopes["*"]
			}
			if err := subject.Authorize(scopes...); err != nil {
				writeDenied(w, http.StatusForbidden, xerrors.CodePermissionDenied, err)
				logger.Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", http.StatusForbidden,
					"error", err.Error(),
					"subject", subject.ID,
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"subject", subject.ID,
			)
		})
	}
}

func writeDenied(w http.ResponseWriter, status int, code xerrors.Code, err error) {
	message := err.Error()
	if errors.Is(err, ErrInvalidToken) {
		message = ErrInvalidToken.Error()
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="intentlayer"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": string(code), "message": message},
	})
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
