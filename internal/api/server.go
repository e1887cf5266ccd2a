package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"IntentLayer-Lite/internal/auth"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/observability/metrics"
	"IntentLayer-Lite/internal/router"
)

// ChainDirectory 提供已配置链的列表与状态快照。
type ChainDirectory interface {
	DefaultChain() string
	Chains() []string
	Snapshots(ctx context.Context) map[string]any
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr         string
	mandates     *mandate.Registry
	intents      *router.Service
	chains       ChainDirectory
	auth         *auth.Service
	metrics      bool
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option 定制 Server。
type Option func(*Server)

// WithAuth 为业务路由启用鉴权。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithChains 启用 /api/v1/chains。
func WithChains(chains ChainDirectory) Option {
	return func(s *Server) {
		s.chains = chains
	}
}

// WithMetrics 控制是否暴露 /metrics。
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.metrics = enabled
	}
}

// WithTimeouts 设置读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, mandates *mandate.Registry, intents *router.Service, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		mandates:     mandates,
		intents:      intents,
		metrics:      true,
		readTimeout:  15 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /api/v1/mandates", "mandates.register", auth.ScopeMandatesWrite, s.handleRegisterMandate)
	s.route(mux, "GET /api/v1/mandates", "mandates.list", auth.ScopeRead, s.handleListMandates)
	s.route(mux, "GET /api/v1/mandates/{id}", "mandates.get", auth.ScopeRead, s.handleGetMandate)
	s.route(mux, "POST /api/v1/mandates/{id}/revoke", "mandates.revoke", auth.ScopeMandatesWrite, s.handleRevokeMandate)
	s.route(mux, "GET /api/v1/mandates/{id}/budget", "mandates.budget", auth.ScopeRead, s.handleMandateBudget)

	s.route(mux, "POST /api/v1/intents", "intents.submit", auth.ScopeIntentsWrite, s.handleSubmitIntent)
	s.route(mux, "POST /api/v1/intents/preview", "intents.preview", auth.ScopeRead, s.handlePreviewIntent)
	s.route(mux, "GET /api/v1/intents", "intents.list", auth.ScopeRead, s.handleListIntents)
	s.route(mux, "GET /api/v1/intents/stats", "intents.stats", auth.ScopeRead, s.handleIntentStats)
	s.route(mux, "GET /api/v1/intents/{id}", "intents.get", auth.ScopeRead, s.handleGetIntent)

	s.route(mux, "GET /api/v1/chains", "chains.list", auth.ScopeRead, s.handleChains)

	mux.Handle("GET /healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	if s.metrics {
		metrics.Register()
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

// route 依次包装鉴权与指标采集。
func (s *Server) route(mux *http.ServeMux, pattern, name, scope string, handler http.HandlerFunc) {
	var h http.Handler = handler
	if s.auth != nil {
		h = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredScopes: map[string][]string{"*": {scope}},
			AuditEvent:     name,
		})(h)
	}
	mux.Handle(pattern, instrument(name, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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

// statusRecorder 捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}
