// Package api provides the HTTP server for MailPipe.
//
// It serves the gateway endpoints (turns, health, receipts) and, when a
// local orchestrator backs the server, the agent backend endpoints that a
// remote gateway calls.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MailPipe/internal/agentclient"
	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/store"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	maxRequestBody         = 1 << 20
)

// AgentRunner runs one turn. flow.Orchestrator and agentclient.Client
// implement it.
type AgentRunner interface {
	ProcessTurn(ctx context.Context, req models.TurnRequest) (models.AgentState, error)
}

// HealthChecker reports the state of the agent backend.
type HealthChecker interface {
	Health(ctx context.Context) agentclient.BackendStatus
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr           string
	Health         HealthChecker
	ServeBackend   bool
	Metrics        *instrumentation.Metrics
	MetricsHandler http.Handler
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithHealthChecker sets the backend health probe. Without one the store is
// pinged instead.
func WithHealthChecker(h HealthChecker) Option {
	return func(o *Opts) { o.Health = h }
}

// WithBackendRoutes mounts POST /threads/{threadId}/runs/wait and GET /ok.
func WithBackendRoutes() Option {
	return func(o *Opts) { o.ServeBackend = true }
}

// WithMetrics records request metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.MetricsHandler = h }
}

// Server is the MailPipe HTTP server.
type Server struct {
	runner  AgentRunner
	st      store.Store
	health  HealthChecker
	metrics *instrumentation.Metrics
	opts    Opts
	handler http.Handler
}

// NewServer creates a server around runner. st serves receipts and the
// default health probe.
func NewServer(runner AgentRunner, st store.Store, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{runner: runner, st: st, metrics: o.Metrics, opts: o}
	s.health = o.Health
	if s.health == nil {
		s.health = storeHealth{st: st}
	}
	s.handler = s.routes()
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/send-email", s.turnHandler)
	mux.HandleFunc("GET /agent/health", s.agentHealthHandler)
	mux.HandleFunc("GET /agent/receipts", s.receiptsHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	if s.opts.ServeBackend {
		mux.HandleFunc("POST /threads/{threadId}/runs/wait", s.runWaitHandler)
		mux.HandleFunc("GET /ok", s.okHandler)
	}
	if s.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}
	return s.withMetrics(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr, "backend_routes", s.opts.ServeBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withMetrics records every request's method, route pattern and status.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// storeHealth treats the agent as connected when its store answers.
type storeHealth struct {
	st store.Store
}

func (h storeHealth) Health(ctx context.Context) agentclient.BackendStatus {
	if h.st == nil {
		return agentclient.BackendConnected
	}
	if err := h.st.Ping(ctx); err != nil {
		slog.Warn("api.storeHealth: store ping failed", "error", err)
		return agentclient.BackendError
	}
	return agentclient.BackendConnected
}
