// Package server implements the management HTTP surface: health probes,
// version, metrics and the audit job operations.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/treeaudit/internal/errors"
	"github.com/3leaps/treeaudit/internal/observability"
	"github.com/3leaps/treeaudit/internal/server/handlers"
	"github.com/3leaps/treeaudit/internal/server/middleware"
)

// Timeouts configures the HTTP server.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// DefaultTimeouts match the configuration defaults.
var DefaultTimeouts = Timeouts{Read: 30 * time.Second, Write: 30 * time.Second, Idle: 120 * time.Second}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts sets the HTTP server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// WithAudit mounts the audit job routes.
func WithAudit(h *handlers.AuditHandler) Option {
	return func(s *Server) { s.audit = h }
}

// WithMetrics mounts /metrics over reg.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// Server is the management HTTP server.
type Server struct {
	host     string
	port     int
	logger   *zap.Logger
	timeouts Timeouts
	audit    *handlers.AuditHandler
	metrics  *prometheus.Registry

	router     chi.Router
	httpServer *http.Server
}

// New creates a server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		logger:   observability.CLILogger,
		timeouts: DefaultTimeouts,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteHTTPError(w, http.StatusNotFound, apperrors.HTTPError{
			Code:      "NOT_FOUND",
			Message:   fmt.Sprintf("no route for %s", req.URL.Path),
			RequestID: req.Header.Get(middleware.RequestIDHeader),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteHTTPError(w, http.StatusMethodNotAllowed, apperrors.HTTPError{
			Code:      "METHOD_NOT_ALLOWED",
			Message:   fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path),
			RequestID: req.Header.Get(middleware.RequestIDHeader),
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", observability.MetricsHandler(s.metrics))
	}

	if s.audit != nil {
		r.Route("/audit", func(r chi.Router) {
			r.Get("/status", s.audit.Status)
			r.Get("/running", s.audit.Running)
			r.Post("/start", s.audit.Start)
			r.Post("/stop", s.audit.Stop)
		})
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("Management server listening", zap.String("addr", s.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
