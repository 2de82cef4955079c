// Package server is the worker's monitoring HTTP surface: job status
// inspection, queue sizes, run history, health and Prometheus metrics.
// It is read-only; enqueueing and requeueing stay on the CLI.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/zkq/internal/config"
	"github.com/me/zkq/internal/coordinator"
	"github.com/me/zkq/internal/history"
	"github.com/me/zkq/internal/metrics"
)

// Server is the monitoring API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	cfg       *config.Config
	co        *coordinator.Coordinator
	hist      *history.Store
	met       *metrics.Collector
	startTime time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithHistory enables the /api/v1/history endpoint.
func WithHistory(h *history.Store) Option {
	return func(s *Server) { s.hist = h }
}

// WithMetrics enables the /metrics endpoint.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.met = m }
}

// New creates a Server with all routes registered.
func New(cfg *config.Config, co *coordinator.Coordinator, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		cfg:       cfg,
		co:        co,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	if s.met != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.met.Registry(), promhttp.HandlerOpts{}))
	}

	// App names are hierarchical paths, so they travel as query
	// parameters rather than URL segments.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/apps", s.handleApps)
		r.Get("/status", s.handleStatus)
		r.Get("/queue", s.handleQueue)
		if s.hist != nil {
			r.Get("/history", s.handleHistory)
		}
	})
}
