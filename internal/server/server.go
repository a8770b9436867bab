// Package server assembles the HTTP API: router, middleware chain, and
// lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/drawmill/internal/errors"
	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/internal/server/handlers"
	"github.com/3leaps/drawmill/internal/server/middleware"
	"github.com/3leaps/drawmill/pkg/pipeline"
	"github.com/3leaps/drawmill/pkg/store"
)

// Option customizes server construction.
type Option func(*Server)

// WithPipeline mounts the document conversion API backed by the given
// orchestrator and store.
func WithPipeline(orch *pipeline.Orchestrator, st *store.Store) Option {
	return func(s *Server) {
		s.jobs = handlers.NewJobsHandler(orch, st)
	}
}

// WithVersion sets the build info served at /version.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) {
		s.version = info
	}
}

// WithTimeouts sets the listener timeouts.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// Server is the API server. Construct with New, then Start, then Shutdown.
type Server struct {
	host    string
	port    int
	version handlers.VersionInfo
	jobs    *handlers.JobsHandler

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router chi.Router
	http   *http.Server
}

// New builds a server listening on host:port. Port 0 lets the OS choose.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		version:      handlers.VersionInfo{Version: "dev"},
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no route for "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			req.Method+" not allowed for "+req.URL.Path)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.jobs != nil {
		r.Route("/v1", func(r chi.Router) {
			r.Post("/documents", s.jobs.Submit)
			r.Get("/jobs", s.jobs.List)
			r.Get("/jobs/{jobID}", s.jobs.Status)
			r.Get("/jobs/{jobID}/result", s.jobs.Result)
			r.Post("/jobs/{jobID}/cancel", s.jobs.Cancel)
			r.Get("/artifacts/{fingerprint}", s.jobs.Manifest)
			r.Get("/artifacts/{fingerprint}/{stage}/{name}", s.jobs.Artifact)
		})
	}

	return r
}

// Start runs the listener until it fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	observability.ServerLogger.Info("http server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
