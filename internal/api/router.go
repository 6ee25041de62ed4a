package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TargetLister lists the names of registered execution targets.
type TargetLister interface {
	Targets() []string
}

// Options wires the HTTP server to the scheduler and its collaborators.
// MCP and Metrics are optional.
type Options struct {
	Addr      string
	AuthToken string
	Scheduler *core.Scheduler
	Targets   TargetLister
	Runs      *store.RunRepo
	MCP       http.Handler
	Metrics   http.Handler
	Logger    *slog.Logger
	Location  *time.Location
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	scheduler  *core.Scheduler
	targets    TargetLister
	runs       *store.RunRepo
	mcp        http.Handler
	metrics    http.Handler
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	location := opts.Location
	if location == nil {
		location = time.Local
	}

	s := &Server{
		router:    router,
		scheduler: opts.Scheduler,
		targets:   opts.Targets,
		runs:      opts.Runs,
		mcp:       opts.MCP,
		metrics:   opts.Metrics,
		logger:    logger,
		location:  location,
		authToken: opts.AuthToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	// Mount MCP endpoint with optional authentication
	if s.mcp != nil {
		var mcpHandler http.Handler = s.mcp
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		// Apply authentication to all API endpoints
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/cron/preview", s.handleCronPreview)
		r.Post("/cycle", s.handleRunCycle)
		r.Get("/targets", s.handleListTargets)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleRegisterTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/enable", s.handleEnableTask)
				r.Post("/disable", s.handleDisableTask)
				r.Post("/run", s.handleRunTask)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Get("/runs/{runID}", s.handleGetRun)
	})
}

// now is the instant used for cycles and single runs started over HTTP.
func (s *Server) now() time.Time {
	return s.scheduler.Catalog().Now().In(s.location)
}
