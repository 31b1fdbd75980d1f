package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/store"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// InvocationLister lists recent remote invocations. *workflow.Service
// satisfies it.
type InvocationLister interface {
	ListRecentWorkflows(ctx context.Context, limit int) ([]*workflow.Handle, error)
}

// ScheduleTrigger exposes configured cron schedules. *scheduler.Scheduler
// satisfies it.
type ScheduleTrigger interface {
	Names() []string
	Next(name string) (time.Time, error)
	Trigger(ctx context.Context, name string) (string, error)
}

// Options configures the listener, CORS policy and optional collaborators.
type Options struct {
	Addr string
	// CORSOrigins defaults to allowing any origin.
	CORSOrigins []string
	// Schedules is nil when no schedules are configured.
	Schedules ScheduleTrigger
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router      *chi.Mux
	manager     *manager.Manager
	invocations InvocationLister
	schedules   ScheduleTrigger
	store       store.Store
	logger      *slog.Logger
	addr        string
}

// NewServer creates and configures a new HTTP server.
func NewServer(opts Options, mgr *manager.Manager, invocations InvocationLister, s store.Store, logger *slog.Logger) *Server {
	srv := &Server{
		router:      chi.NewRouter(),
		manager:     mgr,
		invocations: invocations,
		schedules:   opts.Schedules,
		store:       s,
		logger:      logger,
		addr:        opts.Addr,
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/events", s.handleListRecentEvents)
	s.router.Get("/v1/invocations", s.handleListInvocations)
	s.router.Get("/v1/schedules", s.handleListSchedules)
	s.router.Post("/v1/schedules/{name}/trigger", s.handleTriggerSchedule)

	s.router.Route("/v1/workflows", func(r chi.Router) {
		r.Post("/", s.handleRunWorkflow)
		r.Get("/", s.handleListWorkflows)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Get("/{id}/events", s.handleGetEvents)
		r.Get("/{id}/stream", s.handleStreamEvents)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts the listener down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
