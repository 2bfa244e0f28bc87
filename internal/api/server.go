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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/cibridge/internal/auth"
	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

// TaskQueuer defines the queue operations the API needs.
type TaskQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, bool, error)
	GetResult(ctx context.Context, id string) (*queue.TaskResult, error)
	Depth(ctx context.Context) (int, error)
}

// TaskExecutor routes a task synchronously.
type TaskExecutor interface {
	Execute(ctx context.Context, task *tasking.Task) (tasking.Result, error)
}

// EnqueueObserver is notified of every submission.
type EnqueueObserver interface {
	ObserveEnqueue(created bool)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens            []auth.TokenConfig
	MaxConcurrentSync int
	MaxSyncTimeout    time.Duration
	MaxBodyBytes      int64
	ServiceID         string
	Plugin            string
}

// Server represents the HTTP API server
type Server struct {
	config        Config
	queue         TaskQueuer
	executor      TaskExecutor
	events        *events.Hub
	observer      EnqueueObserver
	logger        *slog.Logger
	server        *http.Server
	startedAt     time.Time
	syncSemaphore chan struct{}
}

// New creates a new API server instance. hub and observer may be nil.
func New(config Config, q TaskQueuer, executor TaskExecutor, hub *events.Hub, observer EnqueueObserver, logger *slog.Logger) *Server {
	if config.MaxConcurrentSync <= 0 {
		config.MaxConcurrentSync = 10
	}
	if config.MaxSyncTimeout <= 0 {
		config.MaxSyncTimeout = 2 * time.Minute
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:        config,
		queue:         q,
		executor:      executor,
		events:        hub,
		observer:      observer,
		logger:        logger,
		startedAt:     time.Now(),
		syncSemaphore: make(chan struct{}, config.MaxConcurrentSync),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.MaxSyncTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeTasksRW)).Post("/tasks", s.handleSubmitTask)
		r.With(s.requireScopes(auth.ScopeTasksRW)).Post("/tasks/route", s.handleRouteTask)
		r.With(s.requireScopes(auth.ScopeTasksRO)).Get("/tasks/{taskID}", s.handleGetTask)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	tokens := s.config.Tokens
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(presented, s.config.APIKey, tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(principal, required...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
