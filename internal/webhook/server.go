package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

// Server represents the webhook HTTP server.
type Server struct {
	config    Config
	queue     TaskQueuer
	events    Publisher
	observer  EnqueueObserver
	logger    *slog.Logger
	server    *http.Server
	endpoints map[string]*EndpointConfig
}

// Option configures a Server.
type Option func(*Server)

// WithEvents publishes a task.enqueued event per queued task.
func WithEvents(p Publisher) Option {
	return func(s *Server) { s.events = p }
}

// WithObserver reports every submission to o.
func WithObserver(o EnqueueObserver) Option {
	return func(s *Server) { s.observer = o }
}

// New creates a new webhook server instance.
func New(config Config, q TaskQueuer, logger *slog.Logger, opts ...Option) *Server {
	endpoints := make(map[string]*EndpointConfig, len(config.Endpoints))
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	s := &Server{
		config:    config,
		queue:     q,
		logger:    logger,
		endpoints: endpoints,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleIntake)
	}
	return r
}

// loggingMiddleware logs requests without their payloads.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifySignature(body, r.Header.Get(endpoint.SignatureHeader), endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"header", endpoint.SignatureHeader,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	tasks, err := decodeTasks(body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := "webhook:" + r.URL.Path
	resp := IntakeResponse{TaskIDs: make([]string, 0, len(tasks))}
	for _, task := range tasks {
		id, created, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{Task: task, SubmittedBy: source})
		if err != nil {
			s.logger.Error("failed to enqueue pushed task", "path", r.URL.Path, "task_id", task.ID, "error", err)
			s.respondError(w, http.StatusInternalServerError, "failed to enqueue task")
			return
		}
		if s.observer != nil {
			s.observer.ObserveEnqueue(created)
		}
		if !created {
			resp.Duplicates++
		} else if s.events != nil {
			s.events.Publish(events.TypeTaskEnqueued, events.TaskEvent{QueueID: id, TaskID: task.ID, Source: source})
		}
		resp.TaskIDs = append(resp.TaskIDs, id)
	}

	s.logger.Info("pushed tasks enqueued",
		"path", r.URL.Path,
		"count", len(resp.TaskIDs),
		"duplicates", resp.Duplicates,
	)
	s.respondJSON(w, http.StatusAccepted, resp)
}

// decodeTasks accepts a task object or an array of tasks and validates all
// of them.
func decodeTasks(body []byte) ([]tasking.Task, error) {
	trimmed := bytes.TrimSpace(body)
	var tasks []tasking.Task
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, fmt.Errorf("invalid task array: %w", err)
		}
	} else {
		var task tasking.Task
		if err := json.Unmarshal(trimmed, &task); err != nil {
			return nil, fmt.Errorf("invalid task: %w", err)
		}
		tasks = []tasking.Task{task}
	}
	if len(tasks) == 0 {
		return nil, errors.New("no tasks in request")
	}

	for i := range tasks {
		tasks[i].Method = tasking.Method(strings.ToUpper(string(tasks[i].Method)))
		if err := tasks[i].Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return tasks, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
