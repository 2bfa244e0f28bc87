package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/cibridge/internal/auth"
	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		ServiceID:     s.config.ServiceID,
		Plugin:        s.config.Plugin,
	})
}

// handleSubmitTask handles POST /tasks. The task is queued and routed by
// the dispatcher.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.decodeTask(w, r)
	if !ok {
		return
	}

	id, created, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Task:        *task,
		SubmittedBy: submitter(r),
	})
	if err != nil {
		if errors.Is(err, tasking.ErrInvalidTask) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to enqueue task", "task_id", task.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}
	if s.observer != nil {
		s.observer.ObserveEnqueue(created)
	}

	if created {
		s.events.Publish(events.TypeTaskEnqueued, events.TaskEvent{QueueID: id, TaskID: task.ID, Source: submitter(r)})
		s.logger.Info("task enqueued via API", "queue_id", id, "task_id", task.ID)
	} else {
		s.logger.Info("duplicate task submission", "queue_id", id, "task_id", task.ID)
	}

	respondJSON(w, http.StatusAccepted, TaskAcceptedResponse{
		TaskID:    id,
		Status:    string(queue.StatusQueued),
		Duplicate: !created,
	})
}

// handleRouteTask handles POST /tasks/route and answers with the Result
// envelope.
func (s *Server) handleRouteTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.decodeTask(w, r)
	if !ok {
		return
	}

	select {
	case s.syncSemaphore <- struct{}{}:
		defer func() { <-s.syncSemaphore }()
	default:
		s.logger.Warn("too many concurrent synchronous requests", "task_id", task.ID)
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent synchronous requests, please try again later or use POST /tasks")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxSyncTimeout)
	defer cancel()

	result, err := s.executor.Execute(ctx, task)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.events.Publish(events.TypeTaskRouted, events.TaskEvent{
		TaskID: task.ID,
		Route:  tasking.ParseRoute(task.Method, task.URL).Name(),
		Status: result.Status,
		Source: submitter(r),
	})
	respondJSON(w, http.StatusOK, result)
}

// handleGetTask handles GET /tasks/{taskID}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")

	res, err := s.queue.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("failed to retrieve task", "queue_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	respondJSON(w, http.StatusOK, TaskStatusResponse{
		TaskID:      res.ID,
		ExternalID:  res.TaskID,
		Status:      string(res.Status),
		Route:       res.Route,
		Result:      res.Result,
		CreatedAt:   res.CreatedAt,
		CompletedAt: res.CompletedAt,
	})
}

func (s *Server) decodeTask(w http.ResponseWriter, r *http.Request) (*tasking.Task, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var task tasking.Task
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&task); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid task JSON: %v", err))
		return nil, false
	}
	task.Method = tasking.Method(strings.ToUpper(string(task.Method)))
	if err := task.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &task, true
}

// submitter labels the caller for the task log without exposing its token.
func submitter(r *http.Request) string {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return "api"
	}
	if _, admin := p.Scopes[auth.ScopeAll]; admin {
		return "api:admin"
	}
	return "api:token"
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
