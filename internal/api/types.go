package api

import (
	"time"

	"github.com/mattjoyce/cibridge/internal/tasking"
)

// TaskAcceptedResponse is returned by POST /tasks.
type TaskAcceptedResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// TaskStatusResponse is returned by GET /tasks/{taskID}.
type TaskStatusResponse struct {
	TaskID      string          `json:"task_id"`
	ExternalID  string          `json:"external_id"`
	Status      string          `json:"status"`
	Route       string          `json:"route,omitempty"`
	Result      *tasking.Result `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	ServiceID     string `json:"service_id"`
	Plugin        string `json:"plugin"`
}
