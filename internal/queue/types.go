package queue

import (
	"errors"
	"time"

	"github.com/mattjoyce/cibridge/internal/tasking"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Entry is a queued task as stored in task_queue.
type Entry struct {
	ID          string
	Task        tasking.Task
	Status      Status
	SubmittedBy string
	DedupeKey   string
	CreatedAt   time.Time
	StartedAt   *time.Time
}

type EnqueueRequest struct {
	Task        tasking.Task
	SubmittedBy string
}

var ErrTaskNotFound = errors.New("task not found")

// TaskResult is the API projection of a queue entry and, once complete, its
// routed Result.
type TaskResult struct {
	ID          string
	TaskID      string
	Status      Status
	Route       string
	Result      *tasking.Result
	CreatedAt   time.Time
	CompletedAt *time.Time
}
