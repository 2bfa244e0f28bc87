package webhook

import (
	"context"

	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/queue"
)

// TaskQueuer defines the interface for enqueueing pushed tasks.
type TaskQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, bool, error)
}

// Publisher receives a task.enqueued event per newly queued task.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

// EnqueueObserver is notified of every submission.
type EnqueueObserver interface {
	ObserveEnqueue(created bool)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single intake endpoint.
type EndpointConfig struct {
	// Path is the URL path for this endpoint (e.g., "/intake/alm")
	Path string

	// Secret is the HMAC secret for signature verification
	Secret string

	// SignatureHeader is the HTTP header containing the HMAC signature
	SignatureHeader string

	// MaxBodySize is the maximum allowed request body size in bytes
	MaxBodySize int64
}

// IntakeResponse is the JSON response for accepted tasks, in request order.
type IntakeResponse struct {
	TaskIDs    []string `json:"task_ids"`
	Duplicates int      `json:"duplicates,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Cibridge-Signature"
)
