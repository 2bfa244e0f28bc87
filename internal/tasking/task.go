package tasking

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// APIMarker must appear in every task URL; the routable path follows it.
const APIMarker = "nga/api/v1"

const (
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"
)

// Method is the HTTP-style verb of a task.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Is compares methods case-insensitively.
func (m Method) Is(other Method) bool {
	return strings.EqualFold(string(m), string(other))
}

// Task is an inbound unit of routable work.
type Task struct {
	ID      string            `json:"id"`
	Method  Method            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Result is the outbound envelope for a routed task.
type Result struct {
	ID        string            `json:"id"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	ServiceID string            `json:"serviceId"`
	Body      string            `json:"body,omitempty"`
}

// ErrInvalidTask reports a task that cannot be routed at all.
var ErrInvalidTask = errors.New("invalid task")

// Validate checks the caller contract: non-empty URL containing APIMarker.
func (t *Task) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: task MUST NOT be nil", ErrInvalidTask)
	}
	if t.URL == "" {
		return fmt.Errorf("%w: task URL MUST NOT be empty", ErrInvalidTask)
	}
	if !strings.Contains(t.URL, APIMarker) {
		return fmt.Errorf("%w: task URL expected to contain %q", ErrInvalidTask, APIMarker)
	}
	return nil
}

func (r *Result) setJSONBody(body string) {
	r.Body = body
	r.Headers[HeaderContentType] = ContentTypeJSON
}

type taskIDKey struct{}

// WithTaskID returns a context carrying the id of the task being routed.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFrom returns the id stored by WithTaskID.
func TaskIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok && id != ""
}
