package protocol

import (
	"encoding/json"
	"time"
)

// Version is the plugin wire protocol version spoken over stdin/stdout.
const Version = 1

// Error kinds a plugin may report alongside status=error.
const (
	ErrorKindPermission     = "permission"
	ErrorKindConfiguration  = "configuration"
	ErrorKindNotImplemented = "not_implemented"
)

// Request is the envelope sent to a CI plugin via stdin, one per capability call.
type Request struct {
	Protocol   int             `json:"protocol"`
	TaskID     string          `json:"task_id,omitempty"`
	Command    string          `json:"command"`
	Config     map[string]any  `json:"config"`
	Args       json.RawMessage `json:"args,omitempty"`
	DeadlineAt time.Time       `json:"deadline_at"`
}

// Response is the envelope a CI plugin writes to stdout.
type Response struct {
	Status    string          `json:"status"` // ok | error
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"` // permission | configuration | not_implemented
	ErrorCode int             `json:"error_code,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Logs      []LogEntry      `json:"logs,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// HasResult reports whether the plugin returned a non-null result.
func (r *Response) HasResult() bool {
	return len(r.Result) > 0 && string(r.Result) != "null"
}
