// Package inspect renders queued task outcomes for operators.
package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

// ResultReader loads a task and its recorded outcome.
type ResultReader interface {
	GetResult(ctx context.Context, id string) (*queue.TaskResult, error)
}

// Report is the structured JSON representation of a task report.
type Report struct {
	QueueID     string          `json:"queue_id"`
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	Route       string          `json:"route,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    string          `json:"duration,omitempty"`
	Result      *tasking.Result `json:"result,omitempty"`
}

// BuildReport renders a terminal-friendly report for a queued task.
func BuildReport(ctx context.Context, r ResultReader, id string) (string, error) {
	report, err := gatherReport(ctx, r, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Task Report\n")
	fmt.Fprintf(&out, "Queue ID    : %s\n", report.QueueID)
	fmt.Fprintf(&out, "Task ID     : %s\n", report.TaskID)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Route       : %s\n", orNone(report.Route))
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.UTC().Format(time.RFC3339))
	if report.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed   : %s (%s)\n", report.CompletedAt.UTC().Format(time.RFC3339), report.Duration)
	} else {
		fmt.Fprintf(&out, "Completed   : <pending>\n")
	}

	res := report.Result
	if res == nil {
		fmt.Fprintf(&out, "Result      : <none>\n")
		return out.String(), nil
	}

	fmt.Fprintf(&out, "\nResult\n")
	fmt.Fprintf(&out, "    status     : %d\n", res.Status)
	fmt.Fprintf(&out, "    service_id : %s\n", orNone(res.ServiceID))
	if len(res.Headers) == 0 {
		fmt.Fprintf(&out, "    headers    : <none>\n")
	} else {
		fmt.Fprintf(&out, "    headers    :\n")
		keys := make([]string, 0, len(res.Headers))
		for k := range res.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&out, "      %s: %s\n", k, res.Headers[k])
		}
	}
	if res.Body == "" {
		fmt.Fprintf(&out, "    body       : <empty>\n")
	} else {
		fmt.Fprintf(&out, "    body       :\n")
		for _, line := range strings.Split(strings.TrimSpace(prettyBody(res.Body)), "\n") {
			fmt.Fprintf(&out, "      %s\n", line)
		}
	}
	return out.String(), nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, r ResultReader, id string) (string, error) {
	report, err := gatherReport(ctx, r, id)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReport(ctx context.Context, r ResultReader, id string) (*Report, error) {
	res, err := r.GetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}

	report := &Report{
		QueueID:     res.ID,
		TaskID:      res.TaskID,
		Status:      string(res.Status),
		Route:       res.Route,
		CreatedAt:   res.CreatedAt,
		CompletedAt: res.CompletedAt,
		Result:      res.Result,
	}
	if res.CompletedAt != nil {
		report.Duration = res.CompletedAt.Sub(res.CreatedAt).Round(time.Millisecond).String()
	}
	return report, nil
}

// prettyBody indents JSON bodies and leaves anything else untouched.
func prettyBody(body string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(body), "", "  "); err != nil {
		return body
	}
	return buf.String()
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
