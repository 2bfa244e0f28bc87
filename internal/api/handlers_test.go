package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/cibridge/internal/auth"
	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

const taskURL = "http://alm.example.com/tasks/nga/api/v1/status"

// mockQueue implements TaskQueuer for testing
type mockQueue struct {
	enqueueFunc   func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error)
	getResultFunc func(ctx context.Context, id string) (*queue.TaskResult, error)
	depthFunc     func(ctx context.Context) (int, error)
}

func (m *mockQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
	if m.enqueueFunc == nil {
		return "q-1", true, nil
	}
	return m.enqueueFunc(ctx, req)
}

func (m *mockQueue) GetResult(ctx context.Context, id string) (*queue.TaskResult, error) {
	if m.getResultFunc == nil {
		return nil, queue.ErrTaskNotFound
	}
	return m.getResultFunc(ctx, id)
}

func (m *mockQueue) Depth(ctx context.Context) (int, error) {
	if m.depthFunc == nil {
		return 0, nil
	}
	return m.depthFunc(ctx)
}

// mockExecutor implements TaskExecutor for testing
type mockExecutor struct {
	executeFunc func(ctx context.Context, task *tasking.Task) (tasking.Result, error)
}

func (m *mockExecutor) Execute(ctx context.Context, task *tasking.Task) (tasking.Result, error) {
	if m.executeFunc == nil {
		return tasking.Result{ID: task.ID, Status: http.StatusOK, Headers: map[string]string{}}, nil
	}
	return m.executeFunc(ctx, task)
}

type countingObserver struct {
	created, duplicate int
}

func (o *countingObserver) ObserveEnqueue(created bool) {
	if created {
		o.created++
	} else {
		o.duplicate++
	}
}

func newTestServer(q *mockQueue, exec *mockExecutor, hub *events.Hub) *Server {
	config := Config{
		Listen:    "localhost:8080",
		APIKey:    "test-key-123",
		ServiceID: "svc-1",
		Plugin:    "jenkins",
		Tokens: []auth.TokenConfig{
			{Token: "ro-token", Scopes: []string{auth.ScopeTasksRO}},
			{Token: "events-token", Scopes: []string{auth.ScopeEventsRO}},
		},
	}
	return New(config, q, exec, hub, nil, slog.Default())
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func taskJSON(id, method, url, body string) string {
	b, _ := json.Marshal(tasking.Task{ID: id, Method: tasking.Method(method), URL: url, Body: body})
	return string(b)
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	q := &mockQueue{depthFunc: func(ctx context.Context) (int, error) { return 7, nil }}
	server := newTestServer(q, &mockExecutor{}, nil)

	rr := doRequest(t, server.Handler(), http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.QueueDepth != 7 {
		t.Fatalf("expected queue depth 7, got %d", resp.QueueDepth)
	}
	if resp.ServiceID != "svc-1" || resp.Plugin != "jenkins" {
		t.Fatalf("unexpected identity: %+v", resp)
	}
}

func TestHandleHealthz_DepthError(t *testing.T) {
	q := &mockQueue{depthFunc: func(ctx context.Context) (int, error) { return 0, errors.New("db gone") }}
	server := newTestServer(q, &mockExecutor{}, nil)

	rr := doRequest(t, server.Handler(), http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestMetricsEndpoint_NoAuth(t *testing.T) {
	server := newTestServer(&mockQueue{}, &mockExecutor{}, nil)

	rr := doRequest(t, server.Handler(), http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	server := newTestServer(&mockQueue{}, &mockExecutor{}, nil)
	h := server.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"missing token", http.MethodPost, "/tasks", "", taskJSON("t1", "GET", taskURL, ""), http.StatusUnauthorized},
		{"wrong token", http.MethodPost, "/tasks", "nope", taskJSON("t1", "GET", taskURL, ""), http.StatusUnauthorized},
		{"read-only token cannot submit", http.MethodPost, "/tasks", "ro-token", taskJSON("t1", "GET", taskURL, ""), http.StatusForbidden},
		{"read-only token cannot route", http.MethodPost, "/tasks/route", "ro-token", taskJSON("t1", "GET", taskURL, ""), http.StatusForbidden},
		{"events token cannot read tasks", http.MethodGet, "/tasks/q-1", "events-token", "", http.StatusForbidden},
		{"read-only token reads tasks", http.MethodGet, "/tasks/q-1", "ro-token", "", http.StatusNotFound},
		{"admin key submits", http.MethodPost, "/tasks", "test-key-123", taskJSON("t1", "GET", taskURL, ""), http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, h, tt.method, tt.path, tt.token, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleSubmitTask(t *testing.T) {
	var got queue.EnqueueRequest
	q := &mockQueue{
		enqueueFunc: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			got = req
			return "q-42", true, nil
		},
	}
	hub := events.NewHub(10)
	server := newTestServer(q, &mockExecutor{}, hub)
	obs := &countingObserver{}
	server.observer = obs

	rr := doRequest(t, server.Handler(), http.MethodPost, "/tasks", "test-key-123", taskJSON("t-1", "get", taskURL, ""))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TaskAcceptedResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TaskID != "q-42" || resp.Status != "queued" || resp.Duplicate {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.Task.ID != "t-1" || got.Task.Method != tasking.MethodGet {
		t.Fatalf("unexpected enqueued task: %+v", got.Task)
	}
	if got.SubmittedBy != "api:admin" {
		t.Fatalf("expected submitter api:admin, got %q", got.SubmittedBy)
	}
	if obs.created != 1 {
		t.Fatalf("expected one created observation, got %d", obs.created)
	}

	backlog := hub.Since(0)
	if len(backlog) != 1 || backlog[0].Type != events.TypeTaskEnqueued {
		t.Fatalf("expected one task.enqueued event, got %+v", backlog)
	}
}

func TestHandleSubmitTask_Duplicate(t *testing.T) {
	q := &mockQueue{
		enqueueFunc: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			return "q-existing", false, nil
		},
	}
	hub := events.NewHub(10)
	server := newTestServer(q, &mockExecutor{}, hub)

	rr := doRequest(t, server.Handler(), http.MethodPost, "/tasks", "test-key-123", taskJSON("t-1", "GET", taskURL, ""))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	var resp TaskAcceptedResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TaskID != "q-existing" || !resp.Duplicate {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if n := len(hub.Since(0)); n != 0 {
		t.Fatalf("expected no events for a duplicate, got %d", n)
	}
}

func TestHandleSubmitTask_BadInput(t *testing.T) {
	server := newTestServer(&mockQueue{}, &mockExecutor{}, nil)
	h := server.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"unknown field", `{"id":"t","url":"` + taskURL + `","extra":1}`, http.StatusBadRequest},
		{"empty url", taskJSON("t", "GET", "", ""), http.StatusBadRequest},
		{"url without marker", taskJSON("t", "GET", "http://x/api/v2/status", ""), http.StatusBadRequest},
		{"too large", taskJSON("t", "PUT", taskURL, strings.Repeat("x", 2<<20)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodPost, "/tasks", "test-key-123", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleSubmitTask_QueueError(t *testing.T) {
	q := &mockQueue{
		enqueueFunc: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			return "", false, errors.New("disk full")
		},
	}
	server := newTestServer(q, &mockExecutor{}, nil)

	rr := doRequest(t, server.Handler(), http.MethodPost, "/tasks", "test-key-123", taskJSON("t", "GET", taskURL, ""))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "disk full") {
		t.Fatalf("internal error leaked to client: %s", rr.Body.String())
	}
}

func TestHandleRouteTask(t *testing.T) {
	var deadlineSet bool
	exec := &mockExecutor{
		executeFunc: func(ctx context.Context, task *tasking.Task) (tasking.Result, error) {
			_, deadlineSet = ctx.Deadline()
			return tasking.Result{
				ID:        task.ID,
				Status:    http.StatusCreated,
				Headers:   map[string]string{tasking.HeaderContentType: tasking.ContentTypeJSON},
				ServiceID: "svc-1",
			}, nil
		},
	}
	hub := events.NewHub(10)
	server := newTestServer(&mockQueue{}, exec, hub)

	runURL := strings.TrimSuffix(taskURL, "status") + "jobs/myJob/run"
	rr := doRequest(t, server.Handler(), http.MethodPost, "/tasks/route", "test-key-123", taskJSON("t-9", "POST", runURL, "{}"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result tasking.Result
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.ID != "t-9" || result.Status != http.StatusCreated || result.ServiceID != "svc-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !deadlineSet {
		t.Fatal("expected synchronous routing to run under a deadline")
	}

	backlog := hub.Since(0)
	if len(backlog) != 1 || backlog[0].Type != events.TypeTaskRouted {
		t.Fatalf("expected one task.routed event, got %+v", backlog)
	}
	var ev events.TaskEvent
	if err := json.Unmarshal(backlog[0].Data, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.Route != "pipeline_run" || ev.Status != http.StatusCreated {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHandleRouteTask_Saturated(t *testing.T) {
	server := newTestServer(&mockQueue{}, &mockExecutor{}, nil)
	for i := 0; i < cap(server.syncSemaphore); i++ {
		server.syncSemaphore <- struct{}{}
	}

	rr := doRequest(t, server.Handler(), http.MethodPost, "/tasks/route", "test-key-123", taskJSON("t", "GET", taskURL, ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHandleGetTask(t *testing.T) {
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := &mockQueue{
		getResultFunc: func(ctx context.Context, id string) (*queue.TaskResult, error) {
			if id != "q-7" {
				return nil, queue.ErrTaskNotFound
			}
			return &queue.TaskResult{
				ID:          "q-7",
				TaskID:      "t-7",
				Status:      queue.StatusSucceeded,
				Route:       "status",
				Result:      &tasking.Result{ID: "t-7", Status: http.StatusOK, Headers: map[string]string{}},
				CreatedAt:   completed.Add(-time.Second),
				CompletedAt: &completed,
			}, nil
		},
	}
	server := newTestServer(q, &mockExecutor{}, nil)
	h := server.Handler()

	rr := doRequest(t, h, http.MethodGet, "/tasks/q-7", "ro-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp TaskStatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TaskID != "q-7" || resp.ExternalID != "t-7" || resp.Status != "succeeded" || resp.Route != "status" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Result == nil || resp.Result.Status != http.StatusOK {
		t.Fatalf("expected embedded result, got %+v", resp.Result)
	}
	if resp.CompletedAt == nil || !resp.CompletedAt.Equal(completed) {
		t.Fatalf("unexpected completed_at: %v", resp.CompletedAt)
	}

	rr = doRequest(t, h, http.MethodGet, "/tasks/missing", "ro-token", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleEvents_ReplayAndLive(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(events.TypeTaskEnqueued, events.TaskEvent{QueueID: "q-1", TaskID: "t-1"})
	hub.Publish(events.TypeTaskEnqueued, events.TaskEvent{QueueID: "q-2", TaskID: "t-2"})

	server := newTestServer(&mockQueue{}, &mockExecutor{}, hub)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer events-token")
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readSSEID(t, reader)
	if first != "2" {
		t.Fatalf("expected replay to resume after id 1, got id %s", first)
	}

	live := hub.Publish(events.TypeTaskCompleted, events.TaskEvent{QueueID: "q-2", Status: http.StatusOK})
	if got := readSSEID(t, reader); got != fmt.Sprint(live.ID) {
		t.Fatalf("expected live event id %d, got %s", live.ID, got)
	}
}

func readSSEID(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v", err)
		}
		if id, ok := strings.CutPrefix(strings.TrimSpace(line), "id: "); ok {
			return id
		}
	}
}

func TestParseLastEventID(t *testing.T) {
	if parseLastEventID("") != 0 || parseLastEventID("abc") != 0 || parseLastEventID("-4") != 0 {
		t.Fatal("expected invalid ids to reset to 0")
	}
	if parseLastEventID("12") != 12 {
		t.Fatal("expected 12")
	}
}
