package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/protocol"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/storage"
	"github.com/mattjoyce/cibridge/internal/tasking"
	"github.com/mattjoyce/cibridge/internal/tasking/mocks"
)

const base = "http://alm.example.com/tasks/nga/api/v1/"

type fakeRecorder struct {
	mu       sync.Mutex
	depths   []int
	failures int
}

func (r *fakeRecorder) SetQueueDepth(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, n)
}

func (r *fakeRecorder) IncDispatchFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

type executorFunc func(ctx context.Context, task *tasking.Task) (tasking.Result, error)

func (f executorFunc) Execute(ctx context.Context, task *tasking.Task) (tasking.Result, error) {
	return f(ctx, task)
}

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return queue.New(db)
}

func enqueue(t *testing.T, q *queue.Queue, id string, method tasking.Method, path string) string {
	t.Helper()
	qid, _, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Task:        tasking.Task{ID: id, Method: method, URL: base + path},
		SubmittedBy: "test",
	})
	require.NoError(t, err)
	return qid
}

func TestDispatcher_DrainRoutesThroughRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	services := mocks.NewMockPluginServices(ctrl)
	services.EXPECT().GetPipeline(gomock.Any(), "myJob").Return(&protocol.PipelineNode{JobCIID: "myJob", Name: "My Job"}, nil)
	services.EXPECT().RunPipeline(gomock.Any(), "myJob", "").Return(tasking.ErrNotImplemented)

	router, err := tasking.NewRouter(services, "bridge-1")
	require.NoError(t, err)

	q := newQueue(t)
	detail := enqueue(t, q, "t1", tasking.MethodGet, "jobs/myJob")
	run := enqueue(t, q, "t2", tasking.MethodPost, "jobs/myJob/run")
	missing := enqueue(t, q, "t3", tasking.MethodGet, "nothing")

	rec := &fakeRecorder{}
	hub := events.NewHub(10)
	d := New(q, router, rec, Options{Workers: 2, ServiceID: "bridge-1", Events: hub})
	require.NoError(t, d.Drain(context.Background()))

	cases := []struct {
		id     string
		route  string
		status int
	}{
		{detail, "job_detail", 200},
		{run, "pipeline_run", 501},
		{missing, "not_found", 404},
	}
	for _, tc := range cases {
		got, err := q.GetResult(context.Background(), tc.id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusSucceeded, got.Status, tc.route)
		assert.Equal(t, tc.route, got.Route)
		require.NotNil(t, got.Result)
		assert.Equal(t, tc.status, got.Result.Status, tc.route)
		assert.Equal(t, "bridge-1", got.Result.ServiceID)
	}

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Equal(t, 3, rec.depths[0])

	completed := hub.Since(0)
	require.Len(t, completed, 3)
	for _, ev := range completed {
		assert.Equal(t, events.TypeTaskCompleted, ev.Type)
	}
}

func TestDispatcher_RejectedTaskCompletesAsFailed(t *testing.T) {
	q := newQueue(t)
	id := enqueue(t, q, "t1", tasking.MethodGet, "status")

	exec := executorFunc(func(context.Context, *tasking.Task) (tasking.Result, error) {
		return tasking.Result{}, errors.New("invalid task: nope")
	})
	d := New(q, exec, nil, Options{ServiceID: "bridge-1"})
	require.NoError(t, d.Drain(context.Background()))

	got, err := q.GetResult(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, "invalid", got.Route)
	require.NotNil(t, got.Result)
	assert.Equal(t, 400, got.Result.Status)
	assert.JSONEq(t, `{"errorMessage":"invalid task: nope"}`, got.Result.Body)
	assert.Equal(t, "application/json", got.Result.Headers["Content-Type"])
}

func TestDispatcher_RespectsWorkerLimit(t *testing.T) {
	q := newQueue(t)
	for i := range 6 {
		enqueue(t, q, string(rune('a'+i)), tasking.MethodGet, "status")
	}

	var running, peak atomic.Int32
	exec := executorFunc(func(_ context.Context, task *tasking.Task) (tasking.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return tasking.Result{ID: task.ID, Status: 200, Headers: map[string]string{}}, nil
	})

	d := New(q, exec, nil, Options{Workers: 2})
	require.NoError(t, d.Drain(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDispatcher_StartProcessesUntilCancelled(t *testing.T) {
	q := newQueue(t)
	id := enqueue(t, q, "t1", tasking.MethodGet, "status")

	// Simulate a task claimed by a process that died.
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	var calls atomic.Int32
	exec := executorFunc(func(_ context.Context, task *tasking.Task) (tasking.Result, error) {
		calls.Add(1)
		return tasking.Result{ID: task.ID, Status: 200, Headers: map[string]string{}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := New(q, exec, nil, Options{TickInterval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		got, err := q.GetResult(context.Background(), id)
		return err == nil && got.Status == queue.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewAppliesDefaults(t *testing.T) {
	d := New(nil, nil, nil, Options{})
	assert.Equal(t, 1, d.opts.Workers)
	assert.Equal(t, time.Second, d.opts.TickInterval)
}
