package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/log"
	"github.com/mattjoyce/cibridge/internal/protocol"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

const pruneInterval = time.Hour

// TaskQueue is the subset of queue.Queue the dispatcher needs.
type TaskQueue interface {
	Dequeue(ctx context.Context) (*queue.Entry, error)
	Complete(ctx context.Context, id, route string, status queue.Status, result tasking.Result) error
	Depth(ctx context.Context) (int, error)
	RequeueRunning(ctx context.Context) (int, error)
	PruneLog(ctx context.Context, retention time.Duration) (int, error)
}

// Executor routes a single task.
type Executor interface {
	Execute(ctx context.Context, task *tasking.Task) (tasking.Result, error)
}

// Recorder receives queue gauges.
type Recorder interface {
	SetQueueDepth(n int)
	IncDispatchFailures()
}

// Publisher receives task lifecycle events.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

// Options tune the dispatch loop.
type Options struct {
	Workers      int
	TickInterval time.Duration
	Retention    time.Duration
	ServiceID    string
	// Events, when set, receives a task.completed event per task.
	Events Publisher
}

// Dispatcher dequeues tasks and routes them concurrently.
type Dispatcher struct {
	queue    TaskQueue
	executor Executor
	recorder Recorder
	opts     Options
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New creates a Dispatcher. recorder may be nil.
func New(q TaskQueue, exec Executor, recorder Recorder, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Dispatcher{
		queue:    q,
		executor: exec,
		recorder: recorder,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		logger:   log.WithComponent("dispatch"),
	}
}

// Start runs the dispatch loop until ctx is cancelled, then waits for
// in-flight tasks to finish.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "workers", d.opts.Workers, "tick", d.opts.TickInterval)
	defer d.logger.Info("dispatch loop stopped")

	if n, err := d.queue.RequeueRunning(ctx); err != nil {
		return fmt.Errorf("requeue running tasks: %w", err)
	} else if n > 0 {
		d.logger.Warn("requeued tasks left running by previous process", "count", n)
	}
	d.prune(ctx)

	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case <-pruneTicker.C:
			d.prune(ctx)
		case <-ticker.C:
			if err := d.fill(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("failed to dispatch tasks", "error", err)
			}
		}
	}
}

// Drain dispatches until the queue is empty and every claimed task has
// completed. It is used by one-shot runs and tests.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := d.fill(ctx); err != nil {
			d.wg.Wait()
			return err
		}
		d.wg.Wait()
		depth, err := d.queue.Depth(ctx)
		if err != nil {
			return err
		}
		if depth == 0 {
			return nil
		}
	}
}

// fill claims tasks while workers are free and the queue is non-empty.
func (d *Dispatcher) fill(ctx context.Context) error {
	d.reportDepth(ctx)
	for d.sem.TryAcquire(1) {
		entry, err := d.queue.Dequeue(ctx)
		if err != nil || entry == nil {
			d.sem.Release(1)
			if err != nil {
				d.failure()
				return fmt.Errorf("dequeue: %w", err)
			}
			return nil
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sem.Release(1)
			d.process(ctx, entry)
		}()
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, entry *queue.Entry) {
	logger := log.WithTask(entry.Task.ID).With("queue_id", entry.ID)
	logger.Debug("dispatching task", "submitted_by", entry.SubmittedBy)

	task := entry.Task
	route := tasking.ParseRoute(task.Method, task.URL).Name()
	status := queue.StatusSucceeded

	result, err := d.executor.Execute(ctx, &task)
	if err != nil {
		logger.Warn("task rejected", "error", err)
		route = "invalid"
		status = queue.StatusFailed
		result = d.rejected(task, err)
	}

	// Record the outcome even when shutdown cancelled the route call.
	if err := d.queue.Complete(context.WithoutCancel(ctx), entry.ID, route, status, result); err != nil {
		d.failure()
		logger.Error("failed to complete task", "error", err)
		return
	}
	if d.opts.Events != nil {
		d.opts.Events.Publish(events.TypeTaskCompleted, events.TaskEvent{
			QueueID: entry.ID,
			TaskID:  task.ID,
			Route:   route,
			Status:  result.Status,
			Source:  entry.SubmittedBy,
		})
	}
}

func (d *Dispatcher) rejected(task tasking.Task, err error) tasking.Result {
	result := tasking.Result{
		ID:        task.ID,
		Status:    http.StatusBadRequest,
		Headers:   map[string]string{},
		ServiceID: d.opts.ServiceID,
	}
	if body, encErr := protocol.EncodeDTO(&protocol.ErrorBody{ErrorMessage: err.Error()}); encErr == nil {
		result.Body = body
		result.Headers[tasking.HeaderContentType] = tasking.ContentTypeJSON
	}
	return result
}

func (d *Dispatcher) prune(ctx context.Context) {
	n, err := d.queue.PruneLog(ctx, d.opts.Retention)
	if err != nil {
		d.logger.Error("failed to prune task log", "error", err)
		return
	}
	if n > 0 {
		d.logger.Info("pruned task log", "removed", n)
	}
}

func (d *Dispatcher) reportDepth(ctx context.Context) {
	if d.recorder == nil {
		return
	}
	depth, err := d.queue.Depth(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue depth", "error", err)
		return
	}
	d.recorder.SetQueueDepth(depth)
}

func (d *Dispatcher) failure() {
	if d.recorder != nil {
		d.recorder.IncDispatchFailures()
	}
}
