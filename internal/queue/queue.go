package queue

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/cibridge/internal/tasking"
)

type Queue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// DedupeKey hashes the identifying fields of a task. Two submissions of the
// same task share a key.
func DedupeKey(task tasking.Task) string {
	var buf []byte
	for _, part := range []string{task.ID, string(task.Method), task.URL, task.Body} {
		buf = append(buf, part...)
		buf = append(buf, 0)
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Enqueue stores a task for dispatch. If an identical task is still queued or
// running its id is returned and created is false.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (id string, created bool, err error) {
	if req.SubmittedBy == "" {
		return "", false, fmt.Errorf("submitted_by is empty")
	}
	if err := req.Task.Validate(); err != nil {
		return "", false, err
	}

	headers, err := json.Marshal(req.Task.Headers)
	if err != nil {
		return "", false, fmt.Errorf("encode headers: %w", err)
	}
	if req.Task.Headers == nil {
		headers = []byte(`{}`)
	}

	key := DedupeKey(req.Task)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM task_queue
WHERE dedupe_key = ? AND status IN (?, ?)
ORDER BY created_at ASC
LIMIT 1;
`, key, StatusQueued, StatusRunning).Scan(&existing)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("check duplicate task: %w", err)
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
INSERT INTO task_queue(id, task_id, method, url, headers, body, status, submitted_by, dedupe_key, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Task.ID, string(req.Task.Method), req.Task.URL, string(headers), req.Task.Body,
		StatusQueued, req.SubmittedBy, key, q.timestamp())
	if err != nil {
		return "", false, fmt.Errorf("enqueue task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit tx: %w", err)
	}
	return id, true, nil
}

// Dequeue claims the oldest queued task and marks it running. Returns (nil, nil)
// if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	now := q.timestamp()
	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM task_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE task_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, task_id, method, url, headers, body, status, submitted_by, dedupe_key, created_at, started_at;
`, StatusQueued, StatusRunning, now)

	var (
		e          Entry
		method     string
		headers    string
		status     string
		dedupeKey  sql.NullString
		createdAtS string
		startedAtS sql.NullString
	)
	err := row.Scan(&e.ID, &e.Task.ID, &method, &e.Task.URL, &headers, &e.Task.Body, &status,
		&e.SubmittedBy, &dedupeKey, &createdAtS, &startedAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}

	e.Task.Method = tasking.Method(method)
	e.Status = Status(status)
	e.DedupeKey = dedupeKey.String
	if err := json.Unmarshal([]byte(headers), &e.Task.Headers); err != nil {
		return nil, fmt.Errorf("decode headers for task %s: %w", e.ID, err)
	}
	e.CreatedAt = parseTime(createdAtS)
	if startedAtS.Valid {
		t := parseTime(startedAtS.String)
		e.StartedAt = &t
	}
	return &e, nil
}

// Complete marks a running task terminal and appends its Result to task_log.
func (q *Queue) Complete(ctx context.Context, id, route string, status Status, result tasking.Result) error {
	if id == "" {
		return fmt.Errorf("queue id is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		taskID      string
		submittedBy string
		createdAt   string
	)
	if err := tx.QueryRowContext(ctx, `
SELECT task_id, submitted_by, created_at FROM task_queue WHERE id = ?;
`, id).Scan(&taskID, &submittedBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load task for completion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE task_queue SET status = ? WHERE id = ?;`, status, id); err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO task_log(id, task_id, route, status_code, service_id, result, submitted_by, created_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  route = excluded.route,
  status_code = excluded.status_code,
  result = excluded.result,
  completed_at = excluded.completed_at;
`, id, taskID, route, result.Status, result.ServiceID, string(encoded), submittedBy, createdAt, q.timestamp())
	if err != nil {
		return fmt.Errorf("insert task_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetResult returns the queue status of id and its Result once complete.
func (q *Queue) GetResult(ctx context.Context, id string) (*TaskResult, error) {
	var (
		r          TaskResult
		status     string
		createdAtS string
		route      sql.NullString
		resultJSON sql.NullString
		completedS sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
SELECT q.id, q.task_id, q.status, q.created_at, l.route, l.result, l.completed_at
FROM task_queue q
LEFT JOIN task_log l ON l.id = q.id
WHERE q.id = ?;
`, id).Scan(&r.ID, &r.TaskID, &status, &createdAtS, &route, &resultJSON, &completedS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task result: %w", err)
	}

	r.Status = Status(status)
	r.Route = route.String
	r.CreatedAt = parseTime(createdAtS)
	if completedS.Valid {
		t := parseTime(completedS.String)
		r.CompletedAt = &t
	}
	if resultJSON.Valid {
		var res tasking.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", err)
		}
		r.Result = &res
	}
	return &r, nil
}

// Depth returns the number of tasks waiting to be dispatched.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_queue WHERE status = ?;`, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queued tasks: %w", err)
	}
	return n, nil
}

// RequeueRunning returns tasks left running by a previous process to the
// queue. Call it once at startup before dispatching.
func (q *Queue) RequeueRunning(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE task_queue SET status = ?, started_at = NULL WHERE status = ?;
`, StatusQueued, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("requeue running tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneLog deletes completed tasks and their log rows older than retention.
func (q *Queue) PruneLog(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := q.now().UTC().Add(-retention).Format(time.RFC3339Nano)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM task_queue
WHERE status IN (?, ?) AND id IN (SELECT id FROM task_log WHERE completed_at < ?);
`, StatusSucceeded, StatusFailed, cutoff); err != nil {
		return 0, fmt.Errorf("prune task_queue: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM task_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune task_log: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return int(n), nil
}

func (q *Queue) timestamp() string {
	return q.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
