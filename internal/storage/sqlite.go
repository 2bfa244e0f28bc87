package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the bridge database at path and
// ensures the task and state tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := checkLocalFilesystem(path, filesystemType); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_queue (
  id           TEXT PRIMARY KEY,
  task_id      TEXT NOT NULL,
  method       TEXT NOT NULL,
  url          TEXT NOT NULL,
  headers      JSON NOT NULL DEFAULT '{}',
  body         TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  submitted_by TEXT NOT NULL,
  dedupe_key   TEXT,
  created_at   TEXT NOT NULL,
  started_at   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS task_log (
  id           TEXT PRIMARY KEY,
  task_id      TEXT NOT NULL,
  route        TEXT NOT NULL,
  status_code  INTEGER NOT NULL,
  service_id   TEXT NOT NULL,
  result       JSON NOT NULL,
  submitted_by TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS bridge_state (
  component  TEXT PRIMARY KEY,
  state      JSON NOT NULL DEFAULT '{}',
  updated_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS task_queue_status_created_at_idx ON task_queue(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS task_queue_dedupe_key_idx ON task_queue(dedupe_key);`,
		`CREATE INDEX IF NOT EXISTS task_log_completed_at_idx ON task_log(completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
