package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// DefaultMaxStateBytes caps a single component's serialized state.
const DefaultMaxStateBytes = 1 << 20

// Store keeps a JSON object per bridge component in the bridge_state table.
type Store struct {
	db       *sql.DB
	maxBytes int
	now      func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		maxBytes: DefaultMaxStateBytes,
		now:      time.Now,
	}
}

// Get returns the full state object for component, or {} if missing.
func (s *Store) Get(ctx context.Context, component string) (json.RawMessage, error) {
	if component == "" {
		return nil, fmt.Errorf("component name is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM bridge_state WHERE component = ?;", component).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bridge state: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("stored state is invalid JSON for component=%q", component)
	}
	return json.RawMessage(raw), nil
}

// Lookup decodes a single top-level key of component's state into out.
// It reports false when the key is absent.
func (s *Store) Lookup(ctx context.Context, component, key string, out any) (bool, error) {
	raw, err := s.Get(ctx, component)
	if err != nil {
		return false, err
	}
	obj, err := decodeObjectOrEmpty(raw)
	if err != nil {
		return false, fmt.Errorf("decode stored state: %w", err)
	}
	v, ok := obj[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v, out); err != nil {
		return false, fmt.Errorf("decode %s.%s: %w", component, key, err)
	}
	return true, nil
}

// Set stores value under a single top-level key of component's state.
func (s *Store) Set(ctx context.Context, component, key string, value any) error {
	encoded, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", component, key, err)
	}
	_, err = s.ShallowMerge(ctx, component, encoded)
	return err
}

// ShallowMerge applies updates as a shallow merge (top-level keys replaced).
// The merged state is persisted and returned.
func (s *Store) ShallowMerge(ctx context.Context, component string, updates json.RawMessage) (json.RawMessage, error) {
	if component == "" {
		return nil, fmt.Errorf("component name is empty")
	}

	upd, err := decodeObjectOrEmpty(updates)
	if err != nil {
		return nil, fmt.Errorf("decode state updates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, "SELECT state FROM bridge_state WHERE component = ?;", component).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, fmt.Errorf("read bridge state: %w", err)
	}

	cur, err := decodeObjectOrEmpty(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored state: %w", err)
	}
	maps.Copy(cur, upd)

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}
	if len(merged) > s.maxBytes {
		return nil, fmt.Errorf("state for %q exceeds max size (%d bytes)", component, s.maxBytes)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO bridge_state(component, state, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(component) DO UPDATE SET
  state = excluded.state,
  updated_at = excluded.updated_at;
`, component, string(merged), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("upsert bridge state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

func decodeObjectOrEmpty(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
