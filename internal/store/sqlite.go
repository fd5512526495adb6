// Package store persists composed rule snapshots in a SQLite sidecar
// so repeated sessions over an unchanged hierarchy skip recomposition.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/contextforge/rulegraph/internal/compose"
	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	rule_path  TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_rule_path ON snapshots(rule_path);
`

// SQLiteStore is a compose.SnapshotStore backed by a single SQLite
// file. Safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the snapshot database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load fetches the snapshot stored under key, if any.
func (s *SQLiteStore) Load(key string) (*compose.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM snapshots WHERE key = ?", key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}

	var res compose.Result
	if err := oj.Unmarshal(payload, &res); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &res, true, nil
}

// Save upserts a snapshot under key.
func (s *SQLiteStore) Save(key string, res *compose.Result) error {
	payload, err := oj.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO snapshots (key, rule_path, payload, created_at) VALUES (?, ?, ?, ?)",
		key, res.RulePath, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot under key. Unknown keys are a no-op.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM snapshots WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// DeleteByRulePath removes every snapshot composed for rulePath.
func (s *SQLiteStore) DeleteByRulePath(rulePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM snapshots WHERE rule_path = ?", rulePath); err != nil {
		return fmt.Errorf("delete snapshots for %s: %w", rulePath, err)
	}
	return nil
}

// Count returns the number of stored snapshots.
func (s *SQLiteStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ compose.SnapshotStore = (*SQLiteStore)(nil)
