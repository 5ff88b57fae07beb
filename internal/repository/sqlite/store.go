// Package sqlite implements app.StateStore on the workflow's own SQLite
// database. The child process writes the workflow keys; the supervisor
// writes the pause and counter keys. Both share the state table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// busyTimeoutMS is how long a write waits on the child's lock before
// failing with SQLITE_BUSY.
const busyTimeoutMS = 5000

var _ app.StateStore = (*Store)(nil)

// dsn applies the pragmas on every pooled connection.
func dsn(path string) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMS)
}

// Store implements app.StateStore using SQLite.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// New returns a Store for the database at path. Nothing is opened or
// created until first use.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	return &Store{path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// open returns the shared handle, creating the file and schema only when create is set.
func (s *Store) open(create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		if create {
			if _, err := s.db.Exec(schema); err != nil {
				return nil, fmt.Errorf("sqlite schema: %w", err)
			}
		}
		return s.db, nil
	}
	if !create {
		if _, err := os.Stat(s.path); err != nil {
			return nil, fmt.Errorf("%w: %s does not exist", domain.ErrStateUnavailable, s.path)
		}
	} else {
		dir := filepath.Dir(s.path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("sqlite mkdir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", dsn(s.path))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if create {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
	}
	s.db = db
	return db, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// isUnavailableErr reports errors that mean "try again later" rather than a broken database.
func isUnavailableErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Values returns the stored value for each requested key that exists.
func (s *Store) Values(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	db, err := s.open(false)
	if err != nil {
		return nil, err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM state WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		if isUnavailableErr(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStateUnavailable, err)
		}
		return nil, fmt.Errorf("state query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("state scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		if isUnavailableErr(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStateUnavailable, err)
		}
		return nil, fmt.Errorf("state iteration: %w", err)
	}
	return out, nil
}

// Set upserts kv in one transaction, creating the database if needed.
func (s *Store) Set(ctx context.Context, kv map[string]string) error {
	return s.apply(ctx, kv, nil)
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.apply(ctx, nil, keys)
}

func (s *Store) apply(ctx context.Context, set map[string]string, del []string) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for k, v := range set {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO state(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", k, v); err != nil {
			return fmt.Errorf("state set %s: %w", k, err)
		}
	}
	for _, k := range del {
		if _, err := tx.ExecContext(ctx, "DELETE FROM state WHERE key = ?", k); err != nil {
			return fmt.Errorf("state delete %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state commit: %w", err)
	}
	return nil
}
