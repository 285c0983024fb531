// Package kvstore provides the single durable key-value store the offline
// queue lives in. Values are opaque strings; the store knows nothing about
// their encoding.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// memoryPath opens a private in-memory database. Used by tests that do not
// need cross-connection visibility.
const memoryPath = ":memory:"

// pragmas are applied to every pooled connection through the DSN.
// _txlock=immediate makes BeginTx take the write lock up front, so two
// read-modify-write transactions never deadlock on lock upgrade.
const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// SQLiteKV is a key-value store backed by a single SQLite table.
// It is safe for concurrent use by multiple goroutines and by multiple
// processes sharing the same database file.
type SQLiteKV struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// Open creates or opens the database at path and runs migrations.
func Open(path string) (*SQLiteKV, error) {
	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: is its own database.
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteKV{db: db, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteKV) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteKV) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key. found is false when the key is absent.
func (s *SQLiteKV) Get(ctx context.Context, key string) (value string, found bool, err error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}

	err = s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteKV) Set(ctx context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, upsertSQL, key, value, now()); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Update runs a read-modify-write of key inside one write transaction.
// fn receives the current value (found=false when absent) and returns the
// value to store. If fn returns an error nothing is written and the error is
// returned unchanged.
func (s *SQLiteKV) Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	found := true
	err = tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return fmt.Errorf("read %q: %w", key, err)
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, upsertSQL, key, next, now()); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Delete removes every given key in one transaction. Missing keys are ignored.
func (s *SQLiteKV) Delete(ctx context.Context, keys ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		version = kv.version + 1,
		updated_at = excluded.updated_at`

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
