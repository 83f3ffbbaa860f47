// Package store persists namespaced key/value records for the embedded engine.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrEmptyNamespace = errors.New("namespace is required")

type Store struct {
	db   *sql.DB
	path string
}

// OpenDB opens a sqlite database at dbPath, creating its directory first.
// Connections wait on a busy lock instead of failing and use WAL journaling.
func OpenDB(dbPath string) (*sql.DB, string, error) {
	path := filepath.Clean(dbPath)
	if path == "" || path == "." {
		return nil, "", fmt.Errorf("invalid sqlite db path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("create sqlite dir failed: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite failed: %w", err)
	}
	return db, path, nil
}

func Open(dbPath string) (*Store, error) {
	db, path, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS kv (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init kv schema failed: %w", err)
	}
	return nil
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) ready(namespace string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	if strings.TrimSpace(namespace) == "" {
		return ErrEmptyNamespace
	}
	return nil
}

// Get returns the stored value and whether the key exists.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	if err := s.ready(namespace); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?;`, namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query kv failed: %w", err)
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, namespace, key, value string) error {
	if err := s.ready(namespace); err != nil {
		return err
	}

	const upsert = `
INSERT INTO kv (namespace, key, value, updated_at_unix_ms) VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET
	value=excluded.value,
	updated_at_unix_ms=excluded.updated_at_unix_ms;`
	if _, err := s.db.ExecContext(ctx, upsert, namespace, key, value, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert kv failed: %w", err)
	}
	return nil
}

// Delete reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := s.ready(namespace); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?;`, namespace, key)
	if err != nil {
		return false, fmt.Errorf("delete kv failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete kv failed: %w", err)
	}
	return n > 0, nil
}

// Keys lists keys of a namespace in ascending order.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := s.ready(namespace); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE namespace = ? ORDER BY key ASC;`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query kv keys failed: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan kv key failed: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv keys failed: %w", err)
	}
	return out, nil
}

// Clear removes every key of a namespace and returns how many were dropped.
func (s *Store) Clear(ctx context.Context, namespace string) (int64, error) {
	if err := s.ready(namespace); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?;`, namespace)
	if err != nil {
		return 0, fmt.Errorf("clear kv namespace failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear kv namespace failed: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
