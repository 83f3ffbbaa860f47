package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ragshell/backend/internal/store"
)

const defaultRecentLimit = 20

// SQLiteHistoryStore keeps finished tasks in their own sqlite file. When
// keepRecent is positive, every save trims the table to that many rows.
type SQLiteHistoryStore struct {
	db         *sql.DB
	keepRecent int
}

func NewSQLiteHistoryStore(dbPath string, keepRecent int) (*SQLiteHistoryStore, error) {
	db, _, err := store.OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	h := &SQLiteHistoryStore{db: db, keepRecent: keepRecent}
	if err := h.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *SQLiteHistoryStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	args TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_ms INTEGER NOT NULL,
	started_ms INTEGER NOT NULL DEFAULT 0,
	ended_ms INTEGER NOT NULL DEFAULT 0,
	saved_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_saved ON tasks(saved_ms DESC, created_ms DESC);`
	if _, err := h.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate tasks table failed: %w", err)
	}
	return nil
}

func (h *SQLiteHistoryStore) ready() error {
	if h == nil || h.db == nil {
		return fmt.Errorf("task history is not open")
	}
	return nil
}

func millis(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// SaveTask upserts t and trims old rows in one transaction.
func (h *SQLiteHistoryStore) SaveTask(ctx context.Context, t Task) (err error) {
	if err := h.ready(); err != nil {
		return err
	}

	args, err := json.Marshal(t.Args)
	if err != nil {
		return fmt.Errorf("encode args of task %s: %w", t.ID, err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (id, operation, status, stage, args, result, error, created_ms, started_ms, ended_ms, saved_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	stage = excluded.stage,
	result = excluded.result,
	error = excluded.error,
	started_ms = excluded.started_ms,
	ended_ms = excluded.ended_ms,
	saved_ms = excluded.saved_ms`,
		t.ID, t.Operation, t.Status, t.Stage, string(args), string(t.Result), t.Error,
		millis(t.CreatedAt), millis(t.StartedAt), millis(t.EndedAt), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	if h.keepRecent > 0 {
		_, err = tx.ExecContext(ctx, `
DELETE FROM tasks WHERE id NOT IN (
	SELECT id FROM tasks ORDER BY saved_ms DESC, created_ms DESC LIMIT ?
)`, h.keepRecent)
		if err != nil {
			return fmt.Errorf("trim task history: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit task save: %w", err)
	}
	return nil
}

const taskColumns = `id, operation, status, stage, args, result, error, created_ms, started_ms, ended_ms`

// decodeTask reads one row selected with taskColumns. sql.Row and sql.Rows
// both satisfy the scan func.
func decodeTask(scan func(dest ...any) error) (Task, error) {
	var (
		t                       Task
		args, result            string
		created, started, ended int64
	)
	if err := scan(&t.ID, &t.Operation, &t.Status, &t.Stage, &args, &result, &t.Error, &created, &started, &ended); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(args), &t.Args); err != nil {
		return Task{}, fmt.Errorf("decode args of task %s: %w", t.ID, err)
	}
	if result != "" {
		t.Result = json.RawMessage(result)
	}
	t.CreatedAt = fromMillis(created)
	t.StartedAt = fromMillis(started)
	t.EndedAt = fromMillis(ended)
	return t, nil
}

func (h *SQLiteHistoryStore) GetTask(ctx context.Context, taskID string) (*Task, bool, error) {
	if err := h.ready(); err != nil {
		return nil, false, err
	}

	row := h.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := decodeTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return &t, true, nil
}

// ListRecentTasks returns up to limit tasks, most recently saved first.
func (h *SQLiteHistoryStore) ListRecentTasks(ctx context.Context, limit int) ([]Task, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY saved_ms DESC, created_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := decodeTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list recent tasks: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (h *SQLiteHistoryStore) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}
