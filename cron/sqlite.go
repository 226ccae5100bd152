package cron

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hupe1980/concierge/core"
)

// SQLiteTaskStore is a durable TaskStore backed by a SQLite database. Each
// task is one row keyed by its stable id.
type SQLiteTaskStore struct {
	db *sql.DB
}

// NewSQLiteTaskStore opens (and initializes) the task database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteTaskStore(path string) (*SQLiteTaskStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	s := &SQLiteTaskStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteTaskStoreFromDB wraps an existing database handle, initializing
// the schema if needed. The caller keeps ownership of the handle.
func NewSQLiteTaskStoreFromDB(db *sql.DB) (*SQLiteTaskStore, error) {
	s := &SQLiteTaskStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTaskStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cron_tasks (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			kind          TEXT NOT NULL,
			every_ns      INTEGER NOT NULL DEFAULT 0,
			expr          TEXT NOT NULL DEFAULT '',
			at_unix       INTEGER NOT NULL DEFAULT 0,
			session_key   TEXT NOT NULL,
			prompt        TEXT NOT NULL,
			deliver       TEXT,
			next_fire_at  INTEGER NOT NULL DEFAULT 0,
			enabled       INTEGER NOT NULL DEFAULT 1,
			last_result   TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create cron_tasks table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteTaskStore) Close() error { return s.db.Close() }

// Put inserts or replaces a task row.
func (s *SQLiteTaskStore) Put(task Task) error {
	var deliver sql.NullString
	if task.Deliver != nil {
		b, err := json.Marshal(task.Deliver)
		if err != nil {
			return fmt.Errorf("marshal deliver origin: %w", err)
		}
		deliver = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cron_tasks
			(id, name, kind, every_ns, expr, at_unix, session_key, prompt,
			 deliver, next_fire_at, enabled, last_result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Name,
		string(task.Schedule.Kind),
		int64(task.Schedule.Every),
		task.Schedule.Expr,
		unixOrZero(task.Schedule.At),
		task.SessionKey,
		task.Prompt,
		deliver,
		unixOrZero(task.NextFireAt),
		boolToInt(task.Enabled),
		task.LastResult,
		task.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

// Get returns a task by id.
func (s *SQLiteTaskStore) Get(id string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, name, kind, every_ns, expr, at_unix, session_key, prompt,
		       deliver, next_fire_at, enabled, last_result, created_at
		FROM cron_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return task, err
}

// Delete removes a task by id.
func (s *SQLiteTaskStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM cron_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List returns all tasks ordered by creation time.
func (s *SQLiteTaskStore) List() ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, name, kind, every_ns, expr, at_unix, session_key, prompt,
		       deliver, next_fire_at, enabled, last_result, created_at
		FROM cron_tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		task      Task
		kind      string
		everyNS   int64
		atUnix    int64
		deliver   sql.NullString
		nextFire  int64
		enabled   int
		createdAt int64
	)
	err := row.Scan(
		&task.ID, &task.Name, &kind, &everyNS, &task.Schedule.Expr, &atUnix,
		&task.SessionKey, &task.Prompt, &deliver, &nextFire, &enabled,
		&task.LastResult, &createdAt,
	)
	if err != nil {
		return Task{}, err
	}
	task.Schedule.Kind = ScheduleKind(kind)
	task.Schedule.Every = time.Duration(everyNS)
	if atUnix > 0 {
		task.Schedule.At = time.Unix(atUnix, 0).UTC()
	}
	if deliver.Valid && deliver.String != "" {
		var origin core.Origin
		if err := json.Unmarshal([]byte(deliver.String), &origin); err != nil {
			return Task{}, fmt.Errorf("decode deliver origin for %s: %w", task.ID, err)
		}
		task.Deliver = &origin
	}
	if nextFire > 0 {
		task.NextFireAt = time.Unix(nextFire, 0).UTC()
	}
	task.Enabled = enabled != 0
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	return task, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
