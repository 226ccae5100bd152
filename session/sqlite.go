package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hupe1980/concierge/core"
)

// SQLiteStore is a durable SessionStore backed by a SQLite database. Message
// history is append-only; memory entries are upserted per key.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.SessionStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and initializes) the session database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle, initializing the
// schema if needed. The caller keeps ownership of the handle.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key            TEXT PRIMARY KEY,
			created_at     INTEGER NOT NULL,
			last_active_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			payload     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_key
			ON session_messages (session_key, seq);
		CREATE TABLE IF NOT EXISTS session_memory (
			session_key TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       TEXT NOT NULL,
			PRIMARY KEY (session_key, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("create session tables: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load reconstructs the session from its rows, creating it on first access.
func (s *SQLiteStore) Load(sessionKey string) (*core.Session, error) {
	created, lastActive, err := s.ensure(sessionKey)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(sessionKey)
	sess.CreatedAt = created
	sess.LastActiveAt = lastActive

	rows, err := s.db.Query(`
		SELECT payload FROM session_messages
		WHERE session_key = ? ORDER BY seq`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sessionKey, err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg core.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decode message for %s: %w", sessionKey, err)
		}
		sess.History = append(sess.History, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memRows, err := s.db.Query(`
		SELECT key, value FROM session_memory WHERE session_key = ?`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load memory for %s: %w", sessionKey, err)
	}
	defer memRows.Close()
	for memRows.Next() {
		var k, v string
		if err := memRows.Scan(&k, &v); err != nil {
			return nil, err
		}
		sess.Memory[k] = v
	}
	return sess, memRows.Err()
}

// Append persists a message at the end of the session's history.
func (s *SQLiteStore) Append(sessionKey string, msg core.Message) error {
	if _, _, err := s.ensure(sessionKey); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO session_messages (session_key, payload) VALUES (?, ?)`,
		sessionKey, string(payload)); err != nil {
		return fmt.Errorf("append message for %s: %w", sessionKey, err)
	}
	return s.touch(sessionKey)
}

// GetMemory looks up a memory value for the session.
func (s *SQLiteStore) GetMemory(sessionKey, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`
		SELECT value FROM session_memory
		WHERE session_key = ? AND key = ?`, sessionKey, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read memory for %s: %w", sessionKey, err)
	}
	return value, true, nil
}

// SetMemory upserts a memory value for the session.
func (s *SQLiteStore) SetMemory(sessionKey, key, value string) error {
	if _, _, err := s.ensure(sessionKey); err != nil {
		return err
	}
	if _, err := s.db.Exec(`
		INSERT INTO session_memory (session_key, key, value) VALUES (?, ?, ?)
		ON CONFLICT (session_key, key) DO UPDATE SET value = excluded.value`,
		sessionKey, key, value); err != nil {
		return fmt.Errorf("write memory for %s: %w", sessionKey, err)
	}
	return s.touch(sessionKey)
}

// ensure creates the session row if missing and returns its timestamps.
func (s *SQLiteStore) ensure(sessionKey string) (created, lastActive time.Time, err error) {
	var createdUnix, lastActiveUnix int64
	err = s.db.QueryRow(`
		SELECT created_at, last_active_at FROM sessions WHERE key = ?`,
		sessionKey).Scan(&createdUnix, &lastActiveUnix)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now().UTC()
		if _, err := s.db.Exec(`
			INSERT INTO sessions (key, created_at, last_active_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO NOTHING`,
			sessionKey, now.Unix(), now.Unix()); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("create session %s: %w", sessionKey, err)
		}
		return now, now, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("load session %s: %w", sessionKey, err)
	}
	return time.Unix(createdUnix, 0).UTC(), time.Unix(lastActiveUnix, 0).UTC(), nil
}

func (s *SQLiteStore) touch(sessionKey string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET last_active_at = ? WHERE key = ?`,
		time.Now().UTC().Unix(), sessionKey)
	return err
}
