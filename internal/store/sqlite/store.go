// Package sqlite persists sessions in a SQLite file so conversations
// survive restarts. It uses the pure-Go driver and keeps a single writer
// connection, which is all SQLite supports anyway.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nimblechat/backend/internal/model/chat"
	"github.com/nimblechat/backend/internal/store"
)

// Store is the SQLite-backed session store.
type Store struct {
	conn *sql.DB
}

// New opens (creating if needed) the database file at dbPath and ensures
// the schema exists.
func New(dbPath string) (*Store, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode allows concurrent reads while a write is in flight.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite only supports one writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// CreateSession registers the session ID if it is not already present.
func (s *Store) CreateSession(ctx context.Context, sessionID string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at) VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`, sessionID, time.Now())
	return err
}

// SessionExists reports whether the session ID is known.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.rowID(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppendMessage adds a turn to the session transcript.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, timestamp)
		SELECT id, ?, ?, ? FROM sessions WHERE session_id = ?
	`, msg.Role, msg.Content, msg.Timestamp, sessionID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// History returns the transcript in append order.
func (s *Store) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	id, err := s.rowID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT role, content, timestamp FROM messages
		WHERE session_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// ClearSession drops the transcript while keeping the session registered.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	id, err := s.rowID(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) rowID(ctx context.Context, sessionID string) (int64, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx, `SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}
