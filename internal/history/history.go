// Package history persists conversation messages per session.
// Open returns a SQLite-backed store for a path and an in-memory store for "".
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/genieq/internal/logger"
)

// Store keeps the ordered message history of each session.
type Store interface {
	Save(ctx context.Context, msg Message) error
	List(ctx context.Context, sessionID string) ([]Message, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Open returns a SQLite store at path, or a memory store when path is empty.
func Open(path string, log *slog.Logger) (Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return OpenSQLite(path, log)
}

// Memory is a process-local Store.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	messages map[string][]Message
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]Message)}
}

func (m *Memory) Save(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *Memory) List(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages[sessionID]...), nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.messages, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// SQLite stores messages in a single table keyed by session id.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string, log *slog.Logger) (*SQLite, error) {
	log = logger.Or(log)
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages (session_id, id);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create history schema: %w", err)
		}
	}
	log.Info("sqlite history DB initialized", "path", path)
	return &SQLite{db: db, logger: log}, nil
}

func (s *SQLite) Save(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?,?,?,?);`,
		msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

// List returns all messages of a session in chronological order.
func (s *SQLite) List(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC;`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?;`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	s.logger.Debug("session history deleted", "session_id", sessionID)
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
