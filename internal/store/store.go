// Package store persists chat sessions and their turn logs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/leapchat/internal/chat"
)

// Store implements chat.SessionStore on a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection without migrating. The caller owns
// the schema; used by tests and by callers that pool connections themselves.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for diagnostics tooling.
func (s *Store) DB() *sql.DB { return s.db }

// CreateSession inserts a new untitled session.
func (s *Store) CreateSession(ctx context.Context) (*chat.Session, error) {
	session := &chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, created_at) VALUES (?, ?, ?)`,
		session.ID, session.Title, session.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession fetches session metadata. Returns chat.ErrSessionNotFound for
// unknown ids.
func (s *Store) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM chat_sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, chat.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*chat.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM chat_sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*chat.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// RenameSession sets a session title.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, chat.ErrSessionNotFound)
	}
	return nil
}

// AppendMessage writes a turn to a session's log. A turn without an id gets
// one assigned.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, turn *chat.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	content, err := turn.ContentJSON()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, type, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, sessionID, string(turn.Role), string(turn.Type),
		string(content), turn.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns a session's turn log in insertion order. Rows with a
// content type this build does not know are skipped, so older and newer
// builds can share a database.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, type, content, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*chat.Turn
	for rows.Next() {
		var (
			id, role, typ, content, createdAt string
		)
		if err := rows.Scan(&id, &role, &typ, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		turn, err := decodeTurn(id, role, typ, content, createdAt)
		if err != nil {
			s.logger.Warn("skipping undecodable message", "session", sessionID, "message", id, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return turns, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*chat.Session, error) {
	var id, title, createdAt string
	if err := row.Scan(&id, &title, &createdAt); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &chat.Session{ID: id, Title: title, CreatedAt: ts}, nil
}

// decodeTurn reassembles a turn from its stored columns.
func decodeTurn(id, role, typ, content, createdAt string) (*chat.Turn, error) {
	env := struct {
		ID        string          `json:"id"`
		Role      string          `json:"role"`
		Type      string          `json:"type"`
		Content   json.RawMessage `json:"content"`
		CreatedAt string          `json:"created_at"`
	}{ID: id, Role: role, Type: typ, Content: json.RawMessage(content), CreatedAt: createdAt}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	var turn chat.Turn
	if err := json.Unmarshal(raw, &turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

var _ chat.SessionStore = (*Store)(nil)
