// Package sqlite persists backend conversations in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	sqlitedriver "modernc.org/sqlite" // pure Go driver, registers "sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/zhouzirui/studydesk/internal/model/chat"
	chatservice "github.com/zhouzirui/studydesk/internal/service/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL,
	session_id        TEXT NOT NULL,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL,
	parent_message_id TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// Store implements chatservice.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ chatservice.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Printf("[sqlite] opened %s", path)
	return &Store{db: db}, nil
}

func (s *Store) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Name, session.Model, toUnix(session.CreatedAt), toUnix(session.UpdatedAt))
	if err != nil {
		if isConstraint(err) {
			return chatservice.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []chat.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, model, created_at, updated_at FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, chatservice.ErrSessionNotFound
	}
	return session, err
}

func (s *Store) UpdateSession(ctx context.Context, session chat.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, model = ?, updated_at = ? WHERE id = ?`,
		session.Name, session.Model, toUnix(session.UpdatedAt), session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AppendMessage(ctx context.Context, message chat.StoredMessage) error {
	if err := s.exists(ctx, message.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, parent_message_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, string(message.Role), message.Content, message.ParentMessageID, toUnix(message.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]chat.StoredMessage, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, parent_message_id, created_at FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	out := make([]chat.StoredMessage, 0, 16)
	for rows.Next() {
		var (
			msg     chat.StoredMessage
			role    string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.ParentMessageID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = fromUnix(created)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) TruncateTranscript(ctx context.Context, sessionID string, keep int) error {
	if err := s.exists(ctx, sessionID); err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND seq NOT IN (
			SELECT seq FROM messages WHERE session_id = ? ORDER BY seq LIMIT ?
		)`, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("truncate transcript: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exists(ctx context.Context, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return chatservice.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (chat.Session, error) {
	var (
		session          chat.Session
		created, updated int64
	)
	if err := row.Scan(&session.ID, &session.Name, &session.Model, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, err
		}
		return chat.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.CreatedAt = fromUnix(created)
	session.UpdatedAt = fromUnix(updated)
	return session, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return chatservice.ErrSessionNotFound
	}
	return nil
}

// isConstraint reports a primary key or unique violation by extended result code.
func isConstraint(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
