// Package session persists chat sessions and their messages in SQLite.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vaultbrain/vaultbrain/internal/provider"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one conversation. InjectedSkills records which skills have
// already been added to the system prompt so they are injected only once.
type Session struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	InjectedSkills []string  `json:"injected_skills,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one persisted conversation entry. Tool calls, tool results and
// usage ride along as JSON columns.
type Message struct {
	ID          string                `json:"id"`
	SessionID   string                `json:"session_id"`
	Role        string                `json:"role"`
	Content     string                `json:"content"`
	ToolCalls   []provider.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []provider.ToolResult `json:"tool_results,omitempty"`
	Usage       *provider.Usage       `json:"usage,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Store is the SQLite-backed session store. Writes within one session are
// serialized with a per-session lock so concurrent requests cannot interleave
// message history.
type Store struct {
	db    *sql.DB
	locks *keyedLocks
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	injected_skills TEXT,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT,
	tool_results TEXT,
	usage        TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// Open opens (and migrates) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, locks: newKeyedLocks()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// GetOrCreate returns the session with the given id, creating it when the id
// is empty or unknown. An empty id gets a fresh UUID.
func (s *Store) GetOrCreate(ctx context.Context, id, providerName, model string) (Session, error) {
	if id != "" {
		sess, err := s.Get(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
	} else {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	sess := Session{ID: id, Provider: providerName, Model: model, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, provider, model, created_at, updated_at) VALUES (?, '', ?, ?, ?, ?)`,
		sess.ID, sess.Provider, sess.Model, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get returns a session by id.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	var sess Session
	var injected sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, provider, model, injected_skills, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &injected, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if injected.Valid && injected.String != "" {
		if err := json.Unmarshal([]byte(injected.String), &sess.InjectedSkills); err != nil {
			return Session{}, fmt.Errorf("decode injected skills: %w", err)
		}
	}
	return sess, nil
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, provider, model, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes a session and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// AddInjectedSkills records skill ids as injected for a session.
func (s *Store) AddInjectedSkills(ctx context.Context, id string, skillIDs []string) error {
	if len(skillIDs) == 0 {
		return nil
	}
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(sess.InjectedSkills))
	merged := sess.InjectedSkills
	for _, sid := range sess.InjectedSkills {
		seen[sid] = true
	}
	for _, sid := range skillIDs {
		if !seen[sid] {
			merged = append(merged, sid)
			seen[sid] = true
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal injected skills: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET injected_skills = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("update injected skills: %w", err)
	}
	return nil
}

// SetTitle updates a session title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SaveMessage appends a message to a session and returns its id. Writes to
// the same session are serialized.
func (s *Store) SaveMessage(ctx context.Context, m Message) (string, error) {
	lock := s.locks.get(m.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	toolCalls, err := marshalNullable(m.ToolCalls)
	if err != nil {
		return "", fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := marshalNullable(m.ToolResults)
	if err != nil {
		return "", fmt.Errorf("marshal tool results: %w", err)
	}
	usage, err := marshalNullable(m.Usage)
	if err != nil {
		return "", fmt.Errorf("marshal usage: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results, usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, toolCalls, toolResults, usage, m.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.SessionID)
	if err != nil {
		return "", fmt.Errorf("touch session: %w", err)
	}
	return m.ID, nil
}

// History returns all messages of a session in chronological order.
func (s *Store) History(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_calls, tool_results, usage, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolResults, usage sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &toolResults, &usage, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" {
			if err := json.Unmarshal([]byte(toolResults.String), &m.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results: %w", err)
			}
		}
		if usage.Valid && usage.String != "" {
			if err := json.Unmarshal([]byte(usage.String), &m.Usage); err != nil {
				return nil, fmt.Errorf("decode usage: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// marshalNullable marshals v to JSON, returning SQL NULL for empty values.
func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case []provider.ToolCall:
		if len(x) == 0 {
			return nil, nil
		}
	case []provider.ToolResult:
		if len(x) == 0 {
			return nil, nil
		}
	case *provider.Usage:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
