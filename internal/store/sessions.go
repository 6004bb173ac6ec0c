package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/cinechat/internal/provider"
)

const defaultMessageLimit = 50

// Session is a chat conversation whose messages form the short-term memory.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnRecord summarises one finished agent turn.
type TurnRecord struct {
	SessionID     string
	TraceID       string
	Iterations    int
	ToolUsed      bool
	SavedMemoryID string
	Duration      time.Duration
}

// CreateSession inserts a new active session.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (title)
		VALUES ($1)
		RETURNING id::text, title, status, created_at, updated_at`,
		title,
	).Scan(&sess.ID, &sess.Title, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// GetSession returns a session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT id::text, title, status, created_at, updated_at
		FROM sessions WHERE id = $1 AND status != 'deleted'`, id,
	).Scan(&sess.ID, &sess.Title, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns live sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, title, status, created_at, updated_at
		FROM sessions WHERE status != 'deleted'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// DeleteSession soft-deletes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions SET status = 'deleted', updated_at = NOW() WHERE id = $1 AND status != 'deleted'`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessages stores messages in order and bumps the session.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs ...provider.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range msgs {
		var toolCallsJSON []byte
		if len(msg.ToolCalls) > 0 {
			toolCallsJSON, err = json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool_calls: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (session_id, role, content, tool_calls)
			VALUES ($1, $2, $3, $4)`,
			sessionID, msg.Role, msg.Content, toolCallsJSON,
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit(ctx)
}

// GetMessages returns the latest limit messages of a session, oldest first.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]provider.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content, tool_calls FROM (
			SELECT role, content, tool_calls, seq
			FROM messages
			WHERE session_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []provider.Message
	for rows.Next() {
		var msg provider.Message
		var toolCallsJSON []byte

		if err := rows.Scan(&msg.Role, &msg.Content, &toolCallsJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				s.logger.Warn("bad tool_calls column")
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// RecordTurn stores a turn summary.
func (s *Store) RecordTurn(ctx context.Context, t TurnRecord) error {
	var memID *string
	if t.SavedMemoryID != "" {
		memID = &t.SavedMemoryID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO turns (session_id, trace_id, iterations, tool_used, saved_memory_id, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.SessionID, t.TraceID, t.Iterations, t.ToolUsed, memID, t.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}
