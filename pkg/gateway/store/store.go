// Package store persists sessions, transcript items and audit events in
// PostgreSQL. The end-of-session flush is an upsert keyed by
// (session_id, item_id), so retrying the flush with the same payload is
// harmless.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

const (
	SessionStarted = "started"
	SessionEnded   = "ended"
)

// Store is what the gateway handlers need. *Postgres implements it;
// tests substitute fakes.
type Store interface {
	CreateSession(ctx context.Context, id, agentID string) error
	EndSession(ctx context.Context, id string, items []transcript.Item) error
	AppendEvent(ctx context.Context, sessionID string, event transcript.LoggedEvent) error
	History(ctx context.Context, sessionID string) (Session, []transcript.Item, error)
}

type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(pool, logger), nil
}

func (s *Postgres) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// CreateSession records the session as started before any transport work
// happens, so an abandoned connect attempt still leaves a row behind.
func (s *Postgres) CreateSession(ctx context.Context, id, agentID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, agent_id, status, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO NOTHING`,
		id, agentID, SessionStarted)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

// EndSession upserts the flushed transcript and marks the session ended,
// in one transaction. Calling it again with the same payload converges
// to the same rows.
func (s *Postgres) EndSession(ctx context.Context, id string, items []transcript.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin end-session tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET status = $2, ended_at = COALESCE(ended_at, now())
		WHERE id = $1`,
		id, SessionEnded)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO transcript_items
				(session_id, item_id, kind, role, text, title, data, hidden, status, created_at, order_ms, expanded)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (session_id, item_id) DO UPDATE SET
				text = EXCLUDED.text,
				title = EXCLUDED.title,
				data = EXCLUDED.data,
				hidden = EXCLUDED.hidden,
				status = EXCLUDED.status,
				order_ms = EXCLUDED.order_ms,
				expanded = EXCLUDED.expanded`,
			id, item.ItemID, string(item.Kind), item.Role, item.Text, item.Title,
			item.Data, item.Hidden, string(item.Status), item.CreatedAt, item.OrderMS, item.Expanded)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("flush transcript for %s: %w", id, err)
		}
	}

	return tx.Commit(ctx)
}

// AppendEvent records one audit event. Order of arrival is preserved by
// the serial primary key; duplicates on the remote event id are allowed
// (re-delivery is the client's concern, the log is verbatim).
func (s *Postgres) AppendEvent(ctx context.Context, sessionID string, event transcript.LoggedEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO logged_events (session_id, event_id, direction, event_name, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, event.ID, string(event.Direction), event.EventName, []byte(event.EventData), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event for %s: %w", sessionID, err)
	}
	return nil
}

// History returns the session row plus its transcript ordered by the
// client-assigned ordering key.
func (s *Postgres) History(ctx context.Context, sessionID string) (Session, []transcript.Item, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, status, created_at, ended_at
		FROM sessions WHERE id = $1`, sessionID).
		Scan(&sess.ID, &sess.AgentID, &sess.Status, &sess.CreatedAt, &sess.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT item_id, kind, role, text, title, data, hidden, status, created_at, order_ms, expanded
		FROM transcript_items
		WHERE session_id = $1
		ORDER BY order_ms ASC`, sessionID)
	if err != nil {
		return Session{}, nil, fmt.Errorf("load transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var items []transcript.Item
	for rows.Next() {
		var item transcript.Item
		var kind, status string
		if err := rows.Scan(&item.ItemID, &kind, &item.Role, &item.Text, &item.Title,
			&item.Data, &item.Hidden, &status, &item.CreatedAt, &item.OrderMS, &item.Expanded); err != nil {
			return Session{}, nil, fmt.Errorf("scan transcript item: %w", err)
		}
		item.Kind = transcript.Kind(kind)
		item.Status = transcript.Status(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Session{}, nil, fmt.Errorf("read transcript for %s: %w", sessionID, err)
	}
	return sess, items, nil
}
