package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// Discard is the store used when no database is configured: sessions
// still negotiate, writes are dropped with a warning, reads miss.
type Discard struct {
	Logger *slog.Logger
}

func (d Discard) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Discard) CreateSession(_ context.Context, id, agentID string) error {
	d.logger().Warn("persistence disabled, session not recorded", "session_id", id, "agent_id", agentID)
	return nil
}

func (d Discard) EndSession(_ context.Context, id string, items []transcript.Item) error {
	d.logger().Warn("persistence disabled, transcript flush dropped", "session_id", id, "items", len(items))
	return nil
}

func (d Discard) AppendEvent(_ context.Context, sessionID string, event transcript.LoggedEvent) error {
	d.logger().Warn("persistence disabled, event dropped", "session_id", sessionID, "event", event.EventName)
	return nil
}

func (d Discard) History(_ context.Context, sessionID string) (Session, []transcript.Item, error) {
	return Session{}, nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
}
