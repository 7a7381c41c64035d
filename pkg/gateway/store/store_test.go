package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

func TestDiscardAcceptsWritesAndMissesReads(t *testing.T) {
	t.Parallel()

	d := Discard{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx := context.Background()

	if err := d.CreateSession(ctx, "sess_1", "agent_1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := d.EndSession(ctx, "sess_1", []transcript.Item{{ItemID: "item_1"}}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := d.AppendEvent(ctx, "sess_1", transcript.LoggedEvent{EventName: "session.created"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if _, _, err := d.History(ctx, "sess_1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("History err = %v, want ErrSessionNotFound", err)
	}
}
