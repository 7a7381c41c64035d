package transcript

import (
	"testing"
	"time"
)

func stepClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func TestAddMessageDuplicateIgnored(t *testing.T) {
	t.Parallel()

	tr := New()
	if !tr.AddMessage("item_1", "user", "first", false) {
		t.Fatal("first AddMessage rejected")
	}
	if tr.AddMessage("item_1", "user", "second", false) {
		t.Fatal("duplicate AddMessage accepted")
	}
	items := tr.Snapshot()
	if len(items) != 1 || items[0].Text != "first" {
		t.Fatalf("items = %+v, want the first write to win", items)
	}
}

func TestAppendTextCreatesAndConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.AppendText("item_1", "assistant", "He")
	tr.AppendText("item_1", "assistant", "llo")
	tr.AppendText("item_1", "assistant", "!")

	items := tr.Snapshot()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Text != "Hello!" {
		t.Fatalf("text = %q, want deltas concatenated in arrival order", items[0].Text)
	}
	if items[0].Status != StatusInProgress {
		t.Fatalf("status = %q, want in_progress", items[0].Status)
	}
}

func TestAppendTextClearsPlaceholder(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.AddMessage("item_1", "user", PlaceholderTranscribing, false)
	tr.AppendText("item_1", "user", "real text")
	items := tr.Snapshot()
	if items[0].Text != "real text" {
		t.Fatalf("text = %q, placeholder should be replaced not prefixed", items[0].Text)
	}
}

func TestCompleteIsMonotonic(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.AddMessage("item_1", "assistant", "hi", false)
	tr.Complete("item_1")
	// Completing again or touching a done item must not regress status.
	tr.Complete("item_1")
	if got := tr.Snapshot()[0].Status; got != StatusDone {
		t.Fatalf("status = %q, want done", got)
	}
}

func TestOrderMSStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	// A frozen clock still yields strictly increasing ordering keys.
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(WithClock(func() time.Time { return frozen }))
	tr.AddMessage("a", "user", "1", false)
	tr.AddMessage("b", "assistant", "2", false)
	tr.AddBreadcrumb("mark", nil)

	items := tr.Snapshot()
	for i := 1; i < len(items); i++ {
		if items[i].OrderMS <= items[i-1].OrderMS {
			t.Fatalf("order not strictly increasing: %d then %d", items[i-1].OrderMS, items[i].OrderMS)
		}
	}
}

func TestFilteredExcludesHiddenAndPlaceholder(t *testing.T) {
	t.Parallel()

	tr := New(WithClock(stepClock(time.Unix(1700000000, 0), time.Second)))
	tr.AddMessage("visible", "user", "hello", false)
	tr.AddMessage("hidden", "user", "secret", true)
	tr.AddMessage("pending", "user", PlaceholderTranscribing, false)
	tr.AddBreadcrumb("tool call", map[string]any{"name": "lookup"})

	filtered := tr.Filtered()
	if len(filtered) != 2 {
		t.Fatalf("filtered = %d items, want 2", len(filtered))
	}
	for _, item := range filtered {
		if item.ItemID == "hidden" || item.Text == PlaceholderTranscribing {
			t.Fatalf("filtered leaked %+v", item)
		}
	}
}

func TestPersistableExcludesEmptyMessages(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.AddMessage("said", "user", "hello", false)
	tr.AddMessage("empty", "user", "", false)
	tr.AddMessage("pending", "user", PlaceholderTranscribing, false)
	tr.AddBreadcrumb("mark", nil)

	out := tr.Persistable()
	if len(out) != 2 {
		t.Fatalf("persistable = %d items, want message+breadcrumb", len(out))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.AddMessage("item_1", "user", "hi", false)
	snap := tr.Snapshot()
	snap[0].Text = "mutated"
	if tr.Snapshot()[0].Text != "hi" {
		t.Fatal("snapshot mutation leaked into the transcript")
	}
}

func TestEventLogRecordsAndSinks(t *testing.T) {
	t.Parallel()

	var sunk []LoggedEvent
	log := NewEventLog(WithSink(func(e LoggedEvent) { sunk = append(sunk, e) }))

	entry := log.Log(DirectionServer, "evt_1", "session.created", []byte(`{"type":"session.created"}`))
	if entry.ID != "evt_1" {
		t.Fatalf("server event id = %q, want the remote id kept", entry.ID)
	}

	entry = log.Log(DirectionClient, "", "response.create", []byte(`{"type":"response.create"}`))
	if entry.ID == "" {
		t.Fatal("client event got no generated id")
	}

	if len(sunk) != 2 {
		t.Fatalf("sink saw %d events, want 2", len(sunk))
	}
	if got := log.Snapshot(); len(got) != 2 || got[0].Direction != DirectionServer {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestEventLogSetExpanded(t *testing.T) {
	t.Parallel()

	log := NewEventLog()
	entry := log.Log(DirectionServer, "evt_1", "error", []byte(`{}`))
	log.SetExpanded(entry.ID, true)
	if !log.Snapshot()[0].Expanded {
		t.Fatal("expanded flag not set")
	}
}
