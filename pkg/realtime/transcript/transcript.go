// Package transcript holds the live, in-memory conversation record for one
// realtime session: ordered transcript items plus a verbatim client/server
// event log. The session dispatcher is the only writer; everything handed
// out is a copy.
package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PlaceholderTranscribing marks a user audio message whose transcription
// has not arrived yet. Placeholder-only messages are excluded from the
// durable flush.
const PlaceholderTranscribing = "[transcribing...]"

type Kind string

const (
	KindMessage    Kind = "message"
	KindBreadcrumb Kind = "breadcrumb"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Item is one transcript entry: a user/assistant message or a breadcrumb
// annotation, keyed by an item id unique within the session.
type Item struct {
	ItemID    string         `json:"item_id"`
	Kind      Kind           `json:"kind"`
	Role      string         `json:"role,omitempty"`
	Text      string         `json:"text,omitempty"`
	Title     string         `json:"title,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Hidden    bool           `json:"hidden,omitempty"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	OrderMS   int64          `json:"order_ms"`
	Expanded  bool           `json:"expanded,omitempty"`
}

// Transcript is the single-writer ordered conversation record.
type Transcript struct {
	mu     sync.Mutex
	items  []*Item
	index  map[string]*Item
	lastMS int64

	clock  func() time.Time
	logger *slog.Logger
}

type Option func(*Transcript)

// WithClock injects the timestamp source (tests control time through it).
func WithClock(clock func() time.Time) Option {
	return func(t *Transcript) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcript) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func New(opts ...Option) *Transcript {
	t := &Transcript{
		index:  make(map[string]*Item),
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// nextOrderMS returns a strictly increasing ordering key even when the
// wall clock ties or steps backwards.
func (t *Transcript) nextOrderMS(now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= t.lastMS {
		ms = t.lastMS + 1
	}
	t.lastMS = ms
	return ms
}

// AddMessage creates a message item. Duplicate item ids are ignored with a
// warning so re-delivered creation events cannot fork the transcript; the
// first write wins.
func (t *Transcript) AddMessage(itemID, role, text string, hidden bool) bool {
	if t == nil || itemID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.index[itemID]; exists {
		t.logger.Warn("duplicate transcript message ignored", "item_id", itemID, "role", role)
		return false
	}
	now := t.clock()
	item := &Item{
		ItemID:    itemID,
		Kind:      KindMessage,
		Role:      role,
		Text:      text,
		Hidden:    hidden,
		Status:    StatusInProgress,
		CreatedAt: now,
		OrderMS:   t.nextOrderMS(now),
	}
	t.items = append(t.items, item)
	t.index[itemID] = item
	return true
}

// AppendText appends a delta to a message, creating the item first when no
// placeholder creation event preceded the delta.
func (t *Transcript) AppendText(itemID, role, delta string) {
	if t == nil || itemID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.index[itemID]
	if !ok {
		now := t.clock()
		item = &Item{
			ItemID:    itemID,
			Kind:      KindMessage,
			Role:      role,
			Status:    StatusInProgress,
			CreatedAt: now,
			OrderMS:   t.nextOrderMS(now),
		}
		t.items = append(t.items, item)
		t.index[itemID] = item
	}
	if item.Kind != KindMessage {
		return
	}
	if item.Text == PlaceholderTranscribing {
		item.Text = ""
	}
	item.Text += delta
}

// SetText replaces a message's text with its final form.
func (t *Transcript) SetText(itemID, text string) {
	if t == nil || itemID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.index[itemID]
	if !ok || item.Kind != KindMessage {
		return
	}
	item.Text = text
}

// Complete flips an item to done.
func (t *Transcript) Complete(itemID string) {
	if t == nil || itemID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if item, ok := t.index[itemID]; ok {
		item.Status = StatusDone
	}
}

// SetExpanded records the UI expanded/collapsed flag. Not part of the
// realtime path, but the flag is persisted with the item.
func (t *Transcript) SetExpanded(itemID string, expanded bool) {
	if t == nil || itemID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if item, ok := t.index[itemID]; ok {
		item.Expanded = expanded
	}
}

// AddBreadcrumb appends a non-dialogue annotation (tool calls, lifecycle
// markers) and returns its locally generated id.
func (t *Transcript) AddBreadcrumb(title string, data map[string]any) string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	item := &Item{
		ItemID:    "bc_" + uuid.NewString(),
		Kind:      KindBreadcrumb,
		Title:     title,
		Data:      data,
		Status:    StatusDone,
		CreatedAt: now,
		OrderMS:   t.nextOrderMS(now),
	}
	t.items = append(t.items, item)
	t.index[item.ItemID] = item
	return item.ItemID
}

// Snapshot copies the full transcript in order.
func (t *Transcript) Snapshot() []Item {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Item, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, *item)
	}
	return out
}

// Filtered returns the transcript view handed to tool logic: hidden items
// and still-transcribing placeholders are excluded.
func (t *Transcript) Filtered() []Item {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Item, 0, len(t.items))
	for _, item := range t.items {
		if item.Hidden {
			continue
		}
		if item.Kind == KindMessage && item.Text == PlaceholderTranscribing {
			continue
		}
		out = append(out, *item)
	}
	return out
}

// Persistable returns the items for the end-of-session flush: breadcrumbs
// plus non-empty, non-placeholder messages.
func (t *Transcript) Persistable() []Item {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Item, 0, len(t.items))
	for _, item := range t.items {
		if item.Kind == KindMessage && (item.Text == "" || item.Text == PlaceholderTranscribing) {
			continue
		}
		out = append(out, *item)
	}
	return out
}
