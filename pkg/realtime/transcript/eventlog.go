package transcript

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionClient Direction = "client"
	DirectionServer Direction = "server"
)

// LoggedEvent is one raw client-or-server control message, recorded for
// audit and debugging. Immutable once created except for the UI expanded
// flag.
type LoggedEvent struct {
	ID        string          `json:"id"`
	Direction Direction       `json:"direction"`
	EventName string          `json:"event_name"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
	Expanded  bool            `json:"expanded,omitempty"`
}

// Sink receives every logged event for asynchronous, best-effort
// persistence. Implementations must never block the caller.
type Sink func(LoggedEvent)

// EventLog records every message sent or received on the data channel.
// Logging is unconditional and has no side effects on the transcript.
type EventLog struct {
	mu     sync.Mutex
	events []LoggedEvent

	sink   Sink
	clock  func() time.Time
	logger *slog.Logger
}

type LogOption func(*EventLog)

func WithSink(sink Sink) LogOption {
	return func(l *EventLog) { l.sink = sink }
}

func WithLogClock(clock func() time.Time) LogOption {
	return func(l *EventLog) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithLogLogger(logger *slog.Logger) LogOption {
	return func(l *EventLog) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewEventLog(opts ...LogOption) *EventLog {
	l := &EventLog{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records one event. The id is the server-assigned event id when
// present, otherwise locally generated.
func (l *EventLog) Log(direction Direction, eventID, eventName string, payload []byte) LoggedEvent {
	if l == nil {
		return LoggedEvent{}
	}
	if eventID == "" {
		eventID = "evt_" + uuid.NewString()
	}
	entry := LoggedEvent{
		ID:        eventID,
		Direction: direction,
		EventName: eventName,
		EventData: append(json.RawMessage(nil), payload...),
		CreatedAt: l.clock(),
	}
	l.mu.Lock()
	l.events = append(l.events, entry)
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		sink(entry)
	}
	return entry
}

// Snapshot copies the event log in arrival order.
func (l *EventLog) Snapshot() []LoggedEvent {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LoggedEvent, len(l.events))
	copy(out, l.events)
	return out
}

// SetExpanded flips the UI expanded flag on a logged event.
func (l *EventLog) SetExpanded(id string, expanded bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].ID == id {
			l.events[i].Expanded = expanded
			return
		}
	}
}
