// Package session owns the realtime session lifecycle: the
// disconnected/connecting/connected state machine, the data-channel
// dispatch loop, and guaranteed teardown on every exit path.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/realtime/broker"
	"github.com/parley-ai/parley/pkg/realtime/events"
	"github.com/parley-ai/parley/pkg/realtime/tools"
	"github.com/parley-ai/parley/pkg/realtime/transcript"
	"github.com/parley-ai/parley/pkg/realtime/transport"
)

type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config wires a controller. Broker and Establisher are required.
type Config struct {
	AgentID     string
	Broker      Broker
	Establisher transport.Establisher
	Tools       *tools.Registry

	// ChainResponse sends a response.create after each tool result so
	// the model keeps talking.
	ChainResponse bool

	// OnStatus observes every status transition.
	OnStatus func(Status)

	// OnAudio receives decoded assistant PCM16 from in-band audio deltas.
	// Leave nil on WebRTC transports; audio arrives on the media track
	// there.
	OnAudio func(pcm []byte)

	Logger *slog.Logger
	Clock  func() time.Time
}

// Broker is the slice of the gateway client the controller needs.
type Broker interface {
	RequestSession(ctx context.Context, agentID string) (*broker.SessionGrant, error)
	EndSession(ctx context.Context, sessionID string, items []transcript.Item) error
	AppendEvent(ctx context.Context, sessionID string, event transcript.LoggedEvent)
}

// Controller is the single owner of one session's connection, transcript
// and event log. All transcript/log mutation happens on its dispatch
// loop; tool logic sees snapshots only.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	status  Status
	attempt uint64
	grant   *broker.SessionGrant
	channel transport.Channel
	engine  *tools.Engine
	flushed bool

	transcript *transcript.Transcript
	log        *transcript.EventLog
}

func New(cfg Config) (*Controller, error) {
	if cfg.Broker == nil {
		return nil, errors.New("session config needs a broker")
	}
	if cfg.Establisher == nil {
		return nil, errors.New("session config needs a transport establisher")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
		status: StatusDisconnected,
	}
	c.transcript = transcript.New(transcript.WithClock(clock), transcript.WithLogger(logger))
	c.log = transcript.NewEventLog(transcript.WithLogClock(clock), transcript.WithLogLogger(logger), transcript.WithSink(c.persistEvent))
	return c, nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcript returns a copy of the live transcript.
func (c *Controller) Transcript() []transcript.Item {
	c.mu.Lock()
	tr := c.transcript
	c.mu.Unlock()
	return tr.Snapshot()
}

// EventLog returns a copy of the raw event log.
func (c *Controller) EventLog() []transcript.LoggedEvent {
	c.mu.Lock()
	log := c.log
	c.mu.Unlock()
	return log.Snapshot()
}

func (c *Controller) setStatusLocked(status Status) {
	if c.status == status {
		return
	}
	c.status = status
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(status)
	}
}

// Connect negotiates a credential, establishes the transport, and blocks
// until the data channel is open. Calling it while not disconnected is a
// no-op. Every failure resets the status to disconnected; nothing
// half-acquired survives.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(StatusConnecting)
	c.attempt++
	attempt := c.attempt
	c.flushed = false
	c.transcript = transcript.New(transcript.WithClock(c.clock), transcript.WithLogger(c.logger))
	c.log = transcript.NewEventLog(transcript.WithLogClock(c.clock), transcript.WithLogLogger(c.logger), transcript.WithSink(c.persistEvent))
	c.mu.Unlock()

	grant, err := c.cfg.Broker.RequestSession(ctx, c.cfg.AgentID)
	if err != nil {
		c.failConnect(attempt, "negotiation failed", err)
		return err
	}

	ch, err := c.cfg.Establisher.Establish(ctx, grant)
	if err != nil {
		c.failConnect(attempt, "transport establishment failed", err)
		return err
	}

	c.mu.Lock()
	if c.status != StatusConnecting || c.attempt != attempt {
		// Disconnect won the race; do not resurrect a connected state.
		c.mu.Unlock()
		_ = ch.Close()
		return nil
	}
	c.grant = grant
	c.channel = ch
	c.engine = tools.NewEngine(tools.EngineConfig{
		Registry:      c.cfg.Tools,
		Bindings:      grant.ToolLogic,
		Send:          c.sendClientEvent,
		ChainResponse: c.cfg.ChainResponse,
		OnHangup: func() {
			_ = c.Disconnect(context.Background())
		},
		OnResult: c.recordToolResult,
		Logger:   c.logger,
	})
	c.mu.Unlock()

	select {
	case <-ch.Ready():
	case <-ch.Done():
		err := errors.New("data channel closed before opening")
		c.failConnect(attempt, "transport establishment failed", err)
		return err
	case <-ctx.Done():
		c.failConnect(attempt, "connect cancelled", ctx.Err())
		return ctx.Err()
	}

	c.mu.Lock()
	if c.status != StatusConnecting || c.attempt != attempt {
		c.mu.Unlock()
		_ = ch.Close()
		return nil
	}
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	c.logger.Info("session connected", "agent_id", c.cfg.AgentID, "session_id", grant.SessionID)

	if grant.InitiateConversation {
		// Agent speaks first: exactly one response trigger on open.
		_ = c.sendClientEvent(events.NewResponseCreate(), "greeting")
	}

	go c.readLoop(attempt, ch)
	return nil
}

func (c *Controller) failConnect(attempt uint64, msg string, err error) {
	c.mu.Lock()
	stale := c.attempt != attempt
	ch := c.channel
	c.channel = nil
	c.grant = nil
	c.engine = nil
	if !stale {
		c.setStatusLocked(StatusDisconnected)
	}
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	c.logger.Error(msg, "agent_id", c.cfg.AgentID, "error", err)
}

// Disconnect tears the session down: stop media, close the connection,
// notify the gateway, flush the transcript. Idempotent and safe to call
// while a connect attempt is still in flight.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusDisconnected && c.channel == nil {
		c.mu.Unlock()
		return nil
	}
	ch := c.channel
	grant := c.grant
	tr := c.transcript
	alreadyFlushed := c.flushed
	c.flushed = true
	c.channel = nil
	c.grant = nil
	c.engine = nil
	c.attempt++
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	if grant != nil && !alreadyFlushed {
		items := tr.Persistable()
		if err := c.cfg.Broker.EndSession(ctx, grant.SessionID, items); err != nil {
			c.logger.Warn("session end flush failed", "session_id", grant.SessionID, "error", err)
		} else {
			c.logger.Info("session ended", "session_id", grant.SessionID, "items", len(items))
		}
	}
	return nil
}

// SendUserText injects a typed user message and asks the model to
// respond.
func (c *Controller) SendUserText(text string) error {
	if err := c.sendClientEvent(events.NewUserMessage(text), "user text"); err != nil {
		return err
	}
	return c.sendClientEvent(events.NewResponseCreate(), "after user text")
}

// UpdateSession reconfigures the live session (modalities, audio
// formats, turn detection) after connect.
func (c *Controller) UpdateSession(settings map[string]any) error {
	return c.sendClientEvent(events.NewSessionUpdate(settings), "")
}

// AppendAudio pushes a chunk of microphone PCM16 to the remote input
// buffer. Only meaningful on data-only transports.
func (c *Controller) AppendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.sendClientEvent(events.NewInputAudioBufferAppend(pcm), "mic")
}

// ClearAudioInput discards buffered, uncommitted microphone audio, e.g.
// on barge-in.
func (c *Controller) ClearAudioInput() error {
	return c.sendClientEvent(events.NewInputAudioBufferClear(), "barge-in")
}

// sendClientEvent is the only path a control message takes out of the
// client. A closed channel is reported as a local synthetic error event,
// never an error thrown at the caller.
func (c *Controller) sendClientEvent(event any, suffix string) error {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("client event not serializable", "error", err)
		return err
	}
	name := events.Name(data, suffix)

	c.mu.Lock()
	ch := c.channel
	log := c.log
	c.mu.Unlock()

	if ch == nil {
		c.logSendFailure(log, name, "no active data channel")
		return nil
	}
	if err := ch.Send(data); err != nil {
		c.logSendFailure(log, name, err.Error())
		return nil
	}
	// Microphone chunks are not audit-logged; base64 media would swamp
	// the log.
	if !strings.HasPrefix(name, "input_audio_buffer.append") {
		log.Log(transcript.DirectionClient, "", name, data)
	}
	return nil
}

func (c *Controller) logSendFailure(log *transcript.EventLog, name, reason string) {
	c.logger.Warn("client event dropped", "event", name, "reason", reason)
	payload, _ := json.Marshal(map[string]any{
		"type":            "send.failed",
		"attempted_event": name,
		"reason":          reason,
	})
	log.Log(transcript.DirectionClient, "", "send.failed ("+name+")", payload)
}

// persistEvent is the event log sink: asynchronous and best effort, so
// audit writes can never stall the dispatch loop.
func (c *Controller) persistEvent(entry transcript.LoggedEvent) {
	c.mu.Lock()
	grant := c.grant
	c.mu.Unlock()
	if grant == nil {
		return
	}
	sessionID := grant.SessionID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.cfg.Broker.AppendEvent(ctx, sessionID, entry)
	}()
}

func (c *Controller) recordToolResult(call tools.Call, result tools.Result) {
	c.mu.Lock()
	tr := c.transcript
	c.mu.Unlock()
	data := map[string]any{"call_id": call.CallID, "success": result.Success}
	if result.Message != "" {
		data["message"] = result.Message
	}
	tr.AddBreadcrumb("function result: "+call.Name, data)
}

func (c *Controller) readLoop(attempt uint64, ch transport.Channel) {
	for {
		select {
		case data, ok := <-ch.Events():
			if !ok {
				c.channelLost(attempt)
				return
			}
			c.dispatch(data)
		case <-ch.Done():
			c.channelLost(attempt)
			return
		}
	}
}

// channelLost handles transport loss underneath a live session. The
// teardown runs through the normal disconnect path so the flush still
// happens.
func (c *Controller) channelLost(attempt uint64) {
	c.mu.Lock()
	stale := c.attempt != attempt
	c.mu.Unlock()
	if stale {
		return
	}
	c.logger.Warn("data channel lost", "agent_id", c.cfg.AgentID)
	_ = c.Disconnect(context.Background())
}
