package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley/pkg/realtime/broker"
)

const defaultWSConnectTimeout = 15 * time.Second

// WebSocket is the data-only establisher: same JSON frames, no media
// tracks. Audio rides the channel base64-encoded when the remote side
// supports it.
type WebSocket struct {
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func (e *WebSocket) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *WebSocket) Establish(ctx context.Context, grant *broker.SessionGrant) (Channel, error) {
	if grant == nil {
		return nil, fmt.Errorf("session grant must not be nil")
	}
	wsURL, err := websocketURL(grant.ServerURL)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+grant.ClientSecret)

	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultWSConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	ch := &wsChannel{
		conn:   conn,
		logger: e.logger(),
		events: make(chan []byte, 256),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	close(ch.ready)
	go ch.readLoop()
	return ch, nil
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}

type wsChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan []byte
	ready  chan struct{}
	done   chan struct{}
	quit   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *wsChannel) Send(data []byte) error {
	if c == nil || c.closed.Load() {
		return ErrChannelNotOpen
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelNotOpen, err)
	}
	return nil
}

func (c *wsChannel) Events() <-chan []byte  { return c.events }
func (c *wsChannel) Ready() <-chan struct{} { return c.ready }
func (c *wsChannel) Done() <-chan struct{}  { return c.done }

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *wsChannel) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed.Load() {
				c.logger.Error("websocket read failed", "error", err)
			}
			c.closed.Store(true)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case c.events <- data:
		case <-c.quit:
			return
		}
	}
}
