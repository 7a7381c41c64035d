// Package broker is the client side of the session negotiation and
// persistence endpoints: it exchanges an agent id for an ephemeral
// session grant, and carries the fire-and-forget audit/flush traffic
// back to the gateway.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// AgentIDHeader carries the agent identifier on the negotiation request.
const AgentIDHeader = "X-Agent-ID"

// Negotiation failures. All of them abort the connect attempt before any
// transport work starts.
var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrUpstreamRejected    = errors.New("realtime upstream rejected the session request")
	ErrMalformedCredential = errors.New("session grant is missing required fields")
)

// SessionGrant is the negotiation endpoint's response: everything the
// transport establisher and tool engine need for one session.
type SessionGrant struct {
	ClientSecret         string            `json:"client_secret"`
	SessionID            string            `json:"session_id"`
	ServerURL            string            `json:"server_url"`
	ChannelName          string            `json:"channel_name"`
	ToolLogic            map[string]string `json:"tool_logic,omitempty"`
	InitiateConversation bool              `json:"initiate_conversation"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAPIKey authenticates every gateway request with a bearer token.
// Required when the gateway runs with auth enabled.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("broker base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid broker base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestSession exchanges an agent id for a session grant. It fails
// closed: any non-success status or missing credential field aborts the
// connect attempt with a distinguishable error.
func (c *Client) RequestSession(ctx context.Context, agentID string) (*SessionGrant, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id must not be empty: %w", ErrAgentNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/realtime/sessions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(AgentIDHeader, agentID)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("negotiate session: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("negotiation endpoint returned status %d: %w", resp.StatusCode, ErrUpstreamRejected)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read session grant: %w", err)
	}
	var grant SessionGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("decode session grant: %w", ErrMalformedCredential)
	}
	if strings.TrimSpace(grant.ClientSecret) == "" ||
		strings.TrimSpace(grant.SessionID) == "" ||
		strings.TrimSpace(grant.ServerURL) == "" {
		return nil, fmt.Errorf("grant for agent %q: %w", agentID, ErrMalformedCredential)
	}
	if strings.TrimSpace(grant.ChannelName) == "" {
		grant.ChannelName = "oai-events"
	}
	return &grant, nil
}

// EndSession is the single durable flush point. The gateway upserts, so
// repeating the call with the same payload is safe.
func (c *Client) EndSession(ctx context.Context, sessionID string, items []transcript.Item) error {
	payload := struct {
		TranscriptItems []transcript.Item `json:"transcript_items"`
	}{TranscriptItems: items}
	return c.post(ctx, "/v1/sessions/"+url.PathEscape(sessionID)+"/end", payload)
}

// AppendEvent ships one audit record. Best effort: failures are logged
// and never surfaced to the live session.
func (c *Client) AppendEvent(ctx context.Context, sessionID string, event transcript.LoggedEvent) {
	payload := struct {
		Event transcript.LoggedEvent `json:"event"`
	}{Event: event}
	if err := c.post(ctx, "/v1/sessions/"+url.PathEscape(sessionID)+"/events", payload); err != nil {
		c.logger.Warn("event audit write failed", "session_id", sessionID, "event", event.EventName, "error", err)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}
