// Package upstream mints ephemeral realtime credentials from the remote
// realtime API. The long-lived API key never leaves this package; clients
// only ever see the short-lived secret.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/realtime/broker"
	"github.com/parley-ai/parley/pkg/realtime/tools"
)

// Credential is the minted ephemeral secret plus the signaling endpoint
// it is valid against.
type Credential struct {
	ClientSecret string
	ServerURL    string
	ExpiresAt    time.Time
}

// SessionRequest describes the session to mint: the agent's effective
// configuration flattened for the remote API.
type SessionRequest struct {
	Model        string
	Instructions string
	Voice        string
	Tools        []tools.Definition
}

type Minter struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (m *Minter) httpClient() *http.Client {
	if m != nil && m.HTTPClient != nil {
		return m.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (m *Minter) logger() *slog.Logger {
	if m != nil && m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Mint requests an ephemeral credential. Any upstream failure maps to
// the negotiation error taxonomy so the client's connect attempt fails
// closed.
func (m *Minter) Mint(ctx context.Context, req SessionRequest) (*Credential, error) {
	base := strings.TrimRight(strings.TrimSpace(m.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("upstream base URL must not be empty")
	}

	toolSpecs := make([]map[string]any, 0, len(req.Tools))
	for _, def := range req.Tools {
		toolSpecs = append(toolSpecs, map[string]any{
			"type":        "function",
			"name":        def.Name,
			"description": def.Description,
			"parameters":  def.Parameters,
		})
	}
	payload := map[string]any{
		"model":        req.Model,
		"instructions": req.Instructions,
		"tools":        toolSpecs,
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
	}
	if req.Voice != "" {
		payload["voice"] = req.Voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mint credential: %w: %v", broker.ErrUpstreamRejected, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read mint response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger().Warn("upstream rejected session mint", "status", resp.StatusCode)
		return nil, fmt.Errorf("upstream returned status %d: %w", resp.StatusCode, broker.ErrUpstreamRejected)
	}

	var minted struct {
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(raw, &minted); err != nil {
		return nil, fmt.Errorf("decode mint response: %w", broker.ErrMalformedCredential)
	}
	if strings.TrimSpace(minted.ClientSecret.Value) == "" {
		return nil, fmt.Errorf("mint response has no client secret: %w", broker.ErrMalformedCredential)
	}

	cred := &Credential{
		ClientSecret: minted.ClientSecret.Value,
		ServerURL:    base + "/v1/realtime?model=" + url.QueryEscape(req.Model),
	}
	if minted.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(minted.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}
