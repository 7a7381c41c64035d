package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/gateway/agents"
	"github.com/parley-ai/parley/pkg/gateway/config"
	"github.com/parley-ai/parley/pkg/gateway/upstream"
	"github.com/parley-ai/parley/pkg/realtime/broker"
	"github.com/parley-ai/parley/pkg/realtime/tools"
)

type stubMinter struct{}

func (stubMinter) Mint(_ context.Context, req upstream.SessionRequest) (*upstream.Credential, error) {
	return &upstream.Credential{
		ClientSecret: "ek_stub",
		ServerURL:    "https://realtime.example.com/v1/realtime?model=" + req.Model,
	}, nil
}

func testConfig() config.Config {
	return config.Config{
		Addr:                          ":0",
		AuthMode:                      config.AuthModeRequired,
		APIKeys:                       map[string]struct{}{"sk_test": {}},
		RealtimeBaseURL:               "https://realtime.example.com",
		RealtimeAPIKey:                "upstream-key",
		RealtimeModel:                 "gpt-4o-realtime-preview",
		AgentCacheTTL:                 time.Minute,
		CORSAllowedOrigins:            map[string]struct{}{},
		LimitRPS:                      100,
		LimitBurst:                    100,
		LimitMaxConcurrentSessions:    10,
		MaxBodyBytes:                  1 << 20,
		ReadHeaderTimeout:             5 * time.Second,
		ReadTimeout:                   10 * time.Second,
		ShutdownGracePeriod:           time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := New(testConfig(), nil, Options{
		Agents: agents.NewStatic(agents.Agent{
			ID:               "agent_1",
			Name:             "Support",
			BaseInstructions: "Help people.",
			ToolLogic:        map[string]string{tools.EndConversationTool: tools.EndConversationTool},
		}),
		Minter: stubMinter{},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path, apiKey string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, body := get(t, ts, "/healthz", "")
	// Auth still applies to /healthz in required mode; only the rate
	// limiter exempts it. Callers probe with their key.
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /healthz = %d, body %s", resp.StatusCode, body)
	}
	resp, body = get(t, ts, "/healthz", "sk_test")
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestNegotiateThroughFullChain(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/realtime/sessions", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer sk_test")
	req.Header.Set(broker.AgentIDHeader, "agent_1")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var grant broker.SessionGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		t.Fatal(err)
	}
	if grant.ClientSecret != "ek_stub" || !strings.HasPrefix(grant.SessionID, "sess_") {
		t.Fatalf("grant = %+v", grant)
	}
}

func TestNegotiateRejectsBadKey(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/realtime/sessions", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer sk_wrong")
	req.Header.Set(broker.AgentIDHeader, "agent_1")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, _ := get(t, ts, "/v1/nope", "sk_test")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHistoryWithoutPersistenceIs404(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, body := get(t, ts, "/v1/sessions/sess_unknown/history", "sk_test")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
}
