package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-ai/parley/pkg/realtime/broker"
	"github.com/parley-ai/parley/pkg/realtime/tools"
)

func TestMintSuccess(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"client_secret":{"value":"ek_123","expires_at":1770000000}}`))
	}))
	defer srv.Close()

	m := &Minter{BaseURL: srv.URL, APIKey: "sk-test"}
	cred, err := m.Mint(context.Background(), SessionRequest{
		Model:        "gpt-4o-realtime-preview",
		Instructions: "Be brief.",
		Voice:        "alloy",
		Tools:        []tools.Definition{{Name: "lookup", Description: "find things"}},
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if cred.ClientSecret != "ek_123" {
		t.Fatalf("secret = %q", cred.ClientSecret)
	}
	if cred.ServerURL != srv.URL+"/v1/realtime?model=gpt-4o-realtime-preview" {
		t.Fatalf("server url = %q", cred.ServerURL)
	}
	if cred.ExpiresAt.IsZero() {
		t.Fatal("expiry not decoded")
	}

	if gotBody["instructions"] != "Be brief." || gotBody["voice"] != "alloy" {
		t.Fatalf("body = %v", gotBody)
	}
	toolList := gotBody["tools"].([]any)
	if len(toolList) != 1 || toolList[0].(map[string]any)["name"] != "lookup" {
		t.Fatalf("tools = %v", toolList)
	}
}

func TestMintFailsClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"upstream 500", http.StatusInternalServerError, `{}`, broker.ErrUpstreamRejected},
		{"upstream 401", http.StatusUnauthorized, `{}`, broker.ErrUpstreamRejected},
		{"no secret in response", http.StatusOK, `{"client_secret":{}}`, broker.ErrMalformedCredential},
		{"not json", http.StatusOK, `<html>`, broker.ErrMalformedCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			m := &Minter{BaseURL: srv.URL, APIKey: "sk-test"}
			_, err := m.Mint(context.Background(), SessionRequest{Model: "m"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
