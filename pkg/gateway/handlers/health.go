package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/parley-ai/parley/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                 bool     `json:"ok"`
		AuthMode           string   `json:"auth_mode"`
		PersistenceEnabled bool     `json:"persistence_enabled"`
		Issues             []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.RealtimeAPIKey == "" {
		issues = append(issues, "realtime api key not configured")
	}
	if h.Config.RealtimeBaseURL == "" {
		issues = append(issues, "realtime base url not configured")
	}
	if h.Config.AgentCacheTTL <= 0 {
		issues = append(issues, "agent cache ttl must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:                 ok,
		AuthMode:           string(h.Config.AuthMode),
		PersistenceEnabled: h.Config.DatabaseURL != "",
		Issues:             issues,
	})
}
