// Package config loads and validates the gateway configuration from
// PARLEY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Remote realtime API used to mint ephemeral session credentials.
	RealtimeBaseURL string
	RealtimeAPIKey  string
	RealtimeModel   string

	// Postgres DSN for the durable session store. Empty disables
	// persistence (sessions still negotiate; flushes are dropped with a
	// warning).
	DatabaseURL string

	// Agent registry cache.
	AgentCacheTTL time.Duration

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentSessions int

	MaxBodyBytes int64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("PARLEY_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("PARLEY_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                       make(map[string]struct{}),
		RealtimeBaseURL:               envOr("PARLEY_REALTIME_BASE_URL", "https://api.openai.com"),
		RealtimeAPIKey:                strings.TrimSpace(os.Getenv("PARLEY_REALTIME_API_KEY")),
		RealtimeModel:                 envOr("PARLEY_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		DatabaseURL:                   strings.TrimSpace(os.Getenv("PARLEY_DATABASE_URL")),
		AgentCacheTTL:                 envDurationOr("PARLEY_AGENT_CACHE_TTL", time.Minute),
		CORSAllowedOrigins:            make(map[string]struct{}),
		LimitRPS:                      envFloat64Or("PARLEY_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                    envIntOr("PARLEY_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentSessions:    envIntOr("PARLEY_MAX_SESSIONS_PER_PRINCIPAL", 4),
		MaxBodyBytes:                  envInt64Or("PARLEY_MAX_BODY_BYTES", 4<<20), // 4 MiB
		ReadHeaderTimeout:             envDurationOr("PARLEY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("PARLEY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("PARLEY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("PARLEY_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("PARLEY_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("PARLEY_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("PARLEY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("PARLEY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("PARLEY_API_KEYS must be set when PARLEY_AUTH_MODE=required")
	}
	if strings.TrimSpace(cfg.RealtimeBaseURL) == "" {
		return Config{}, fmt.Errorf("PARLEY_REALTIME_BASE_URL must not be empty")
	}
	if cfg.RealtimeAPIKey == "" {
		return Config{}, fmt.Errorf("PARLEY_REALTIME_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("PARLEY_REALTIME_MODEL must not be empty")
	}
	if cfg.AgentCacheTTL <= 0 {
		return Config{}, fmt.Errorf("PARLEY_AGENT_CACHE_TTL must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("PARLEY_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("PARLEY_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentSessions < 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_SESSIONS_PER_PRINCIPAL must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
