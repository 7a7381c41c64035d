package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PARLEY_REALTIME_API_KEY", "sk-test")
	t.Setenv("PARLEY_API_KEYS", "key1,key2")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.RealtimeBaseURL != "https://api.openai.com" {
		t.Fatalf("RealtimeBaseURL = %q", cfg.RealtimeBaseURL)
	}
	if cfg.AgentCacheTTL != time.Minute {
		t.Fatalf("AgentCacheTTL = %v", cfg.AgentCacheTTL)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PARLEY_ADDR", ":9999")
	t.Setenv("PARLEY_AUTH_MODE", "disabled")
	t.Setenv("PARLEY_AGENT_CACHE_TTL", "5m")
	t.Setenv("PARLEY_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PARLEY_DATABASE_URL", "postgres://parley@localhost/parley")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.AgentCacheTTL != 5*time.Minute {
		t.Fatalf("AgentCacheTTL = %v", cfg.AgentCacheTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.DatabaseURL == "" {
		t.Fatal("DatabaseURL not picked up")
	}
}

func TestLoadFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		set  func(t *testing.T)
	}{
		{
			name: "missing realtime api key",
			set: func(t *testing.T) {
				t.Setenv("PARLEY_API_KEYS", "k")
			},
		},
		{
			name: "bad auth mode",
			set: func(t *testing.T) {
				setBaseEnv(t)
				t.Setenv("PARLEY_AUTH_MODE", "sometimes")
			},
		},
		{
			name: "required auth without keys",
			set: func(t *testing.T) {
				t.Setenv("PARLEY_REALTIME_API_KEY", "sk-test")
				t.Setenv("PARLEY_API_KEYS", "")
			},
		},
		{
			name: "zero cache ttl",
			set: func(t *testing.T) {
				setBaseEnv(t)
				t.Setenv("PARLEY_AGENT_CACHE_TTL", "-1s")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.set(t)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatal("LoadFromEnv succeeded, want error")
			}
		})
	}
}
