// Package server assembles the gateway: routes, middleware chain, and
// the shared upstream HTTP client.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/parley-ai/parley/pkg/gateway/agents"
	"github.com/parley-ai/parley/pkg/gateway/config"
	"github.com/parley-ai/parley/pkg/gateway/handlers"
	"github.com/parley-ai/parley/pkg/gateway/mw"
	"github.com/parley-ai/parley/pkg/gateway/ratelimit"
	"github.com/parley-ai/parley/pkg/gateway/store"
	"github.com/parley-ai/parley/pkg/gateway/upstream"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	agents  agents.Registry
	minter  handlers.CredentialMinter
	store   store.Store
	limiter *ratelimit.Limiter
}

// Options carries the injectable collaborators. Nil fields get real
// implementations built from the config.
type Options struct {
	Agents agents.Registry
	Minter handlers.CredentialMinter
	Store  store.Store
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	minter := opts.Minter
	if minter == nil {
		minter = &upstream.Minter{
			BaseURL: cfg.RealtimeBaseURL,
			APIKey:  cfg.RealtimeAPIKey,
			HTTPClient: &http.Client{
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
					DialContext: (&net.Dialer{
						Timeout: cfg.UpstreamConnectTimeout,
					}).DialContext,
					ForceAttemptHTTP2:     true,
					MaxIdleConns:          100,
					IdleConnTimeout:       90 * time.Second,
					TLSHandshakeTimeout:   10 * time.Second,
					ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
				},
			},
			Logger: logger,
		}
	}

	registry := opts.Agents
	if registry == nil {
		registry = agents.NewStatic()
	}
	registry = agents.NewCache(registry, cfg.AgentCacheTTL)

	st := opts.Store
	if st == nil {
		st = store.Discard{Logger: logger}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		agents: registry,
		minter: minter,
		store:  st,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentSessions,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("POST /v1/realtime/sessions", handlers.NegotiateHandler{
		Agents: s.agents,
		Minter: s.minter,
		Store:  s.store,
		Model:  s.cfg.RealtimeModel,
		Logger: s.logger,
	})

	s.mux.Handle("POST /v1/sessions", handlers.SessionCreateHandler{
		Store:        s.store,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Logger:       s.logger,
	})
	s.mux.Handle("POST /v1/sessions/{id}/end", handlers.SessionEndHandler{
		Store:        s.store,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Logger:       s.logger,
	})
	s.mux.Handle("POST /v1/sessions/{id}/events", handlers.SessionEventsHandler{
		Store:        s.store,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Logger:       s.logger,
	})
	s.mux.Handle("GET /v1/sessions/{id}/history", handlers.HistoryHandler{
		Store: s.store,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
