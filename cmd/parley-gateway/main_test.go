package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/gateway/agents"
	"github.com/parley-ai/parley/pkg/gateway/config"
	gatewayserver "github.com/parley-ai/parley/pkg/gateway/server"
	"github.com/parley-ai/parley/pkg/gateway/store"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger, opts gatewayserver.Options) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		openStore: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
			t.Fatalf("openStore should not be called when config load fails")
			return nil, nil, nil
		},
		agents:       builtinAgents,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunGateway_StoreFailureAborts(t *testing.T) {
	t.Parallel()

	err := runGateway(context.Background(), nil, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{DatabaseURL: "postgres://x"}, nil
		},
		newGateway: func(cfg config.Config, logger *slog.Logger, opts gatewayserver.Options) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when the store fails to open")
			return nil
		},
		openStore: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
			return nil, nil, errors.New("dial refused")
		},
		agents:       builtinAgents,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestBuiltinAgentsResolvable(t *testing.T) {
	t.Parallel()

	reg := builtinAgents()
	agent, err := reg.Get(context.Background(), "demo")
	if err != nil {
		t.Fatalf("demo agent: %v", err)
	}
	if _, err := agent.EffectiveTools(); err != nil {
		t.Fatalf("effective tools: %v", err)
	}
	if _, err := reg.Get(context.Background(), "ghost"); !errors.Is(err, agents.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
