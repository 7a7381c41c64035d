package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/realtime/tools"
)

func TestComposedInstructions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		agent Agent
		want  string
	}{
		{
			name: "all layers",
			agent: Agent{
				BaseInstructions: "You are a support agent.",
				KnowledgeBase:    "Hours: 9-5.",
				MetaInstructions: "Keep replies short.",
			},
			want: "You are a support agent.\n\nHours: 9-5.\n\nKeep replies short.",
		},
		{
			name: "empty layers skipped",
			agent: Agent{
				BaseInstructions: "Base only.",
				KnowledgeBase:    "  ",
			},
			want: "Base only.",
		},
		{
			name:  "all empty",
			agent: Agent{},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.agent.ComposedInstructions(); got != tt.want {
				t.Fatalf("ComposedInstructions = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEffectiveToolsAddsHangup(t *testing.T) {
	t.Parallel()

	a := Agent{ID: "a1", Tools: []tools.Definition{{Name: "lookup"}}}
	defs, err := a.EffectiveTools()
	if err != nil {
		t.Fatalf("EffectiveTools: %v", err)
	}
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		names[def.Name] = true
	}
	if !names["lookup"] || !names[tools.EndConversationTool] {
		t.Fatalf("tool names = %v", names)
	}

	// An agent that declares its own hangup tool does not get a second.
	a.Tools = append(a.Tools, tools.EndConversationDefinition())
	defs, err = a.EffectiveTools()
	if err != nil {
		t.Fatalf("EffectiveTools with explicit hangup: %v", err)
	}
	count := 0
	for _, def := range defs {
		if def.Name == tools.EndConversationTool {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("hangup declared %d times", count)
	}
}

func TestEffectiveToolsRejectsDuplicates(t *testing.T) {
	t.Parallel()

	a := Agent{ID: "a1", Tools: []tools.Definition{{Name: "x"}, {Name: "x"}}}
	if _, err := a.EffectiveTools(); err == nil {
		t.Fatal("duplicate tool names accepted")
	}
}

func TestStaticRegistry(t *testing.T) {
	t.Parallel()

	reg := NewStatic(Agent{ID: "a1", Name: "Support"})
	if _, err := reg.Get(context.Background(), "a1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := reg.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type countingRegistry struct {
	mu    sync.Mutex
	calls int
	inner Registry
}

func (r *countingRegistry) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.inner.Get(ctx, id)
}

func (r *countingRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestCacheTTLAndInvalidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counting := &countingRegistry{inner: NewStatic(Agent{ID: "a1"})}
	cache := NewCache(counting, time.Minute, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	if _, err := cache.Get(ctx, "a1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(ctx, "a1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if counting.count() != 1 {
		t.Fatalf("inner calls = %d, want second hit served from cache", counting.count())
	}

	// Past the TTL the entry is refetched.
	now = now.Add(2 * time.Minute)
	if _, err := cache.Get(ctx, "a1"); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if counting.count() != 2 {
		t.Fatalf("inner calls = %d, want refetch after ttl", counting.count())
	}

	cache.Invalidate("a1")
	if _, err := cache.Get(ctx, "a1"); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if counting.count() != 3 {
		t.Fatalf("inner calls = %d, want refetch after invalidate", counting.count())
	}
}

func TestCacheDoesNotCacheMisses(t *testing.T) {
	t.Parallel()

	counting := &countingRegistry{inner: NewStatic()}
	cache := NewCache(counting, time.Minute)

	ctx := context.Background()
	if _, err := cache.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := cache.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if counting.count() != 2 {
		t.Fatalf("inner calls = %d, misses must not be cached", counting.count())
	}
}
