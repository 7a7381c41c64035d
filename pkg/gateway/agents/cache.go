package agents

import (
	"context"
	"sync"
	"time"
)

// Cache wraps a Registry with a TTL cache. The clock is injected so
// tests control expiry; Invalidate evicts explicitly when an agent's
// configuration changes out of band.
type Cache struct {
	inner Registry
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	agent   Agent
	expires time.Time
}

type CacheOption func(*Cache)

func WithClock(clock func() time.Time) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewCache(inner Registry, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		inner:   inner,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(ctx context.Context, id string) (Agent, error) {
	now := c.clock()

	c.mu.Lock()
	if entry, ok := c.entries[id]; ok && now.Before(entry.expires) {
		c.mu.Unlock()
		return entry.agent, nil
	}
	c.mu.Unlock()

	agent, err := c.inner.Get(ctx, id)
	if err != nil {
		// Misses are not cached: a just-created agent becomes resolvable
		// immediately.
		return Agent{}, err
	}

	c.mu.Lock()
	c.entries[id] = cacheEntry{agent: agent, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return agent, nil
}

func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
