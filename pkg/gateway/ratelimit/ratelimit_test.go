package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestTokenBucketRefill(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 2, Burst: 2})
	now := time.Unix(1000, 0)

	for i := 0; i < 2; i++ {
		if d := l.AcquireRequest("p1", now); !d.Allowed {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	d := l.AcquireRequest("p1", now)
	if d.Allowed {
		t.Fatal("allowed past burst")
	}
	if d.RetryAfter < 1 {
		t.Fatalf("retry after = %d", d.RetryAfter)
	}

	// Half a second at 2 rps refills one token.
	if d := l.AcquireRequest("p1", now.Add(500*time.Millisecond)); !d.Allowed {
		t.Fatal("denied after refill")
	}
}

func TestPrincipalsIsolated(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	now := time.Unix(1000, 0)

	if d := l.AcquireRequest("p1", now); !d.Allowed {
		t.Fatal("p1 denied")
	}
	if d := l.AcquireRequest("p1", now); d.Allowed {
		t.Fatal("p1 allowed past burst")
	}
	if d := l.AcquireRequest("p2", now); !d.Allowed {
		t.Fatal("p2 throttled by p1's bucket")
	}
}

func TestConcurrencyCap(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrentRequests: 2})
	now := time.Unix(1000, 0)

	d1 := l.AcquireRequest("p1", now)
	d2 := l.AcquireRequest("p1", now)
	if !d1.Allowed || !d2.Allowed {
		t.Fatal("denied within cap")
	}
	if d := l.AcquireRequest("p1", now); d.Allowed {
		t.Fatal("allowed past cap")
	}

	d1.Permit.Release()
	if d := l.AcquireRequest("p1", now); !d.Allowed {
		t.Fatal("denied after release")
	}

	// Double release must not over-credit the semaphore.
	d2.Permit.Release()
	d2.Permit.Release()
}

func TestAnonymousSharesOneBucket(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	now := time.Unix(1000, 0)

	if d := l.AcquireRequest("", now); !d.Allowed {
		t.Fatal("first anonymous request denied")
	}
	if d := l.AcquireRequest("", now); d.Allowed {
		t.Fatal("anonymous callers must share a bucket")
	}
}

func TestEntryGC(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 100, Burst: 100, MaxEntries: 2, EntryTTL: time.Minute})
	now := time.Unix(1000, 0)

	l.AcquireRequest("p1", now)
	l.AcquireRequest("p2", now)
	// p1 and p2 are stale by the time p3 arrives; the map stays bounded.
	l.AcquireRequest("p3", now.Add(2*time.Minute))

	l.mu.Lock()
	n := len(l.m)
	l.mu.Unlock()
	if n > 2 {
		t.Fatalf("limiter map grew to %d entries", n)
	}
}

func TestPrincipalKeyFromAPIKey(t *testing.T) {
	t.Parallel()

	k1 := PrincipalKeyFromAPIKey("sk_secret")
	k2 := PrincipalKeyFromAPIKey("sk_secret")
	k3 := PrincipalKeyFromAPIKey("sk_other")

	if k1 != k2 {
		t.Fatal("key derivation not deterministic")
	}
	if k1 == k3 {
		t.Fatal("distinct keys collided")
	}
	if !strings.HasPrefix(k1, "k_") || strings.Contains(k1, "sk_secret") {
		t.Fatalf("derived key leaks material: %q", k1)
	}
}
