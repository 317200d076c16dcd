package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fixedClock pins the memory store's notion of now for window tests.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(start time.Time) (*MemoryStore, *fixedClock) {
	clock := &fixedClock{t: start}
	s := NewMemoryStore()
	s.now = clock.now
	return s, clock
}

func TestLimiter_EnforcesQuotaExactly(t *testing.T) {
	store, _ := newTestStore(time.Unix(1_700_000_000, 0))
	l := NewLimiter(store, []Tier{{Name: "free", Limit: 3, Window: time.Hour}})
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		d, err := l.Check(ctx, "client-a", "free")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected within quota", i)
		}
		if d.Remaining != 3-i {
			t.Fatalf("remaining after %d = %d; want %d", i, d.Remaining, 3-i)
		}
	}

	// Request quota+1 is rejected, never granted.
	d, err := l.Check(ctx, "client-a", "free")
	if err != nil {
		t.Fatalf("check over quota: %v", err)
	}
	if d.Allowed {
		t.Fatal("request above quota was allowed")
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining over quota = %d; want 0", d.Remaining)
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	store, clock := newTestStore(start)
	l := NewLimiter(store, []Tier{{Name: "free", Limit: 1, Window: time.Minute}})
	ctx := context.Background()

	if d, _ := l.Check(ctx, "c", "free"); !d.Allowed {
		t.Fatal("first request rejected")
	}
	if d, _ := l.Check(ctx, "c", "free"); d.Allowed {
		t.Fatal("second request in same window allowed")
	}

	// After the window elapses the counter starts fresh.
	clock.advance(2 * time.Minute)
	d, err := l.Check(ctx, "c", "free")
	if err != nil {
		t.Fatalf("check after reset: %v", err)
	}
	if !d.Allowed {
		t.Fatal("request after window reset rejected")
	}
}

func TestLimiter_ClientsCountedIndependently(t *testing.T) {
	store, _ := newTestStore(time.Unix(1_700_000_000, 0))
	l := NewLimiter(store, []Tier{{Name: "free", Limit: 1, Window: time.Hour}})
	ctx := context.Background()

	if d, _ := l.Check(ctx, "a", "free"); !d.Allowed {
		t.Fatal("client a first request rejected")
	}
	if d, _ := l.Check(ctx, "b", "free"); !d.Allowed {
		t.Fatal("client b affected by client a's window")
	}
}

func TestLimiter_UnknownTierFallsBackToFirst(t *testing.T) {
	store, _ := newTestStore(time.Unix(1_700_000_000, 0))
	l := NewLimiter(store, []Tier{
		{Name: "free", Limit: 1, Window: time.Hour},
		{Name: "premium", Limit: 100, Window: time.Hour},
	})
	ctx := context.Background()

	// A key bound to a removed tier degrades to the most restrictive policy.
	if d, _ := l.Check(ctx, "x", "gone-tier"); d.Limit != 1 {
		t.Fatalf("fallback limit = %d; want 1", d.Limit)
	}
}

func TestMemoryStore_EpochAlignedReset(t *testing.T) {
	start := time.Unix(1_700_000_000, 0).Add(10 * time.Second)
	store, _ := newTestStore(start)

	_, reset, err := store.Incr(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	want := start.Truncate(time.Minute).Add(time.Minute)
	if !reset.Equal(want) {
		t.Fatalf("reset = %v; want %v (epoch aligned)", reset, want)
	}
}

// failingStore simulates a counting backend outage.
type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("backend down")
}

func TestLimiter_StoreFailurePropagates(t *testing.T) {
	l := NewLimiter(failingStore{}, []Tier{{Name: "free", Limit: 1, Window: time.Hour}})
	if _, err := l.Check(context.Background(), "c", "free"); err == nil {
		t.Fatal("store failure must propagate, not grant access")
	}
}
