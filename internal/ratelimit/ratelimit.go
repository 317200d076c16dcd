// Package ratelimit enforces per-client request quotas over fixed windows.
//
// Each client is bound (via its API key) to a named tier that defines a
// quota and a reset interval. Counting happens in a Store: the in-memory
// store in this file for single-process deployments, or the Redis store in
// redis.go when instances must share one global window.
//
// Windows are aligned to the epoch (now truncated to the window length), so
// a window always has a deterministic reset time independent of which
// instance or request first opened it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tier is a named quota policy bound to clients through their API key.
type Tier struct {
	Name   string
	Limit  int64         // max requests per window
	Window time.Duration // reset interval
}

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Store atomically counts one request for key within the current fixed
// window and returns the running count plus the window's reset time. The
// increment must be a single atomic operation: concurrent requests from one
// client must neither undercount (exceeding quota) nor overcount (spurious
// rejections).
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, reset time.Time, err error)
}

// Limiter resolves a client's tier and checks its quota against a Store.
type Limiter struct {
	store Store
	tiers map[string]Tier
	def   Tier
}

// NewLimiter builds a Limiter over store. The first tier in tiers acts as
// the fallback for unknown tier names, so a key pointing at a removed tier
// degrades to the most restrictive policy instead of unlimited access.
func NewLimiter(store Store, tiers []Tier) *Limiter {
	m := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		m[t.Name] = t
	}
	l := &Limiter{store: store, tiers: m}
	if len(tiers) > 0 {
		l.def = tiers[0]
	}
	return l
}

// Check counts the current request against clientID's window and reports
// whether it is within quota. No request is ever granted above the tier's
// configured ceiling; when the store errs, the error propagates and the
// caller decides (the HTTP layer fails closed with a 500, not an allow).
func (l *Limiter) Check(ctx context.Context, clientID, tierName string) (Decision, error) {
	tier, ok := l.tiers[tierName]
	if !ok {
		tier = l.def
	}
	count, reset, err := l.store.Incr(ctx, "ratelimit:client:"+clientID, tier.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit incr: %w", err)
	}
	remaining := tier.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= tier.Limit,
		Limit:     tier.Limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// window is one client's live counter in the memory store.
type window struct {
	count int64
	reset time.Time
}

// MemoryStore is a mutex-guarded fixed-window counter map for single-process
// deployments. Expired windows are evicted opportunistically during lookups
// so memory stays bounded without a background goroutine.
//
// This store is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string]*window
	cleanupN uint64

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewMemoryStore constructs an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Incr implements Store. Windows are aligned to the epoch so that the reset
// time for a given instant is deterministic.
func (s *MemoryStore) Incr(_ context.Context, key string, windowLen time.Duration) (int64, time.Time, error) {
	if windowLen <= 0 {
		windowLen = time.Hour
	}
	now := s.now()
	reset := now.Truncate(windowLen).Add(windowLen)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Opportunistic eviction of expired windows after a threshold of lookups.
	s.cleanupN++
	if s.cleanupN >= 5000 {
		for k, w := range s.windows {
			if !now.Before(w.reset) {
				delete(s.windows, k)
			}
		}
		s.cleanupN = 0
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: reset}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.reset, nil
}
