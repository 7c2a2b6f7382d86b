// Package geocache caches values keyed by coordinates, optionally snapped to
// a grid.
//
// Entries are fresh for a TTL and may be served for a further stale window
// when the upstream fails. Concurrent misses on one key share a single fetch.
package geocache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Grid is a cell size in degrees. Points in the same cell share a key.
type Grid float64

// Cell returns the key of the cell containing lat, lng.
func (g Grid) Cell(lat, lng float64) string {
	size := float64(g)
	if size <= 0 {
		return fmt.Sprintf("%g:%g", lat, lng)
	}
	return fmt.Sprintf("%d:%d", int64(math.Floor(lat/size)), int64(math.Floor(lng/size)))
}

// Config configures a Cache. TTL must be positive.
type Config struct {
	TTL time.Duration

	// StaleTTL is how long past TTL an entry can still be read through Stale.
	StaleTTL time.Duration

	// SweepInterval bounds how often Set drops entries past the stale window.
	// Default 5m.
	SweepInterval time.Duration

	// FetchTimeout bounds a coalesced fetch. The fetch does not inherit the
	// cancellation of the caller that started it. Zero means no bound.
	FetchTimeout time.Duration

	Clock clockwork.Clock
}

// Stats is a snapshot of cache occupancy.
type Stats struct {
	Entries int
	Fresh   int
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	ttl        time.Duration
	staleTTL   time.Duration
	sweepEvery time.Duration
	fetchLimit time.Duration
	clock      clockwork.Clock

	mu        sync.Mutex
	entries   map[string]entry[V]
	lastSweep time.Time

	inflight singleflight.Group
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// New creates a new cache from cfg.
func New[V any](cfg Config) *Cache[V] {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &Cache[V]{
		ttl:        cfg.TTL,
		staleTTL:   cfg.StaleTTL,
		sweepEvery: cfg.SweepInterval,
		fetchLimit: cfg.FetchTimeout,
		clock:      cfg.Clock,
		entries:    make(map[string]entry[V]),
		lastSweep:  cfg.Clock.Now(),
	}
}

// Get returns a fresh value.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.clock.Since(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stale returns a value that may be past its TTL but is inside the stale
// window, with the time it was stored.
func (c *Cache[V]) Stale(key string) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.clock.Since(e.storedAt) >= c.ttl+c.staleTTL {
		var zero V
		return zero, time.Time{}, false
	}
	return e.value, e.storedAt, true
}

// Set stores v and occasionally sweeps dead entries.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.entries[key] = entry[V]{value: v, storedAt: now}

	if now.Sub(c.lastSweep) < c.sweepEvery {
		return
	}
	c.lastSweep = now
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl+c.staleTTL {
			delete(c.entries, k)
		}
	}
}

// Coalesce runs fetch once for all concurrent callers of key. shared reports
// whether the result was produced for another caller. fetch decides itself
// whether to Set its result.
//
// fetch runs on a context carrying the values of ctx but not its
// cancellation, so a caller that gives up does not fail the others. Each
// caller stops waiting when its own ctx is done and gets ctx.Err().
func (c *Cache[V]) Coalesce(ctx context.Context, key string, fetch func(context.Context) (V, error)) (v V, shared bool, err error) {
	ch := c.inflight.DoChan(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if c.fetchLimit > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchLimit)
			defer cancel()
		}
		return fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		v, _ = res.Val.(V)
		return v, res.Shared, res.Err
	}
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Stats counts stored entries and how many of them are still fresh.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Entries: len(c.entries)}
	for _, e := range c.entries {
		if c.clock.Since(e.storedAt) < c.ttl {
			s.Fresh++
		}
	}
	return s
}
