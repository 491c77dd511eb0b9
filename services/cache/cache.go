// Package cache provides an in-memory TTL cache whose misses are populated
// through a single in-flight call per key.
package cache

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"rossoflix/internal/metrics"
)

const (
	DefaultTTL             = 60 * time.Second
	DefaultMaxEntries      = 10000
	DefaultPopulateTimeout = 30 * time.Second
)

// Options configures a Cache. Zero values fall back to the defaults above.
type Options struct {
	Name       string
	TTL        time.Duration
	MaxEntries int
	// PopulateTimeout bounds a population once it no longer follows the
	// cancellation of the caller that started it.
	PopulateTimeout time.Duration
	Clock           func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Populations uint64 `json:"populations"`
	Failures    uint64 `json:"failures"`
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

func (e entry[V]) validAt(now time.Time) bool {
	return now.Before(e.insertedAt.Add(e.ttl))
}

// Cache is safe for concurrent use. Values handed out are shared between
// callers and must be treated as read-only.
type Cache[V any] struct {
	name            string
	ttl             time.Duration
	populateTimeout time.Duration
	now             func() time.Time

	mu      sync.Mutex
	entries *simplelru.LRU[string, entry[V]]
	group   singleflight.Group

	hits        atomic.Uint64
	misses      atomic.Uint64
	populations atomic.Uint64
	failures    atomic.Uint64
}

// New creates a cache owned by the caller. It holds no goroutines unless
// RunJanitor is started.
func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.PopulateTimeout <= 0 {
		opts.PopulateTimeout = DefaultPopulateTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	lru, err := simplelru.NewLRU[string, entry[V]](opts.MaxEntries, nil)
	if err != nil {
		// only returned for a non-positive size, which is excluded above
		panic(err)
	}
	return &Cache[V]{
		name:            opts.Name,
		ttl:             opts.TTL,
		populateTimeout: opts.PopulateTimeout,
		now:             opts.Clock,
		entries:         lru,
	}
}

// TTL returns the default time-to-live used when callers pass zero.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// lookup returns a valid entry and drops an expired one.
func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !e.validAt(c.now()) {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Get returns the cached value for key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lookup(key)
	c.record(ok)
	return v, ok
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries.Add(key, entry[V]{value: value, insertedAt: c.now(), ttl: ttl})
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	c.entries.Remove(key)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until they are touched or swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// GetOrPopulate returns the valid entry for key, or runs populate to fill it.
// Concurrent misses on the same key wait for one shared populate call. Errors
// are handed to every waiter and never stored.
//
// The population is detached from ctx cancellation so that a caller going
// away does not fail the others; such a caller gets ctx.Err() immediately
// while the population continues up to the populate timeout.
func (c *Cache[V]) GetOrPopulate(ctx context.Context, key string, ttl time.Duration, populate func(context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		c.record(true)
		return v, nil
	}
	c.record(false)

	ch := c.group.DoChan(key, func() (any, error) {
		// a flight that finished between our miss and this call may have stored it
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.populateTimeout)
		defer cancel()

		c.populations.Add(1)
		v, err := populate(pctx)
		if err != nil {
			c.failures.Add(1)
			metrics.CachePopulations.WithLabelValues(c.name, "error").Inc()
			log.Printf("[cache] %s populate %q failed: %v", c.name, key, err)
			return nil, err
		}
		metrics.CachePopulations.WithLabelValues(c.name, "ok").Inc()
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Sweep drops every expired entry and reports how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && !e.validAt(now) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps on every tick until ctx is done. Expiry does not depend
// on it; it only keeps memory from holding entries nobody asks for again.
func (c *Cache[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				slog.Debug("cache sweep", "cache", c.name, "removed", removed, "remaining", c.Len())
			}
		}
	}
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:     c.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Populations: c.populations.Load(),
		Failures:    c.failures.Load(),
	}
}

func (c *Cache[V]) record(hit bool) {
	if hit {
		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues(c.name).Inc()
		return
	}
	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues(c.name).Inc()
}
