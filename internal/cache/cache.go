// Package cache provides an in-memory key/value store with per-entry TTL and
// a memoization wrapper keyed by a canonical argument fingerprint.
//
// Expired entries are removed lazily: a Get on an expired key deletes it, and
// every Nth insertion sweeps the whole map. There is no background goroutine,
// so Size may overcount until the next sweep.
package cache

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is used by Set when the caller passes a non-positive ttl.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepEvery is the insertion cadence that triggers a sweep.
	DefaultSweepEvery = 100
)

// Entry is a single cached value with its timestamps.
type Entry struct {
	Value          any
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// expired reports whether the entry is past its expiry at now.
// An entry is still live at exactly ExpiresAt.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats holds cumulative counters for a Cache.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Insertions uint64 `json:"insertions"`
	Evictions  uint64 `json:"evictions"`
	Size       int    `json:"size"`
}

// Cache is a TTL cache safe for concurrent use. Each method is atomic on its
// own; sequences of calls (get-then-set) are not.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	defaultTTL time.Duration
	sweepEvery uint64
	now        func() time.Time

	insertions uint64
	hits       uint64
	misses     uint64
	evictions  uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL sets the TTL applied when Set is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithSweepEvery sets how many insertions pass between sweeps.
// Zero or negative disables opportunistic sweeping.
func WithSweepEvery(n int) Option {
	return func(c *Cache) {
		if n <= 0 {
			c.sweepEvery = 0
			return
		}
		c.sweepEvery = uint64(n)
	}
}

// WithClock replaces time.Now (for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		defaultTTL: DefaultTTL,
		sweepEvery: DefaultSweepEvery,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key. Expired entries are deleted and reported absent.
// A hit refreshes the entry's LastAccessedAt.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if e.expired(now) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, false
	}

	e.LastAccessedAt = now
	c.hits++
	return e.Value, true
}

// Set inserts or overwrites key. A ttl <= 0 uses the default TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	c.entries[key] = &Entry{
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}

	c.insertions++
	if c.sweepEvery > 0 && c.insertions%c.sweepEvery == 0 {
		c.sweepLocked(now)
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear removes all entries. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Size returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all expired entries now and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

// sweepLocked assumes c.mu is held.
func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

// SetDefaultTTL changes the default TTL for subsequent Set calls.
// Existing entries keep their expiry.
func (c *Cache) SetDefaultTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultTTL = d
}

// DefaultTTL returns the TTL applied when Set gets a non-positive ttl.
func (c *Cache) DefaultTTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultTTL
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Insertions: c.insertions,
		Evictions:  c.evictions,
		Size:       len(c.entries),
	}
}
