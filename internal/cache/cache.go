// Package cache holds analysis results keyed by (text, kind, options) with a
// hard entry bound, TTL expiry and least-recently-used eviction.
//
// A single mutex guards the LRU list and counters. The cache never calls out
// to other components while holding it.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Defaults applied when the corresponding constructor arguments are unset.
const (
	DefaultMaxEntries = 1000
	DefaultTTL        = time.Hour
)

type entry[V any] struct {
	key          Key
	value        V
	insertedAt   time.Time
	lastAccessAt time.Time
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Size        int     `json:"size"`
	MaxEntries  int     `json:"max_entries"`
	TTLSeconds  float64 `json:"ttl_seconds"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
}

// Cache is a bounded TTL + LRU result store. The zero value is not usable; use New.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *entry[V]]
	max int
	ttl time.Duration
	now func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// Option customizes a Cache.
type Option func(*config)

type config struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New builds a cache with room for maxEntries results that expire ttl after
// insertion. maxEntries <= 0 selects DefaultMaxEntries; ttl < 0 selects
// DefaultTTL and ttl == 0 disables expiry.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option) *Cache[V] {
	cfg := config{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl < 0 {
		ttl = DefaultTTL
	}
	// NewLRU only fails for a non-positive size, excluded above.
	l, _ := simplelru.NewLRU[string, *entry[V]](maxEntries, nil)
	return &Cache[V]{lru: l, max: maxEntries, ttl: ttl, now: cfg.now}
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) > c.ttl
}

// Get returns the cached value and marks it most recently used. Expired
// entries are removed and reported as a miss, as are entries stored for a
// different input under the same ID.
func (c *Cache[V]) Get(key Key) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.lru.Peek(key.ID)
	if !ok || e.key != key {
		c.misses++
		return zero, false
	}
	if c.expired(e, now) {
		c.lru.Remove(key.ID)
		c.expirations++
		c.misses++
		return zero, false
	}
	c.lru.Get(key.ID) // promote
	e.lastAccessAt = now
	c.hits++
	return e.value, true
}

// Put stores value under key, replacing any previous entry. When the cache is
// full the least recently used entry is evicted.
func (c *Cache[V]) Put(key Key, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e := &entry[V]{key: key, value: value, insertedAt: now, lastAccessAt: now}
	if evicted := c.lru.Add(key.ID, e); evicted {
		c.evictions++
	}
}

// Clear drops every entry. Counters are kept so hit rates survive an admin clear.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Len returns the number of stored entries, including ones that expired but
// have not been observed yet. Call Prune first for an exact live count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Prune removes all expired entries and returns how many were dropped.
func (c *Cache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	n := 0
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && c.expired(e, now) {
			c.lru.Remove(k)
			n++
		}
	}
	c.expirations += uint64(n)
	return n
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:        c.lru.Len(),
		MaxEntries:  c.max,
		TTLSeconds:  c.ttl.Seconds(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
