package directory

import (
	"context"
	"sync"
	"time"

	"github.com/okian/backr/pkg/metrics"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 10000
)

// CacheOption configures a Cached resolver.
type CacheOption func(*Cached)

// WithTTL sets how long a resolved name is reused.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cached) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the cache. When full, expired entries are dropped
// first and then the cache is cleared.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cached) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithCacheClock replaces time.Now.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cached) {
		if now != nil {
			c.now = now
		}
	}
}

type cacheEntry struct {
	name    string
	expires time.Time
}

// Cached remembers successful lookups of another Resolver for a TTL.
// Failures are not cached.
type Cached struct {
	next       Resolver
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

var _ Resolver = (*Cached)(nil)

// NewCached wraps next.
func NewCached(next Resolver, opts ...CacheOption) *Cached {
	c := &Cached{
		next:       next,
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveDisplayName implements Resolver.
func (c *Cached) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		metrics.RecordDirectoryLookup("hit")
		return e.name, nil
	}
	c.mu.Unlock()
	metrics.RecordDirectoryLookup("miss")

	name, err := c.next.ResolveDisplayName(ctx, userID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[userID] = cacheEntry{name: name, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return name, nil
}

// Len returns the number of cached names.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cached) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) >= c.maxEntries {
		clear(c.entries)
	}
}
