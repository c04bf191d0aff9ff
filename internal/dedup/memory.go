package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the owned in-process fallback: a map of key → insertion
// time swept on a fixed interval. It is explicitly constructed and injected
// so tests can instantiate isolated instances with a virtual clock.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an in-process dedup cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Seen reports whether key was marked within the TTL window.
func (c *MemoryCache) Seen(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	insertedAt, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if c.now().Sub(insertedAt) > c.ttl {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Mark records key at the current time.
func (c *MemoryCache) Mark(_ context.Context, key string) error {
	c.mu.Lock()
	c.entries[key] = c.now()
	c.mu.Unlock()
	return nil
}

// Sweep discards entries older than the TTL and returns how many were
// removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	removed := 0
	for key, insertedAt := range c.entries {
		if insertedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run sweeps on the given interval until ctx is cancelled.
func (c *MemoryCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
