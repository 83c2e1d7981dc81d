// Package memory implements research.Cache in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/company-research/internal/research"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a TTL map. Expired entries are dropped lazily on read.
type Cache struct {
	mu      sync.Mutex
	clock   research.Clock
	entries map[string]entry
}

// New builds an empty cache. A nil clock uses wall time.
func New(clock research.Clock) *Cache {
	return &Cache{clock: clock, entries: make(map[string]entry)}
}

// Get implements research.Cache.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements research.Cache. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}
	return c.clock.Now()
}
