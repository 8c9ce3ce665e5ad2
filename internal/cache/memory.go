package cache

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

type memoryEntry struct {
	outcome   ClaimOutcome
	expiresAt time.Time
}

// MemoryIdempotencyCache is a process-local cache for single-instance
// deployments. Entries expire by TTL; when the map outgrows maxEntries a
// sweep drops everything already expired.
type MemoryIdempotencyCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

func NewMemoryIdempotencyCache() *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
}

func (c *MemoryIdempotencyCache) Lookup(_ context.Context, key string) (*ClaimOutcome, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := entry.outcome
	return &out, true, nil
}

func (c *MemoryIdempotencyCache) Store(_ context.Context, key string, outcome *ClaimOutcome, ttl time.Duration) error {
	if key == "" || outcome == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
	}
	c.entries[key] = memoryEntry{
		outcome:   *outcome,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryIdempotencyCache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
