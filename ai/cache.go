package ai

import (
	"context"
	"sync"
)

// Cache maps a question id to a previously generated value. Implementations
// never evict within a process lifetime.
type Cache interface {
	Get(ctx context.Context, questionID int) (string, bool, error)
	Put(ctx context.Context, questionID int, value string) error
}

// MemoryCache is the default process-lifetime cache. The mutex only keeps the
// map safe; concurrent misses on the same id are not coalesced.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[int]string
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[int]string)}
}

func (c *MemoryCache) Get(_ context.Context, questionID int) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[questionID]
	return v, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, questionID int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[questionID] = value
	return nil
}

// Len is the number of cached entries
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
