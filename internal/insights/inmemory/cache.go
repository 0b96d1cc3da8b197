// Package inmemory provides in-memory insight stores for single-instance
// deployments and tests. Data is lost on restart.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-insights/internal/insights"
)

// Cache is an in-memory CacheStore. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*insights.CacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*insights.CacheEntry)}
}

// Get implements the CacheStore interface.
func (c *Cache) Get(ctx context.Context, key string) (*insights.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	// Return a copy to avoid external modifications
	entryCopy := *entry
	return &entryCopy, nil
}

// Put implements the CacheStore interface.
// An existing entry keeps its payload; insights and expiry are replaced.
func (c *Cache) Put(ctx context.Context, entry *insights.CacheEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("cache key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entryCopy := *entry
	if existing, ok := c.entries[entry.Key]; ok && existing.Payload != nil {
		entryCopy.Payload = existing.Payload
	}
	c.entries[entry.Key] = &entryCopy
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure Cache implements CacheStore interface.
var _ insights.CacheStore = (*Cache)(nil)
