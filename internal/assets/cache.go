package assets

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheEntries bounds the cache when no size is configured.
const DefaultCacheEntries = 8

// Cache is a bounded LRU of fetched asset bytes.
type Cache struct {
	lru *lru.Cache[string, []byte]
	mu  sync.Mutex

	// Stats
	hits   int
	misses int
}

// NewCache creates a cache holding at most entries assets.
func NewCache(entries int) (*Cache, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	l, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, ok := c.lru.Get(key)
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return data, ok
}

// Set stores an item in cache, evicting the least recently used entry when full.
func (c *Cache) Set(key string, data []byte) {
	c.lru.Add(key, data)
}

// Remove drops key.
func (c *Cache) Remove(key string) {
	c.lru.Remove(key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Clear empties the cache and resets stats.
func (c *Cache) Clear() {
	c.lru.Purge()
	c.mu.Lock()
	c.hits, c.misses = 0, 0
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
