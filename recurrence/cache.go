package recurrence

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"tempocal/storage"
)

// cacheEntry represents one cached expansion result
type cacheEntry struct {
	Dates      []storage.Date
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// resultCache caches expansion results keyed by rule, anchor and range
type resultCache struct {
	entries         map[string]*cacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

func newResultCache(config CacheConfig) *resultCache {
	cache := &resultCache{
		entries:         make(map[string]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if cache.cleanupInterval > 0 {
		go cache.cleanupLoop()
	}

	return cache
}

// cacheKey hashes the parameters that determine an expansion result
func cacheKey(rule string, anchor, rangeStart, rangeEnd storage.Date) string {
	hasher := sha256.New()
	hasher.Write([]byte(rule))
	hasher.Write([]byte(anchor.String()))
	hasher.Write([]byte(rangeStart.String()))
	hasher.Write([]byte(rangeEnd.String()))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *resultCache) Get(rule string, anchor, rangeStart, rangeEnd storage.Date) ([]storage.Date, bool) {
	key := cacheKey(rule, anchor, rangeStart, rangeEnd)

	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.ExpiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.AccessedAt = now
	c.mutex.Unlock()

	return entry.Dates, true
}

// Set stores an expansion result
func (c *resultCache) Set(rule string, anchor, rangeStart, rangeEnd storage.Date, dates []storage.Date) {
	key := cacheKey(rule, anchor, rangeStart, rangeEnd)
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = &cacheEntry{
		Dates:      dates,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}
}

// evictOldestLocked removes the least recently accessed entry
func (c *resultCache) evictOldestLocked() {
	oldestKey := ""
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.AccessedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.AccessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// cleanupLoop periodically removes expired entries
func (c *resultCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *resultCache) cleanup() {
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached entries
func (c *resultCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine
func (c *resultCache) Close() {
	close(c.stopCleanup)
}
