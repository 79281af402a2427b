package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"tempocal/storage"
)

// Key derives the cache partition key for a month, e.g. "2025-5" for
// June 2025. The month component is 0-indexed; this is the wire-compatible
// month-key format, distinct from grid.MonthID's "YYYY-MM".
func Key(year int, month time.Month) string {
	return fmt.Sprintf("%d-%d", year, int(month)-1)
}

func keyOf(d storage.Date) string {
	return Key(d.Year, d.Month)
}

// MonthCache partitions dated items into per-month buckets, with a separate
// list for unscheduled items. It is owned by the Engine; readers go through
// accessors that return copies, never the internal slices.
//
// Buckets are evicted least-recently-used once the cache holds more than
// maxMonths of them. Pinned keys (months with a fetch in flight) and the
// unscheduled list are never evicted.
type MonthCache struct {
	mu          sync.RWMutex
	buckets     map[string][]storage.Item
	accessed    map[string]time.Time
	pinned      map[string]int
	unscheduled []storage.Item
	maxMonths   int
	clock       func() time.Time
}

// NewMonthCache creates a cache holding at most maxMonths buckets;
// 0 disables eviction.
func NewMonthCache(maxMonths int) *MonthCache {
	return &MonthCache{
		buckets:   make(map[string][]storage.Item),
		accessed:  make(map[string]time.Time),
		pinned:    make(map[string]int),
		maxMonths: maxMonths,
		clock:     time.Now,
	}
}

// Get returns a copy of the month's bucket. The second result is false if
// the month was never fetched; a fetched-but-empty month returns (empty,
// true).
func (c *MonthCache) Get(year int, month time.Month) ([]storage.Item, bool) {
	key := Key(year, month)

	c.mu.Lock()
	defer c.mu.Unlock()

	items, ok := c.buckets[key]
	if !ok {
		return nil, false
	}
	c.accessed[key] = c.clock()

	out := make([]storage.Item, len(items))
	copy(out, items)
	return out, true
}

// Has reports whether the month's bucket is present, without touching its
// LRU position.
func (c *MonthCache) Has(year int, month time.Month) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.buckets[Key(year, month)]
	return ok
}

// Set replaces the month's bucket wholesale with a copy of items, then
// evicts the least recently used unpinned buckets if the cache is over
// capacity.
func (c *MonthCache) Set(year int, month time.Month, items []storage.Item) {
	key := Key(year, month)

	bucket := make([]storage.Item, len(items))
	copy(bucket, items)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.buckets[key] = bucket
	c.accessed[key] = c.clock()
	c.evictLocked(key)
}

// evictLocked drops LRU buckets until the cache fits maxMonths. The bucket
// named by keep and any pinned bucket survive.
func (c *MonthCache) evictLocked(keep string) {
	if c.maxMonths <= 0 {
		return
	}
	for len(c.buckets) > c.maxMonths {
		oldest := ""
		var oldestAt time.Time
		for key := range c.buckets {
			if key == keep || c.pinned[key] > 0 {
				continue
			}
			if at := c.accessed[key]; oldest == "" || at.Before(oldestAt) {
				oldest = key
				oldestAt = at
			}
		}
		if oldest == "" {
			return
		}
		delete(c.buckets, oldest)
		delete(c.accessed, oldest)
	}
}

// Pin protects a month-key from eviction while a fetch is in flight.
func (c *MonthCache) Pin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[key]++
}

// Unpin releases a Pin.
func (c *MonthCache) Unpin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned[key] <= 1 {
		delete(c.pinned, key)
	} else {
		c.pinned[key]--
	}
}

// PatchAdd inserts a confirmed new item. Scheduled items land in their
// month's bucket only if that bucket is already present; if the month was
// never fetched the cache is left untouched and a later fetch picks the row
// up from the backend (this also covers a month whose fetch is mid-flight:
// the fetch's Set lands the authoritative rows). Unscheduled items go to the
// unscheduled list.
func (c *MonthCache) PatchAdd(item storage.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	date, ok := item.Date.Get()
	if !ok {
		c.unscheduled = upsert(c.unscheduled, item)
		return
	}

	key := keyOf(date)
	bucket, ok := c.buckets[key]
	if !ok {
		return
	}
	c.buckets[key] = upsert(bucket, item)
}

// PatchRemove deletes an item by id from the bucket its previous date maps
// to, or from the unscheduled list if it had no date. A no-op if that bucket
// was never cached.
func (c *MonthCache) PatchRemove(id uuid.UUID, previousDate mo.Option[storage.Date]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(id, previousDate)
}

// PatchUpdate applies a confirmed edit. If the item changed month (or moved
// to/from the unscheduled list) it is removed from its previous location and
// added to the new one; otherwise it is replaced in place by id.
func (c *MonthCache) PatchUpdate(item storage.Item, previousDate mo.Option[storage.Date]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevKey, hadPrev := bucketKey(previousDate)
	newKey, hasNew := bucketKey(item.Date)

	if hadPrev == hasNew && prevKey == newKey {
		// Same location: replace in place.
		if !hasNew {
			c.unscheduled = upsert(c.unscheduled, item)
			return
		}
		if bucket, ok := c.buckets[newKey]; ok {
			c.buckets[newKey] = upsert(bucket, item)
		}
		return
	}

	c.removeLocked(item.ID, previousDate)
	if !hasNew {
		c.unscheduled = upsert(c.unscheduled, item)
		return
	}
	if bucket, ok := c.buckets[newKey]; ok {
		c.buckets[newKey] = upsert(bucket, item)
	}
}

// Unscheduled returns a copy of the backlog list.
func (c *MonthCache) Unscheduled() []storage.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]storage.Item, len(c.unscheduled))
	copy(out, c.unscheduled)
	return out
}

// SetUnscheduled replaces the backlog list wholesale.
func (c *MonthCache) SetUnscheduled(items []storage.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unscheduled = make([]storage.Item, len(items))
	copy(c.unscheduled, items)
}

// Keys returns the cached month-keys in no particular order.
func (c *MonthCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.buckets))
	for key := range c.buckets {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of cached buckets.
func (c *MonthCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buckets)
}

// ResetAll clears every bucket, the unscheduled list and all LRU state.
// Used on sign-out so one user's data never leaks into the next session.
func (c *MonthCache) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buckets = make(map[string][]storage.Item)
	c.accessed = make(map[string]time.Time)
	c.unscheduled = nil
}

func (c *MonthCache) removeLocked(id uuid.UUID, date mo.Option[storage.Date]) {
	key, scheduled := bucketKey(date)
	if !scheduled {
		c.unscheduled = removeByID(c.unscheduled, id)
		return
	}
	if bucket, ok := c.buckets[key]; ok {
		c.buckets[key] = removeByID(bucket, id)
	}
}

func bucketKey(date mo.Option[storage.Date]) (string, bool) {
	d, ok := date.Get()
	if !ok {
		return "", false
	}
	return keyOf(d), true
}

// upsert replaces the item with the same id, or appends. Keeps an item from
// ever appearing twice in one bucket.
func upsert(items []storage.Item, item storage.Item) []storage.Item {
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func removeByID(items []storage.Item, id uuid.UUID) []storage.Item {
	for i := range items {
		if items[i].ID == id {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
