// Package cache holds the in-memory last-known-price map. The store remains
// the source of truth; this is a per-process optimisation reconciled from the
// store at startup.
package cache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fuelwatcher/internal/model"
	"fuelwatcher/internal/storage"
)

// Entry is the last persisted price and timestamp for one key.
type Entry struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Cache maps (station, fuel) keys to their last persisted price. All access
// is serialized by a single mutex so concurrent per-key updates cannot lose
// writes.
type Cache struct {
	mu      sync.Mutex
	entries map[model.Key]Entry
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[model.Key]Entry)}
}

// Get returns the last known price for a key, if one exists.
func (c *Cache) Get(key model.Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Put records the last persisted price for a key. Called only after a
// successful store write.
func (c *Cache) Put(key model.Key, price decimal.Decimal, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Price: price, ObservedAt: observedAt}
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load replaces the cache contents with the store's latest point per key.
// Restarts therefore neither duplicate nor miss writes for known keys.
func (c *Cache) Load(latest []storage.LatestPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[model.Key]Entry, len(latest))
	for _, lp := range latest {
		c.entries[lp.Key] = Entry{Price: lp.Price, ObservedAt: lp.ObservedAt}
	}
}
