package profilestore

import (
	"sync"
	"time"

	"github.com/sells-group/profile-service/internal/model"
)

// FrontCache is the bounded in-memory read cache in front of the persistent
// store. It is constructed once at service start and injected; there is no
// ambient global. Its TTL is a read-performance knob, deliberately shorter
// than any per-source TTL; it is not a freshness guarantee.
//
// Eviction is oldest-inserted-first: when the bound is exceeded, entries are
// dropped in insertion order until the cache fits.
type FrontCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*cacheEntry
	order      []string
	now        func() time.Time
}

type cacheEntry struct {
	profile    *model.ConsolidatedProfile
	insertedAt time.Time
}

// NewFrontCache creates a cache holding at most maxEntries profiles, each
// valid for ttl after insertion.
func NewFrontCache(maxEntries int, ttl time.Duration) *FrontCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FrontCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*cacheEntry),
		now:        time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (c *FrontCache) WithNow(now func() time.Time) *FrontCache {
	c.now = now
	return c
}

// Get returns the cached profile for entityKey if present and within the
// cache TTL. Expired entries are dropped on access.
func (c *FrontCache) Get(entityKey string) (*model.ConsolidatedProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[entityKey]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		c.removeLocked(entityKey)
		return nil, false
	}
	return e.profile, true
}

// Set inserts or replaces the cached profile and enforces the size bound.
// A replaced key moves to the back of the eviction order.
func (c *FrontCache) Set(entityKey string, p *model.ConsolidatedProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[entityKey]; ok {
		c.removeLocked(entityKey)
	}
	c.entries[entityKey] = &cacheEntry{profile: p, insertedAt: c.now()}
	c.order = append(c.order, entityKey)

	for len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.removeLocked(oldest)
	}
}

// Evict removes one entry.
func (c *FrontCache) Evict(entityKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(entityKey)
}

// Len reports the current entry count.
func (c *FrontCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached entity keys in insertion order.
func (c *FrontCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *FrontCache) removeLocked(entityKey string) {
	if _, ok := c.entries[entityKey]; !ok {
		return
	}
	delete(c.entries, entityKey)
	for i, k := range c.order {
		if k == entityKey {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
