// Package respcache maps a normalized (message, locale) fingerprint to a
// previously generated reply.
//
// Eviction is strict FIFO on insertion order, not LRU: the policy is simple
// enough to audit by reading one function, which matters more here than hit
// rate. Entries are only ever written on the non-crisis pipeline path, so a
// hit implies the fingerprint was validated non-crisis at insertion time.
package respcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"companion-core/internal/metrics"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 500

// entry is one cached reply.
type entry struct {
	reply      string
	hits       int64
	insertedAt time.Time
}

// Cache is the concurrency-safe FIFO reply cache.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // element Value is a fingerprint string
	capacity int

	metrics *metrics.Metrics // nil = no metrics
	now     func() time.Time
}

// New creates a Cache. Capacities below 1 take DefaultCapacity.
// metrics may be nil.
func New(capacity int, m *metrics.Metrics) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]*entry, capacity),
		order:    list.New(),
		capacity: capacity,
		metrics:  m,
		now:      time.Now,
	}
}

// Fingerprint derives the cache key from message text and locale. The
// message is lowercased and whitespace-collapsed first so trivial
// reformattings of the same message share a key.
func Fingerprint(message, locale string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	sum := sha256.Sum256([]byte(normalized + "\x00" + strings.ToLower(locale)))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached reply for the fingerprint, if present.
func (c *Cache) Get(fingerprint string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		if c.metrics != nil {
			c.metrics.CacheMisses.Add(1)
		}
		return "", false
	}
	e.hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Add(1)
	}
	return e.reply, true
}

// Put stores a reply under the fingerprint. Existing entries keep their
// insertion-order position; only the reply text is refreshed. When the cache
// is full the oldest-inserted entry is evicted.
func (c *Cache) Put(fingerprint, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fingerprint]; ok {
		e.reply = reply
		return
	}

	for len(c.entries) >= c.capacity {
		front := c.order.Front()
		if front == nil {
			break
		}
		victim := front.Value.(string)
		c.order.Remove(front)
		delete(c.entries, victim)
		if c.metrics != nil {
			c.metrics.CacheEvictions.Add(1)
		}
	}

	c.entries[fingerprint] = &entry{reply: reply, insertedAt: c.now()}
	c.order.PushBack(fingerprint)
}

// EntryStats describes one cached reply: how often it has been served and
// when it was inserted. The reply text itself is not exposed here.
type EntryStats struct {
	Hits       int64
	InsertedAt time.Time
}

// Stats returns the stats for a fingerprint.
func (c *Cache) Stats(fingerprint string) (EntryStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return EntryStats{}, false
	}
	return EntryStats{Hits: e.hits, InsertedAt: e.insertedAt}, true
}

// Hits returns how often the fingerprint has been served. Zero for unknown
// fingerprints.
func (c *Cache) Hits(fingerprint string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fingerprint]; ok {
		return e.hits
	}
	return 0
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*entry, c.capacity)
	c.order.Init()
	c.mu.Unlock()
}
