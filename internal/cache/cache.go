// Package cache provides the process-wide bounded TTL cache shared by
// connector facades. Keys are namespaced by purpose and connector
// instance id so facades never collide.
package cache

import (
	"container/list"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the number of live entries.
	DefaultCapacity = 10000

	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL = 60 * time.Second
)

// entry is one cached value with its expiry and LRU position.
type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a bounded LRU with per-entry TTL. All methods are safe for
// concurrent use and never block on anything but the internal mutex.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*entry
	order    *list.List

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

// New creates a cache with the given capacity and default TTL. Zero or
// negative arguments take the package defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*entry),
		order:    list.New(),
		now:      time.Now,
	}
}

// Key builds a canonical cache key: each part JSON-encoded, joined by
// "|". The first part is the purpose tag, the second the connector
// instance id.
func Key(parts ...any) string {
	encoded := make([]string, 0, len(parts))
	for _, part := range parts {
		b, err := json.Marshal(part)
		if err != nil {
			// Only unsupported Go types can fail here; fall back to a
			// non-colliding literal.
			b = []byte(`"!unencodable"`)
		}
		encoded = append(encoded, string(b))
	}
	return strings.Join(encoded, "|")
}

// Get returns the value for key if present and not expired. Expired
// entries are removed on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set stores a value under the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores a value with an explicit TTL, evicting the least
// recently used entry if the cache is full.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
		c.evictions++
	}

	e := &entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e
}

// Delete removes exactly one key. Returns true if it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// DeletePrefix removes every entry whose key starts with prefix and
// returns how many were removed.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Keys returns a snapshot of all live keys, expired entries included
// until they are touched or swept.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many were dropped.
// The daemon calls this periodically so expired entries do not pin
// capacity.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order.Init()
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// Stats reports cache effectiveness for observability.
type Stats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// GetStats returns a point-in-time snapshot of cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
