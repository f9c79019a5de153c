package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Stats holds cache hit/miss counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time // zero means no expiry
}

// Cache is a thread-safe bounded LRU cache with optional per-entry TTL.
// Get refreshes recency, so eviction removes the least recently used entry.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	order     *list.List // front = most recently used
	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a Cache with a fixed capacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a value by key. Returns false if the key was never set,
// expired, or evicted. A hit refreshes recency.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := element.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeElement(element)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(element)
	c.hits++
	return e.value, true
}

// Set stores a value. A ttl of zero means the entry never expires. At
// capacity the least recently used entry is evicted.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(element)
		return
	}

	element := c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = element

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

// Delete removes an entry by key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.removeElement(element)
	}
}

// DeletePrefix removes all entries whose key starts with prefix. Used to
// purge table-scoped list keys after a write.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, element := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(element)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
	}
}

// evictLRU removes the least recently used entry. Caller holds the mutex.
func (c *Cache) evictLRU() {
	element := c.order.Back()
	if element == nil {
		return
	}
	c.removeElement(element)
	c.evictions++
}

// removeElement removes an element from both list and map. Caller holds the mutex.
func (c *Cache) removeElement(element *list.Element) {
	e := element.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(element)
}
