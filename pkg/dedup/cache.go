package dedup

import (
	"sync"
)

// DefaultCapacity is the number of hashes kept when no capacity is configured.
const DefaultCapacity = 1000

// Cache is a bounded, insertion-ordered set of transaction hashes.
// When full, remembering a new hash evicts the oldest inserted one (FIFO).
// Lookups never change the order.
type Cache struct {
	mu sync.Mutex

	// ring holds hashes in insertion order, starting at head
	ring  []string
	head  int
	size  int
	index map[string]struct{}
}

// New creates a cache holding at most capacity hashes.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Has reports whether hash is currently remembered.
func (c *Cache) Has(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[hash]
	return ok
}

// Remember inserts hash. Remembering a present hash is a no-op.
func (c *Cache) Remember(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(hash)
}

// TryRemember atomically checks and inserts hash.
// It returns false when hash was already present.
func (c *Cache) TryRemember(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insert(hash)
}

// Len returns the number of remembered hashes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the maximum number of remembered hashes.
func (c *Cache) Capacity() int {
	return len(c.ring)
}

func (c *Cache) insert(hash string) bool {
	if _, ok := c.index[hash]; ok {
		return false
	}

	if c.size == len(c.ring) {
		// Full: the slot at head is the oldest entry and is overwritten
		delete(c.index, c.ring[c.head])
		c.ring[c.head] = hash
		c.head = (c.head + 1) % len(c.ring)
	} else {
		c.ring[(c.head+c.size)%len(c.ring)] = hash
		c.size++
	}

	c.index[hash] = struct{}{}
	return true
}
