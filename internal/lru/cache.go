// Package lru implements a thread-safe LRU cache whose entries expire.
//
// Get, Put and Delete are O(1): a map indexes nodes of a doubly linked
// list ordered from most to least recently used.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time // zero means never
	prev      *node[K, V]
	next      *node[K, V]
}

// Cache is a fixed-capacity LRU cache with an optional per-entry TTL.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // sentinel, most recent side
	tail     *node[K, V] // sentinel, least recent side

	hits, misses uint64
}

// New creates a cache holding at most capacity entries. A ttl of zero
// keeps entries until they are evicted.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head
	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
}

// Get returns the value for key when present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if c.expired(n) {
		c.unlink(n)
		delete(c.items, key)
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.unlink(n)
	c.pushFront(n)
	return n.val, true
}

// Put inserts or refreshes key, evicting the least recently used entry
// when full. It reports whether an eviction happened.
func (c *Cache[K, V]) Put(key K, val V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expiresAt = exp
		c.unlink(n)
		c.pushFront(n)
		return false
	}

	evicted := false
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.key)
		evicted = true
	}

	n := &node[K, V]{key: key, val: val, expiresAt: exp}
	c.items[key] = n
	c.pushFront(n)
	return evicted
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.items, key)
	return true
}

// Len returns the number of entries, expired ones included until touched.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the hit and miss counts.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

func (c *Cache[K, V]) expired(n *node[K, V]) bool {
	return !n.expiresAt.IsZero() && !c.now().Before(n.expiresAt)
}

// caller holds mu
func (c *Cache[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

// caller holds mu
func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}
