// Package cache keeps the most recent occupied-spot observation per spot.
// It only feeds the similarity exit check, so losing an entry is harmless.
package cache

import (
	"container/list"
	"sync"

	"parking-service/internal/domain/parking"
)

// Entry is the last image seen occupying a spot.
type Entry struct {
	// Hash is the 64-bit average hash of the spot crop.
	Hash uint64
	// Fingerprint is the blake3 digest of the frame and crop region the
	// hash came from. A repeat of the same bytes keeps the stored hash.
	Fingerprint string
}

type item struct {
	key   parking.SpotKey
	entry Entry
}

// LastSeen is a bounded LRU keyed by spot. Writes always win.
type LastSeen struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[parking.SpotKey]*list.Element
}

func NewLastSeen(capacity int) *LastSeen {
	if capacity <= 0 {
		capacity = 1
	}
	return &LastSeen{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[parking.SpotKey]*list.Element, capacity),
	}
}

func (c *LastSeen) Get(key parking.SpotKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*item).entry, true
}

func (c *LastSeen) Put(key parking.SpotKey, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*item).entry = e
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&item{key: key, entry: e})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*item).key)
	}
}

func (c *LastSeen) Delete(key parking.SpotKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *LastSeen) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
