// ABOUTME: Bounded holding area for acknowledgements that arrive before their message.
// ABOUTME: Keyed by the acknowledged message's sent timestamp; entries expire by age and count.

package receipts

import (
	"container/list"
	"sync"
	"time"

	"github.com/matheus3301/msgdb/internal/store"
)

// Entry is one acknowledgement waiting for its message. Sync entries are
// read-syncs from a linked device; At then holds the proposed expiration start.
// Otherwise At is the receipt's own timestamp.
type Entry struct {
	Author int64
	Kind   store.ReceiptKind
	Sync   bool
	At     int64
}

type entryKey struct {
	author int64
	kind   store.ReceiptKind
	sync   bool
}

func (e Entry) key() entryKey { return entryKey{author: e.Author, kind: e.Kind, sync: e.Sync} }

// slot holds every entry for one sent timestamp.
type slot struct {
	added   time.Time
	element *list.Element
	entries []Entry
}

// EarlyCache holds acknowledgements keyed by sent timestamp. It is bounded by
// the number of timestamps held and by age; the oldest timestamp is evicted
// first. Safe for concurrent use.
type EarlyCache struct {
	mu      sync.Mutex
	slots   map[int64]*slot
	order   *list.List // timestamps, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	evicted int
}

// NewEarlyCache creates a cache holding at most maxSize timestamps for ttl.
func NewEarlyCache(ttl time.Duration, maxSize int) *EarlyCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &EarlyCache{
		slots:   make(map[int64]*slot),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add records an entry under timestamp and reports whether it was new. A
// repeated (author, kind, sync) keeps the smaller At.
func (c *EarlyCache) Add(timestamp int64, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s, ok := c.slots[timestamp]
	if ok && now.Sub(s.added) > c.ttl {
		c.removeLocked(timestamp, s)
		ok = false
	}
	if !ok {
		if len(c.slots) >= c.maxSize {
			c.evictOldest()
		}
		s = &slot{added: now, element: c.order.PushBack(timestamp)}
		c.slots[timestamp] = s
	}

	for i, cur := range s.entries {
		if cur.key() == e.key() {
			if e.At < cur.At {
				s.entries[i].At = e.At
			}
			return false
		}
	}
	s.entries = append(s.entries, e)
	return true
}

// Peek returns a copy of the live entries for timestamp.
func (c *EarlyCache) Peek(timestamp int64) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[timestamp]
	if !ok {
		return nil
	}
	if c.now().Sub(s.added) > c.ttl {
		c.removeLocked(timestamp, s)
		return nil
	}
	return append([]Entry(nil), s.entries...)
}

// Remove drops the given entries from timestamp's slot, and the slot itself
// once it is empty.
func (c *EarlyCache) Remove(timestamp int64, entries ...Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[timestamp]
	if !ok {
		return
	}
	drop := make(map[entryKey]bool, len(entries))
	for _, e := range entries {
		drop[e.key()] = true
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !drop[e.key()] {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	if len(s.entries) == 0 {
		c.removeLocked(timestamp, s)
	}
}

// Len returns the number of timestamps held.
func (c *EarlyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Evicted returns how many timestamps were dropped for age or capacity.
func (c *EarlyCache) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Prune removes every expired timestamp and returns how many were dropped.
func (c *EarlyCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		ts, _ := e.Value.(int64)
		s := c.slots[ts]
		if now.Sub(s.added) <= c.ttl {
			// Insertion order is age order.
			break
		}
		c.removeLocked(ts, s)
		c.evicted++
		n++
		e = next
	}
	return n
}

// evictOldest drops the front timestamp. Must be called with mu held.
func (c *EarlyCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	ts, _ := front.Value.(int64)
	c.removeLocked(ts, c.slots[ts])
	c.evicted++
}

func (c *EarlyCache) removeLocked(timestamp int64, s *slot) {
	c.order.Remove(s.element)
	delete(c.slots, timestamp)
}
