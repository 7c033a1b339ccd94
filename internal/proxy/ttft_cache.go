package proxy

import (
	"container/list"
	"sync"
	"time"
)

const (
	ttftCacheMaxSize = 10_000
	ttftCacheTTL     = 300 * time.Second
)

type ttftEntry struct {
	key       string
	recordAt  time.Time
	elem      *list.Element
}

// TTFTCache is a bounded, TTL-expiring cache mapping a flow's request ID to
// the time its first response byte was seen, per spec §9 ("TTFT tracking
// uses a bounded TTL cache keyed by flow identity to prevent leaks if a
// flow never reaches the response hook").
type TTFTCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*ttftEntry
	order   *list.List // front = most recently touched
}

// NewTTFTCache builds a cache with the spec's default bounds (maxsize
// 10000, ttl 300s).
func NewTTFTCache() *TTFTCache {
	return &TTFTCache{
		maxSize: ttftCacheMaxSize,
		ttl:     ttftCacheTTL,
		entries: make(map[string]*ttftEntry),
		order:   list.New(),
	}
}

// Mark records that requestID's first response byte arrived at t, evicting
// the oldest entry if the cache is at capacity.
func (c *TTFTCache) Mark(requestID string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[requestID]; ok {
		existing.recordAt = t
		c.order.MoveToFront(existing.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	entry := &ttftEntry{key: requestID, recordAt: t}
	entry.elem = c.order.PushFront(entry)
	c.entries[requestID] = entry
}

// TakeElapsed returns the elapsed time since requestID's marked TTFT start
// relative to now, removing the entry. ok is false if no unexpired entry
// exists.
func (c *TTFTCache) TakeElapsed(requestID string, since time.Time, now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[requestID]
	if !ok {
		return 0, false
	}
	c.removeLocked(entry)

	if now.Sub(entry.recordAt) > c.ttl {
		return 0, false
	}
	return now.Sub(entry.recordAt), true
}

func (c *TTFTCache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeLocked(oldest.Value.(*ttftEntry))
}

func (c *TTFTCache) removeLocked(entry *ttftEntry) {
	c.order.Remove(entry.elem)
	delete(c.entries, entry.key)
}

// Len reports the current entry count, for tests.
func (c *TTFTCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
