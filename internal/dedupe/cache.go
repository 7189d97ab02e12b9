// ABOUTME: TTL cache remembering recently processed event identifiers.
// ABOUTME: Suppresses Slack webhook retries and Matrix sync replays.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Cache remembers event identifiers for a bounded time so transport-level
// redelivery (Slack retries a webhook it thinks failed, Matrix replays
// events across sync gaps) is processed at most once. Entries expire after
// the TTL, and the oldest entry is evicted when the cache hits its size cap.
// A background goroutine sweeps expired entries; call Close to stop it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// New creates a cache holding keys for ttl, capped at maxSize entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen records key and reports whether it was already present and
// unexpired. The first call for a key returns false and marks it; a
// redelivery within the TTL returns true. The check and the mark are one
// atomic step, so concurrent deliveries of the same event agree on a
// single winner.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok && now.Sub(e.seenAt) < c.ttl {
		return true
	}
	c.mark(key, now)
	return false
}

// mark inserts or refreshes key. Caller holds mu.
func (c *Cache) mark(key string, now time.Time) {
	if e, ok := c.entries[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
}

// evictOldest drops the front of the insertion order. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// sweep periodically removes expired entries so abandoned keys do not pin
// memory until the cap forces them out.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Len reports the number of live entries, expired but not yet swept
// included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
