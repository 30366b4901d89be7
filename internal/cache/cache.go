// Package cache implements a bounded response cache: an LRU with per-entry
// TTL, keyed by request fingerprint, with stampede protection via
// singleflight.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

type entry struct {
	key       string
	value     model.CacheEntry
	expiresAt time.Time
}

// Cache is a bounded, process-local LRU cache with TTL expiry. It does not
// coordinate across processes.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used

	group singleflight.Group

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Cache with the given capacity and TTL. A background
// goroutine sweeps expired entries every minute; call Close to stop it.
func New(capacity int, ttl time.Duration) *Cache {
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		done:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached entry for fingerprint, or (zero, false) on a miss
// or TTL expiry. A hit promotes the entry to most-recently-used.
func (c *Cache) Get(fingerprint string) (model.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[fingerprint]
	if !ok {
		return model.CacheEntry{}, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		return model.CacheEntry{}, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Put stores value under fingerprint, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(fingerprint string, value model.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[fingerprint]; ok {
		el.Value.(*entry).value = value
		el.Value.(*entry).expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: fingerprint, value: value, expiresAt: time.Now().Add(c.ttl)})
	c.items[fingerprint] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}

// GetOrCompute looks up fingerprint and, on a miss, invokes compute exactly
// once even under concurrent callers for the same key (cache-stampede
// protection), storing and returning its result.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute func(ctx context.Context) (model.CacheEntry, error)) (model.CacheEntry, bool, error) {
	if v, ok := c.Get(fingerprint); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		return compute(ctx)
	})
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	result := v.(model.CacheEntry)
	c.Put(fingerprint, result)
	return result, false, nil
}

// Len reports the current entry count, including not-yet-swept expired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if now.After(e.expiresAt) {
			c.removeLocked(el)
		}
		el = prev
	}
}
