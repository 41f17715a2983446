package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry[V any] struct {
	key        string
	object     V
	loadedAt   time.Time
	lastAccess time.Time
}

// pendingLoad is an in-flight load. object and err are written once, before
// done is closed, and are read-only afterwards.
type pendingLoad[V any] struct {
	done    chan struct{}
	object  V
	err     error
	waiters int
}

// Cache is a bounded in-memory LRU of loaded objects that coalesces
// concurrent misses for the same key into a single Loader call.
//
// The entry map, the recency list and the pending set are guarded by one
// mutex, so an eviction never races a hit or another eviction. Loads run
// outside the lock.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lruList  *list.List
	pending  map[string]*pendingLoad[V]

	loader Loader[V]
	clock  clock
	logger *zap.Logger

	hits, misses, coalesced uint64
	loads, loadFailures     uint64
	evictions, expirations  uint64
}

// Resolve returns the object for key, loading it if necessary.
//
// A resident entry is returned immediately. If a load for key is already in
// flight the caller waits for its outcome instead of starting another one.
// Otherwise a new load is started. Failed loads leave nothing behind, so the
// next call retries.
//
// Cancelling ctx only stops this caller from waiting; the load itself runs
// to completion and its result is cached.
func (c *Cache[V]) Resolve(ctx context.Context, key string) (V, error) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[V])
		now := c.clock.Now()
		if !c.expired(ent, now) {
			ent.lastAccess = now
			c.lruList.MoveToFront(elem)
			c.hits++
			c.mu.Unlock()
			return ent.object, nil
		}
		c.expirations++
		c.removeElement(elem)
		c.logger.Debug("Cache entry expired", zap.String("key", key))
	}

	p, inflight := c.pending[key]
	if inflight {
		c.coalesced++
	} else {
		c.misses++
		c.loads++
		p = &pendingLoad[V]{done: make(chan struct{})}
		c.pending[key] = p
		go c.load(context.WithoutCancel(ctx), key, p)
	}
	p.waiters++
	c.mu.Unlock()

	select {
	case <-p.done:
		return p.object, p.err
	case <-ctx.Done():
		c.mu.Lock()
		p.waiters--
		c.mu.Unlock()
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) load(ctx context.Context, key string, p *pendingLoad[V]) {
	start := c.clock.Now()
	object, err := c.callLoader(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, key)
	if err != nil {
		c.loadFailures++
		c.logger.Warn("Load failed",
			zap.String("key", key),
			zap.Int("waiters", p.waiters),
			zap.Error(err),
		)
	} else {
		c.insert(key, object)
		c.logger.Info("Loaded into cache",
			zap.String("key", key),
			zap.Int("waiters", p.waiters),
			zap.Int("resident", c.lruList.Len()),
			zap.Duration("duration", c.clock.Now().Sub(start)),
		)
	}

	p.object = object
	p.err = err
	close(p.done)
}

// callLoader turns a loader panic into an error so waiters are always
// released.
func (c *Cache[V]) callLoader(ctx context.Context, key string) (object V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			object = zero
			err = fmt.Errorf("loader panic for %q: %v", key, r)
		}
	}()
	return c.loader.Load(ctx, key)
}

// insert must be called with c.mu held. Expired entries are dropped first,
// then least recently used ones until there is room.
func (c *Cache[V]) insert(key string, object V) {
	now := c.clock.Now()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.object = object
		ent.loadedAt = now
		ent.lastAccess = now
		c.lruList.MoveToFront(elem)
		return
	}

	c.sweep(now)
	for c.lruList.Len() >= c.capacity {
		c.evictOldest()
	}

	ent := &entry[V]{key: key, object: object, loadedAt: now, lastAccess: now}
	c.items[key] = c.lruList.PushFront(ent)
}

func (c *Cache[V]) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	ent := oldest.Value.(*entry[V])
	c.removeElement(oldest)
	c.evictions++
	c.logger.Info("Cache limit reached, evicting",
		zap.String("key", ent.key),
		zap.Time("last_access", ent.lastAccess),
	)
}

func (c *Cache[V]) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	delete(c.items, ent.key)
	c.lruList.Remove(elem)
}

func (c *Cache[V]) expired(ent *entry[V], now time.Time) bool {
	return c.ttl > 0 && !now.Before(ent.loadedAt.Add(c.ttl))
}

func (c *Cache[V]) sweep(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	for elem := c.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*entry[V]), now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	c.expirations += uint64(removed)
	return removed
}

// Sweep drops every expired entry and reports how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.sweep(c.clock.Now())
	if removed > 0 {
		c.logger.Debug("Swept expired entries", zap.Int("removed", removed))
	}
	return removed
}

// Resize changes the capacity, evicting least recently used entries until
// the cache fits.
func (c *Cache[V]) Resize(capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	for c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
	return nil
}

// Invalidate removes key if it is resident. An in-flight load for key is
// not affected.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Len returns the number of resident entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Peek returns a resident, unexpired object without touching its recency.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if c.expired(ent, c.clock.Now()) {
		var zero V
		return zero, false
	}
	return ent.object, true
}

// Snapshot returns a copy of the cache state for dashboards and metrics. It
// never mutates the cache: recency order, access times and counters are left
// as they were.
func (c *Cache[V]) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]EntryInfo, 0, c.lruList.Len())
	for elem := c.lruList.Front(); elem != nil; elem = elem.Next() {
		ent := elem.Value.(*entry[V])
		entries = append(entries, EntryInfo{
			Key:        ent.key,
			LoadedAt:   ent.loadedAt,
			LastAccess: ent.lastAccess,
		})
	}

	return Stats{
		Capacity:     c.capacity,
		TTL:          c.ttl,
		Entries:      entries,
		Pending:      len(c.pending),
		Hits:         c.hits,
		Misses:       c.misses,
		Coalesced:    c.coalesced,
		Loads:        c.loads,
		LoadFailures: c.loadFailures,
		Evictions:    c.evictions,
		Expirations:  c.expirations,
	}
}
