// Package cache provides a generic, thread-safe cache bounded by both
// entry count (LRU eviction) and per-entry time-to-live.
//
// Expiry is enforced lazily: every cache operation first sweeps expired
// entries, so size and membership queries never report an expired entry
// as present. There is no background cleanup goroutine; observable
// eviction timing is tied to cache operations only.
//
// Eviction callbacks run while the cache lock is held, so a callback and
// the removal that triggered it form one atomic unit with respect to all
// other cache operations. Callbacks must not call back into the cache.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// EvictReason describes why an entry left the cache.
type EvictReason int

const (
	// ReasonCapacity means the entry was the least recently used when the
	// cache was full and a new key arrived.
	ReasonCapacity EvictReason = iota
	// ReasonExpired means the entry's TTL elapsed.
	ReasonExpired
	// ReasonDeleted means the entry was removed explicitly.
	ReasonDeleted
	// ReasonCleared means the whole cache was cleared.
	ReasonCleared
)

// String returns the string representation of EvictReason.
func (r EvictReason) String() string {
	switch r {
	case ReasonCapacity:
		return "capacity"
	case ReasonExpired:
		return "expired"
	case ReasonDeleted:
		return "deleted"
	case ReasonCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// EvictCallback is called when an entry is removed from the cache for any
// reason. It runs with the cache lock held.
type EvictCallback[V any] func(key string, value V, reason EvictReason)

// UpdateFunc computes the new value for a key inside the cache lock.
// old is the current value (zero value if !exists). Returning an error
// aborts the update and leaves the cache unchanged.
type UpdateFunc[V any] func(old V, exists bool) (V, error)

// entry is an element of the LRU list.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is a size- and time-bounded mapping from string keys to values.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element // key -> list element
	order   *list.List               // doubly-linked list for LRU ordering
	stats   *Statistics
	evictFn EvictCallback[V]
	now     func() time.Time
}

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*Cache[V])

// WithEvictionCallback sets a callback invoked for every entry removal.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *Cache[V]) {
		c.evictFn = fn
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache holding at most maxSize entries, each expiring ttl
// after its last write or access. A ttl <= 0 disables time-based expiry.
func New[V any](maxSize int, ttl time.Duration, opts ...Option[V]) (*Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "New",
			"maxSize must be positive")
	}

	c := &Cache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Get retrieves a value by key, refreshing its TTL and LRU position.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		return zero, false
	}

	e := element.Value.(*entry[V])
	c.touchLocked(element, e)
	c.stats.Hit()
	return e.value, true
}

// Set stores a value with the given key. Returns true if a new entry was
// created, false if an existing entry was updated.
func (c *Cache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	if element, exists := c.items[key]; exists {
		e := element.Value.(*entry[V])
		e.value = value
		c.touchLocked(element, e)
		c.stats.Set()
		return false, nil
	}

	c.insertLocked(key, value)
	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	return true, nil
}

// Update atomically reads, computes, and stores the value for a key.
// fn runs with the cache lock held; if it returns an error nothing is
// mutated and the error is returned. Returns the stored value and whether
// the key existed before the call.
func (c *Cache[V]) Update(key string, fn UpdateFunc[V]) (V, bool, error) {
	var zero V
	if err := validateKey(key); err != nil {
		return zero, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	element, exists := c.items[key]
	var old V
	if exists {
		old = element.Value.(*entry[V]).value
	}

	// fn runs before any eviction: a failed compute must not cost an
	// unrelated entry its place. insertLocked evicts the LRU victim, under
	// this same lock, only once there is a value to insert.
	value, err := fn(old, exists)
	if err != nil {
		return zero, exists, err
	}

	if exists {
		e := element.Value.(*entry[V])
		e.value = value
		c.touchLocked(element, e)
	} else {
		c.insertLocked(key, value)
	}
	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	return value, exists, nil
}

// Delete removes an entry by key. Returns true if the key existed.
func (c *Cache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	element, exists := c.items[key]
	if !exists {
		return false, nil
	}

	c.removeLocked(element, ReasonDeleted)
	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	return true, nil
}

// Contains reports whether key is present and unexpired.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	_, exists := c.items[key]
	return exists
}

// Size returns the number of unexpired entries in the cache.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.items)
}

// Keys returns all unexpired keys in LRU order (most recently used first).
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*entry[V]).key)
	}
	return keys
}

// Values returns all unexpired values in LRU order (most recently used
// first) without refreshing TTLs or LRU positions.
func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	values := make([]V, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		values = append(values, element.Value.(*entry[V]).value)
	}
	return values
}

// Clear removes all entries from the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for element := c.order.Back(); element != nil; {
		prev := element.Prev()
		c.removeLocked(element, ReasonCleared)
		element = prev
	}
	c.stats.UpdateSize(0)
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() *Statistics {
	return c.stats
}

// touchLocked refreshes an entry's expiry and moves it to the LRU front.
// Must be called with the lock held.
func (c *Cache[V]) touchLocked(element *list.Element, e *entry[V]) {
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.order.MoveToFront(element)
}

// insertLocked adds a new entry, evicting the LRU entry first if the
// cache is full. Must be called with the lock held.
func (c *Cache[V]) insertLocked(key string, value V) {
	if len(c.items) >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest, ReasonCapacity)
			c.stats.Eviction()
		}
	}

	e := &entry[V]{key: key, value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.items[key] = c.order.PushFront(e)
}

// sweepLocked removes every expired entry. Must be called with the lock
// held; runs at the head of each cache operation.
func (c *Cache[V]) sweepLocked() {
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	removed := 0
	for element := c.order.Back(); element != nil; {
		e := element.Value.(*entry[V])
		prev := element.Prev()
		if now.After(e.expiresAt) {
			c.removeLocked(element, ReasonExpired)
			removed++
		}
		element = prev
	}
	if removed > 0 {
		for i := 0; i < removed; i++ {
			c.stats.Eviction()
		}
		c.stats.UpdateSize(int64(len(c.items)))
	}
}

// removeLocked removes an element from both the list and map and fires
// the eviction callback. Must be called with the lock held.
func (c *Cache[V]) removeLocked(element *list.Element, reason EvictReason) {
	e := element.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(element)

	if c.evictFn != nil {
		c.evictFn(e.key, e.value, reason)
	}
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
