// Package l1 implements the in-process bounded LRU cache tier: capacity
// bounded both by entry count and by an aggregate memory estimate, backed by
// github.com/hashicorp/golang-lru/v2 for the eviction-ordered map/list.
package l1

import (
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is the value stored in the underlying LRU list.
type entry struct {
	value interface{}
	size  int64
}

// Cache is a thread-safe LRU cache bounded by both entry count and
// aggregate byte size. Get promotes the accessed key to the MRU end; Set
// inserts, then evicts LRU entries until both invariants hold.
type Cache struct {
	mu       sync.Mutex
	inner    *lru.Cache[string, *entry]
	maxBytes int64
	curBytes int64
}

// New creates a Cache bounded by maxEntries (count) and maxBytes (aggregate
// estimated size). maxEntries <= 0 defaults to 10000; maxBytes <= 0 means no
// byte cap (count-only eviction).
func New(maxEntries int, maxBytes int64) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	c := &Cache{maxBytes: maxBytes}

	inner, err := lru.NewWithEvict[string, *entry](maxEntries, func(_ string, e *entry) {
		c.curBytes -= e.size
	})
	if err != nil {
		// Only returned by golang-lru when size <= 0, which New guards against.
		panic(err)
	}
	c.inner = inner
	return c
}

// Get returns the cached value for key, promoting it to the MRU end.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set inserts or updates key with value. If size <= 0, a structural estimate
// is computed. Existing LRU entries are evicted until both the entry-count
// and aggregate-byte invariants hold.
func (c *Cache) Set(key string, value interface{}, size int64) {
	if size <= 0 {
		size = EstimateSize(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.inner.Peek(key); ok {
		c.curBytes -= old.size
	}

	c.inner.Add(key, &entry{value: value, size: size})
	c.curBytes += size

	if c.maxBytes > 0 {
		for c.curBytes > c.maxBytes && c.inner.Len() > 0 {
			if _, _, ok := c.inner.RemoveOldest(); !ok {
				break
			}
		}
	}
}

// Delete removes key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inner.Remove(key)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inner.Purge()
	c.curBytes = 0
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.Len()
}

// Bytes returns the current aggregate estimated size of all cached entries.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.curBytes
}

// Keys returns the cached keys ordered from LRU to MRU, for tests and
// diagnostics. Does not affect recency.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.Keys()
}

const structOverheadBytes = 48

// EstimateSize computes a cheap, stable structural size estimate for values
// stored without an explicit size hint. Byte slices and strings are measured
// directly; everything else falls back to a fixed per-entry overhead plus,
// for slices/maps, a shallow length-based estimate.
func EstimateSize(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return structOverheadBytes
	case []byte:
		return int64(len(v)) + structOverheadBytes
	case string:
		return int64(len(v)) + structOverheadBytes
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elemSize := int64(8)
		if rv.Len() > 0 {
			elemSize = int64(rv.Type().Elem().Size())
		}
		return int64(rv.Len())*elemSize + structOverheadBytes
	case reflect.Map:
		return int64(rv.Len())*64 + structOverheadBytes
	case reflect.Ptr:
		if rv.IsNil() {
			return structOverheadBytes
		}
		return EstimateSize(rv.Elem().Interface()) + 8
	default:
		return int64(rv.Type().Size()) + structOverheadBytes
	}
}
