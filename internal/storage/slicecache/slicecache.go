// Package slicecache caches byte slices read from object storage, keyed by
// (path, range), so repeated hotcache/footer/docstore reads over the same
// split object don't round-trip to storage (spec.md §4.10).
package slicecache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wessley-search/splitcore/internal/model"
)

// Key identifies one cached slice.
type Key struct {
	Path  string
	Range model.ByteRange
}

// Cache is a byte-budget-bounded, read-through-only slice cache. Add never
// admits an entry individually larger than the configured capacity; when an
// admissible entry would exceed the remaining budget, the least-recently-used
// entries are evicted (the underlying LRU's own recency order) until it fits.
type Cache struct {
	lru      *lru.Cache[Key, []byte]
	capacity int64 // 0 means unbounded
	used     atomic.Int64
}

// New builds a size-bounded cache. capacity is the total byte budget; 0
// means unbounded (used for the hotcache-footer cache per spec.md §4.10).
func New(capacity int64) *Cache {
	c := &Cache{capacity: capacity}
	// maxEntries bounds map growth only; the real admission control is the
	// byte-budget tracked in used, enforced in Add via onEvict.
	const maxEntries = 1 << 20
	evictList, err := lru.NewWithEvict[Key, []byte](maxEntries, func(_ Key, value []byte) {
		c.used.Add(-int64(len(value)))
	})
	if err != nil {
		// maxEntries is a positive constant; NewWithEvict only errors on
		// size <= 0.
		panic(err)
	}
	c.lru = evictList
	return c
}

// NewUnbounded builds a cache with no byte-budget ceiling, for the hotcache
// footer cache (spec.md §4.10).
func NewUnbounded() *Cache { return New(0) }

// Get returns a cached slice, if present.
func (c *Cache) Get(key Key) ([]byte, bool) {
	return c.lru.Get(key)
}

// Add inserts value under key, evicting least-recently-used entries until
// the byte budget is respected. An entry individually larger than capacity
// is never admitted.
func (c *Cache) Add(key Key, value []byte) {
	if c.capacity > 0 && int64(len(value)) > c.capacity {
		return
	}
	if _, ok := c.lru.Peek(key); ok {
		// Remove fires the eviction callback, which releases the old size.
		c.lru.Remove(key)
	}
	if c.capacity > 0 {
		for c.used.Load()+int64(len(value)) > c.capacity {
			if _, _, ok := c.lru.RemoveOldest(); !ok {
				break
			}
		}
	}
	c.lru.Add(key, value)
	c.used.Add(int64(len(value)))
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// UsedBytes reports the current byte budget in use.
func (c *Cache) UsedBytes() int64 { return c.used.Load() }
