// Package reportcache remembers which learned usernames the page context has
// already reported, so steady feed traffic does not re-send the same names on
// every response.
package reportcache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
)

// Cache tracks recently reported usernames with basic metrics.
type Cache interface {
	// Fresh returns the names not reported recently and records them as
	// reported. Input order is preserved.
	Fresh(names []string) []string
	// Forget drops a name so it is reported again next time.
	Forget(name string)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// reportCache is an LRU-backed Cache.
type reportCache struct {
	lru       *lru.Cache[string, struct{}]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache reports every name every time.
type disabledCache struct{}

// New creates a Cache holding up to size names. If size <= 0, a disabled
// cache is returned that never suppresses anything and tracks no metrics.
func New(size int) (Cache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	var rc reportCache
	cache, err := lru.NewWithEvict(size, func(string, struct{}) {
		atomic.AddUint64(&rc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	rc.lru = cache
	return &rc, nil
}

func (c *reportCache) Fresh(names []string) []string {
	return lo.Filter(names, func(n string, _ int) bool {
		if c.lru.Contains(n) {
			c.lru.Get(n) // refresh recency
			atomic.AddUint64(&c.hits, 1)
			return false
		}
		atomic.AddUint64(&c.misses, 1)
		c.lru.Add(n, struct{}{})
		return true
	})
}

func (c *reportCache) Forget(name string) { c.lru.Remove(name) }

func (c *reportCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *reportCache) Purge() { c.lru.Purge() }

func (c *reportCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Fresh(names []string) []string { return lo.Uniq(names) }

func (d *disabledCache) Forget(string) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ Cache = (*reportCache)(nil)
var _ Cache = (*disabledCache)(nil)
