package probe

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	mp4 "github.com/tetsuo/mp4probe"
)

type cacheKey struct {
	sum uint64
	n   int
}

func (k cacheKey) String() string {
	return strconv.FormatUint(k.sum, 16) + ":" + strconv.Itoa(k.n)
}

// cache memoizes parsed files by buffer content. Cached files are never
// mutated, so they can be shared between queries. When full, the oldest
// entry is evicted.
type cache struct {
	max   int
	group singleflight.Group

	mu      sync.RWMutex
	entries map[cacheKey]*mp4.File
	order   []cacheKey
}

func newCache(size int) *cache {
	return &cache{
		max:     size,
		entries: make(map[cacheKey]*mp4.File, size),
	}
}

// get returns the cached file for buf or parses it. Concurrent misses for
// the same content share one parse. Failures are not cached.
func (c *cache) get(buf []byte, parse func([]byte) (*mp4.File, error)) (*mp4.File, error) {
	key := cacheKey{sum: xxhash.Sum64(buf), n: len(buf)}

	c.mu.RLock()
	f, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		f, err := parse(buf)
		if err != nil {
			return nil, err
		}
		c.put(key, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mp4.File), nil
}

func (c *cache) put(key cacheKey, f *mp4.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.order) >= c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = f
	c.order = append(c.order, key)
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
