package translate

import (
	"hash/fnv"
	"io"
	"strings"
	"sync"
)

// cacheKey hashes the lowercased normalized text together with the language
// pair. NUL separators keep ("ab","c") and ("a","bc") from colliding.
func cacheKey(text, source, target string) uint64 {
	h := fnv.New64a()
	io.WriteString(h, strings.ToLower(text))
	h.Write([]byte{0})
	io.WriteString(h, source)
	h.Write([]byte{0})
	io.WriteString(h, target)
	return h.Sum64()
}

// cache is a bounded FIFO translation cache. Eviction removes the
// oldest-inserted entry; storing a key again overwrites its value but keeps
// the original insertion slot, so an entry's lifetime is fixed at insert
// time regardless of how often it is hit or rewritten.
type cache struct {
	mu    sync.Mutex
	cap   int
	items map[uint64]string
	order []uint64 // insertion order, oldest first
}

func newCache(capacity int) *cache {
	return &cache{
		cap:   capacity,
		items: make(map[uint64]string, capacity),
	}
}

func (c *cache) get(key uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *cache) put(key uint64, value string) {
	if c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.items[key] = value
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = value
	c.order = append(c.order, key)
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
