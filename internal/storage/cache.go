package storage

import (
	"container/list"
	"sync"
)

// readCache is an LRU of decompressed artifact payloads bounded by their
// total size.
type readCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64

	// items maps artifact name → list element (whose value is *cacheEntry)
	items map[string]*list.Element
	order *list.List // front = most recently used
}

type cacheEntry struct {
	name string
	data []byte
}

func newReadCache(maxBytes int64) *readCache {
	return &readCache{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns a cached payload and promotes it to most-recently-used.
func (c *readCache) get(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[name]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).data, true
}

// put records a payload, evicting LRU entries over the budget. Payloads
// larger than the whole budget are not cached.
func (c *readCache) put(name string, data []byte) {
	size := int64(len(data))
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[name]; ok {
		c.removeLocked(elem)
	}
	if size > c.maxBytes {
		return
	}
	c.items[name] = c.order.PushFront(&cacheEntry{name: name, data: data})
	c.curBytes += size

	for c.curBytes > c.maxBytes {
		c.removeLocked(c.order.Back())
	}
}

func (c *readCache) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[name]; ok {
		c.removeLocked(elem)
	}
}

// removeLocked must be called with c.mu held.
func (c *readCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.name)
	c.curBytes -= int64(len(entry.data))
}

func (c *readCache) size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

func (c *readCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
