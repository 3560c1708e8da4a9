package cache

import (
	"container/list"
	"sync"

	"screenroom/internal/media"
)

// ProbeCache is a thread-safe LRU cache of probe results keyed by file path,
// so repeated stream-info requests for the same file skip ffprobe.
type ProbeCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

type probeEntry struct {
	path string
	info *media.Info
}

func NewProbeCache(capacity int) *ProbeCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &ProbeCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *ProbeCache) Get(path string) (*media.Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[path]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*probeEntry).info, true
	}
	return nil, false
}

func (c *ProbeCache) Set(path string, info *media.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[path]; ok {
		elem.Value.(*probeEntry).info = info
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*probeEntry)
		c.order.Remove(oldest)
		delete(c.items, entry.path)
	}

	elem := c.order.PushFront(&probeEntry{path: path, info: info})
	c.items[path] = elem
}

func (c *ProbeCache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[path]; ok {
		c.order.Remove(elem)
		delete(c.items, path)
	}
}

func (c *ProbeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
