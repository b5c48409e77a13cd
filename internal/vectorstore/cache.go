package vectorstore

import (
	"container/list"
	"sync"
)

// recordCache is a bounded LRU cache over loaded records.
//
// Eviction is memory-only: the durable copy of an evicted record stays on
// disk and is reloaded transparently on the next access. Without a bound,
// every index ever touched would stay resident for the process lifetime.
type recordCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key    string
	record *Record
}

func newRecordCache(capacity int) *recordCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &recordCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached record for key and marks it most recently used.
func (c *recordCache) Get(key string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).record, true
}

// Put inserts or replaces the record for key, evicting the least recently
// used entry if the cache is over capacity. Returns the number of evictions.
func (c *recordCache) Put(key string, rec *Record) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).record = rec
		c.ll.MoveToFront(el)
		return 0
	}

	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, record: rec})

	evicted := 0
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		evicted++
	}
	return evicted
}

// Remove drops the entry for key, reporting whether it was present.
func (c *recordCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.ll.Remove(el)
	delete(c.items, key)
	return true
}

// Len returns the number of cached records.
func (c *recordCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
