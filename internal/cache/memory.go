package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	photoID uint64
	data    []byte
	expires time.Time
}

// MemoryCache is a bounded in-process LRU, used when no Redis is
// configured and by tests that want to exercise the Cache contract without
// a live Redis.
type MemoryCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	ll       *list.List
	index    map[uint64]*list.Element
}

// NewMemoryCache creates an LRU bounded to maxBytes of payload data.
func NewMemoryCache(maxBytes int64) *MemoryCache {
	return &MemoryCache{
		maxBytes: maxBytes,
		ll:       list.New(),
		index:    make(map[uint64]*list.Element),
	}
}

func (c *MemoryCache) Get(_ context.Context, photoID uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[photoID]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryEntry)
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true
}

func (c *MemoryCache) Put(_ context.Context, photoID uint64, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	if el, ok := c.index[photoID]; ok {
		old := el.Value.(*memoryEntry)
		c.curBytes -= int64(len(old.data))
		cp := make([]byte, len(data))
		copy(cp, data)
		el.Value = &memoryEntry{photoID: photoID, data: cp, expires: expires}
		c.curBytes += int64(len(cp))
		c.ll.MoveToFront(el)
	} else {
		cp := make([]byte, len(data))
		copy(cp, data)
		el := c.ll.PushFront(&memoryEntry{photoID: photoID, data: cp, expires: expires})
		c.index[photoID] = el
		c.curBytes += int64(len(cp))
	}

	for c.maxBytes > 0 && c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		c.removeElement(c.ll.Back())
	}
}

func (c *MemoryCache) Invalidate(_ context.Context, photoID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[photoID]; ok {
		c.removeElement(el)
	}
}

func (c *MemoryCache) removeElement(el *list.Element) {
	e := el.Value.(*memoryEntry)
	c.ll.Remove(el)
	delete(c.index, e.photoID)
	c.curBytes -= int64(len(e.data))
}
