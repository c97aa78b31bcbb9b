package vfs

import (
	"container/list"
	"sync"

	"github.com/nanokern/corekit/sync2"
)

// BlockCacheCapacity is the default number of cached sectors (a fixed pool,
// per spec.md §4.10's "concrete policy... is free").
const BlockCacheCapacity = 4096

type blockKey struct {
	minor int
	block int
}

// Buffer is a cached block, returned to callers and usable until Release.
type Buffer struct {
	refs sync2.RefCount
	Data []byte

	cache *BlockCache
	key   blockKey
	dirty bool
}

// Release drops a reference to the buffer; it stays resident in the cache
// (subject to LRU eviction) even at refcount zero, since eviction and
// "caller done with it" are independent concerns here.
func (b *Buffer) Release() {
	b.refs.Release()
}

// BlockCache is the LRU-keyed sector cache of spec.md §4.10: read-through,
// write-through (no dirty accumulation required by the core), with the
// guarantee that a reader sees any write that completed-before on the same
// device-sector.
//
// Resident blocks live in a map+mutex table much like a flow table would
// track live sessions, extended with a container/list LRU ordering a
// bounded cache needs but an unbounded flow table does not.
type BlockCache struct {
	mu       sync.Mutex
	devices  *BlockDeviceRegistry
	capacity int
	entries  map[blockKey]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key blockKey
	buf *Buffer
}

// NewBlockCache creates a cache of the given capacity (sectors) over
// devices.
func NewBlockCache(devices *BlockDeviceRegistry, capacity int) *BlockCache {
	if capacity <= 0 {
		capacity = BlockCacheCapacity
	}
	return &BlockCache{
		devices:  devices,
		capacity: capacity,
		entries:  make(map[blockKey]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached block for (minor, block), reading through to the
// device on a miss.
func (c *BlockCache) Get(minor, block int) (*Buffer, error) {
	key := blockKey{minor, block}

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		buf := elem.Value.(*cacheEntry).buf
		buf.refs.Retain()
		c.mu.Unlock()
		return buf, nil
	}
	c.mu.Unlock()

	dev, err := c.devices.Get(minor)
	if err != nil {
		return nil, err
	}
	data := make([]byte, BlockSize)
	if err := dev.Read(minor, block, 1, data); err != nil {
		return nil, err
	}

	buf := &Buffer{refs: sync2.NewRefCount(), Data: data, cache: c, key: key}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		// Lost a race with another reader; keep theirs.
		c.order.MoveToFront(elem)
		b := elem.Value.(*cacheEntry).buf
		b.refs.Retain()
		return b, nil
	}
	elem := c.order.PushFront(&cacheEntry{key: key, buf: buf})
	c.entries[key] = elem
	c.evictLocked()
	buf.refs.Retain()
	return buf, nil
}

// Put writes data back through to the device and updates the cached copy
// (spec.md §4.10: write-through, "readers see writes that completed-before
// on the same device-sector").
func (c *BlockCache) Put(minor, block int, data []byte) error {
	dev, err := c.devices.Get(minor)
	if err != nil {
		return err
	}
	if err := dev.Write(minor, block, 1, data); err != nil {
		return err
	}

	key := blockKey{minor, block}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		copy(elem.Value.(*cacheEntry).buf.Data, data)
		return nil
	}
	buf := &Buffer{refs: sync2.NewRefCount(), Data: append([]byte(nil), data...), cache: c, key: key}
	elem := c.order.PushFront(&cacheEntry{key: key, buf: buf})
	c.entries[key] = elem
	c.evictLocked()
	return nil
}

// evictLocked drops least-recently-used, unreferenced entries until the
// cache is back at capacity. Called with c.mu held.
func (c *BlockCache) evictLocked() {
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*cacheEntry)
		// A resident buffer's refcount starts at 1 for the cache's own
		// slot; anything above that means a caller is still holding it.
		if entry.buf.refs.Count() > 1 {
			// Pinned: move to front so eviction doesn't spin on it.
			c.order.MoveToFront(back)
			if c.order.Len() <= c.capacity {
				return
			}
			// Every remaining entry is pinned; stop rather than loop forever.
			allPinned := true
			for e := c.order.Back(); e != nil; e = e.Prev() {
				if e.Value.(*cacheEntry).buf.refs.Count() <= 1 {
					allPinned = false
					break
				}
			}
			if allPinned {
				return
			}
			continue
		}
		c.order.Remove(back)
		delete(c.entries, entry.key)
	}
}
