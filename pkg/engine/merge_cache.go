package engine

import (
	"container/list"
	"encoding/binary"
	"sync"
)

// mergeCache is an LRU of folded merge results. An entry is valid only while
// the key's newest version still carries the sequence it was folded at.
type mergeCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lru      *list.List

	hits   int64
	misses int64
}

type mergeCacheEntry struct {
	key   string
	seq   uint64
	value []byte
}

func newMergeCache(capacity int) *mergeCache {
	if capacity <= 0 {
		return nil
	}
	return &mergeCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func mergeCacheKey(cfID uint32, key []byte) string {
	buf := make([]byte, 4+len(key))
	binary.LittleEndian.PutUint32(buf, cfID)
	copy(buf[4:], key)
	return string(buf)
}

func (mc *mergeCache) get(cfID uint32, key []byte, seq uint64) ([]byte, bool) {
	if mc == nil {
		return nil, false
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if elem, ok := mc.cache[mergeCacheKey(cfID, key)]; ok {
		entry := elem.Value.(*mergeCacheEntry)
		if entry.seq == seq {
			mc.lru.MoveToFront(elem)
			mc.hits++
			return entry.value, true
		}
	}

	mc.misses++
	return nil, false
}

func (mc *mergeCache) put(cfID uint32, key []byte, seq uint64, value []byte) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	k := mergeCacheKey(cfID, key)
	if elem, ok := mc.cache[k]; ok {
		mc.lru.MoveToFront(elem)
		entry := elem.Value.(*mergeCacheEntry)
		entry.seq = seq
		entry.value = value
		return
	}

	elem := mc.lru.PushFront(&mergeCacheEntry{key: k, seq: seq, value: value})
	mc.cache[k] = elem

	if mc.lru.Len() > mc.capacity {
		mc.evict()
	}
}

func (mc *mergeCache) evict() {
	elem := mc.lru.Back()
	if elem != nil {
		mc.lru.Remove(elem)
		delete(mc.cache, elem.Value.(*mergeCacheEntry).key)
	}
}

// dropColumnFamily removes every entry belonging to cfID
func (mc *mergeCache) dropColumnFamily(cfID uint32) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for k, elem := range mc.cache {
		if binary.LittleEndian.Uint32([]byte(k[:4])) == cfID {
			mc.lru.Remove(elem)
			delete(mc.cache, k)
		}
	}
}

func (mc *mergeCache) stats() (hits, misses int64, size int) {
	if mc == nil {
		return 0, 0, 0
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.hits, mc.misses, mc.lru.Len()
}
