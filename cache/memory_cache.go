package cache

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"imagepipeline/memory"
	"imagepipeline/references"
)

// Sizer returns the byte cost of a cached value.
type Sizer[V any] func(V) int

// MemoryCacheParams bounds a CountingMemoryCache. Zero means unbounded.
type MemoryCacheParams struct {
	MaxEntries int `yaml:"max_entries"`
	MaxBytes   int `yaml:"max_bytes"`
}

type cacheEntry[V any] struct {
	key  CacheKey
	ref  *references.CloseableReference[V]
	size int
}

// CountingMemoryCache is an LRU of shared values.
//
// The cache holds its own reference to every entry. Callers always receive
// a clone they must close; eviction closes only the cache's reference, so
// a value stays alive for as long as any caller still holds it.
//
// Example:
//
//	cached := c.Cache(key, ref) // ref stays owned by the caller
//	defer cached.Close()
//
//	if hit := c.Get(key); hit != nil {
//	    defer hit.Close()
//	}
type CountingMemoryCache[V any] struct {
	params MemoryCacheParams
	sizer  Sizer[V]
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	bytes   int
}

var _ memory.MemoryTrimmable = (*CountingMemoryCache[int])(nil)

// NewCountingMemoryCache creates an empty cache. A nil sizer counts every
// entry as one byte.
func NewCountingMemoryCache[V any](params MemoryCacheParams, sizer Sizer[V], logger *zap.Logger) *CountingMemoryCache[V] {
	if sizer == nil {
		sizer = func(V) int { return 1 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CountingMemoryCache[V]{
		params:  params,
		sizer:   sizer,
		logger:  logger.Named("memory_cache"),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Cache stores a clone of ref under key, replacing any previous entry, and
// returns another clone for the caller. It returns nil if ref is not valid.
func (c *CountingMemoryCache[V]) Cache(key CacheKey, ref *references.CloseableReference[V]) *references.CloseableReference[V] {
	owned := ref.Clone()
	if owned == nil {
		return nil
	}
	result := owned.Clone()
	entry := &cacheEntry[V]{key: key, ref: owned, size: c.sizer(owned.Get())}

	c.mu.Lock()
	var evicted []*cacheEntry[V]
	if el, ok := c.entries[key.String()]; ok {
		evicted = append(evicted, c.removeLocked(el))
	}
	c.entries[key.String()] = c.lru.PushFront(entry)
	c.bytes += entry.size
	evicted = append(evicted, c.evictLocked()...)
	c.mu.Unlock()

	c.closeAll(evicted)
	return result
}

// Get returns a clone of the entry for key, or nil.
func (c *CountingMemoryCache[V]) Get(key CacheKey) *references.CloseableReference[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key.String()]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(el)
	return el.Value.(*cacheEntry[V]).ref.Clone()
}

// Contains reports whether key has an entry.
func (c *CountingMemoryCache[V]) Contains(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key.String()]
	return ok
}

// Remove drops the entry for key.
func (c *CountingMemoryCache[V]) Remove(key CacheKey) bool {
	c.mu.Lock()
	el, ok := c.entries[key.String()]
	var removed *cacheEntry[V]
	if ok {
		removed = c.removeLocked(el)
	}
	c.mu.Unlock()

	if removed != nil {
		_ = removed.ref.Close()
	}
	return ok
}

// RemoveByURI drops every entry whose key was derived from uri and returns
// how many were removed.
func (c *CountingMemoryCache[V]) RemoveByURI(uri string) int {
	c.mu.Lock()
	var removed []*cacheEntry[V]
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry[V]).key.ContainsURI(uri) {
			removed = append(removed, c.removeLocked(el))
		}
		el = next
	}
	c.mu.Unlock()

	c.closeAll(removed)
	return len(removed)
}

// Trim evicts the least recently used half of the entries for
// TrimModerate, and everything for TrimAll.
func (c *CountingMemoryCache[V]) Trim(trimType memory.TrimType) {
	c.mu.Lock()
	keep := 0
	if trimType == memory.TrimModerate {
		keep = c.lru.Len() / 2
	}
	var removed []*cacheEntry[V]
	for c.lru.Len() > keep {
		removed = append(removed, c.removeLocked(c.lru.Back()))
	}
	c.mu.Unlock()

	c.closeAll(removed)
	c.logger.Info("memory cache trimmed",
		zap.Stringer("trim_type", trimType),
		zap.Int("evicted", len(removed)))
}

// Clear removes every entry.
func (c *CountingMemoryCache[V]) Clear() {
	c.Trim(memory.TrimAll)
}

// Len returns the number of entries.
func (c *CountingMemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// SizeInBytes returns the summed sizer cost of all entries.
func (c *CountingMemoryCache[V]) SizeInBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *CountingMemoryCache[V]) removeLocked(el *list.Element) *cacheEntry[V] {
	entry := c.lru.Remove(el).(*cacheEntry[V])
	delete(c.entries, entry.key.String())
	c.bytes -= entry.size
	return entry
}

// evictLocked drops least recently used entries until the cache is within
// its bounds. The newest entry is never evicted.
func (c *CountingMemoryCache[V]) evictLocked() []*cacheEntry[V] {
	var evicted []*cacheEntry[V]
	for c.lru.Len() > 1 && c.overLimitLocked() {
		evicted = append(evicted, c.removeLocked(c.lru.Back()))
	}
	return evicted
}

func (c *CountingMemoryCache[V]) overLimitLocked() bool {
	if c.params.MaxEntries > 0 && c.lru.Len() > c.params.MaxEntries {
		return true
	}
	return c.params.MaxBytes > 0 && c.bytes > c.params.MaxBytes
}

func (c *CountingMemoryCache[V]) closeAll(entries []*cacheEntry[V]) {
	for _, e := range entries {
		_ = e.ref.Close()
	}
	if len(entries) > 0 {
		c.logger.Debug("evicted entries", zap.Int("count", len(entries)))
	}
}
