package jit

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// EvictFunc is invoked whenever a compiled function leaves the cache, both
// on capacity eviction and on explicit invalidation. It is the hook that
// keeps arena live counts in sync with the cache.
type EvictFunc func(key CacheKey, code *CompiledCode)

// CodeCache is the bounded cache of compiled functions, keyed by code hash
// and profile. Entries hold the only cache reference to native code, so
// eviction must always be observed; the underlying LRU fires the callback on Add
// overflow and on Remove alike.
type CodeCache struct {
	entries *lru.Cache[CacheKey, *CompiledCode]
}

// NewCodeCache creates a cache bounded to maxEntries.
func NewCodeCache(maxEntries int, onEvict EvictFunc) (*CodeCache, error) {
	inner, err := lru.NewWithEvict[CacheKey, *CompiledCode](maxEntries,
		func(key CacheKey, code *CompiledCode) {
			cacheEvictionCounter.Inc(1)
			if onEvict != nil {
				onEvict(key, code)
			}
		})
	if err != nil {
		return nil, err
	}
	return &CodeCache{entries: inner}, nil
}

// Get returns the compiled code for key, if cached.
func (c *CodeCache) Get(key CacheKey) (*CompiledCode, bool) {
	code, ok := c.entries.Get(key)
	if ok {
		cacheHitCounter.Inc(1)
	} else {
		cacheMissCounter.Inc(1)
	}
	return code, ok
}

// Contains reports whether key is cached without touching recency.
func (c *CodeCache) Contains(key CacheKey) bool {
	return c.entries.Contains(key)
}

// Add inserts compiled code, possibly evicting the least recently used
// entry.
func (c *CodeCache) Add(key CacheKey, code *CompiledCode) {
	c.entries.Add(key, code)
}

// Invalidate drops key from the cache, firing the eviction callback. Used
// when validation catches a native/interpreter divergence.
func (c *CodeCache) Invalidate(key CacheKey) bool {
	return c.entries.Remove(key)
}

// Len returns the number of cached functions.
func (c *CodeCache) Len() int { return c.entries.Len() }

// Purge drops every entry, firing the eviction callback for each.
func (c *CodeCache) Purge() { c.entries.Purge() }
