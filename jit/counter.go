package jit

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Counter tracks per-bytecode execution counts. The common path (bumping an
// existing entry) takes only a read lock and an atomic add; the write lock
// is held just long enough to insert a missing entry.
//
// Counts are keyed by code hash alone. Two contracts sharing bytecode share
// a count, which only makes hot code reach the compilation threshold sooner.
type Counter struct {
	mu     sync.RWMutex
	counts map[common.Hash]*atomic.Uint64
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[common.Hash]*atomic.Uint64)}
}

// Increment bumps the count for hash and returns the new value.
func (c *Counter) Increment(hash common.Hash) uint64 {
	c.mu.RLock()
	n, ok := c.counts[hash]
	c.mu.RUnlock()
	if ok {
		return n.Add(1)
	}

	c.mu.Lock()
	// Another goroutine may have inserted while the lock was dropped.
	n, ok = c.counts[hash]
	if !ok {
		n = new(atomic.Uint64)
		c.counts[hash] = n
	}
	c.mu.Unlock()
	return n.Add(1)
}

// Get returns the current count for hash, zero if never seen.
func (c *Counter) Get(hash common.Hash) uint64 {
	c.mu.RLock()
	n, ok := c.counts[hash]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return n.Load()
}

// Len returns the number of tracked hashes.
func (c *Counter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.counts)
}

// Clear drops all counts.
func (c *Counter) Clear() {
	c.mu.Lock()
	c.counts = make(map[common.Hash]*atomic.Uint64)
	c.mu.Unlock()
}
