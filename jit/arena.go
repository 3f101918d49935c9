package jit

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// ArenaSlot identifies one compiled function's place inside an arena.
type ArenaSlot struct {
	Arena uint64
	Index uint16
}

// Arena groups the native resources of up to capacity compiled functions so
// they can be reclaimed together. Slots are handed out by the compiler
// goroutine; the live count is decremented from whatever goroutine runs the
// cache eviction, so it is atomic.
type Arena struct {
	id       uint64
	capacity uint16

	mu       sync.Mutex
	compiled uint16

	live atomic.Int64
}

// ID returns the arena's identifier.
func (a *Arena) ID() uint64 { return a.id }

// IsFull reports whether every slot has been handed out.
func (a *Arena) IsFull() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.compiled >= a.capacity
}

// Live returns the number of cached functions still referencing the arena.
func (a *Arena) Live() int64 { return a.live.Load() }

// ArenaManager owns all live arenas. Allocation, registration and removal
// happen on the compiler goroutine (or under the sync-compile lock);
// MarkEvicted alone may be called from any goroutine.
type ArenaManager struct {
	mu       sync.Mutex
	arenas   map[uint64]*Arena
	nextID   uint64
	capacity uint16
	max      int
}

// NewArenaManager returns a manager creating arenas of the given capacity,
// holding at most max of them alive at once.
func NewArenaManager(capacity uint16, max int) *ArenaManager {
	return &ArenaManager{
		arenas:   make(map[uint64]*Arena),
		capacity: capacity,
		max:      max,
	}
}

// Allocate creates a new arena. It fails when the live-arena bound is
// reached; the caller then skips compilation until evictions free one up.
func (m *ArenaManager) Allocate() (*Arena, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.arenas) >= m.max {
		return nil, ErrTooManyArenas
	}
	a := &Arena{id: m.nextID, capacity: m.capacity}
	m.nextID++
	m.arenas[a.id] = a
	arenaCreatedCounter.Inc(1)
	return a, nil
}

// Register claims the next slot in the arena for a function about to be
// compiled, bumping the live count.
func (m *ArenaManager) Register(a *Arena) (ArenaSlot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.compiled >= a.capacity {
		return ArenaSlot{}, ErrArenaFull
	}
	slot := ArenaSlot{Arena: a.id, Index: a.compiled}
	a.compiled++
	a.live.Add(1)
	return slot, nil
}

// Discard releases a slot whose compilation failed before the function was
// cached. The slot index is not reused; only the live count is rolled back.
func (m *ArenaManager) Discard(slot ArenaSlot) {
	m.mu.Lock()
	a := m.arenas[slot.Arena]
	m.mu.Unlock()
	if a == nil {
		return
	}
	a.live.Add(-1)
}

// MarkEvicted records that a cached function in the arena was evicted and
// reports whether the arena's live count hit zero. A true return obliges
// the caller to have the owning goroutine free the arena's native resources
// and Remove it.
func (m *ArenaManager) MarkEvicted(slot ArenaSlot) bool {
	m.mu.Lock()
	a := m.arenas[slot.Arena]
	m.mu.Unlock()
	if a == nil {
		log.Warn("Evicted function references unknown arena", "arena", slot.Arena)
		return false
	}
	remaining := a.live.Add(-1)
	if remaining < 0 {
		log.Error("Arena live count went negative", "arena", slot.Arena, "live", remaining)
		return false
	}
	// Only fully populated arenas are destroyed; the current arena keeps
	// accepting new functions even if all its cached ones were evicted.
	a.mu.Lock()
	full := a.compiled >= a.capacity
	a.mu.Unlock()
	return remaining == 0 && full
}

// Remove forgets the arena. The caller must already have freed its native
// resources.
func (m *ArenaManager) Remove(id uint64) {
	m.mu.Lock()
	delete(m.arenas, id)
	m.mu.Unlock()
	arenaFreedCounter.Inc(1)
}

// Count returns the number of live arenas.
func (m *ArenaManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.arenas)
}
