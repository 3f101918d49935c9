package jitvm

import (
	"errors"
	"sync"

	"github.com/tokamak-network/tokamak-jit/jit"
)

// program is one "compiled" artifact: the optimized bytecode plus its
// precomputed jump destination set, held alive by the owning arena.
type program struct {
	code        []byte
	jumpTargets []uint64
	gasPatches  map[int]uint64
	profile     jit.Profile
}

// Backend is the reference jit.Backend. Programs are bookkept per arena so
// FreeArena releases a whole group at once, mirroring how a native backend
// would unmap a memory region.
type Backend struct {
	mu     sync.RWMutex
	arenas map[uint64]map[uint16]*program
}

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{arenas: make(map[uint64]map[uint16]*program)}
}

// Compile registers the analyzed bytecode under its arena slot and wraps it
// in a callable that runs the machine in suspend-on-call mode.
func (b *Backend) Compile(analyzed *jit.AnalyzedCode, profile jit.Profile, slot jit.ArenaSlot) (*jit.CompiledCode, error) {
	if len(analyzed.Code) == 0 {
		return nil, errors.New("cannot compile empty bytecode")
	}
	p := &program{
		code:        analyzed.Code,
		jumpTargets: analyzed.JumpTargets,
		gasPatches:  analyzed.GasPatches,
		profile:     profile,
	}

	b.mu.Lock()
	slots := b.arenas[slot.Arena]
	if slots == nil {
		slots = make(map[uint16]*program)
		b.arenas[slot.Arena] = slots
	}
	slots[slot.Index] = p
	b.mu.Unlock()

	fn := func(frame *jit.CallFrame, host jit.Host) jit.Outcome {
		if !b.alive(slot) {
			// The arena was freed under us; treat it like a cache miss.
			return jit.ErrorOutcome(errors.New("program arena freed"))
		}
		m := newMachine(p.code, p.jumpTargets, frame, host, nil)
		m.gasPatches = p.gasPatches
		return m.run()
	}
	return jit.NewCompiledCode(fn, analyzed, &slot), nil
}

// Execute runs a compiled program against the frame.
func (b *Backend) Execute(compiled *jit.CompiledCode, frame *jit.CallFrame, host jit.Host) jit.Outcome {
	return compiled.Func()(frame, host)
}

// Resume continues a suspended execution. The frame and host are already
// captured by the suspended machine; they are accepted to satisfy the
// Backend contract and cross-checked in no way beyond the type assertion.
func (b *Backend) Resume(state *jit.ResumeState, result *jit.SubCallResult, frame *jit.CallFrame, host jit.Host) jit.Outcome {
	m, ok := state.Inner().(*machine)
	if !ok || m == nil {
		return jit.ErrorOutcome(errors.New("foreign resume state"))
	}
	return m.resume(result)
}

// FreeArena drops every program in the arena.
func (b *Backend) FreeArena(arenaID uint64) {
	b.mu.Lock()
	delete(b.arenas, arenaID)
	b.mu.Unlock()
}

// ArenaCount reports how many arenas hold live programs.
func (b *Backend) ArenaCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.arenas)
}

func (b *Backend) alive(slot jit.ArenaSlot) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	slots, ok := b.arenas[slot.Arena]
	if !ok {
		return false
	}
	_, ok = slots[slot.Index]
	return ok
}
