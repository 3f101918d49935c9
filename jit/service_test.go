package jit

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend is a Backend that hands out no-op functions and records the
// calls it sees.
type stubBackend struct {
	mu       sync.Mutex
	compiles int
	freed    []uint64

	compileErr error
}

func (b *stubBackend) Compile(analyzed *AnalyzedCode, profile Profile, slot ArenaSlot) (*CompiledCode, error) {
	b.mu.Lock()
	b.compiles++
	b.mu.Unlock()
	if b.compileErr != nil {
		return nil, b.compileErr
	}
	fn := func(frame *CallFrame, host Host) Outcome {
		return Outcome{Kind: OutcomeSuccess}
	}
	return NewCompiledCode(fn, analyzed, &slot), nil
}

func (b *stubBackend) Execute(compiled *CompiledCode, frame *CallFrame, host Host) Outcome {
	return compiled.Func()(frame, host)
}

func (b *stubBackend) Resume(state *ResumeState, result *SubCallResult, frame *CallFrame, host Host) Outcome {
	return Outcome{Kind: OutcomeError, Err: errors.New("nothing to resume")}
}

func (b *stubBackend) FreeArena(arenaID uint64) {
	b.mu.Lock()
	b.freed = append(b.freed, arenaID)
	b.mu.Unlock()
}

func (b *stubBackend) compileCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compiles
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CompilationThreshold = 2
	cfg.MaxCacheEntries = 4
	cfg.ArenaCapacity = 2
	cfg.MaxArenas = 2
	return cfg
}

func TestServiceCompileAndCache(t *testing.T) {
	backend := &stubBackend{}
	s, err := NewService(testConfig(), backend)
	require.NoError(t, err)

	code := []byte{PUSH1, 0x01, PUSH1, 0x02, ADD, STOP}
	hash := crypto.Keccak256Hash(code)

	compiled, err := s.Compile(code, hash, ProfileCancun)
	require.NoError(t, err)
	assert.Equal(t, len(code), compiled.CodeLen)
	assert.False(t, compiled.HasExternalCalls)
	require.NotNil(t, compiled.Slot)

	cached, ok := s.Cache().Get(CacheKey{Hash: hash, Profile: ProfileCancun})
	require.True(t, ok)
	assert.Same(t, compiled, cached)

	// A second request is served from the cache.
	again, err := s.Compile(code, hash, ProfileCancun)
	require.NoError(t, err)
	assert.Same(t, compiled, again)
	assert.Equal(t, 1, backend.compileCount())
}

func TestServiceCompileRunsOptimizer(t *testing.T) {
	backend := &stubBackend{}
	s, err := NewService(testConfig(), backend)
	require.NoError(t, err)

	code := []byte{PUSH1, 0x03, PUSH1, 0x04, ADD, STOP}
	hash := crypto.Keccak256Hash(code)
	compiled, err := s.Compile(code, hash, ProfileCancun)
	require.NoError(t, err)
	assert.Equal(t, []byte{PUSH4, 0x00, 0x00, 0x00, 0x07, STOP}, compiled.Bytecode)
}

func TestServiceOptimizedReuseKeepsGasPatches(t *testing.T) {
	s, err := NewService(testConfig(), &stubBackend{})
	require.NoError(t, err)

	code := []byte{PUSH1, 0x03, PUSH1, 0x04, ADD, STOP}
	hash := crypto.Keccak256Hash(code)

	first, stats := s.analyzeAndOptimize(code, hash)
	require.Equal(t, 1, stats.Folded)

	// The second round is served from the byte cache and must reproduce
	// both the folded code and its gas debits.
	second, stats := s.analyzeAndOptimize(code, hash)
	assert.Zero(t, stats.Folded)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.GasPatches, second.GasPatches)
	assert.Equal(t, first.Blocks, second.Blocks)
}

func TestServiceSizeGateMarksOversized(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytecodeSize = 4
	backend := &stubBackend{}
	s, err := NewService(cfg, backend)
	require.NoError(t, err)

	code := []byte{PUSH1, 0x01, PUSH1, 0x02, ADD, STOP}
	hash := crypto.Keccak256Hash(code)

	_, err = s.Compile(code, hash, ProfileCancun)
	var tooLarge *BytecodeTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, len(code), tooLarge.Size)
	assert.True(t, s.IsOversized(hash))
	assert.Zero(t, backend.compileCount())
	assert.Zero(t, s.Cache().Len())
}

func TestServiceEmptyBytecodeSkipped(t *testing.T) {
	backend := &stubBackend{}
	s, err := NewService(testConfig(), backend)
	require.NoError(t, err)

	_, err = s.Compile(nil, crypto.Keccak256Hash(nil), ProfileCancun)
	assert.ErrorIs(t, err, ErrEmptyBytecode)
	assert.False(t, s.IsOversized(crypto.Keccak256Hash(nil)))
}

func TestServiceArenaRotation(t *testing.T) {
	cfg := testConfig()
	cfg.ArenaCapacity = 1
	backend := &stubBackend{}
	s, err := NewService(cfg, backend)
	require.NoError(t, err)

	c1, err := s.Compile([]byte{STOP}, crypto.Keccak256Hash([]byte{STOP}), ProfileCancun)
	require.NoError(t, err)
	c2, err := s.Compile([]byte{PUSH0, POP, STOP}, crypto.Keccak256Hash([]byte{PUSH0, POP, STOP}), ProfileCancun)
	require.NoError(t, err)

	assert.NotEqual(t, c1.Slot.Arena, c2.Slot.Arena)
	assert.Equal(t, 2, s.Arenas().Count())
}

func TestServiceCompileFailureRollsBack(t *testing.T) {
	backend := &stubBackend{compileErr: errors.New("codegen failed")}
	s, err := NewService(testConfig(), backend)
	require.NoError(t, err)

	code := []byte{STOP}
	hash := crypto.Keccak256Hash(code)
	_, err = s.Compile(code, hash, ProfileCancun)
	require.Error(t, err)
	assert.Zero(t, s.Cache().Len())
	assert.False(t, s.IsOversized(hash), "failures are not size rejections")

	// The failed slot's live count was rolled back, so once the arena
	// fills, its remaining entry is the only live reference.
	backend.compileErr = nil
	c, err := s.Compile(code, hash, ProfileCancun)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mustArena(t, s, c.Slot.Arena).Live())
}

func mustArena(t *testing.T, s *Service, id uint64) *Arena {
	t.Helper()
	s.arenas.mu.Lock()
	defer s.arenas.mu.Unlock()
	a, ok := s.arenas.arenas[id]
	require.True(t, ok)
	return a
}

func TestServiceEvictionFreesDrainedArena(t *testing.T) {
	cfg := testConfig()
	cfg.ArenaCapacity = 1
	cfg.MaxCacheEntries = 1
	backend := &stubBackend{}
	s, err := NewService(cfg, backend)
	require.NoError(t, err)

	// Record handoffs; teardown runs after Compile returns, as it would on
	// the worker goroutine.
	var handedOff []uint64
	s.SetFreeRequester(func(arenaID uint64) bool {
		handedOff = append(handedOff, arenaID)
		return true
	})

	c1, err := s.Compile([]byte{STOP}, crypto.Keccak256Hash([]byte{STOP}), ProfileCancun)
	require.NoError(t, err)
	_, err = s.Compile([]byte{PUSH0, POP, STOP}, crypto.Keccak256Hash([]byte{PUSH0, POP, STOP}), ProfileCancun)
	require.NoError(t, err)

	// The single-entry cache evicted c1, whose full arena drained.
	require.Equal(t, []uint64{c1.Slot.Arena}, handedOff)
	for _, id := range handedOff {
		s.FreeArena(id)
	}
	assert.Equal(t, []uint64{c1.Slot.Arena}, backend.freed)
	assert.Equal(t, 1, s.Arenas().Count())
}

// overlapBackend flags Compile and FreeArena calls that overlap across
// goroutines.
type overlapBackend struct {
	stubBackend
	active     atomic.Int32
	overlapped atomic.Bool
}

func (b *overlapBackend) Compile(analyzed *AnalyzedCode, profile Profile, slot ArenaSlot) (*CompiledCode, error) {
	b.enter()
	defer b.active.Add(-1)
	return b.stubBackend.Compile(analyzed, profile, slot)
}

func (b *overlapBackend) FreeArena(arenaID uint64) {
	b.enter()
	defer b.active.Add(-1)
	b.stubBackend.FreeArena(arenaID)
}

func (b *overlapBackend) enter() {
	if b.active.Add(1) > 1 {
		b.overlapped.Store(true)
	}
	runtime.Gosched()
}

func TestServiceFreeArenaSerializedWithCompile(t *testing.T) {
	cfg := testConfig()
	cfg.ArenaCapacity = 1
	cfg.MaxCacheEntries = 1
	cfg.MaxArenas = 64
	backend := &overlapBackend{}
	s, err := NewService(cfg, backend)
	require.NoError(t, err)

	// A second goroutine drains teardown handoffs while compilations keep
	// arriving, the same interleaving a busy worker queue produces.
	frees := make(chan uint64, 64)
	s.SetFreeRequester(func(arenaID uint64) bool {
		frees <- arenaID
		return true
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for id := range frees {
			s.FreeArena(id)
		}
	}()

	for i := 0; i < 32; i++ {
		code := []byte{PUSH1, byte(i), POP, STOP}
		_, err := s.Compile(code, crypto.Keccak256Hash(code), ProfileCancun)
		require.NoError(t, err)
	}
	close(frees)
	wg.Wait()

	assert.False(t, backend.overlapped.Load(), "backend saw concurrent compile and free")
}

func TestServiceInvalidateFreesDrainedArena(t *testing.T) {
	cfg := testConfig()
	cfg.ArenaCapacity = 1
	backend := &stubBackend{}
	s, err := NewService(cfg, backend)
	require.NoError(t, err)
	s.SetFreeRequester(func(arenaID uint64) bool {
		s.FreeArena(arenaID)
		return true
	})

	code := []byte{STOP}
	hash := crypto.Keccak256Hash(code)
	c, err := s.Compile(code, hash, ProfileCancun)
	require.NoError(t, err)

	require.True(t, s.Cache().Invalidate(CacheKey{Hash: hash, Profile: ProfileCancun}))
	assert.Equal(t, []uint64{c.Slot.Arena}, backend.freed)
	assert.Zero(t, s.Arenas().Count())
}
