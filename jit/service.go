package jit

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// optimizedCacheBytes sizes the optimized-bytecode byte cache. Entries are
// at most MaxCodeSize, so 32MB comfortably covers the compiled-code cache
// working set.
const optimizedCacheBytes = 32 * 1024 * 1024

// Service performs compilations: gate checks, analysis, optimization, arena
// placement, backend invocation and cache insertion. All of it runs under
// one mutex because the backend is not reentrant; normally only the worker
// goroutine calls Compile, with synchronous callers taking over when the
// worker is unavailable.
type Service struct {
	mu  sync.Mutex
	cfg Config

	backend Backend
	arenas  *ArenaManager
	cache   *CodeCache
	current *Arena

	// optimized caches folded bytecode by hash so a recompile under another
	// profile, or after an eviction, skips re-running the optimizer.
	optimized *fastcache.Cache

	// oversized holds hashes rejected by the size gate. The mark is
	// permanent for the process lifetime.
	oversized mapset.Set[common.Hash]

	// requestFree hands arena teardown to the compiler goroutine. Set by
	// the engine once the worker exists; returns false when the handoff
	// was dropped.
	requestFree func(arenaID uint64) bool
}

// NewService wires a compilation service around a backend. The code cache's
// eviction callback is installed here so every entry leaving the cache
// decrements its arena and, on last reference, schedules the teardown.
func NewService(cfg Config, backend Backend) (*Service, error) {
	s := &Service{
		cfg:       cfg,
		backend:   backend,
		arenas:    NewArenaManager(cfg.ArenaCapacity, cfg.MaxArenas),
		optimized: fastcache.New(optimizedCacheBytes),
		oversized: mapset.NewSet[common.Hash](),
	}
	cache, err := NewCodeCache(cfg.MaxCacheEntries, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Cache exposes the compiled-code cache for dispatch lookups.
func (s *Service) Cache() *CodeCache { return s.cache }

// Arenas exposes the arena manager.
func (s *Service) Arenas() *ArenaManager { return s.arenas }

// SetFreeRequester installs the worker handoff for arena teardown.
func (s *Service) SetFreeRequester(fn func(arenaID uint64) bool) {
	s.requestFree = fn
}

// IsOversized reports whether hash was rejected by the size gate.
func (s *Service) IsOversized(hash common.Hash) bool {
	return s.oversized.Contains(hash)
}

// MarkOversized records a size-gate rejection without running the pipeline.
func (s *Service) MarkOversized(hash common.Hash) {
	if s.oversized.Add(hash) {
		compileSkipCounter.Inc(1)
	}
}

// Compile takes bytecode through the full pipeline and caches the result.
// It returns the cached entry if one already exists for the key. Size-gate
// rejections mark the hash oversized and return BytecodeTooLargeError;
// other failures leave the hash eligible for future attempts.
func (s *Service) Compile(code []byte, hash common.Hash, profile Profile) (*CompiledCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := CacheKey{Hash: hash, Profile: profile}
	if compiled, ok := s.cache.Get(key); ok {
		return compiled, nil
	}
	if len(code) > s.cfg.MaxBytecodeSize {
		s.oversized.Add(hash)
		compileSkipCounter.Inc(1)
		log.Debug("Bytecode exceeds compilation size limit", "hash", hash, "size", len(code))
		return nil, &BytecodeTooLargeError{Size: len(code), Max: s.cfg.MaxBytecodeSize}
	}
	if len(code) == 0 {
		compileSkipCounter.Inc(1)
		return nil, ErrEmptyBytecode
	}

	analyzed, stats := s.analyzeAndOptimize(code, hash)

	if s.current == nil || s.current.IsFull() {
		arena, err := s.arenas.Allocate()
		if err != nil {
			compileFailureCounter.Inc(1)
			return nil, err
		}
		s.current = arena
	}
	slot, err := s.arenas.Register(s.current)
	if err != nil {
		compileFailureCounter.Inc(1)
		return nil, err
	}

	compiled, err := s.backend.Compile(analyzed, profile, slot)
	if err != nil {
		s.arenas.Discard(slot)
		compileFailureCounter.Inc(1)
		log.Warn("Compilation failed", "hash", hash, "err", err)
		return nil, err
	}

	s.cache.Add(key, compiled)
	compileSuccessCounter.Inc(1)
	log.Debug("Compiled bytecode", "hash", hash, "profile", profile,
		"size", len(code), "blocks", len(analyzed.Blocks), "folded", stats.Folded)
	return compiled, nil
}

// analyzeAndOptimize produces optimized, analyzed bytecode, reusing a prior
// optimizer run for the same hash when available (recompiles after eviction
// or under another profile skip the folding passes).
func (s *Service) analyzeAndOptimize(code []byte, hash common.Hash) (*AnalyzedCode, FoldStats) {
	if blob := s.optimized.Get(nil, hash.Bytes()); blob != nil {
		if opt, patches, ok := decodeOptimized(blob, len(code)); ok {
			a := Analyze(opt, hash, ScanJumpTargets(opt))
			a.GasPatches = patches
			return a, FoldStats{}
		}
	}
	analyzed := Analyze(code, hash, ScanJumpTargets(code))
	optimized, stats := Optimize(analyzed)
	if stats.Folded > 0 {
		s.optimized.Set(hash.Bytes(), encodeOptimized(optimized))
	}
	return optimized, stats
}

// encodeOptimized packs optimized bytecode with its gas patches for the
// byte cache: a patch count, the (offset, debit) pairs, then the code.
func encodeOptimized(a *AnalyzedCode) []byte {
	buf := make([]byte, 4+12*len(a.GasPatches)+len(a.Code))
	binary.BigEndian.PutUint32(buf, uint32(len(a.GasPatches)))
	pos := 4
	for off, debit := range a.GasPatches {
		binary.BigEndian.PutUint32(buf[pos:], uint32(off))
		binary.BigEndian.PutUint64(buf[pos+4:], debit)
		pos += 12
	}
	copy(buf[pos:], a.Code)
	return buf
}

func decodeOptimized(blob []byte, codeLen int) (code []byte, patches map[int]uint64, ok bool) {
	if len(blob) < 4 {
		return nil, nil, false
	}
	n := int(binary.BigEndian.Uint32(blob))
	pos := 4 + 12*n
	if len(blob)-pos != codeLen {
		return nil, nil, false
	}
	patches = make(map[int]uint64, n)
	for i := 0; i < n; i++ {
		off := int(binary.BigEndian.Uint32(blob[4+12*i:]))
		patches[off] = binary.BigEndian.Uint64(blob[4+12*i+4:])
	}
	return blob[pos:], patches, true
}

// FreeArena tears down an arena's native resources. The compile mutex is
// held across the backend call: the worker normally runs teardown, but a
// full queue routes compilations onto the calling goroutine, and the
// backend must never see the two interleaved.
func (s *Service) FreeArena(arenaID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend.FreeArena(arenaID)
	s.arenas.Remove(arenaID)
	log.Debug("Freed compilation arena", "arena", arenaID)
}

// onEvict runs inside the LRU whenever an entry leaves the cache. When the
// last entry of a full arena goes, teardown is handed to the worker; if the
// handoff fails the arena's bookkeeping is dropped anyway so allocation can
// continue, at the cost of leaking its native resources.
func (s *Service) onEvict(key CacheKey, code *CompiledCode) {
	if code == nil || code.Slot == nil {
		return
	}
	if !s.arenas.MarkEvicted(*code.Slot) {
		return
	}
	if s.requestFree != nil && s.requestFree(code.Slot.Arena) {
		return
	}
	s.arenas.Remove(code.Slot.Arena)
	log.Warn("Arena teardown request dropped, native resources leaked", "arena", code.Slot.Arena)
}
