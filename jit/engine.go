package jit

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// Engine is the dispatch front of the JIT layer. Each call runs through it:
// the engine counts the execution, triggers compilation at the threshold,
// and routes the call to compiled code when available, falling back to the
// interpreter in every other case. Correctness never depends on the JIT
// being present; disabling it just makes everything take the slow path.
type Engine struct {
	cfg     Config
	backend Backend
	interp  Interpreter

	counter *Counter
	service *Service
	worker  *CompilerWorker

	// compiling dedups in-flight compile submissions per key.
	compiling mapset.Set[CacheKey]

	// valMu guards valRuns, the per-key count of completed validations.
	valMu   sync.Mutex
	valRuns map[CacheKey]uint64
}

// NewEngine builds a ready engine and starts its compiler worker. The
// caller owns the engine and must Close it to stop the worker.
func NewEngine(cfg Config, backend Backend, interp Interpreter) (*Engine, error) {
	service, err := NewService(cfg, backend)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		backend:   backend,
		interp:    interp,
		counter:   NewCounter(),
		service:   service,
		compiling: mapset.NewSet[CacheKey](),
		valRuns:   make(map[CacheKey]uint64),
	}
	e.worker = NewCompilerWorker(e, cfg.QueueSize)
	service.SetFreeRequester(e.worker.SubmitFree)
	return e, nil
}

// Close stops the compiler worker and waits for it to finish the in-flight
// compilation. Cached code stays usable.
func (e *Engine) Close() {
	e.worker.Close()
}

// Counter exposes the execution counter.
func (e *Engine) Counter() *Counter { return e.counter }

// Service exposes the compilation service.
func (e *Engine) Service() *Service { return e.service }

// Lookup returns the compiled code for key, if cached.
func (e *Engine) Lookup(key CacheKey) (*CompiledCode, bool) {
	return e.service.Cache().Get(key)
}

// RecordExecution bumps the execution count for a bytecode hash and returns
// the new count. Run calls this itself; the method exists for callers that
// want to warm counts without dispatching.
func (e *Engine) RecordExecution(hash common.Hash) uint64 {
	return e.counter.Increment(hash)
}

// Compile satisfies the worker's handler: it runs the service pipeline and
// clears the in-flight mark regardless of outcome.
func (e *Engine) Compile(code []byte, hash common.Hash, profile Profile) (*CompiledCode, error) {
	defer e.compiling.Remove(CacheKey{Hash: hash, Profile: profile})
	return e.service.Compile(code, hash, profile)
}

// FreeArena satisfies the worker's handler.
func (e *Engine) FreeArena(arenaID uint64) {
	e.service.FreeArena(arenaID)
}

// Run executes one call frame: count, maybe trigger compilation, then
// dispatch to native code or the interpreter. The returned result is always
// consistent with what a pure interpreter run would produce.
func (e *Engine) Run(frame *CallFrame, host Host, profile Profile) (*ExecutionResult, error) {
	hash := frame.CodeHash
	if hash == (common.Hash{}) {
		hash = crypto.Keccak256Hash(frame.Code)
	}
	key := CacheKey{Hash: hash, Profile: profile}

	count := e.counter.Increment(hash)
	if count == e.cfg.CompilationThreshold {
		e.maybeCompile(frame.Code, key)
	}

	compiled, ok := e.service.Cache().Get(key)
	if !ok {
		return e.interp.Run(frame, host)
	}

	if e.shouldValidate(key, compiled) {
		return e.runValidated(key, compiled, frame, host)
	}

	snap := host.Snapshot()
	out := e.runNative(compiled, frame, host)
	if out.Kind == OutcomeError || out.Kind == OutcomeNotCompiled {
		host.RevertToSnapshot(snap)
		fallbackCounter.Inc(1)
		log.Debug("Native execution failed, falling back to interpreter",
			"hash", key.Hash, "err", out.Err)
		return e.interp.Run(frame, host)
	}
	return resultFromOutcome(out), nil
}

// maybeCompile fires once per hash, on the execution where the counter hits
// the threshold exactly. Oversized bytecode is marked and never queued. When
// the queue is full the compilation happens synchronously on this goroutine;
// when the worker has died it is skipped entirely.
func (e *Engine) maybeCompile(code []byte, key CacheKey) {
	if e.service.IsOversized(key.Hash) || e.service.Cache().Contains(key) {
		return
	}
	if len(code) > e.cfg.MaxBytecodeSize {
		e.service.MarkOversized(key.Hash)
		return
	}
	if !e.compiling.Add(key) {
		return
	}
	if !e.worker.Running() {
		e.compiling.Remove(key)
		return
	}
	if e.worker.Submit(append([]byte(nil), code...), key.Hash, key.Profile) {
		return
	}
	if _, err := e.Compile(code, key.Hash, key.Profile); err != nil {
		log.Debug("Synchronous compilation failed", "hash", key.Hash, "err", err)
	}
}

// runNative drives one native execution through any number of suspension
// rounds, delegating each requested sub-call to the interpreter.
func (e *Engine) runNative(compiled *CompiledCode, frame *CallFrame, host Host) Outcome {
	nativeExecutionCounter.Inc(1)
	out := e.backend.Execute(compiled, frame, host)
	for out.Kind == OutcomeSuspended {
		res, err := e.interp.SubCall(out.SubCall, host)
		if err != nil {
			return ErrorOutcome(err)
		}
		out = e.backend.Resume(out.Resume, res, frame, host)
	}
	return out
}

// runValidated runs the frame natively on a snapshot, rolls the state back,
// replays through the interpreter and compares: results first, then the side
// effects (refund counter, emitted logs) captured before the rollback. The
// interpreter's result is what the caller gets either way; on agreement the
// two are identical, on divergence the compiled code is evicted and the
// interpreter's answer stands.
func (e *Engine) runValidated(key CacheKey, compiled *CompiledCode, frame *CallFrame, host Host) (*ExecutionResult, error) {
	snap := host.Snapshot()
	nativeHost := &logCapture{Host: host}
	out := e.runNative(compiled, frame, nativeHost)
	nativeRefund := host.GetRefund()
	host.RevertToSnapshot(snap)

	if out.Kind == OutcomeError || out.Kind == OutcomeNotCompiled {
		fallbackCounter.Inc(1)
		log.Debug("Native execution failed during validation", "hash", key.Hash, "err", out.Err)
		return e.interp.Run(frame, host)
	}
	native := resultFromOutcome(out)

	interpHost := &logCapture{Host: host}
	interp, err := e.interp.Run(frame.Copy(), interpHost)
	if err != nil {
		return nil, err
	}

	reason := CompareResults(native, interp)
	if reason == "" {
		reason = CompareSideEffects(nativeRefund, host.GetRefund(), nativeHost.logs, interpHost.logs)
	}
	if reason != "" {
		validationMismatchCounter.Inc(1)
		e.service.Cache().Invalidate(key)
		log.Warn("JIT validation mismatch, evicting compiled code",
			"hash", key.Hash, "profile", key.Profile, "reason", reason,
			"nativeGas", native.UsedGas, "interpGas", interp.UsedGas)
		return interp, nil
	}
	validationSuccessCounter.Inc(1)
	e.recordValidation(key)
	return interp, nil
}

// shouldValidate gates dual execution. Bytecode with external calls is
// never validated: a sub-call's effects cannot be replayed deterministically
// once the snapshot is rolled back, so those runs are trusted directly.
func (e *Engine) shouldValidate(key CacheKey, compiled *CompiledCode) bool {
	if !e.cfg.ValidationMode || compiled.HasExternalCalls {
		return false
	}
	e.valMu.Lock()
	defer e.valMu.Unlock()
	return e.valRuns[key] < e.cfg.MaxValidationRuns
}

func (e *Engine) recordValidation(key CacheKey) {
	e.valMu.Lock()
	e.valRuns[key]++
	e.valMu.Unlock()
}
