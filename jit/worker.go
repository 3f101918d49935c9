package jit

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// workRequest is one unit of background work: a compilation or an arena
// teardown. Arena teardown rides the same queue so native resources are only
// ever touched from the worker goroutine that created them.
type workRequest struct {
	// compile job; code is nil for free requests
	code    []byte
	hash    common.Hash
	profile Profile

	// arena free request
	freeArena bool
	arenaID   uint64
}

// compileHandler is what the worker drives: compilation and arena teardown,
// both of which must stay on the worker goroutine.
type compileHandler interface {
	Compile(code []byte, hash common.Hash, profile Profile) (*CompiledCode, error)
	FreeArena(arenaID uint64)
}

// CompilerWorker runs compilations on a single background goroutine.
// Requests are submitted without blocking: when the queue is full or the
// worker has stopped, the submission is simply dropped and execution stays
// on the interpreter. A panic inside the worker is logged and permanently
// degrades the process to interpreter-only rather than crashing it.
type CompilerWorker struct {
	handler compileHandler

	queue   chan workRequest
	stopped atomic.Bool

	// closeMu guards the queue against a send racing close.
	closeMu sync.RWMutex
	done    chan struct{}
}

// NewCompilerWorker starts the background goroutine.
func NewCompilerWorker(handler compileHandler, queueSize int) *CompilerWorker {
	w := &CompilerWorker{
		handler: handler,
		queue:   make(chan workRequest, queueSize),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues bytecode for compilation. It never blocks; false means the
// request was dropped (queue full or worker stopped).
func (w *CompilerWorker) Submit(code []byte, hash common.Hash, profile Profile) bool {
	return w.send(workRequest{code: code, hash: hash, profile: profile})
}

// SubmitFree queues an arena teardown. It never blocks; false means the
// request was dropped and the caller must account for the arena itself.
func (w *CompilerWorker) SubmitFree(arenaID uint64) bool {
	return w.send(workRequest{freeArena: true, arenaID: arenaID})
}

// Running reports whether the worker still accepts requests.
func (w *CompilerWorker) Running() bool { return !w.stopped.Load() }

func (w *CompilerWorker) send(req workRequest) bool {
	if w.stopped.Load() {
		return false
	}
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.stopped.Load() {
		return false
	}
	select {
	case w.queue <- req:
		return true
	default:
		return false
	}
}

// Close stops the worker and waits for it to drain the in-flight request.
// Pending queued requests are discarded. Safe to call more than once.
func (w *CompilerWorker) Close() {
	if w.stopped.Swap(true) {
		<-w.done
		return
	}
	w.closeMu.Lock()
	close(w.queue)
	w.closeMu.Unlock()
	<-w.done
}

func (w *CompilerWorker) loop() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			// Compilation must never take the process down. Leave the JIT
			// disabled; every dispatch falls through to the interpreter.
			w.stopped.Store(true)
			log.Error("JIT compiler worker panicked, disabling compilation", "panic", r)
		}
	}()

	for req := range w.queue {
		if w.stopped.Load() {
			return
		}
		if req.freeArena {
			w.handler.FreeArena(req.arenaID)
			continue
		}
		if _, err := w.handler.Compile(req.code, req.hash, req.profile); err != nil {
			log.Debug("Background compilation failed", "hash", req.hash, "err", err)
		}
	}
}
