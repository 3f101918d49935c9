package jit

import "github.com/ethereum/go-ethereum/params"

// Config carries the tuning knobs of the JIT layer. Zero values are not
// usable; start from DefaultConfig.
type Config struct {
	// CompilationThreshold is the execution count at which a bytecode is
	// queued for compilation. The trigger fires exactly once, on the
	// execution where the count equals the threshold.
	CompilationThreshold uint64

	// ValidationMode enables dual execution of freshly compiled code.
	ValidationMode bool

	// MaxBytecodeSize is the size gate: larger bytecodes are permanently
	// marked oversized and never compiled.
	MaxBytecodeSize int

	// MaxCacheEntries bounds the compiled-code cache.
	MaxCacheEntries int

	// MaxValidationRuns is how many executions of each compiled code are
	// validated against the interpreter before native results are trusted.
	MaxValidationRuns uint64

	// ArenaCapacity is the number of compiled functions grouped into one
	// arena before a new one is started.
	ArenaCapacity uint16

	// MaxArenas bounds the number of simultaneously live arenas.
	MaxArenas int

	// QueueSize is the background compiler's request queue depth. Sends
	// never block; a full queue drops the request.
	QueueSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CompilationThreshold: 10,
		ValidationMode:       true,
		MaxBytecodeSize:      params.MaxCodeSize,
		MaxCacheEntries:      1024,
		MaxValidationRuns:    3,
		ArenaCapacity:        64,
		MaxArenas:            32,
		QueueSize:            1024,
	}
}
