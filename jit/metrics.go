package jit

import "github.com/ethereum/go-ethereum/metrics"

var (
	nativeExecutionCounter = metrics.NewRegisteredCounter("jit/executions", nil)
	fallbackCounter        = metrics.NewRegisteredCounter("jit/fallbacks", nil)

	compileSuccessCounter = metrics.NewRegisteredCounter("jit/compile/success", nil)
	compileSkipCounter    = metrics.NewRegisteredCounter("jit/compile/skips", nil)
	compileFailureCounter = metrics.NewRegisteredCounter("jit/compile/failures", nil)

	validationSuccessCounter  = metrics.NewRegisteredCounter("jit/validation/success", nil)
	validationMismatchCounter = metrics.NewRegisteredCounter("jit/validation/mismatch", nil)

	arenaCreatedCounter = metrics.NewRegisteredCounter("jit/arena/created", nil)
	arenaFreedCounter   = metrics.NewRegisteredCounter("jit/arena/freed", nil)

	cacheHitCounter      = metrics.NewRegisteredCounter("jit/cache/hits", nil)
	cacheMissCounter     = metrics.NewRegisteredCounter("jit/cache/misses", nil)
	cacheEvictionCounter = metrics.NewRegisteredCounter("jit/cache/evictions", nil)
)
