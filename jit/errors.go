package jit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCompiled is returned when no compiled code exists for a hash.
	ErrNotCompiled = errors.New("bytecode not compiled")
	// ErrWorkerStopped is returned when the background compiler has shut
	// down or died.
	ErrWorkerStopped = errors.New("compiler worker stopped")
	// ErrArenaFull is returned when registering into an arena with no free
	// slots left.
	ErrArenaFull = errors.New("arena is full")
	// ErrTooManyArenas is returned when the live-arena bound is reached.
	ErrTooManyArenas = errors.New("too many live arenas")
	// ErrEmptyBytecode marks zero-length bytecode, which is never compiled.
	ErrEmptyBytecode = errors.New("empty bytecode")
)

// BytecodeTooLargeError reports a bytecode rejected by the size gate.
type BytecodeTooLargeError struct {
	Size int
	Max  int
}

func (e *BytecodeTooLargeError) Error() string {
	return fmt.Sprintf("bytecode too large for compilation: %d > %d", e.Size, e.Max)
}
