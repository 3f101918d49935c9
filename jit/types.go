// Package jit implements the tiered just-in-time compilation layer for an
// EVM-compatible bytecode interpreter: execution counting, bytecode analysis
// and optimization, compiled-code caching with arena-grouped native memory,
// background compilation, dispatch with suspend/resume for sub-calls, and
// dual-execution validation of freshly compiled artifacts.
//
// The actual native code generator is abstracted behind the Backend
// interface; package jitvm ships a pure-Go reference backend.
package jit

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Profile identifies the versioned rule-set a compilation is specialized
// for. Compiled code is only valid under the profile it was compiled for:
// opcode availability and gas costs are baked in at compile time.
type Profile uint8

const (
	ProfileShanghai Profile = iota
	ProfileCancun
	ProfilePrague
	ProfileOsaka
)

func (p Profile) String() string {
	switch p {
	case ProfileShanghai:
		return "shanghai"
	case ProfileCancun:
		return "cancun"
	case ProfilePrague:
		return "prague"
	case ProfileOsaka:
		return "osaka"
	default:
		return fmt.Sprintf("profile(%d)", uint8(p))
	}
}

// CacheKey is the code cache key. The same bytecode compiled under different
// profiles produces different native code, so both parts are significant.
type CacheKey struct {
	Hash    common.Hash
	Profile Profile
}

// BlockSpan is a basic block as an inclusive byte range into the bytecode.
type BlockSpan struct {
	Start int
	End   int
}

// AnalyzedCode is the immutable result of scanning a bytecode: basic block
// boundaries, valid jump destinations and call-opcode flags. It is created
// once per compile attempt and discarded after compilation.
type AnalyzedCode struct {
	// Hash is the keccak hash of the original bytecode, used as cache key.
	Hash common.Hash
	// Code is the (possibly optimized) bytecode. Always the same length as
	// the input; the optimizer only rewrites in place.
	Code []byte
	// JumpTargets are the valid JUMPDEST offsets, in ascending order.
	JumpTargets []uint64
	// Blocks are the basic blocks covering Code in order, non-overlapping.
	Blocks []BlockSpan
	// OpcodeCount is the number of instructions in Code.
	OpcodeCount int
	// HasExternalCalls is set when the bytecode contains any CALL, CALLCODE,
	// DELEGATECALL, STATICCALL, CREATE, CREATE2 or SELFDESTRUCT.
	HasExternalCalls bool
	// GasPatches carries, per instruction offset, the static gas of
	// instructions the optimizer eliminated there. Charging it during
	// execution keeps optimized code's gas accounting identical to the
	// original bytecode's, instruction for instruction.
	GasPatches map[int]uint64
}

// NativeFunc is the callable produced by a Backend for one bytecode. It runs
// to completion, reversion, failure, or suspension; it never re-enters the
// interpreter itself.
type NativeFunc func(frame *CallFrame, host Host) Outcome

// CompiledCode describes one compiled function. It is referenced only by the
// code cache entry and the owning arena; its lifetime ends when the arena is
// destroyed.
type CompiledCode struct {
	fn NativeFunc

	// CodeLen is the length of the compiled bytecode.
	CodeLen int
	// BlockCount is the number of basic blocks the analyzer found.
	BlockCount int
	// Slot is the (arena, index) back-reference used for native memory
	// reclamation. Nil when the backend does not group functions in arenas.
	Slot *ArenaSlot
	// HasExternalCalls mirrors AnalyzedCode.HasExternalCalls so dispatch
	// does not re-scan the bytecode.
	HasExternalCalls bool
	// Bytecode is the optimized bytecode the function was compiled from,
	// retained for inspection and recompilation.
	Bytecode []byte
}

// NewCompiledCode wraps a native function with its metadata.
func NewCompiledCode(fn NativeFunc, analyzed *AnalyzedCode, slot *ArenaSlot) *CompiledCode {
	return &CompiledCode{
		fn:               fn,
		CodeLen:          len(analyzed.Code),
		BlockCount:       len(analyzed.Blocks),
		Slot:             slot,
		HasExternalCalls: analyzed.HasExternalCalls,
		Bytecode:         analyzed.Code,
	}
}

// Func returns the callable native function.
func (c *CompiledCode) Func() NativeFunc { return c.fn }

// CallFrame is the slice of interpreter call-frame state the JIT layer needs.
// The dispatcher treats it as input: gas accounting is reported through
// ExecutionResult rather than mutated in place.
type CallFrame struct {
	Code     []byte
	CodeHash common.Hash
	Address  common.Address
	Caller   common.Address
	Value    *uint256.Int
	Input    []byte
	Gas      uint64
	Static   bool
	Depth    int
}

// Copy returns a deep copy suitable for dual-execution replay.
func (f *CallFrame) Copy() *CallFrame {
	c := *f
	if f.Value != nil {
		c.Value = new(uint256.Int).Set(f.Value)
	}
	c.Input = append([]byte(nil), f.Input...)
	return &c
}

// Host is the capability surface a native function uses at runtime. It
// delegates to the same state object the interpreter uses, so native and
// interpreted execution observe identical side effects.
type Host interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)

	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)
	GetCode(addr common.Address) []byte
	GetCodeHash(addr common.Address) common.Hash
	SetCode(addr common.Address, code []byte)
	GetNonce(addr common.Address) uint64
	SetNonce(addr common.Address, nonce uint64)

	AddLog(log *types.Log)

	AddRefund(gas uint64)
	SubRefund(gas uint64)
	GetRefund() uint64

	Snapshot() int
	RevertToSnapshot(id int)
}

// Interpreter is the collaborator that executes bytecode the slow way. The
// engine falls back to it on every cache miss, replays through it during
// validation, and delegates sub-calls from suspended native code to it.
type Interpreter interface {
	// Run executes the frame to completion against host state.
	Run(frame *CallFrame, host Host) (*ExecutionResult, error)
	// SubCall performs a call or create requested by suspended native code,
	// exactly as an interpreted CALL/CREATE would.
	SubCall(call *SubCall, host Host) (*SubCallResult, error)
}

// Backend is the native-code generator contract. Implementations must be
// safe for concurrent Execute/Resume; Compile and FreeArena are serialized
// by the caller (the backend is assumed non-reentrant across threads).
type Backend interface {
	// Compile turns analyzed bytecode into a callable function registered
	// under the given arena slot.
	Compile(analyzed *AnalyzedCode, profile Profile, slot ArenaSlot) (*CompiledCode, error)
	// Execute invokes a compiled function against the frame and host.
	Execute(compiled *CompiledCode, frame *CallFrame, host Host) Outcome
	// Resume continues a suspended execution with the sub-call result.
	Resume(state *ResumeState, result *SubCallResult, frame *CallFrame, host Host) Outcome
	// FreeArena releases all native resources belonging to an arena. Called
	// only from the goroutine that compiled the arena's functions, and only
	// after the code cache holds no reference into it.
	FreeArena(arenaID uint64)
}

// OutcomeKind discriminates the result of one native dispatch attempt.
type OutcomeKind uint8

const (
	// OutcomeNotCompiled means no compiled code ran; fall through to the
	// interpreter.
	OutcomeNotCompiled OutcomeKind = iota
	// OutcomeSuccess is a normal halt (STOP/RETURN).
	OutcomeSuccess
	// OutcomeRevert is an explicit REVERT.
	OutcomeRevert
	// OutcomeError is a JIT-layer failure: treated like a cache miss, the
	// call is re-run by the interpreter.
	OutcomeError
	// OutcomeSuspended means native code hit a CALL/CREATE and is waiting
	// for the interpreter to perform the sub-call.
	OutcomeSuspended
)

// Outcome is the result of one native dispatch attempt.
type Outcome struct {
	Kind    OutcomeKind
	GasUsed uint64
	Output  []byte
	Err     error

	// Set when Kind == OutcomeSuspended.
	Resume  *ResumeState
	SubCall *SubCall
}

// ErrorOutcome wraps a JIT-layer failure.
func ErrorOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// ResumeState is the opaque continuation of a suspended native execution.
// Backends store whatever they need to pick up where they left off; the
// dispatcher only passes it through.
type ResumeState struct {
	inner any
}

// NewResumeState wraps backend-private continuation state.
func NewResumeState(inner any) *ResumeState { return &ResumeState{inner: inner} }

// Inner returns the backend-private continuation state.
func (r *ResumeState) Inner() any { return r.inner }

// CallScheme is the flavor of sub-call requested by suspended native code.
type CallScheme uint8

const (
	SchemeCall CallScheme = iota
	SchemeCallCode
	SchemeDelegateCall
	SchemeStaticCall
	SchemeCreate
	SchemeCreate2
)

// IsCreate reports whether the scheme deploys a new contract.
func (s CallScheme) IsCreate() bool {
	return s == SchemeCreate || s == SchemeCreate2
}

// SubCall describes the call or create a suspended native execution needs
// the interpreter to perform.
type SubCall struct {
	Scheme      CallScheme
	Gas         uint64
	Caller      common.Address
	Target      common.Address
	CodeAddress common.Address
	Value       *uint256.Int
	// Input is the calldata for calls, the init code for creates.
	Input  []byte
	Static bool
	// Salt is set for CREATE2 only.
	Salt *uint256.Int
	// ReturnOffset/ReturnSize locate the caller memory window the sub-call
	// output is written to on resume (calls only).
	ReturnOffset int
	ReturnSize   int
	// Depth is the callee's frame depth.
	Depth int
}

// SubCallResult is what the interpreter reports back for a SubCall.
type SubCallResult struct {
	Success bool
	// GasLimit is the gas that was allocated to the sub-call; the unused
	// portion is credited back to the suspended caller on resume.
	GasLimit uint64
	GasUsed  uint64
	Output   []byte
	// CreatedAddress is set for successful creates.
	CreatedAddress *common.Address
}

// ExecutionResult is the terminal result of one call, in the shape the
// enclosing interpreter consumes. Err is nil on success,
// vm.ErrExecutionReverted on an explicit revert, and any other error for a
// halting failure that consumes all gas.
type ExecutionResult struct {
	UsedGas    uint64
	Err        error
	ReturnData []byte
}

// Reverted reports whether the call ended in an explicit REVERT.
func (r *ExecutionResult) Reverted() bool {
	return r.Err == vm.ErrExecutionReverted
}

// Failed reports whether the call ended in any error, including revert.
func (r *ExecutionResult) Failed() bool { return r.Err != nil }

// resultFromOutcome converts a terminal native outcome. Callers must not
// pass OutcomeError, OutcomeNotCompiled or OutcomeSuspended.
func resultFromOutcome(o Outcome) *ExecutionResult {
	res := &ExecutionResult{UsedGas: o.GasUsed, ReturnData: o.Output}
	if o.Kind == OutcomeRevert {
		res.Err = vm.ErrExecutionReverted
	}
	return res
}
