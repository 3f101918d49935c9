package jitvm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokamak-network/tokamak-jit/jit"
)

func analyze(code []byte) *jit.AnalyzedCode {
	return jit.Analyze(code, crypto.Keccak256Hash(code), jit.ScanJumpTargets(code))
}

func TestBackendCompileAndExecute(t *testing.T) {
	b := NewBackend()
	code := []byte{
		jit.PUSH1, 0x2a, jit.PUSH1, 0x00, jit.MSTORE,
		jit.PUSH1, 0x20, jit.PUSH1, 0x00, jit.RETURN,
	}
	compiled, err := b.Compile(analyze(code), jit.ProfileCancun, jit.ArenaSlot{Arena: 1, Index: 0})
	require.NoError(t, err)

	out := b.Execute(compiled, &jit.CallFrame{Code: code, Gas: 100_000}, NewStateHost())
	assert.Equal(t, jit.OutcomeSuccess, out.Kind)
	assert.Equal(t, common.BytesToHash([]byte{0x2a}).Bytes(), out.Output)
	assert.Equal(t, 1, b.ArenaCount())
}

func TestBackendRejectsEmptyBytecode(t *testing.T) {
	_, err := NewBackend().Compile(analyze(nil), jit.ProfileCancun, jit.ArenaSlot{Arena: 1})
	assert.Error(t, err)
}

func TestBackendFreedArenaProgramErrors(t *testing.T) {
	b := NewBackend()
	code := []byte{jit.STOP}
	compiled, err := b.Compile(analyze(code), jit.ProfileCancun, jit.ArenaSlot{Arena: 1, Index: 0})
	require.NoError(t, err)

	b.FreeArena(1)
	assert.Zero(t, b.ArenaCount())

	// The cached function may race an eviction; it must fail loudly rather
	// than touch freed bookkeeping.
	out := b.Execute(compiled, &jit.CallFrame{Code: code, Gas: 1000}, NewStateHost())
	assert.Equal(t, jit.OutcomeError, out.Kind)
}

func TestBackendFreeArenaKeepsOthers(t *testing.T) {
	b := NewBackend()
	code := []byte{jit.STOP}
	_, err := b.Compile(analyze(code), jit.ProfileCancun, jit.ArenaSlot{Arena: 1, Index: 0})
	require.NoError(t, err)
	survivor, err := b.Compile(analyze(code), jit.ProfileCancun, jit.ArenaSlot{Arena: 2, Index: 0})
	require.NoError(t, err)

	b.FreeArena(1)
	assert.Equal(t, 1, b.ArenaCount())

	out := b.Execute(survivor, &jit.CallFrame{Code: code, Gas: 1000}, NewStateHost())
	assert.Equal(t, jit.OutcomeSuccess, out.Kind)
}

func TestBackendSuspendAndResume(t *testing.T) {
	b := NewBackend()
	callee := common.HexToAddress("0xca11ee")
	code := append([]byte{
		jit.PUSH1, 0x20, jit.PUSH1, 0x00,
		jit.PUSH1, 0x00, jit.PUSH1, 0x00,
		jit.PUSH1, 0x00,
		0x73, // PUSH20
	}, callee.Bytes()...)
	code = append(code,
		jit.GAS, jit.CALL,
		jit.PUSH1, 0x20, jit.PUSH1, 0x00, jit.RETURN,
	)

	compiled, err := b.Compile(analyze(code), jit.ProfileCancun, jit.ArenaSlot{Arena: 1, Index: 0})
	require.NoError(t, err)
	assert.True(t, compiled.HasExternalCalls)

	host := NewStateHost()
	frame := &jit.CallFrame{Code: code, Gas: 200_000}
	out := b.Execute(compiled, frame, host)
	require.Equal(t, jit.OutcomeSuspended, out.Kind)
	require.NotNil(t, out.SubCall)
	assert.Equal(t, callee, out.SubCall.Target)
	assert.Equal(t, jit.SchemeCall, out.SubCall.Scheme)

	// Feed a fabricated sub-call result back in; the word lands in the
	// return window and CALL pushes success.
	word := common.BytesToHash([]byte{0x2a}).Bytes()
	out = b.Resume(out.Resume, &jit.SubCallResult{
		Success:  true,
		GasLimit: out.SubCall.Gas,
		GasUsed:  100,
		Output:   word,
	}, frame, host)
	require.Equal(t, jit.OutcomeSuccess, out.Kind)
	assert.Equal(t, word, out.Output)
}

func TestBackendResumeRejectsForeignState(t *testing.T) {
	b := NewBackend()
	out := b.Resume(jit.NewResumeState("not a machine"), &jit.SubCallResult{}, nil, nil)
	assert.Equal(t, jit.OutcomeError, out.Kind)
}
