package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optimize(code []byte) ([]byte, FoldStats) {
	out, stats := Optimize(analyze(code))
	return out.Code, stats
}

func TestFoldAdd(t *testing.T) {
	code := []byte{PUSH1, 0x03, PUSH1, 0x04, ADD, STOP}
	out, stats := optimize(code)
	assert.Equal(t, []byte{PUSH4, 0x00, 0x00, 0x00, 0x07, STOP}, out)
	assert.Equal(t, 1, stats.Folded)
	assert.Equal(t, 2, stats.OpcodesEliminated)
}

func TestFoldPreservesLength(t *testing.T) {
	cases := [][]byte{
		{PUSH1, 0x03, PUSH1, 0x04, ADD, STOP},
		{PUSH2, 0x01, 0x00, PUSH1, 0x02, MUL, STOP},
		{PUSH0, PUSH0, ADD, STOP},
		{PUSH1, 0x0f, PUSH1, 0xf0, OR, PUSH1, 0x01, AND, STOP},
	}
	for _, code := range cases {
		out, _ := optimize(code)
		assert.Equal(t, len(code), len(out))
	}
}

func TestFoldSubUsesStackOrder(t *testing.T) {
	// PUSH 3; PUSH 10; SUB leaves 10 on top, so the result is 10-3.
	code := []byte{PUSH1, 0x03, PUSH1, 0x0a, SUB, STOP}
	out, _ := optimize(code)
	assert.Equal(t, []byte{PUSH4, 0x00, 0x00, 0x00, 0x07, STOP}, out)
}

func TestFoldSkipsWrappingSub(t *testing.T) {
	// 3-10 wraps to 2^256-7, which cannot fit the pattern's immediate
	// bytes; the pattern must be left untouched.
	code := []byte{PUSH1, 0x0a, PUSH1, 0x03, SUB, STOP}
	out, stats := optimize(code)
	assert.Equal(t, code, out)
	assert.Equal(t, 1, stats.Detected)
	assert.Equal(t, 0, stats.Folded)
}

func TestFoldPushZero(t *testing.T) {
	code := []byte{PUSH0, PUSH0, ADD, STOP}
	out, _ := optimize(code)
	assert.Equal(t, []byte{PUSH2, 0x00, 0x00, STOP}, out)
}

func TestFoldChainsAcrossPasses(t *testing.T) {
	// ((1+2)+3): the second pattern only appears after the first fold.
	code := []byte{PUSH1, 0x01, PUSH1, 0x02, ADD, PUSH1, 0x03, ADD, STOP}
	out, stats := optimize(code)
	require.Equal(t, len(code), len(out))
	assert.Equal(t, byte(PUSH0+7), out[0])
	assert.Equal(t, byte(0x06), out[7])
	assert.Equal(t, byte(STOP), out[8])
	assert.Equal(t, 2, stats.Folded)
	assert.Equal(t, 4, stats.OpcodesEliminated)
}

func TestFoldIdempotent(t *testing.T) {
	code := []byte{PUSH1, 0x03, PUSH1, 0x04, ADD, PUSH1, 0x05, MUL, STOP}
	once, _ := optimize(code)
	twice, stats := optimize(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, 0, stats.Folded)
}

func TestFoldDoesNotTouchNonFoldableOps(t *testing.T) {
	for _, op := range []byte{DIV, MOD, EXP, LT, EQ, SHL} {
		code := []byte{PUSH1, 0x06, PUSH1, 0x02, op, STOP}
		out, stats := optimize(code)
		assert.Equal(t, code, out, "opcode %#x", op)
		assert.Equal(t, 0, stats.Folded)
	}
}

func TestFoldLeavesJumpTargetsIntact(t *testing.T) {
	code := []byte{
		PUSH1, 0x01, PUSH1, 0x02, ADD,
		PUSH1, 0x09, JUMP,
		STOP,
		JUMPDEST, STOP,
	}
	a := analyze(code)
	out, stats := Optimize(a)
	assert.Equal(t, 1, stats.Folded)
	assert.Equal(t, a.JumpTargets, out.JumpTargets)
	assert.Equal(t, out.JumpTargets, ScanJumpTargets(out.Code))
}

func TestFoldSkipsOversizedImmediate(t *testing.T) {
	// Two PUSH32 operands plus the operator span 67 bytes; a 66-byte
	// immediate has no PUSH encoding.
	code := make([]byte, 0, 68)
	code = append(code, PUSH32)
	code = append(code, make([]byte, 32)...)
	code = append(code, PUSH32)
	code = append(code, make([]byte, 32)...)
	code = append(code, ADD, STOP)
	out, stats := optimize(code)
	assert.Equal(t, code, out)
	assert.Equal(t, 1, stats.Detected)
	assert.Equal(t, 0, stats.Folded)
}

func TestFoldRecordsGasDebit(t *testing.T) {
	// PUSH+PUSH+ADD charge 9; the replacement PUSH charges 3 and must
	// carry the remaining 6.
	out, _ := Optimize(analyze([]byte{PUSH1, 0x03, PUSH1, 0x04, ADD, STOP}))
	assert.Equal(t, map[int]uint64{0: 6}, out.GasPatches)

	// MUL is a 5-gas operator.
	out, _ = Optimize(analyze([]byte{PUSH1, 0x03, PUSH1, 0x04, MUL, STOP}))
	assert.Equal(t, map[int]uint64{0: 8}, out.GasPatches)

	// Chained folds accumulate: five instructions at 15 gas collapse to
	// one PUSH charging 3+12.
	out, _ = Optimize(analyze([]byte{PUSH1, 0x01, PUSH1, 0x02, ADD, PUSH1, 0x03, ADD, STOP}))
	assert.Equal(t, map[int]uint64{0: 12}, out.GasPatches)
}

func TestFoldInputUnmodified(t *testing.T) {
	code := []byte{PUSH1, 0x03, PUSH1, 0x04, ADD, STOP}
	orig := append([]byte(nil), code...)
	a := analyze(code)
	_, _ = Optimize(a)
	assert.Equal(t, orig, a.Code)
}
