package jit

import "github.com/holiman/uint256"

// maxFoldPasses bounds the fixpoint iteration of the optimizer. Folding is
// monotone (each fold removes two instructions), so the loop terminates on
// its own; the bound is a backstop.
const maxFoldPasses = 10

// FoldStats reports one optimization run.
type FoldStats struct {
	// Detected is the number of PUSH;PUSH;binop patterns seen, whether or
	// not they were foldable.
	Detected int
	// Folded is the number of patterns rewritten.
	Folded int
	// OpcodesEliminated is the net instruction count reduction.
	OpcodesEliminated int
}

func (s *FoldStats) add(o FoldStats) {
	s.Detected += o.Detected
	s.Folded += o.Folded
	s.OpcodesEliminated += o.OpcodesEliminated
}

// foldableOp reports whether the binary operator can be constant-folded.
// Division and modulo are excluded: their zero-divisor semantics are cheap
// to get wrong and the patterns are rare in practice.
func foldableOp(op byte) bool {
	switch op {
	case ADD, MUL, SUB, AND, OR, XOR:
		return true
	}
	return false
}

// Static gas of the foldable opcodes, needed to keep optimized code's gas
// accounting equal to the original's.
const (
	gasPush    = 3
	gasFoldLow = 3 // ADD, SUB, AND, OR, XOR
	gasFoldMid = 5 // MUL
)

// foldGasDebit is the gas a fold stops charging naturally: the two PUSHes
// and the operator are replaced by a single PUSH.
func foldGasDebit(op byte) uint64 {
	opGas := uint64(gasFoldLow)
	if op == MUL {
		opGas = gasFoldMid
	}
	return 2*gasPush + opGas - gasPush
}

// applyFold computes op over two push operands with EVM stack order: b is
// on top, so SUB yields b-a.
func applyFold(op byte, a, b *uint256.Int) *uint256.Int {
	r := new(uint256.Int)
	switch op {
	case ADD:
		r.Add(b, a)
	case MUL:
		r.Mul(b, a)
	case SUB:
		r.Sub(b, a)
	case AND:
		r.And(b, a)
	case OR:
		r.Or(b, a)
	case XOR:
		r.Xor(b, a)
	}
	return r
}

// pushImmediate reads the immediate of the PUSH at offset i, zero padded if
// the code is truncated.
func pushImmediate(code []byte, i int) *uint256.Int {
	n := PushDataSize(code[i])
	v := new(uint256.Int)
	if n == 0 {
		return v
	}
	start := i + 1
	end := start + n
	if start >= len(code) {
		return v
	}
	if end > len(code) {
		// Truncated push reads as if padded with trailing zeros, which
		// shifts the available bytes left.
		buf := make([]byte, n)
		copy(buf, code[start:])
		return v.SetBytes(buf)
	}
	return v.SetBytes(code[start:end])
}

// foldOnce performs a single left-to-right folding pass over code, rewriting
// in place. Every replacement occupies exactly the bytes of the pattern it
// replaces and begins with a PUSH opcode, so instruction boundaries, code
// length and JUMPDEST positions are all preserved. Eliminated gas is
// accumulated into patches at the replacement offset; folds of already
// folded pushes inherit their debits.
func foldOnce(code []byte, patches map[int]uint64) FoldStats {
	var stats FoldStats
	for i := 0; i < len(code); {
		op := code[i]
		if !IsPush(op) {
			i += instructionSize(op)
			continue
		}
		j := i + instructionSize(op)
		if j >= len(code) || !IsPush(code[j]) {
			i = j
			continue
		}
		k := j + instructionSize(code[j])
		if k >= len(code) || !foldableOp(code[k]) {
			i = j
			continue
		}
		stats.Detected++

		// The replacement PUSH uses the whole pattern span: one opcode byte
		// plus dataSize immediate bytes.
		dataSize := k - i
		a := pushImmediate(code, i)
		b := pushImmediate(code, j)
		result := applyFold(code[k], a, b)
		if dataSize > 32 || result.ByteLen() > dataSize {
			// The folded value does not fit the available immediate bytes
			// (typically a wrapped SUB). Leave the pattern alone.
			i = j
			continue
		}

		debit := foldGasDebit(code[k]) + patches[i] + patches[j]
		delete(patches, j)
		patches[i] = debit

		code[i] = PUSH0 + byte(dataSize)
		full := result.Bytes32()
		copy(code[i+1:k+1], full[32-dataSize:])
		stats.Folded++
		stats.OpcodesEliminated += 2
		i = k + 1
	}
	return stats
}

// Optimize runs constant folding to a fixed point (at most maxFoldPasses
// passes) and returns the re-analyzed result. The input is not modified;
// when nothing folds, the returned AnalyzedCode shares the input's code.
func Optimize(analyzed *AnalyzedCode) (*AnalyzedCode, FoldStats) {
	code := append([]byte(nil), analyzed.Code...)
	patches := make(map[int]uint64)
	var total FoldStats
	for pass := 0; pass < maxFoldPasses; pass++ {
		stats := foldOnce(code, patches)
		total.add(stats)
		if stats.Folded == 0 {
			break
		}
	}
	if total.Folded == 0 {
		return analyzed, total
	}
	out := Analyze(code, analyzed.Hash, analyzed.JumpTargets)
	out.GasPatches = patches
	return out, total
}
