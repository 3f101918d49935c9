package jit

import "github.com/ethereum/go-ethereum/common"

// ScanJumpTargets returns the offsets of all valid JUMPDEST instructions,
// skipping bytes that are PUSH immediate data.
func ScanJumpTargets(code []byte) []uint64 {
	var targets []uint64
	for i := 0; i < len(code); {
		op := code[i]
		if op == JUMPDEST {
			targets = append(targets, uint64(i))
		}
		i += instructionSize(op)
	}
	return targets
}

// Analyze segments bytecode into basic blocks and records structural facts
// the compiler and dispatcher need. The input slice is retained, not copied.
//
// Blocks are inclusive byte spans. A block ends at a terminator instruction
// (STOP, JUMP, JUMPI, RETURN, REVERT, INVALID, SELFDESTRUCT) or just before
// a JUMPDEST, which always starts a new block. PUSH immediates are skipped,
// so a 0x5b byte inside push data is neither a jump target nor a block
// boundary. A truncated PUSH at the end of code still terminates the scan
// cleanly: the missing immediate bytes read as zero at runtime.
func Analyze(code []byte, hash common.Hash, jumpTargets []uint64) *AnalyzedCode {
	analyzed := &AnalyzedCode{
		Hash:        hash,
		Code:        code,
		JumpTargets: jumpTargets,
	}

	blockStart := 0
	opcodeCount := 0
	for i := 0; i < len(code); {
		op := code[i]
		opcodeCount++

		if isExternalCall(op) {
			analyzed.HasExternalCalls = true
		}

		switch {
		case isBlockTerminator(op):
			analyzed.Blocks = append(analyzed.Blocks, BlockSpan{Start: blockStart, End: i})
			blockStart = i + 1
		case op == JUMPDEST && i > blockStart:
			// The JUMPDEST itself belongs to the next block.
			analyzed.Blocks = append(analyzed.Blocks, BlockSpan{Start: blockStart, End: i - 1})
			blockStart = i
		}

		i += instructionSize(op)
	}
	if blockStart < len(code) {
		analyzed.Blocks = append(analyzed.Blocks, BlockSpan{Start: blockStart, End: len(code) - 1})
	}
	analyzed.OpcodeCount = opcodeCount
	return analyzed
}
