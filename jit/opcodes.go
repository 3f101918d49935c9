package jit

// EVM opcode constants used by the analyzer, optimizer and reference backend.
// Kept as plain byte constants so the analysis passes work on raw bytecode
// without pulling in an interpreter dependency.
const (
	STOP       = 0x00
	ADD        = 0x01
	MUL        = 0x02
	SUB        = 0x03
	DIV        = 0x04
	SDIV       = 0x05
	MOD        = 0x06
	SMOD       = 0x07
	ADDMOD     = 0x08
	MULMOD     = 0x09
	EXP        = 0x0a
	SIGNEXTEND = 0x0b

	LT     = 0x10
	GT     = 0x11
	SLT    = 0x12
	SGT    = 0x13
	EQ     = 0x14
	ISZERO = 0x15
	AND    = 0x16
	OR     = 0x17
	XOR    = 0x18
	NOT    = 0x19
	BYTE   = 0x1a
	SHL    = 0x1b
	SHR    = 0x1c
	SAR    = 0x1d

	KECCAK256 = 0x20

	ADDRESS        = 0x30
	BALANCE        = 0x31
	ORIGIN         = 0x32
	CALLER         = 0x33
	CALLVALUE      = 0x34
	CALLDATALOAD   = 0x35
	CALLDATASIZE   = 0x36
	CALLDATACOPY   = 0x37
	CODESIZE       = 0x38
	CODECOPY       = 0x39
	RETURNDATASIZE = 0x3d
	RETURNDATACOPY = 0x3e

	POP      = 0x50
	MLOAD    = 0x51
	MSTORE   = 0x52
	MSTORE8  = 0x53
	SLOAD    = 0x54
	SSTORE   = 0x55
	JUMP     = 0x56
	JUMPI    = 0x57
	PC       = 0x58
	MSIZE    = 0x59
	GAS      = 0x5a
	JUMPDEST = 0x5b

	PUSH0  = 0x5f
	PUSH1  = 0x60
	PUSH2  = 0x61
	PUSH4  = 0x63
	PUSH32 = 0x7f

	DUP1  = 0x80
	DUP16 = 0x8f

	SWAP1  = 0x90
	SWAP16 = 0x9f

	LOG0 = 0xa0
	LOG4 = 0xa4

	CREATE       = 0xf0
	CALL         = 0xf1
	CALLCODE     = 0xf2
	RETURN       = 0xf3
	DELEGATECALL = 0xf4
	CREATE2      = 0xf5
	STATICCALL   = 0xfa
	REVERT       = 0xfd
	INVALID      = 0xfe
	SELFDESTRUCT = 0xff
)

// IsPush reports whether op is PUSH0..PUSH32.
func IsPush(op byte) bool {
	return op >= PUSH0 && op <= PUSH32
}

// PushDataSize returns the number of immediate data bytes following a PUSH
// opcode. PUSH0 carries no immediate; non-PUSH opcodes return 0.
func PushDataSize(op byte) int {
	if op > PUSH0 && op <= PUSH32 {
		return int(op - PUSH0)
	}
	return 0
}

// instructionSize is the full encoded size of an instruction: one opcode byte
// plus any PUSH immediate.
func instructionSize(op byte) int {
	return 1 + PushDataSize(op)
}

// isBlockTerminator reports whether op ends a basic block.
func isBlockTerminator(op byte) bool {
	switch op {
	case STOP, JUMP, JUMPI, RETURN, REVERT, INVALID, SELFDESTRUCT:
		return true
	default:
		return false
	}
}

// isExternalCall reports whether op transfers control outside the current
// contract: calls, creates, and selfdestruct (which moves balances).
func isExternalCall(op byte) bool {
	switch op {
	case CALL, CALLCODE, DELEGATECALL, STATICCALL, CREATE, CREATE2, SELFDESTRUCT:
		return true
	default:
		return false
	}
}
