package jitvm

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/tokamak-network/tokamak-jit/jit"
)

// Flat per-opcode gas schedule. The reference backend charges warm-access
// costs everywhere (no access lists), which keeps native and interpreted
// runs in exact agreement since both sides use this same table.
const (
	gasZero    uint64 = 0
	gasBase           = vm.GasQuickStep
	gasVeryLow        = vm.GasFastestStep
	gasLow            = vm.GasFastStep
	gasMid            = vm.GasMidStep
	gasHigh           = vm.GasSlowStep
)

// constGas returns the static cost of an opcode, or false for opcodes whose
// cost is entirely dynamic or that are not in the supported set.
func constGas(op byte) (uint64, bool) {
	switch op {
	case jit.STOP:
		return gasZero, true
	case jit.ADD, jit.SUB, jit.NOT, jit.LT, jit.GT, jit.SLT, jit.SGT, jit.EQ,
		jit.ISZERO, jit.AND, jit.OR, jit.XOR, jit.BYTE, jit.SHL, jit.SHR, jit.SAR,
		jit.CALLDATALOAD, jit.MLOAD, jit.MSTORE, jit.MSTORE8, jit.PUSH0:
		return gasVeryLow, true
	case jit.MUL, jit.DIV, jit.SDIV, jit.MOD, jit.SMOD, jit.SIGNEXTEND:
		return gasLow, true
	case jit.EXP:
		return params.ExpGas, true
	case jit.ADDMOD, jit.MULMOD, jit.JUMP:
		return gasMid, true
	case jit.JUMPI:
		return gasHigh, true
	case jit.ADDRESS, jit.ORIGIN, jit.CALLER, jit.CALLVALUE, jit.CALLDATASIZE,
		jit.CODESIZE, jit.RETURNDATASIZE, jit.POP, jit.PC, jit.MSIZE, jit.GAS:
		return gasBase, true
	case jit.BALANCE:
		return params.WarmStorageReadCostEIP2929, true
	case jit.SLOAD:
		return params.WarmStorageReadCostEIP2929, true
	case jit.JUMPDEST:
		return params.JumpdestGas, true
	case jit.KECCAK256:
		return params.Keccak256Gas, true
	case jit.CALLDATACOPY, jit.CODECOPY, jit.RETURNDATACOPY:
		return gasVeryLow, true
	case jit.RETURN, jit.REVERT:
		return gasZero, true
	case jit.CREATE:
		return params.CreateGas, true
	case jit.CREATE2:
		return params.Create2Gas, true
	case jit.CALL, jit.CALLCODE, jit.DELEGATECALL, jit.STATICCALL:
		return params.WarmStorageReadCostEIP2929, true
	case jit.SELFDESTRUCT:
		return gasZero, true
	}
	if jit.IsPush(op) {
		return gasVeryLow, true
	}
	if op >= jit.DUP1 && op <= jit.DUP16 {
		return gasVeryLow, true
	}
	if op >= jit.SWAP1 && op <= jit.SWAP16 {
		return gasVeryLow, true
	}
	if op >= jit.LOG0 && op <= jit.LOG4 {
		return params.LogGas, true
	}
	return 0, false
}

// toWords rounds a byte size up to 32-byte words.
func toWords(size uint64) uint64 {
	return (size + 31) / 32
}

// memoryGas is the total cost of a memory of the given byte size.
func memoryGas(size uint64) uint64 {
	words := toWords(size)
	return words*params.MemoryGas + words*words/params.QuadCoeffDiv
}

// copyGas is the per-word surcharge of the *COPY opcodes and KECCAK256 data.
func copyGas(size uint64, perWord uint64) uint64 {
	return toWords(size) * perWord
}

// sstoreGas charges the EIP-2200 warm costs: set, reset, or dirty write.
func sstoreGas(current, newValue [32]byte) uint64 {
	zero := [32]byte{}
	if current == newValue {
		return params.WarmStorageReadCostEIP2929
	}
	if current == zero {
		return params.SstoreSetGasEIP2200
	}
	return params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929
}

// logGas is the dynamic cost of a LOG opcode beyond its static base.
func logGas(topics int, dataSize uint64) uint64 {
	return uint64(topics)*params.LogTopicGas + dataSize*params.LogDataGas
}
