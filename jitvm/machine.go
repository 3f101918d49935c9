// Package jitvm is the reference backend for the JIT layer: a pure-Go
// stack machine that "compiles" analyzed bytecode into a closure over a
// precomputed jump table. It exists so the tiering machinery (counting,
// caching, arenas, suspension, validation) can run end to end without a
// native code generator, and doubles as the interpreter collaborator.
package jitvm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-jit/jit"
)

const (
	maxStackDepth = 1024
	maxCallDepth  = 1024

	// maxMemoryBytes is the largest memory size whose gas cost still fits a
	// uint64: the squared word count in memoryGas must not overflow, and
	// neither may the word rounding in toWords.
	maxMemoryBytes = 0x1FFFFFFFE0
)

var (
	errStackUnderflow = errors.New("stack underflow")
	errStackOverflow  = errors.New("stack overflow")
	errInvalidOpcode  = errors.New("invalid opcode")
)

// subCallFunc performs a call or create on behalf of the machine. When nil
// the machine suspends instead, handing the request to the dispatcher.
type subCallFunc func(call *jit.SubCall) (*jit.SubCallResult, error)

// machine executes one call frame. Offsets, the stack and memory all live
// here, so a suspended machine is resumable by simply continuing its loop.
type machine struct {
	code        []byte
	jumpTargets map[int]struct{}
	// gasPatches holds extra static gas per offset, compensating for
	// instructions the optimizer folded away so charging stays identical
	// to the original bytecode.
	gasPatches map[int]uint64
	frame      *jit.CallFrame
	host       jit.Host

	stack      []uint256.Int
	memory     []byte
	gas        uint64
	pc         int
	returnData []byte

	subCaller subCallFunc

	// pending is the sub-call the machine suspended on, nil otherwise.
	pending *jit.SubCall
}

func newMachine(code []byte, targets []uint64, frame *jit.CallFrame, host jit.Host, subCaller subCallFunc) *machine {
	m := &machine{
		code:        code,
		jumpTargets: make(map[int]struct{}, len(targets)),
		frame:       frame,
		host:        host,
		stack:       make([]uint256.Int, 0, 16),
		gas:         frame.Gas,
		subCaller:   subCaller,
	}
	for _, t := range targets {
		m.jumpTargets[int(t)] = struct{}{}
	}
	return m
}

func (m *machine) gasUsed() uint64 { return m.frame.Gas - m.gas }

func (m *machine) useGas(amount uint64) error {
	if m.gas < amount {
		return vm.ErrOutOfGas
	}
	m.gas -= amount
	return nil
}

func (m *machine) push(v *uint256.Int) error {
	if len(m.stack) >= maxStackDepth {
		return errStackOverflow
	}
	m.stack = append(m.stack, *v)
	return nil
}

func (m *machine) pop() (uint256.Int, error) {
	if len(m.stack) == 0 {
		return uint256.Int{}, errStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// pop2 pops the top two values; x was on top.
func (m *machine) pop2() (x, y uint256.Int, err error) {
	if len(m.stack) < 2 {
		return x, y, errStackUnderflow
	}
	n := len(m.stack)
	x, y = m.stack[n-1], m.stack[n-2]
	m.stack = m.stack[:n-2]
	return x, y, nil
}

// expandMemory charges for and grows memory to cover [offset, offset+size).
func (m *machine) expandMemory(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	end := offset + size
	if end < offset || end > maxMemoryBytes {
		return vm.ErrGasUintOverflow
	}
	if uint64(len(m.memory)) >= end {
		return nil
	}
	newSize := toWords(end) * 32
	if err := m.useGas(memoryGas(newSize) - memoryGas(uint64(len(m.memory)))); err != nil {
		return err
	}
	grown := make([]byte, newSize)
	copy(grown, m.memory)
	m.memory = grown
	return nil
}

// memRange pops an (offset, size) pair and expands memory over it.
func (m *machine) memRange() (offset, size uint64, err error) {
	offV, sizeV, err := m.pop2()
	if err != nil {
		return 0, 0, err
	}
	offset, overflow := offV.Uint64WithOverflow()
	if overflow {
		return 0, 0, vm.ErrGasUintOverflow
	}
	size, overflow = sizeV.Uint64WithOverflow()
	if overflow {
		return 0, 0, vm.ErrGasUintOverflow
	}
	if err := m.expandMemory(offset, size); err != nil {
		return 0, 0, err
	}
	return offset, size, nil
}

// copyPadded fills dst from src starting at srcOff, zero padding past the
// end of src.
func copyPadded(dst, src []byte, srcOff uint64) {
	for i := range dst {
		dst[i] = 0
	}
	if srcOff >= uint64(len(src)) {
		return
	}
	copy(dst, src[srcOff:])
}

func haltOutcome(kind jit.OutcomeKind, gasUsed uint64, output []byte) jit.Outcome {
	return jit.Outcome{Kind: kind, GasUsed: gasUsed, Output: output}
}

// fail consumes all remaining gas, matching EVM semantics for halting
// errors. The dispatcher surfaces these as interpreter fallbacks and the
// interpreter path surfaces them as the call's error.
func (m *machine) fail(err error) jit.Outcome {
	m.gas = 0
	return jit.Outcome{Kind: jit.OutcomeError, GasUsed: m.gasUsed(), Err: err}
}

// run executes until halt, error or suspension. Falling off the end of the
// code is an implicit STOP.
func (m *machine) run() jit.Outcome {
	for m.pc < len(m.code) {
		op := m.code[m.pc]
		cost, ok := constGas(op)
		if !ok {
			return m.fail(errInvalidOpcode)
		}
		if m.gasPatches != nil {
			cost += m.gasPatches[m.pc]
		}
		if err := m.useGas(cost); err != nil {
			return m.fail(err)
		}

		out, done := m.step(op)
		if done {
			return out
		}
	}
	return haltOutcome(jit.OutcomeSuccess, m.gasUsed(), nil)
}

// step executes one instruction whose static gas is already charged. It
// advances pc and reports whether execution is over (halt, error, suspend).
func (m *machine) step(op byte) (jit.Outcome, bool) {
	switch {
	case op == jit.STOP:
		return haltOutcome(jit.OutcomeSuccess, m.gasUsed(), nil), true

	case op >= jit.ADD && op <= jit.SIGNEXTEND:
		if err := m.arith(op); err != nil {
			return m.fail(err), true
		}

	case op >= jit.LT && op <= jit.SAR:
		if err := m.compareBit(op); err != nil {
			return m.fail(err), true
		}

	case op == jit.KECCAK256:
		if err := m.keccak(); err != nil {
			return m.fail(err), true
		}

	case op == jit.ADDRESS:
		if err := m.push(addressWord(m.frame.Address)); err != nil {
			return m.fail(err), true
		}
	case op == jit.CALLER:
		if err := m.push(addressWord(m.frame.Caller)); err != nil {
			return m.fail(err), true
		}
	case op == jit.CALLVALUE:
		v := new(uint256.Int)
		if m.frame.Value != nil {
			v.Set(m.frame.Value)
		}
		if err := m.push(v); err != nil {
			return m.fail(err), true
		}
	case op == jit.BALANCE:
		addr, err := m.pop()
		if err != nil {
			return m.fail(err), true
		}
		bal := m.host.GetBalance(common.Address(addr.Bytes20()))
		if err := m.push(bal); err != nil {
			return m.fail(err), true
		}

	case op == jit.CALLDATALOAD:
		if err := m.calldataload(); err != nil {
			return m.fail(err), true
		}
	case op == jit.CALLDATASIZE:
		if err := m.push(uint256.NewInt(uint64(len(m.frame.Input)))); err != nil {
			return m.fail(err), true
		}
	case op == jit.CALLDATACOPY:
		if err := m.dataCopy(m.frame.Input); err != nil {
			return m.fail(err), true
		}
	case op == jit.CODESIZE:
		// Always the deployed bytecode, even when running an optimized
		// image of it.
		if err := m.push(uint256.NewInt(uint64(len(m.frame.Code)))); err != nil {
			return m.fail(err), true
		}
	case op == jit.CODECOPY:
		if err := m.dataCopy(m.frame.Code); err != nil {
			return m.fail(err), true
		}
	case op == jit.RETURNDATASIZE:
		if err := m.push(uint256.NewInt(uint64(len(m.returnData)))); err != nil {
			return m.fail(err), true
		}
	case op == jit.RETURNDATACOPY:
		if err := m.returndataCopy(); err != nil {
			return m.fail(err), true
		}

	case op == jit.POP:
		if _, err := m.pop(); err != nil {
			return m.fail(err), true
		}
	case op == jit.MLOAD:
		if err := m.mload(); err != nil {
			return m.fail(err), true
		}
	case op == jit.MSTORE:
		if err := m.mstore(32); err != nil {
			return m.fail(err), true
		}
	case op == jit.MSTORE8:
		if err := m.mstore(1); err != nil {
			return m.fail(err), true
		}
	case op == jit.MSIZE:
		if err := m.push(uint256.NewInt(uint64(len(m.memory)))); err != nil {
			return m.fail(err), true
		}

	case op == jit.SLOAD:
		key, err := m.pop()
		if err != nil {
			return m.fail(err), true
		}
		val := m.host.GetState(m.frame.Address, key.Bytes32())
		if err := m.push(new(uint256.Int).SetBytes(val[:])); err != nil {
			return m.fail(err), true
		}
	case op == jit.SSTORE:
		if err := m.sstore(); err != nil {
			return m.fail(err), true
		}

	case op == jit.JUMP:
		dest, err := m.pop()
		if err != nil {
			return m.fail(err), true
		}
		if err := m.jump(&dest); err != nil {
			return m.fail(err), true
		}
		return jit.Outcome{}, false
	case op == jit.JUMPI:
		dest, cond, err := m.pop2()
		if err != nil {
			return m.fail(err), true
		}
		if !cond.IsZero() {
			if err := m.jump(&dest); err != nil {
				return m.fail(err), true
			}
			return jit.Outcome{}, false
		}
	case op == jit.PC:
		if err := m.push(uint256.NewInt(uint64(m.pc))); err != nil {
			return m.fail(err), true
		}
	case op == jit.GAS:
		if err := m.push(uint256.NewInt(m.gas)); err != nil {
			return m.fail(err), true
		}
	case op == jit.JUMPDEST:
		// no effect

	case jit.IsPush(op):
		if err := m.pushImmediate(op); err != nil {
			return m.fail(err), true
		}
		m.pc += 1 + jit.PushDataSize(op)
		return jit.Outcome{}, false

	case op >= jit.DUP1 && op <= jit.DUP16:
		n := int(op-jit.DUP1) + 1
		if len(m.stack) < n {
			return m.fail(errStackUnderflow), true
		}
		v := m.stack[len(m.stack)-n]
		if err := m.push(&v); err != nil {
			return m.fail(err), true
		}
	case op >= jit.SWAP1 && op <= jit.SWAP16:
		n := int(op-jit.SWAP1) + 1
		if len(m.stack) < n+1 {
			return m.fail(errStackUnderflow), true
		}
		top := len(m.stack) - 1
		m.stack[top], m.stack[top-n] = m.stack[top-n], m.stack[top]

	case op >= jit.LOG0 && op <= jit.LOG4:
		if err := m.emitLog(int(op - jit.LOG0)); err != nil {
			return m.fail(err), true
		}

	case op == jit.RETURN:
		offset, size, err := m.memRange()
		if err != nil {
			return m.fail(err), true
		}
		return haltOutcome(jit.OutcomeSuccess, m.gasUsed(), m.memSlice(offset, size)), true
	case op == jit.REVERT:
		offset, size, err := m.memRange()
		if err != nil {
			return m.fail(err), true
		}
		return haltOutcome(jit.OutcomeRevert, m.gasUsed(), m.memSlice(offset, size)), true
	case op == jit.INVALID:
		return m.fail(errInvalidOpcode), true

	case op == jit.CALL, op == jit.CALLCODE, op == jit.DELEGATECALL, op == jit.STATICCALL:
		return m.doCall(op)
	case op == jit.CREATE, op == jit.CREATE2:
		return m.doCreate(op)
	case op == jit.SELFDESTRUCT:
		return m.selfdestruct()

	default:
		return m.fail(errInvalidOpcode), true
	}

	m.pc++
	return jit.Outcome{}, false
}

func addressWord(addr common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes(addr[:])
}

func (m *machine) jump(dest *uint256.Int) error {
	target, overflow := dest.Uint64WithOverflow()
	if overflow {
		return vm.ErrInvalidJump
	}
	if _, ok := m.jumpTargets[int(target)]; !ok {
		return vm.ErrInvalidJump
	}
	m.pc = int(target)
	return nil
}

func (m *machine) pushImmediate(op byte) error {
	n := jit.PushDataSize(op)
	v := new(uint256.Int)
	if n > 0 {
		start := m.pc + 1
		end := start + n
		if end > len(m.code) {
			// Truncated push pads with trailing zeros.
			buf := make([]byte, n)
			if start < len(m.code) {
				copy(buf, m.code[start:])
			}
			v.SetBytes(buf)
		} else {
			v.SetBytes(m.code[start:end])
		}
	}
	return m.push(v)
}

func (m *machine) arith(op byte) error {
	switch op {
	case jit.ADDMOD, jit.MULMOD:
		if len(m.stack) < 3 {
			return errStackUnderflow
		}
		x, _ := m.pop()
		y, _ := m.pop()
		z, _ := m.pop()
		r := new(uint256.Int)
		if op == jit.ADDMOD {
			r.AddMod(&x, &y, &z)
		} else {
			r.MulMod(&x, &y, &z)
		}
		return m.push(r)
	case jit.EXP:
		base, exp, err := m.pop2()
		if err != nil {
			return err
		}
		if err := m.useGas(uint64(exp.ByteLen()) * params.ExpByteEIP158); err != nil {
			return err
		}
		return m.push(new(uint256.Int).Exp(&base, &exp))
	}

	x, y, err := m.pop2()
	if err != nil {
		return err
	}
	r := new(uint256.Int)
	switch op {
	case jit.ADD:
		r.Add(&x, &y)
	case jit.MUL:
		r.Mul(&x, &y)
	case jit.SUB:
		r.Sub(&x, &y)
	case jit.DIV:
		r.Div(&x, &y)
	case jit.SDIV:
		r.SDiv(&x, &y)
	case jit.MOD:
		r.Mod(&x, &y)
	case jit.SMOD:
		r.SMod(&x, &y)
	case jit.SIGNEXTEND:
		r.ExtendSign(&y, &x)
	default:
		return errInvalidOpcode
	}
	return m.push(r)
}

func (m *machine) compareBit(op byte) error {
	if op == jit.ISZERO || op == jit.NOT {
		x, err := m.pop()
		if err != nil {
			return err
		}
		r := new(uint256.Int)
		if op == jit.ISZERO {
			if x.IsZero() {
				r.SetOne()
			}
		} else {
			r.Not(&x)
		}
		return m.push(r)
	}

	x, y, err := m.pop2()
	if err != nil {
		return err
	}
	r := new(uint256.Int)
	boolPush := func(b bool) {
		if b {
			r.SetOne()
		}
	}
	switch op {
	case jit.LT:
		boolPush(x.Lt(&y))
	case jit.GT:
		boolPush(x.Gt(&y))
	case jit.SLT:
		boolPush(x.Slt(&y))
	case jit.SGT:
		boolPush(x.Sgt(&y))
	case jit.EQ:
		boolPush(x.Eq(&y))
	case jit.AND:
		r.And(&x, &y)
	case jit.OR:
		r.Or(&x, &y)
	case jit.XOR:
		r.Xor(&x, &y)
	case jit.BYTE:
		r.Set(&y)
		r.Byte(&x)
	case jit.SHL:
		if x.LtUint64(256) {
			r.Lsh(&y, uint(x.Uint64()))
		}
	case jit.SHR:
		if x.LtUint64(256) {
			r.Rsh(&y, uint(x.Uint64()))
		}
	case jit.SAR:
		if x.LtUint64(256) {
			r.SRsh(&y, uint(x.Uint64()))
		} else if y.Sign() < 0 {
			r.SetAllOne()
		}
	default:
		return errInvalidOpcode
	}
	return m.push(r)
}

func (m *machine) keccak() error {
	offset, size, err := m.memRange()
	if err != nil {
		return err
	}
	if err := m.useGas(copyGas(size, params.Keccak256WordGas)); err != nil {
		return err
	}
	hash := crypto.Keccak256(m.memSlice(offset, size))
	return m.push(new(uint256.Int).SetBytes(hash))
}

func (m *machine) calldataload() error {
	offV, err := m.pop()
	if err != nil {
		return err
	}
	var word [32]byte
	if off, overflow := offV.Uint64WithOverflow(); !overflow {
		copyPadded(word[:], m.frame.Input, off)
	}
	return m.push(new(uint256.Int).SetBytes(word[:]))
}

// dataCopy implements CALLDATACOPY and CODECOPY: (destOffset, srcOffset,
// size) with zero padding past the end of src.
func (m *machine) dataCopy(src []byte) error {
	destV, srcV, err := m.pop2()
	if err != nil {
		return err
	}
	sizeV, err := m.pop()
	if err != nil {
		return err
	}
	dest, overflow := destV.Uint64WithOverflow()
	if overflow {
		return vm.ErrGasUintOverflow
	}
	size, overflow := sizeV.Uint64WithOverflow()
	if overflow {
		return vm.ErrGasUintOverflow
	}
	if err := m.useGas(copyGas(size, params.CopyGas)); err != nil {
		return err
	}
	if err := m.expandMemory(dest, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	srcOff := srcV.Uint64()
	if srcV.BitLen() > 64 {
		srcOff = uint64(len(src))
	}
	copyPadded(m.memory[dest:dest+size], src, srcOff)
	return nil
}

func (m *machine) returndataCopy() error {
	destV, srcV, err := m.pop2()
	if err != nil {
		return err
	}
	sizeV, err := m.pop()
	if err != nil {
		return err
	}
	dest, overflow := destV.Uint64WithOverflow()
	if overflow {
		return vm.ErrGasUintOverflow
	}
	size, overflow := sizeV.Uint64WithOverflow()
	if overflow {
		return vm.ErrGasUintOverflow
	}
	srcOff, overflow := srcV.Uint64WithOverflow()
	if overflow || srcOff+size < srcOff || srcOff+size > uint64(len(m.returnData)) {
		return vm.ErrReturnDataOutOfBounds
	}
	if err := m.useGas(copyGas(size, params.CopyGas)); err != nil {
		return err
	}
	if err := m.expandMemory(dest, size); err != nil {
		return err
	}
	if size > 0 {
		copy(m.memory[dest:dest+size], m.returnData[srcOff:srcOff+size])
	}
	return nil
}

func (m *machine) mload() error {
	offV, err := m.pop()
	if err != nil {
		return err
	}
	off, overflow := offV.Uint64WithOverflow()
	if overflow {
		return vm.ErrGasUintOverflow
	}
	if err := m.expandMemory(off, 32); err != nil {
		return err
	}
	return m.push(new(uint256.Int).SetBytes(m.memory[off : off+32]))
}

func (m *machine) mstore(width uint64) error {
	offV, val, err := m.pop2()
	if err != nil {
		return err
	}
	off, overflow := offV.Uint64WithOverflow()
	if overflow {
		return vm.ErrGasUintOverflow
	}
	if err := m.expandMemory(off, width); err != nil {
		return err
	}
	if width == 1 {
		m.memory[off] = byte(val.Uint64())
	} else {
		word := val.Bytes32()
		copy(m.memory[off:off+32], word[:])
	}
	return nil
}

func (m *machine) sstore() error {
	if m.frame.Static {
		return vm.ErrWriteProtection
	}
	key, val, err := m.pop2()
	if err != nil {
		return err
	}
	slot := key.Bytes32()
	newValue := val.Bytes32()
	current := m.host.GetState(m.frame.Address, slot)
	if err := m.useGas(sstoreGas(current, newValue)); err != nil {
		return err
	}
	m.host.SetState(m.frame.Address, slot, newValue)
	return nil
}

func (m *machine) emitLog(topics int) error {
	if m.frame.Static {
		return vm.ErrWriteProtection
	}
	offset, size, err := m.memRange()
	if err != nil {
		return err
	}
	if err := m.useGas(logGas(topics, size)); err != nil {
		return err
	}
	entry := &types.Log{Address: m.frame.Address}
	for i := 0; i < topics; i++ {
		t, err := m.pop()
		if err != nil {
			return err
		}
		entry.Topics = append(entry.Topics, t.Bytes32())
	}
	entry.Data = append([]byte(nil), m.memSlice(offset, size)...)
	m.host.AddLog(entry)
	return nil
}

// memSlice returns the live memory window; callers must have expanded the
// region already.
func (m *machine) memSlice(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.memory[offset : offset+size]
}

// forwardableGas caps requested gas at all-but-one-64th of what remains.
func (m *machine) forwardableGas(requested uint64) uint64 {
	avail := m.gas - m.gas/64
	if requested < avail {
		return requested
	}
	return avail
}

// doCall assembles a CALL/CALLCODE/DELEGATECALL/STATICCALL request, charges
// its gas, and either performs it inline or suspends.
func (m *machine) doCall(op byte) (jit.Outcome, bool) {
	var (
		scheme   jit.CallScheme
		hasValue bool
	)
	switch op {
	case jit.CALL:
		scheme, hasValue = jit.SchemeCall, true
	case jit.CALLCODE:
		scheme, hasValue = jit.SchemeCallCode, true
	case jit.DELEGATECALL:
		scheme = jit.SchemeDelegateCall
	case jit.STATICCALL:
		scheme = jit.SchemeStaticCall
	}

	want := 6
	if hasValue {
		want = 7
	}
	if len(m.stack) < want {
		return m.fail(errStackUnderflow), true
	}
	gasV, _ := m.pop()
	addrV, _ := m.pop()
	value := new(uint256.Int)
	if hasValue {
		v, _ := m.pop()
		value.Set(&v)
	}
	inOffV, _ := m.pop()
	inSizeV, _ := m.pop()
	outOffV, _ := m.pop()
	outSizeV, _ := m.pop()

	inOff, of1 := inOffV.Uint64WithOverflow()
	inSize, of2 := inSizeV.Uint64WithOverflow()
	outOff, of3 := outOffV.Uint64WithOverflow()
	outSize, of4 := outSizeV.Uint64WithOverflow()
	if of1 || of2 || of3 || of4 {
		return m.fail(vm.ErrGasUintOverflow), true
	}
	if err := m.expandMemory(inOff, inSize); err != nil {
		return m.fail(err), true
	}
	if err := m.expandMemory(outOff, outSize); err != nil {
		return m.fail(err), true
	}

	transfersValue := hasValue && !value.IsZero()
	if op == jit.CALL && transfersValue {
		if m.frame.Static {
			return m.fail(vm.ErrWriteProtection), true
		}
		if err := m.useGas(params.CallValueTransferGas); err != nil {
			return m.fail(err), true
		}
	}

	requested := gasV.Uint64()
	if gasV.BitLen() > 64 {
		requested = m.gas
	}
	forward := m.forwardableGas(requested)
	if err := m.useGas(forward); err != nil {
		return m.fail(err), true
	}
	if transfersValue {
		forward += params.CallStipend
	}

	target := common.Address(addrV.Bytes20())
	call := &jit.SubCall{
		Scheme:       scheme,
		Gas:          forward,
		Caller:       m.frame.Address,
		Target:       target,
		CodeAddress:  target,
		Value:        value,
		Input:        append([]byte(nil), m.memSlice(inOff, inSize)...),
		Static:       m.frame.Static || scheme == jit.SchemeStaticCall,
		ReturnOffset: int(outOff),
		ReturnSize:   int(outSize),
		Depth:        m.frame.Depth + 1,
	}
	switch scheme {
	case jit.SchemeCallCode:
		// Run the target's code in our own storage context.
		call.Target = m.frame.Address
	case jit.SchemeDelegateCall:
		// Inherit caller and value as well as storage.
		call.Target = m.frame.Address
		call.Caller = m.frame.Caller
		if m.frame.Value != nil {
			call.Value = new(uint256.Int).Set(m.frame.Value)
		}
	}

	return m.dispatchSubCall(call)
}

// doCreate assembles a CREATE/CREATE2 request.
func (m *machine) doCreate(op byte) (jit.Outcome, bool) {
	if m.frame.Static {
		return m.fail(vm.ErrWriteProtection), true
	}
	want := 3
	if op == jit.CREATE2 {
		want = 4
	}
	if len(m.stack) < want {
		return m.fail(errStackUnderflow), true
	}
	valueV, _ := m.pop()
	offV, _ := m.pop()
	sizeV, _ := m.pop()
	var salt *uint256.Int
	if op == jit.CREATE2 {
		s, _ := m.pop()
		salt = new(uint256.Int).Set(&s)
	}

	off, of1 := offV.Uint64WithOverflow()
	size, of2 := sizeV.Uint64WithOverflow()
	if of1 || of2 {
		return m.fail(vm.ErrGasUintOverflow), true
	}
	if err := m.expandMemory(off, size); err != nil {
		return m.fail(err), true
	}
	if op == jit.CREATE2 {
		// Init code is hashed for the address derivation.
		if err := m.useGas(copyGas(size, params.Keccak256WordGas)); err != nil {
			return m.fail(err), true
		}
	}

	forward := m.forwardableGas(m.gas)
	if err := m.useGas(forward); err != nil {
		return m.fail(err), true
	}

	scheme := jit.SchemeCreate
	if op == jit.CREATE2 {
		scheme = jit.SchemeCreate2
	}
	call := &jit.SubCall{
		Scheme: scheme,
		Gas:    forward,
		Caller: m.frame.Address,
		Value:  new(uint256.Int).Set(&valueV),
		Input:  append([]byte(nil), m.memSlice(off, size)...),
		Salt:   salt,
		Depth:  m.frame.Depth + 1,
	}
	return m.dispatchSubCall(call)
}

// dispatchSubCall either performs the sub-call inline (interpreter mode) or
// suspends the machine so the dispatcher can route it.
func (m *machine) dispatchSubCall(call *jit.SubCall) (jit.Outcome, bool) {
	if m.subCaller == nil {
		m.pending = call
		return jit.Outcome{
			Kind:    jit.OutcomeSuspended,
			GasUsed: m.gasUsed(),
			Resume:  jit.NewResumeState(m),
			SubCall: call,
		}, true
	}
	result, err := m.subCaller(call)
	if err != nil {
		return jit.ErrorOutcome(err), true
	}
	if err := m.applySubCallResult(call, result); err != nil {
		return m.fail(err), true
	}
	m.pc++
	return jit.Outcome{}, false
}

// applySubCallResult folds a finished sub-call back into the machine:
// credit unused gas, stash return data, write the output window, push the
// status (or created address).
func (m *machine) applySubCallResult(call *jit.SubCall, result *jit.SubCallResult) error {
	m.gas += result.GasLimit - result.GasUsed

	if call.Scheme.IsCreate() {
		// A successful create leaves the return buffer empty.
		if result.Success {
			m.returnData = nil
		} else {
			m.returnData = result.Output
		}
		addr := new(uint256.Int)
		if result.Success && result.CreatedAddress != nil {
			addr.SetBytes(result.CreatedAddress[:])
		}
		return m.push(addr)
	}

	m.returnData = result.Output
	if call.ReturnSize > 0 && len(result.Output) > 0 {
		n := call.ReturnSize
		if len(result.Output) < n {
			n = len(result.Output)
		}
		copy(m.memory[call.ReturnOffset:call.ReturnOffset+n], result.Output[:n])
	}
	status := new(uint256.Int)
	if result.Success {
		status.SetOne()
	}
	return m.push(status)
}

// resume continues a suspended machine with the sub-call's result.
func (m *machine) resume(result *jit.SubCallResult) jit.Outcome {
	call := m.pending
	m.pending = nil
	if call == nil {
		return jit.ErrorOutcome(errors.New("resume without pending sub-call"))
	}
	if err := m.applySubCallResult(call, result); err != nil {
		return m.fail(err)
	}
	m.pc++
	return m.run()
}

// selfdestruct moves the contract's whole balance to the beneficiary and
// halts. Account deletion is not modeled; the host keeps the empty account.
func (m *machine) selfdestruct() (jit.Outcome, bool) {
	if m.frame.Static {
		return m.fail(vm.ErrWriteProtection), true
	}
	benV, err := m.pop()
	if err != nil {
		return m.fail(err), true
	}
	if err := m.useGas(params.SelfdestructGasEIP150); err != nil {
		return m.fail(err), true
	}
	beneficiary := common.Address(benV.Bytes20())
	balance := m.host.GetBalance(m.frame.Address)
	if !balance.IsZero() {
		m.host.SubBalance(m.frame.Address, balance)
		m.host.AddBalance(beneficiary, balance)
	}
	return haltOutcome(jit.OutcomeSuccess, m.gasUsed(), nil), true
}
