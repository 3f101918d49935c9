package jitvm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/tokamak-network/tokamak-jit/jit"
)

// Interpreter executes bytecode with the same machine the compiled programs
// use, but with sub-calls performed inline. It is the slow path the
// dispatcher falls back to, the replay side of validation, and the executor
// of sub-calls requested by suspended native code.
type Interpreter struct{}

// NewInterpreter returns the reference interpreter.
func NewInterpreter() *Interpreter { return &Interpreter{} }

// Run executes the frame to completion.
func (it *Interpreter) Run(frame *jit.CallFrame, host jit.Host) (*jit.ExecutionResult, error) {
	targets := jit.ScanJumpTargets(frame.Code)
	m := newMachine(frame.Code, targets, frame, host, func(call *jit.SubCall) (*jit.SubCallResult, error) {
		return it.SubCall(call, host)
	})
	out := m.run()
	switch out.Kind {
	case jit.OutcomeSuccess:
		return &jit.ExecutionResult{UsedGas: out.GasUsed, ReturnData: out.Output}, nil
	case jit.OutcomeRevert:
		return &jit.ExecutionResult{UsedGas: out.GasUsed, Err: vm.ErrExecutionReverted, ReturnData: out.Output}, nil
	case jit.OutcomeError:
		// EVM halting errors consume the frame's entire gas.
		return &jit.ExecutionResult{UsedGas: frame.Gas, Err: out.Err}, nil
	default:
		return &jit.ExecutionResult{UsedGas: frame.Gas, Err: errInvalidOpcode}, nil
	}
}

// SubCall performs one call or create on behalf of a caller frame, with
// standard semantics: state snapshot per sub-call, value transfer, and full
// revert of the callee's effects on failure.
func (it *Interpreter) SubCall(call *jit.SubCall, host jit.Host) (*jit.SubCallResult, error) {
	if call.Depth > maxCallDepth {
		return &jit.SubCallResult{Success: false, GasLimit: call.Gas}, nil
	}
	if call.Scheme.IsCreate() {
		return it.create(call, host)
	}
	return it.call(call, host)
}

func (it *Interpreter) call(call *jit.SubCall, host jit.Host) (*jit.SubCallResult, error) {
	result := &jit.SubCallResult{GasLimit: call.Gas}
	snap := host.Snapshot()

	transfers := call.Scheme == jit.SchemeCall || call.Scheme == jit.SchemeCallCode
	if transfers && call.Value != nil && !call.Value.IsZero() {
		if host.GetBalance(call.Caller).Lt(call.Value) {
			return result, nil
		}
		if call.Scheme == jit.SchemeCall {
			host.SubBalance(call.Caller, call.Value)
			host.AddBalance(call.Target, call.Value)
		}
	}

	code := host.GetCode(call.CodeAddress)
	if len(code) == 0 {
		// Calling an empty account succeeds and consumes nothing.
		result.Success = true
		return result, nil
	}

	frame := &jit.CallFrame{
		Code:     code,
		CodeHash: host.GetCodeHash(call.CodeAddress),
		Address:  call.Target,
		Caller:   call.Caller,
		Value:    call.Value,
		Input:    call.Input,
		Gas:      call.Gas,
		Static:   call.Static,
		Depth:    call.Depth,
	}
	res, err := it.Run(frame, host)
	if err != nil {
		return nil, err
	}
	result.GasUsed = res.UsedGas
	result.Output = res.ReturnData
	if res.Err != nil {
		host.RevertToSnapshot(snap)
		if !res.Reverted() {
			result.GasUsed = call.Gas
			result.Output = nil
		}
		return result, nil
	}
	result.Success = true
	return result, nil
}

func (it *Interpreter) create(call *jit.SubCall, host jit.Host) (*jit.SubCallResult, error) {
	result := &jit.SubCallResult{GasLimit: call.Gas}

	if call.Value != nil && !call.Value.IsZero() && host.GetBalance(call.Caller).Lt(call.Value) {
		return result, nil
	}

	nonce := host.GetNonce(call.Caller)
	host.SetNonce(call.Caller, nonce+1)

	var addr common.Address
	if call.Scheme == jit.SchemeCreate2 {
		salt := call.Salt.Bytes32()
		addr = crypto.CreateAddress2(call.Caller, salt, crypto.Keccak256(call.Input))
	} else {
		addr = crypto.CreateAddress(call.Caller, nonce)
	}
	if len(host.GetCode(addr)) > 0 || host.GetNonce(addr) > 0 {
		// Address collision burns the forwarded gas.
		result.GasUsed = call.Gas
		return result, nil
	}

	snap := host.Snapshot()
	host.SetNonce(addr, 1)
	if call.Value != nil && !call.Value.IsZero() {
		host.SubBalance(call.Caller, call.Value)
		host.AddBalance(addr, call.Value)
	}

	frame := &jit.CallFrame{
		Code:    call.Input,
		Address: addr,
		Caller:  call.Caller,
		Value:   call.Value,
		Gas:     call.Gas,
		Depth:   call.Depth,
	}
	res, err := it.Run(frame, host)
	if err != nil {
		return nil, err
	}
	result.GasUsed = res.UsedGas

	if res.Err != nil {
		host.RevertToSnapshot(snap)
		if res.Reverted() {
			result.Output = res.ReturnData
		} else {
			result.GasUsed = call.Gas
		}
		return result, nil
	}

	deployed := res.ReturnData
	depositGas := uint64(len(deployed)) * params.CreateDataGas
	if len(deployed) > params.MaxCodeSize || result.GasUsed+depositGas > call.Gas {
		host.RevertToSnapshot(snap)
		result.GasUsed = call.Gas
		return result, nil
	}
	result.GasUsed += depositGas
	host.SetCode(addr, deployed)
	result.Success = true
	result.CreatedAddress = &addr
	return result, nil
}
