package jit

import (
	"bytes"

	"github.com/ethereum/go-ethereum/core/types"
)

// CompareResults checks a native execution result against the interpreter's
// for the same frame and pre-state. It returns an empty string on agreement
// or a short reason naming the first divergence found: halt status, gas
// consumed, then output bytes.
func CompareResults(native, interp *ExecutionResult) string {
	if native.Reverted() != interp.Reverted() {
		return "revert status mismatch"
	}
	if (native.Err == nil) != (interp.Err == nil) {
		return "halt status mismatch"
	}
	if native.UsedGas != interp.UsedGas {
		return "gas mismatch"
	}
	if !bytes.Equal(native.ReturnData, interp.ReturnData) {
		return "output mismatch"
	}
	return ""
}

// CompareSideEffects checks what the two runs left behind beyond the return
// value: the refund counter and the emitted logs, in order.
func CompareSideEffects(nativeRefund, interpRefund uint64, nativeLogs, interpLogs []*types.Log) string {
	if nativeRefund != interpRefund {
		return "refund mismatch"
	}
	if len(nativeLogs) != len(interpLogs) {
		return "log count mismatch"
	}
	for i, nl := range nativeLogs {
		if !sameLog(nl, interpLogs[i]) {
			return "log mismatch"
		}
	}
	return ""
}

func sameLog(a, b *types.Log) bool {
	if a.Address != b.Address || !bytes.Equal(a.Data, b.Data) || len(a.Topics) != len(b.Topics) {
		return false
	}
	for i := range a.Topics {
		if a.Topics[i] != b.Topics[i] {
			return false
		}
	}
	return true
}

// logCapture wraps a Host to record the logs emitted through it during one
// validated run.
type logCapture struct {
	Host
	logs []*types.Log
}

func (c *logCapture) AddLog(entry *types.Log) {
	c.logs = append(c.logs, entry)
	c.Host.AddLog(entry)
}
