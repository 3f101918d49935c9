package jit

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
)

func TestCompareResultsAgreement(t *testing.T) {
	a := &ExecutionResult{UsedGas: 21, ReturnData: []byte{1, 2}}
	b := &ExecutionResult{UsedGas: 21, ReturnData: []byte{1, 2}}
	assert.Empty(t, CompareResults(a, b))

	// Both reverted with the same data and gas is agreement too.
	a = &ExecutionResult{UsedGas: 5, Err: vm.ErrExecutionReverted}
	b = &ExecutionResult{UsedGas: 5, Err: vm.ErrExecutionReverted}
	assert.Empty(t, CompareResults(a, b))

	// Empty and nil output are the same output.
	a = &ExecutionResult{ReturnData: []byte{}}
	b = &ExecutionResult{}
	assert.Empty(t, CompareResults(a, b))
}

func TestCompareResultsStatusMismatch(t *testing.T) {
	native := &ExecutionResult{UsedGas: 10}
	interp := &ExecutionResult{UsedGas: 10, Err: vm.ErrExecutionReverted}
	assert.Equal(t, "revert status mismatch", CompareResults(native, interp))

	native = &ExecutionResult{UsedGas: 10, Err: errors.New("stack underflow")}
	interp = &ExecutionResult{UsedGas: 10}
	assert.Equal(t, "halt status mismatch", CompareResults(native, interp))
}

func TestCompareResultsGasMismatch(t *testing.T) {
	native := &ExecutionResult{UsedGas: 10}
	interp := &ExecutionResult{UsedGas: 11}
	assert.Equal(t, "gas mismatch", CompareResults(native, interp))
}

func TestCompareResultsOutputMismatch(t *testing.T) {
	native := &ExecutionResult{ReturnData: []byte{1}}
	interp := &ExecutionResult{ReturnData: []byte{2}}
	assert.Equal(t, "output mismatch", CompareResults(native, interp))
}

func TestCompareSideEffectsAgreement(t *testing.T) {
	logs := []*types.Log{{
		Address: common.HexToAddress("0x01"),
		Topics:  []common.Hash{common.HexToHash("0xaa")},
		Data:    []byte{1, 2},
	}}
	same := []*types.Log{{
		Address: common.HexToAddress("0x01"),
		Topics:  []common.Hash{common.HexToHash("0xaa")},
		Data:    []byte{1, 2},
	}}
	assert.Empty(t, CompareSideEffects(40, 40, logs, same))
	assert.Empty(t, CompareSideEffects(0, 0, nil, nil))
}

func TestCompareSideEffectsRefundMismatch(t *testing.T) {
	assert.Equal(t, "refund mismatch", CompareSideEffects(100, 50, nil, nil))
}

func TestCompareSideEffectsLogMismatch(t *testing.T) {
	entry := &types.Log{Address: common.HexToAddress("0x01"), Data: []byte{1}}
	assert.Equal(t, "log count mismatch",
		CompareSideEffects(0, 0, []*types.Log{entry}, nil))

	other := &types.Log{Address: common.HexToAddress("0x01"), Data: []byte{2}}
	assert.Equal(t, "log mismatch",
		CompareSideEffects(0, 0, []*types.Log{entry}, []*types.Log{other}))

	// Same address and data but a diverging topic is still a mismatch.
	topicA := &types.Log{Topics: []common.Hash{common.HexToHash("0xaa")}}
	topicB := &types.Log{Topics: []common.Hash{common.HexToHash("0xbb")}}
	assert.Equal(t, "log mismatch",
		CompareSideEffects(0, 0, []*types.Log{topicA}, []*types.Log{topicB}))
}
