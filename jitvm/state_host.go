package jitvm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-jit/jit"
)

type account struct {
	balance *uint256.Int
	nonce   uint64
	code    []byte
	storage map[common.Hash]common.Hash
}

func newAccount() *account {
	return &account{
		balance: new(uint256.Int),
		storage: make(map[common.Hash]common.Hash),
	}
}

func (a *account) copy() *account {
	c := &account{
		balance: new(uint256.Int).Set(a.balance),
		nonce:   a.nonce,
		code:    a.code,
		storage: make(map[common.Hash]common.Hash, len(a.storage)),
	}
	for k, v := range a.storage {
		c.storage[k] = v
	}
	return c
}

type stateCopy struct {
	accounts map[common.Address]*account
	logCount int
	refund   uint64
}

// StateHost is an in-memory jit.Host with copy-based snapshots. It backs
// the package tests and any embedding that does not bring its own state
// database. Not safe for concurrent use; one host serves one call tree.
type StateHost struct {
	accounts map[common.Address]*account
	logs     []*types.Log
	refund   uint64
	snaps    []stateCopy
}

// NewStateHost returns an empty in-memory host.
func NewStateHost() *StateHost {
	return &StateHost{accounts: make(map[common.Address]*account)}
}

func (s *StateHost) acct(addr common.Address) *account {
	a, ok := s.accounts[addr]
	if !ok {
		a = newAccount()
		s.accounts[addr] = a
	}
	return a
}

func (s *StateHost) GetState(addr common.Address, key common.Hash) common.Hash {
	if a, ok := s.accounts[addr]; ok {
		return a.storage[key]
	}
	return common.Hash{}
}

func (s *StateHost) SetState(addr common.Address, key common.Hash, value common.Hash) {
	s.acct(addr).storage[key] = value
}

func (s *StateHost) GetBalance(addr common.Address) *uint256.Int {
	if a, ok := s.accounts[addr]; ok {
		return new(uint256.Int).Set(a.balance)
	}
	return new(uint256.Int)
}

func (s *StateHost) AddBalance(addr common.Address, amount *uint256.Int) {
	a := s.acct(addr)
	a.balance.Add(a.balance, amount)
}

func (s *StateHost) SubBalance(addr common.Address, amount *uint256.Int) {
	a := s.acct(addr)
	a.balance.Sub(a.balance, amount)
}

// SetBalance overwrites an account balance. Test and setup helper.
func (s *StateHost) SetBalance(addr common.Address, amount *uint256.Int) {
	s.acct(addr).balance = new(uint256.Int).Set(amount)
}

func (s *StateHost) GetCode(addr common.Address) []byte {
	if a, ok := s.accounts[addr]; ok {
		return a.code
	}
	return nil
}

func (s *StateHost) GetCodeHash(addr common.Address) common.Hash {
	a, ok := s.accounts[addr]
	if !ok || len(a.code) == 0 {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(a.code)
}

func (s *StateHost) SetCode(addr common.Address, code []byte) {
	s.acct(addr).code = code
}

func (s *StateHost) GetNonce(addr common.Address) uint64 {
	if a, ok := s.accounts[addr]; ok {
		return a.nonce
	}
	return 0
}

func (s *StateHost) SetNonce(addr common.Address, nonce uint64) {
	s.acct(addr).nonce = nonce
}

func (s *StateHost) AddLog(log *types.Log) {
	s.logs = append(s.logs, log)
}

// Logs returns all emitted logs in order.
func (s *StateHost) Logs() []*types.Log { return s.logs }

func (s *StateHost) AddRefund(gas uint64) { s.refund += gas }

func (s *StateHost) SubRefund(gas uint64) {
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *StateHost) GetRefund() uint64 { return s.refund }

// Snapshot records the full state and returns its identifier.
func (s *StateHost) Snapshot() int {
	cp := stateCopy{
		accounts: make(map[common.Address]*account, len(s.accounts)),
		logCount: len(s.logs),
		refund:   s.refund,
	}
	for addr, a := range s.accounts {
		cp.accounts[addr] = a.copy()
	}
	s.snaps = append(s.snaps, cp)
	return len(s.snaps) - 1
}

// RevertToSnapshot restores the state recorded by Snapshot and discards it
// along with any later snapshots.
func (s *StateHost) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snaps) {
		return
	}
	cp := s.snaps[id]
	s.accounts = cp.accounts
	s.logs = s.logs[:cp.logCount]
	s.refund = cp.refund
	s.snaps = s.snaps[:id]
}

var _ jit.Host = (*StateHost)(nil)
