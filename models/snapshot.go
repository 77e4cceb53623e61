package models

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrSnapshotMismatch means the snapshot contents do not hash to its StateHash.
var ErrSnapshotMismatch = errors.New("snapshot contents do not match state hash")

// StateSnapshot captures every account balance at a height for fast sync.
// Nonces are carried so StateHash can be checked against the block state root.
type StateSnapshot struct {
	Height    uint64                  `json:"height"`
	StateHash Hash                    `json:"state_hash"`
	Accounts  map[string]*uint256.Int `json:"accounts"`
	Nonces    map[string]uint64       `json:"nonces,omitempty"`
	CreatedAt int64                   `json:"created_at"` // unix timestamp in ms
}

// NewStateSnapshot copies accounts into a snapshot at height.
func NewStateSnapshot(height uint64, accounts map[string]*Account, createdAt int64) *StateSnapshot {
	s := &StateSnapshot{
		Height:    height,
		StateHash: StateRoot(accounts),
		Accounts:  make(map[string]*uint256.Int, len(accounts)),
		Nonces:    make(map[string]uint64, len(accounts)),
		CreatedAt: createdAt,
	}
	for addr, acc := range accounts {
		s.Accounts[addr] = AmountOrZero(acc.Balance).Clone()
		if acc.Nonce > 0 {
			s.Nonces[addr] = acc.Nonce
		}
	}
	return s
}

// Restore rebuilds the account set the snapshot was taken from.
func (s *StateSnapshot) Restore() map[string]*Account {
	out := make(map[string]*Account, len(s.Accounts))
	for addr, balance := range s.Accounts {
		out[addr] = &Account{
			Address: addr,
			Balance: AmountOrZero(balance).Clone(),
			Nonce:   s.Nonces[addr],
		}
	}
	return out
}

// Verify recomputes the state hash from the snapshot contents.
func (s *StateSnapshot) Verify() error {
	if StateRoot(s.Restore()) != s.StateHash {
		return ErrSnapshotMismatch
	}
	return nil
}

// ChainHead records the last committed block.
type ChainHead struct {
	Height uint64 `json:"height"`
	Hash   Hash   `json:"hash"`
}
