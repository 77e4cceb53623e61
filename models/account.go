package models

import (
	"github.com/holiman/uint256"
)

// Account is the ledger view of an address. Accounts are created on first
// credit and never deleted.
type Account struct {
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
	Nonce   uint64       `json:"nonce"` // number of successful debits
}

// NewAccount returns an empty account for address.
func NewAccount(address string) *Account {
	return &Account{Address: address, Balance: new(uint256.Int)}
}

// Clone returns a deep copy so trial state never aliases committed state.
func (a *Account) Clone() *Account {
	return &Account{
		Address: a.Address,
		Balance: AmountOrZero(a.Balance).Clone(),
		Nonce:   a.Nonce,
	}
}
