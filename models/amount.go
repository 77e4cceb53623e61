package models

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrAmountOverflow is returned when an amount does not fit in 128 bits.
var ErrAmountOverflow = errors.New("amount exceeds 128 bits")

// MaxAmount is the largest balance, amount or stake the ledger accepts (2^128 - 1).
var MaxAmount = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

// NewAmount returns v as a ledger amount.
func NewAmount(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// ParseAmount parses a decimal amount and checks it fits in 128 bits.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if v.Gt(MaxAmount) {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

// AmountOrZero never returns nil.
func AmountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// AddAmounts returns a+b, refusing results wider than 128 bits.
func AddAmounts(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(AmountOrZero(a), AmountOrZero(b))
	if overflow || sum.Gt(MaxAmount) {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}
