// Package txvalidator is the admission gate for transactions. It never
// mutates state and is safe to call concurrently.
package txvalidator

import (
	"errors"
	"fmt"

	"pos-ledger/models"
)

// Admission rejections. A rejected transaction is dropped, never applied.
var (
	ErrInvalidFee          = errors.New("invalid fee: fee must be zero")
	ErrNonPositiveAmount   = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStaleNonce          = errors.New("stale nonce")
	ErrNonceGap            = errors.New("nonce too far ahead")
	ErrMissingParty        = errors.New("sender and recipient are required")
)

// Result is the verdict on one transaction. Err is nil exactly when Valid.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

func accept() Result {
	return Result{Valid: true}
}

func reject(err error) Result {
	return Result{Valid: false, Reason: err.Error(), Err: err}
}

// Validate checks the transaction content alone: the fee must be zero and
// the amount positive.
func Validate(tx *models.Transaction) Result {
	if tx.Fee != 0 {
		return reject(fmt.Errorf("%w: got %d", ErrInvalidFee, tx.Fee))
	}
	if tx.Amount == nil || tx.Amount.IsZero() {
		return reject(ErrNonPositiveAmount)
	}
	return accept()
}

// ValidateAgainst checks content and then the sender's authoritative
// account. The nonce must be exactly one past the account nonce. A nil
// sender is an account that has never been credited.
func ValidateAgainst(tx *models.Transaction, sender *models.Account) Result {
	if res := Validate(tx); !res.Valid {
		return res
	}
	if tx.Sender == "" || tx.Recipient == "" {
		return reject(ErrMissingParty)
	}
	if sender == nil {
		sender = models.NewAccount(tx.Sender)
	}
	balance := models.AmountOrZero(sender.Balance)
	if balance.Lt(tx.Amount) {
		return reject(fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, tx.Sender, balance.Dec(), tx.Amount.Dec()))
	}
	if tx.Nonce <= sender.Nonce {
		return reject(fmt.Errorf("%w: account nonce %d, transaction nonce %d", ErrStaleNonce, sender.Nonce, tx.Nonce))
	}
	if tx.Nonce != sender.Nonce+1 {
		return reject(fmt.Errorf("%w: account nonce %d, transaction nonce %d", ErrNonceGap, sender.Nonce, tx.Nonce))
	}
	return accept()
}

// Code maps a rejection to a short stable label for metrics.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFee):
		return "invalid_fee"
	case errors.Is(err, ErrNonPositiveAmount):
		return "non_positive_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrStaleNonce):
		return "stale_nonce"
	case errors.Is(err, ErrNonceGap):
		return "nonce_gap"
	case errors.Is(err, ErrMissingParty):
		return "missing_party"
	default:
		return "other"
	}
}
