package txvalidator_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pos-ledger/models"
	"pos-ledger/txvalidator"
)

func tx(amount uint64, fee uint64) *models.Transaction {
	return &models.Transaction{Sender: "alice", Recipient: "bob", Amount: models.NewAmount(amount), Fee: fee, Nonce: 1}
}

func TestValidateMatchesFeeAndAmountRule(t *testing.T) {
	amounts := []uint64{0, 1, 5000, ^uint64(0)}
	fees := []uint64{0, 1, 100}
	for _, amount := range amounts {
		for _, fee := range fees {
			res := txvalidator.Validate(tx(amount, fee))
			want := fee == 0 && amount > 0
			require.Equal(t, want, res.Valid, "amount=%d fee=%d", amount, fee)
			require.Equal(t, want, res.Err == nil)
			if !want {
				require.NotEmpty(t, res.Reason)
			}
		}
	}
}

func TestValidateReasons(t *testing.T) {
	require.True(t, errors.Is(txvalidator.Validate(tx(10, 1)).Err, txvalidator.ErrInvalidFee))
	require.True(t, errors.Is(txvalidator.Validate(tx(0, 0)).Err, txvalidator.ErrNonPositiveAmount))

	nilAmount := &models.Transaction{Sender: "a", Recipient: "b"}
	require.True(t, errors.Is(txvalidator.Validate(nilAmount).Err, txvalidator.ErrNonPositiveAmount))
}

func TestValidateIsRepeatable(t *testing.T) {
	t1 := tx(10, 0)
	first := txvalidator.Validate(t1)
	second := txvalidator.Validate(t1)
	require.Equal(t, first, second)
	require.Equal(t, uint64(10), t1.Amount.Uint64())
}

func TestValidateAgainstAccount(t *testing.T) {
	alice := &models.Account{Address: "alice", Balance: models.NewAmount(100), Nonce: 0}

	require.True(t, txvalidator.ValidateAgainst(tx(100, 0), alice).Valid)

	res := txvalidator.ValidateAgainst(tx(101, 0), alice)
	require.ErrorIs(t, res.Err, txvalidator.ErrInsufficientBalance)

	res = txvalidator.ValidateAgainst(tx(1, 0), nil)
	require.ErrorIs(t, res.Err, txvalidator.ErrInsufficientBalance)

	stale := tx(1, 0)
	stale.Nonce = 0
	res = txvalidator.ValidateAgainst(stale, alice)
	require.ErrorIs(t, res.Err, txvalidator.ErrStaleNonce)

	gap := tx(1, 0)
	gap.Nonce = 3
	res = txvalidator.ValidateAgainst(gap, alice)
	require.ErrorIs(t, res.Err, txvalidator.ErrNonceGap)
	require.Equal(t, "nonce_gap", txvalidator.Code(res.Err))

	// content checks run first
	res = txvalidator.ValidateAgainst(tx(1, 5), alice)
	require.ErrorIs(t, res.Err, txvalidator.ErrInvalidFee)

	noRecipient := tx(1, 0)
	noRecipient.Recipient = ""
	res = txvalidator.ValidateAgainst(noRecipient, alice)
	require.ErrorIs(t, res.Err, txvalidator.ErrMissingParty)
}

func TestValidateAgainstLargeBalances(t *testing.T) {
	big := new(uint256.Int).Set(models.MaxAmount)
	rich := &models.Account{Address: "alice", Balance: big}
	t1 := &models.Transaction{Sender: "alice", Recipient: "bob", Amount: big.Clone(), Nonce: 1}
	require.True(t, txvalidator.ValidateAgainst(t1, rich).Valid)
}

func TestCode(t *testing.T) {
	require.Equal(t, "", txvalidator.Code(nil))
	require.Equal(t, "invalid_fee", txvalidator.Code(txvalidator.Validate(tx(1, 1)).Err))
	require.Equal(t, "non_positive_amount", txvalidator.Code(txvalidator.Validate(tx(0, 0)).Err))
	require.Equal(t, "other", txvalidator.Code(errors.New("boom")))
}
