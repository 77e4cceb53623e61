package mempool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pos-ledger/mempool"
	"pos-ledger/models"
	"pos-ledger/txvalidator"
)

func transfer(nonce uint64) *models.Transaction {
	return &models.Transaction{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    models.NewAmount(10),
		Nonce:     nonce,
	}
}

func TestAddRejectsInvalidContent(t *testing.T) {
	p := mempool.New(0, nil)

	tx := transfer(1)
	tx.Fee = 1
	require.ErrorIs(t, p.Add(tx), txvalidator.ErrInvalidFee)

	tx = transfer(1)
	tx.Amount = models.NewAmount(0)
	require.ErrorIs(t, p.Add(tx), txvalidator.ErrNonPositiveAmount)

	require.Zero(t, p.Len())
}

func TestAddDeduplicates(t *testing.T) {
	p := mempool.New(0, nil)
	require.NoError(t, p.Add(transfer(1)))
	require.ErrorIs(t, p.Add(transfer(1)), mempool.ErrDuplicate)
	require.NoError(t, p.Add(transfer(2)))
	require.Equal(t, 2, p.Len())
	require.True(t, p.Has(transfer(1).Hash()))
}

func TestAddRespectsMaxSize(t *testing.T) {
	p := mempool.New(2, nil)
	require.NoError(t, p.Add(transfer(1)))
	require.NoError(t, p.Add(transfer(2)))
	require.ErrorIs(t, p.Add(transfer(3)), mempool.ErrFull)
}

func TestDrainIsFIFO(t *testing.T) {
	p := mempool.New(0, nil)
	for n := uint64(1); n <= 5; n++ {
		require.NoError(t, p.Add(transfer(n)))
	}

	require.Len(t, p.Peek(2), 2)
	require.Equal(t, 5, p.Len())

	first := p.Drain(2)
	require.Equal(t, []uint64{1, 2}, nonces(first))
	require.False(t, p.Has(transfer(1).Hash()))

	rest := p.Drain(0)
	require.Equal(t, []uint64{3, 4, 5}, nonces(rest))
	require.Zero(t, p.Len())

	// a drained transaction may be submitted again
	require.NoError(t, p.Add(transfer(1)))
}

func TestRequeueRestoresOrder(t *testing.T) {
	p := mempool.New(1, nil)
	require.NoError(t, p.Add(transfer(1)))
	drained := p.Drain(0)
	require.NoError(t, p.Add(transfer(3)))

	p.Requeue(append(drained, transfer(3)))
	require.Equal(t, 2, p.Len())
	require.Equal(t, []uint64{1, 3}, nonces(p.Drain(0)))
}

func nonces(txs []*models.Transaction) []uint64 {
	out := make([]uint64, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Nonce)
	}
	return out
}

func TestRemove(t *testing.T) {
	p := mempool.New(0, nil)
	for n := uint64(1); n <= 3; n++ {
		require.NoError(t, p.Add(transfer(n)))
	}
	p.Remove(transfer(2), transfer(9))
	require.False(t, p.Has(transfer(2).Hash()))
	require.Equal(t, []uint64{1, 3}, nonces(p.Drain(0)))
}
