package consensus_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pos-ledger/consensus"
	"pos-ledger/models"
	"pos-ledger/staking"
)

func validatorSet(stakes ...uint64) *staking.Snapshot {
	s := &staking.Snapshot{TotalStaked: new(uint256.Int)}
	for i, stake := range stakes {
		s.Validators = append(s.Validators, &models.Validator{
			ID:    string(rune('a' + i)),
			Stake: models.NewAmount(stake),
		})
		s.TotalStaked.Add(s.TotalStaked, models.NewAmount(stake))
	}
	return s
}

func TestSelectProposerNoValidators(t *testing.T) {
	_, err := consensus.SelectProposer(nil, 1, models.ZeroHash, 0)
	require.ErrorIs(t, err, consensus.ErrNoActiveValidators)

	_, err = consensus.SelectProposer(validatorSet(), 1, models.ZeroHash, 0)
	require.ErrorIs(t, err, consensus.ErrNoActiveValidators)
}

func TestSelectProposerIsDeterministic(t *testing.T) {
	set := validatorSet(5000, 7000, 9000)
	prev := models.Hash{1, 2, 3}
	for height := uint64(1); height < 50; height++ {
		a, err := consensus.SelectProposer(set, height, prev, 0)
		require.NoError(t, err)
		b, err := consensus.SelectProposer(validatorSet(5000, 7000, 9000), height, prev, 0)
		require.NoError(t, err)
		require.Equal(t, a.ID, b.ID)
	}
}

func TestSelectProposerSingleValidator(t *testing.T) {
	set := validatorSet(5000)
	for round := uint64(0); round < 10; round++ {
		v, err := consensus.SelectProposer(set, 3, models.ZeroHash, round)
		require.NoError(t, err)
		require.Equal(t, "a", v.ID)
	}
}

func TestSelectProposerFollowsStake(t *testing.T) {
	set := validatorSet(5000, 15000)
	const draws = 2000
	heavy := 0
	for height := uint64(1); height <= draws; height++ {
		v, err := consensus.SelectProposer(set, height, models.ZeroHash, 0)
		require.NoError(t, err)
		if v.ID == "b" {
			heavy++
		}
	}
	require.InDelta(t, 0.75, float64(heavy)/draws, 0.05)
}

func TestSelectProposerCountsDelegation(t *testing.T) {
	set := validatorSet(5000, 5000)
	set.Validators[0].Delegated = models.NewAmount(10000)
	set.TotalStaked.Add(set.TotalStaked, models.NewAmount(10000))

	const draws = 2000
	delegated := 0
	for height := uint64(1); height <= draws; height++ {
		v, err := consensus.SelectProposer(set, height, models.ZeroHash, 0)
		require.NoError(t, err)
		if v.ID == "a" {
			delegated++
		}
	}
	require.InDelta(t, 0.75, float64(delegated)/draws, 0.05)
}

func TestSelectProposerRoundMovesDraw(t *testing.T) {
	set := validatorSet(5000, 5000)
	moved := false
	for height := uint64(1); height <= 100 && !moved; height++ {
		r0, err := consensus.SelectProposer(set, height, models.ZeroHash, 0)
		require.NoError(t, err)
		r1, err := consensus.SelectProposer(set, height, models.ZeroHash, 1)
		require.NoError(t, err)
		moved = r0.ID != r1.ID
	}
	require.True(t, moved)
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "awaiting_tick", consensus.AwaitingTick.String())
	require.Equal(t, "halted", consensus.Halted.String())
	require.Equal(t, "unknown", consensus.Phase(42).String())
}
