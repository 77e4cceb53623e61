package staking_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pos-ledger/breaker"
	"pos-ledger/db"
	"pos-ledger/models"
	"pos-ledger/repository"
	"pos-ledger/staking"
)

func amt(v uint64) *uint256.Int { return models.NewAmount(v) }

func newLedger(t *testing.T) *staking.Ledger {
	t.Helper()
	return staking.NewLedger(staking.DefaultParams(), nil, breaker.New(), nil)
}

func TestStakeMinimum(t *testing.T) {
	l := newLedger(t)

	err := l.Stake("v1", amt(4999))
	require.ErrorIs(t, err, staking.ErrBelowMinimumStake)
	_, ok := l.Validator("v1")
	require.False(t, ok)
	require.True(t, l.TotalStaked().IsZero())

	require.NoError(t, l.Stake("v1", amt(5000)))
	v, ok := l.Validator("v1")
	require.True(t, ok)
	require.Equal(t, uint64(5000), v.Stake.Uint64())
	require.Equal(t, uint64(5000), l.TotalStaked().Uint64())
}

func TestStakeAccumulatesAndAppliesOptions(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Stake("v1", amt(5000), staking.WithAddress("addr1")))
	require.NoError(t, l.Stake("v1", amt(6000), staking.WithMobile(true), staking.WithPublicKey([]byte{1, 2})))
	require.NoError(t, l.Stake("v0", amt(7000)))

	v, _ := l.Validator("v1")
	require.Equal(t, uint64(11000), v.Stake.Uint64())
	require.Equal(t, "addr1", v.Address)
	require.True(t, v.Mobile)
	require.Equal(t, []byte{1, 2}, v.PublicKey)
	require.Equal(t, uint64(18000), l.TotalStaked().Uint64())

	ids := []string{}
	for _, v := range l.Validators() {
		ids = append(ids, v.ID)
	}
	require.Equal(t, []string{"v0", "v1"}, ids)
	require.NoError(t, l.CheckInvariant())
}

func TestTotalStakedConsistentUnderConcurrency(t *testing.T) {
	l := newLedger(t)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	var readerErr error
	var readerOnce sync.Once
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := l.Snapshot()
			sum := new(uint256.Int)
			for _, v := range s.Validators {
				sum.Add(sum, v.Stake)
			}
			if !sum.Eq(s.TotalStaked) {
				readerOnce.Do(func() { readerErr = fmt.Errorf("sum %s != total %s", sum, s.TotalStaked) })
			}
		}
	}()

	var writers sync.WaitGroup
	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 50; i++ {
				_ = l.Stake(fmt.Sprintf("v%d", (w+i)%5), amt(5000+uint64(i)))
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	require.NoError(t, readerErr)
	require.NoError(t, l.CheckInvariant())
}

func TestUnstake(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Stake("v1", amt(12000)))
	require.NoError(t, l.Stake("v2", amt(5000)))

	_, err := l.Unstake("v1", amt(0))
	require.ErrorIs(t, err, staking.ErrInvalidAmount)
	_, err = l.Unstake("nope", amt(1))
	require.ErrorIs(t, err, staking.ErrUnknownValidator)
	_, err = l.Unstake("v1", amt(12001))
	require.ErrorIs(t, err, staking.ErrInsufficientStake)

	got, err := l.Unstake("v1", amt(2000))
	require.NoError(t, err)
	require.Equal(t, uint64(2000), got.Uint64())
	v, _ := l.Validator("v1")
	require.Equal(t, uint64(10000), v.Stake.Uint64())

	// dropping below the minimum removes the validator entirely
	got, err = l.Unstake("v1", amt(6000))
	require.NoError(t, err)
	require.Equal(t, uint64(10000), got.Uint64())
	_, ok := l.Validator("v1")
	require.False(t, ok)

	require.Equal(t, uint64(5000), l.TotalStaked().Uint64())
	require.NoError(t, l.CheckInvariant())
}

func TestRewards(t *testing.T) {
	l := newLedger(t)

	require.InDelta(t, 26.6667, l.ValidatorAPY(), 0.0001)
	require.InDelta(t, 37.3333, l.MobileAPY(), 0.0001)

	require.Equal(t, uint64(1333), l.Reward(amt(5000), false).Uint64())
	require.Equal(t, uint64(1866), l.Reward(amt(5000), true).Uint64())
	require.True(t, l.Reward(amt(0), false).IsZero())

	require.NoError(t, l.Stake("m", amt(5000), staking.WithMobile(true)))
	r, err := l.RewardFor("m")
	require.NoError(t, err)
	require.Equal(t, uint64(1866), r.Uint64())

	_, err = l.RewardFor("ghost")
	require.ErrorIs(t, err, staking.ErrUnknownValidator)
}

func TestRewardIgnoresActualStakeRatio(t *testing.T) {
	small := newLedger(t)
	big := newLedger(t)
	require.NoError(t, big.Stake("whale", amt(1_000_000_000)))

	require.Equal(t, small.Reward(amt(5000), false), big.Reward(amt(5000), false))
}

func TestHaltedLedgerDoesNotMutate(t *testing.T) {
	b := breaker.New()
	l := staking.NewLedger(staking.DefaultParams(), nil, b, nil)
	require.NoError(t, l.Stake("v1", amt(5000)))

	b.EmergencyStop()
	require.ErrorIs(t, l.Stake("v1", amt(5000)), breaker.ErrHalted)
	require.ErrorIs(t, l.Stake("v2", amt(5000)), breaker.ErrHalted)
	_, err := l.Unstake("v1", amt(100))
	require.ErrorIs(t, err, breaker.ErrHalted)
	require.ErrorIs(t, l.SetPublicKey("v1", []byte{1}), breaker.ErrHalted)
	require.ErrorIs(t, l.Delegate("carol", "v1", amt(10)), breaker.ErrHalted)

	require.Equal(t, uint64(5000), l.TotalStaked().Uint64())
	require.Len(t, l.Validators(), 1)
}

type failingStore struct{ staking.Store }

func (failingStore) PutValidator(*models.Validator) error { return errors.New("disk full") }

func TestStoreFailureLeavesLedgerUntouched(t *testing.T) {
	l := staking.NewLedger(staking.DefaultParams(), failingStore{}, breaker.New(), nil)
	require.Error(t, l.Stake("v1", amt(5000)))
	require.True(t, l.TotalStaked().IsZero())
	require.Empty(t, l.Validators())
}

func TestPersistAndLoad(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	repo := repository.NewLedgerRepository(ldb)

	l := staking.NewLedger(staking.DefaultParams(), repo, breaker.New(), nil)
	require.NoError(t, l.Stake("v1", amt(5000), staking.WithMobile(true)))
	require.NoError(t, l.Stake("v2", amt(8000)))
	require.NoError(t, l.RecordProposal("v2"))
	_, err = l.Unstake("v1", amt(1))
	require.NoError(t, err)

	reloaded := staking.NewLedger(staking.DefaultParams(), repo, breaker.New(), nil)
	require.NoError(t, reloaded.Load())
	require.Equal(t, uint64(8000), reloaded.TotalStaked().Uint64())
	v, ok := reloaded.Validator("v2")
	require.True(t, ok)
	require.Equal(t, uint64(1), v.BlocksProposed)
	_, ok = reloaded.Validator("v1")
	require.False(t, ok)
	require.NoError(t, reloaded.CheckInvariant())
}

func TestDelegate(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Stake("v1", amt(5000)))

	require.ErrorIs(t, l.Delegate("carol", "ghost", amt(10)), staking.ErrUnknownValidator)
	require.ErrorIs(t, l.Delegate("carol", "v1", amt(0)), staking.ErrInvalidAmount)
	require.ErrorIs(t, l.Delegate("", "v1", amt(10)), staking.ErrNoDelegator)

	require.NoError(t, l.Delegate("carol", "v1", amt(3000)))
	require.NoError(t, l.Delegate("carol", "v1", amt(1000)))
	require.NoError(t, l.Delegate("dave", "v1", amt(500)))

	v, _ := l.Validator("v1")
	require.Equal(t, uint64(5000), v.Stake.Uint64(), "self stake is unchanged")
	require.Equal(t, uint64(4500), v.Delegated.Uint64())
	require.Equal(t, uint64(4000), v.Delegations["carol"].Uint64())
	require.Equal(t, uint64(500), v.Delegations["dave"].Uint64())
	require.Equal(t, uint64(9500), v.Weight().Uint64())
	require.Equal(t, uint64(9500), l.TotalStaked().Uint64())
	require.NoError(t, l.CheckInvariant())

	// delegation does not lift a validator over the self stake minimum
	withdrawn, err := l.Unstake("v1", amt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(5000), withdrawn.Uint64())
	require.True(t, l.TotalStaked().IsZero(), "delegations are released with the validator")
	require.NoError(t, l.CheckInvariant())
}

func TestDelegationPersists(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	repo := repository.NewLedgerRepository(ldb)

	l := staking.NewLedger(staking.DefaultParams(), repo, breaker.New(), nil)
	require.NoError(t, l.Stake("v1", amt(5000)))
	require.NoError(t, l.Delegate("carol", "v1", amt(2500)))

	reloaded := staking.NewLedger(staking.DefaultParams(), repo, breaker.New(), nil)
	require.NoError(t, reloaded.Load())
	require.Equal(t, uint64(7500), reloaded.TotalStaked().Uint64())
	v, _ := reloaded.Validator("v1")
	require.Equal(t, uint64(2500), v.Delegations["carol"].Uint64())
	require.NoError(t, reloaded.CheckInvariant())
}

func TestEligibleExcludesValidatorsWithoutKey(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Stake("keyed", amt(5000), staking.WithPublicKey([]byte{1})))
	require.NoError(t, l.Stake("keyless", amt(9000)))
	require.NoError(t, l.Delegate("carol", "keyed", amt(1000)))

	all := l.Snapshot()
	require.Len(t, all.Validators, 2)
	require.Equal(t, uint64(15000), all.TotalStaked.Uint64())

	eligible := all.Eligible()
	require.Len(t, eligible.Validators, 1)
	require.Equal(t, "keyed", eligible.Validators[0].ID)
	require.Equal(t, uint64(6000), eligible.TotalStaked.Uint64())

	require.NoError(t, l.SetPublicKey("keyless", []byte{2}))
	require.Len(t, l.Snapshot().Eligible().Validators, 2)

	var nilSnapshot *staking.Snapshot
	require.Empty(t, nilSnapshot.Eligible().Validators)
}

func TestStatistics(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Stake("v1", amt(5000), staking.WithPublicKey([]byte{1})))
	require.NoError(t, l.Stake("v2", amt(6000)))
	require.NoError(t, l.Delegate("carol", "v2", amt(400)))

	st := l.Statistics()
	require.Equal(t, 2, st.Validators)
	require.Equal(t, 1, st.Eligible)
	require.Equal(t, uint64(11400), st.TotalStaked.Uint64())
	require.Equal(t, uint64(400), st.TotalDelegated.Uint64())
	require.Equal(t, l.ValidatorAPY(), st.ValidatorAPY)
}
