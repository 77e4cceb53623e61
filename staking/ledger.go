// Package staking keeps validator stake bookkeeping and the reward curve.
package staking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"pos-ledger/breaker"
	"pos-ledger/logger"
	"pos-ledger/metrics"
	"pos-ledger/models"
)

const (
	// DefaultMinimumStake is the smallest stake an active validator may hold.
	DefaultMinimumStake = 5000
	// DefaultInflationRate is the base inflation in percent.
	DefaultInflationRate = 8.0

	treeDegree = 32
)

var (
	ErrBelowMinimumStake = errors.New("stake below minimum")
	ErrUnknownValidator  = errors.New("unknown validator")
	ErrInsufficientStake = errors.New("unstake amount exceeds stake")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInvariant         = errors.New("total staked does not match validator stakes")
	ErrNoDelegator       = errors.New("delegator address is required")
)

// Store persists validator records. The repository implements it.
type Store interface {
	PutValidator(v *models.Validator) error
	DeleteValidator(id string) error
	GetAllValidators() ([]*models.Validator, error)
}

// Params are fixed for the life of the process.
type Params struct {
	MinimumStake  uint64
	InflationRate float64
}

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	return Params{MinimumStake: DefaultMinimumStake, InflationRate: DefaultInflationRate}
}

// Option adjusts the validator record on Stake.
type Option func(v *models.Validator)

func WithAddress(address string) Option {
	return func(v *models.Validator) { v.Address = address }
}

func WithMobile(mobile bool) Option {
	return func(v *models.Validator) { v.Mobile = mobile }
}

func WithPublicKey(pub []byte) Option {
	return func(v *models.Validator) { v.PublicKey = append([]byte(nil), pub...) }
}

func lessByID(a, b *models.Validator) bool {
	return a.ID < b.ID
}

// Ledger is the validator set. Every mutation updates the per-validator stake
// and total_staked under one write lock, so readers never see them disagree.
type Ledger struct {
	mu          sync.RWMutex
	validators  *btree.BTreeG[*models.Validator]
	totalStaked *uint256.Int

	params  Params
	store   Store
	breaker *breaker.Breaker
	metrics *metrics.Metrics
}

// NewLedger returns an empty ledger. store and m may be nil.
func NewLedger(params Params, store Store, b *breaker.Breaker, m *metrics.Metrics) *Ledger {
	return &Ledger{
		validators:  btree.NewG(treeDegree, lessByID),
		totalStaked: new(uint256.Int),
		params:      params,
		store:       store,
		breaker:     b,
		metrics:     m,
	}
}

// Params returns the ledger parameters.
func (l *Ledger) Params() Params {
	return l.params
}

// Load replaces the in-memory set with the persisted validator records.
func (l *Ledger) Load() error {
	if l.store == nil {
		return nil
	}
	records, err := l.store.GetAllValidators()
	if err != nil {
		return fmt.Errorf("load validators: %w", err)
	}

	tree := btree.NewG(treeDegree, lessByID)
	total := new(uint256.Int)
	for _, v := range records {
		if total, err = models.AddAmounts(total, v.Weight()); err != nil {
			return fmt.Errorf("load validator %q: %w", v.ID, err)
		}
		tree.ReplaceOrInsert(v)
	}

	l.mu.Lock()
	l.validators = tree
	l.totalStaked = total
	l.mu.Unlock()

	l.metrics.SetStaking(total, tree.Len())
	logger.Logger.Info("Validator set loaded",
		zap.Int("validators", tree.Len()), zap.String("total_staked", total.Dec()))
	return nil
}

// Stake adds amount to the validator's stake, creating the validator when it
// does not exist. amount must be at least the minimum stake.
func (l *Ledger) Stake(id string, amount *uint256.Int, opts ...Option) error {
	return l.breaker.Guard(func() error {
		return l.stake(id, amount, opts)
	})
}

func (l *Ledger) stake(id string, amount *uint256.Int, opts []Option) error {
	if id == "" {
		return fmt.Errorf("%w: empty validator id", ErrUnknownValidator)
	}
	if amount == nil || amount.LtUint64(l.params.MinimumStake) {
		return fmt.Errorf("%w: %s < %d", ErrBelowMinimumStake, models.AmountOrZero(amount).Dec(), l.params.MinimumStake)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record := &models.Validator{ID: id, Stake: new(uint256.Int)}
	if existing, ok := l.validators.Get(&models.Validator{ID: id}); ok {
		record = existing.Clone()
	}
	for _, opt := range opts {
		opt(record)
	}

	newStake, err := models.AddAmounts(record.Stake, amount)
	if err != nil {
		return err
	}
	newTotal, err := models.AddAmounts(l.totalStaked, amount)
	if err != nil {
		return err
	}
	record.Stake = newStake

	if err := l.persist(record); err != nil {
		return err
	}
	l.validators.ReplaceOrInsert(record)
	l.totalStaked = newTotal
	l.metrics.SetStaking(newTotal, l.validators.Len())

	logger.Logger.Info("Stake added",
		zap.String("validator_id", id),
		zap.String("amount", amount.Dec()),
		zap.String("stake", newStake.Dec()),
		zap.String("total_staked", newTotal.Dec()))
	return nil
}

// Unstake withdraws amount from the validator's self stake. If the remaining
// self stake would fall below the minimum, the validator is removed, its whole
// stake is withdrawn and its delegations are released. It returns the self
// stake actually withdrawn.
func (l *Ledger) Unstake(id string, amount *uint256.Int) (*uint256.Int, error) {
	return breaker.Do(l.breaker, func() (*uint256.Int, error) {
		return l.unstake(id, amount)
	})
}

func (l *Ledger) unstake(id string, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.validators.Get(&models.Validator{ID: id})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	if existing.Stake.Lt(amount) {
		return nil, fmt.Errorf("%w: %s has %s, asked %s", ErrInsufficientStake, id, existing.Stake.Dec(), amount.Dec())
	}

	remaining := new(uint256.Int).Sub(existing.Stake, amount)
	withdrawn := amount.Clone()
	released := new(uint256.Int)
	removed := remaining.LtUint64(l.params.MinimumStake)

	if removed {
		withdrawn = existing.Stake.Clone()
		released = models.AmountOrZero(existing.Delegated).Clone()
		if l.store != nil {
			if err := l.store.DeleteValidator(id); err != nil {
				return nil, fmt.Errorf("delete validator %q: %w", id, err)
			}
		}
		l.validators.Delete(existing)
	} else {
		record := existing.Clone()
		record.Stake = remaining
		if err := l.persist(record); err != nil {
			return nil, err
		}
		l.validators.ReplaceOrInsert(record)
	}
	l.totalStaked = new(uint256.Int).Sub(l.totalStaked, withdrawn)
	l.totalStaked.Sub(l.totalStaked, released)
	l.metrics.SetStaking(l.totalStaked, l.validators.Len())

	logger.Logger.Info("Stake withdrawn",
		zap.String("validator_id", id),
		zap.String("withdrawn", withdrawn.Dec()),
		zap.String("delegations_released", released.Dec()),
		zap.Bool("removed", removed),
		zap.String("total_staked", l.totalStaked.Dec()))
	return withdrawn, nil
}

// Delegate adds amount from delegator to an existing validator's weight.
// Delegated stake counts toward total_staked and proposer selection but not
// toward the validator's minimum self stake.
func (l *Ledger) Delegate(delegator, id string, amount *uint256.Int) error {
	return l.breaker.Guard(func() error {
		return l.delegate(delegator, id, amount)
	})
}

func (l *Ledger) delegate(delegator, id string, amount *uint256.Int) error {
	if delegator == "" {
		return ErrNoDelegator
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.validators.Get(&models.Validator{ID: id})
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	newTotal, err := models.AddAmounts(l.totalStaked, amount)
	if err != nil {
		return err
	}
	record := existing.Clone()
	if record.Delegated, err = models.AddAmounts(record.Delegated, amount); err != nil {
		return err
	}
	if record.Delegations == nil {
		record.Delegations = make(map[string]*uint256.Int)
	}
	if record.Delegations[delegator], err = models.AddAmounts(record.Delegations[delegator], amount); err != nil {
		return err
	}

	if err := l.persist(record); err != nil {
		return err
	}
	l.validators.ReplaceOrInsert(record)
	l.totalStaked = newTotal
	l.metrics.SetStaking(newTotal, l.validators.Len())

	logger.Logger.Info("Stake delegated",
		zap.String("delegator", delegator),
		zap.String("validator_id", id),
		zap.String("amount", amount.Dec()),
		zap.String("total_staked", newTotal.Dec()))
	return nil
}

// SetPublicKey registers the block signing key of an existing validator.
func (l *Ledger) SetPublicKey(id string, pub []byte) error {
	return l.breaker.Guard(func() error {
		return l.update(id, func(v *models.Validator) {
			v.PublicKey = append([]byte(nil), pub...)
		})
	})
}

// RecordProposal counts a committed block for its proposer. It is part of a
// commit already past the breaker, so it is not guarded itself.
func (l *Ledger) RecordProposal(id string) error {
	return l.update(id, func(v *models.Validator) { v.BlocksProposed++ })
}

func (l *Ledger) update(id string, fn func(v *models.Validator)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.validators.Get(&models.Validator{ID: id})
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	record := existing.Clone()
	fn(record)
	if err := l.persist(record); err != nil {
		return err
	}
	l.validators.ReplaceOrInsert(record)
	return nil
}

func (l *Ledger) persist(v *models.Validator) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.PutValidator(v); err != nil {
		return fmt.Errorf("persist validator %q: %w", v.ID, err)
	}
	return nil
}

// Validator returns a copy of one validator record.
func (l *Ledger) Validator(id string) (*models.Validator, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.validators.Get(&models.Validator{ID: id})
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Validators returns copies of all validators ordered by id.
func (l *Ledger) Validators() []*models.Validator {
	return l.Snapshot().Validators
}

// TotalStaked returns a copy of total_staked.
func (l *Ledger) TotalStaked() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalStaked.Clone()
}

// Snapshot is a consistent view of the validator set.
type Snapshot struct {
	Validators  []*models.Validator // ordered by id
	TotalStaked *uint256.Int
}

// Eligible narrows the snapshot to validators that can propose, those with a
// registered public key. TotalStaked becomes the sum of their weights.
func (s *Snapshot) Eligible() *Snapshot {
	out := &Snapshot{TotalStaked: new(uint256.Int)}
	if s == nil {
		return out
	}
	for _, v := range s.Validators {
		if !v.CanPropose() {
			continue
		}
		out.Validators = append(out.Validators, v)
		out.TotalStaked.Add(out.TotalStaked, v.Weight())
	}
	return out
}

// Statistics summarises the validator set.
type Statistics struct {
	Validators     int          `json:"validators"`
	Eligible       int          `json:"eligible"`
	TotalStaked    *uint256.Int `json:"total_staked"`
	TotalDelegated *uint256.Int `json:"total_delegated"`
	ValidatorAPY   float64      `json:"validator_apy"`
	MobileAPY      float64      `json:"mobile_apy"`
}

// Statistics is computed from one consistent snapshot.
func (l *Ledger) Statistics() Statistics {
	s := l.Snapshot()
	st := Statistics{
		Validators:     len(s.Validators),
		Eligible:       len(s.Eligible().Validators),
		TotalStaked:    s.TotalStaked,
		TotalDelegated: new(uint256.Int),
		ValidatorAPY:   l.ValidatorAPY(),
		MobileAPY:      l.MobileAPY(),
	}
	for _, v := range s.Validators {
		st.TotalDelegated.Add(st.TotalDelegated, models.AmountOrZero(v.Delegated))
	}
	return st
}

// Snapshot copies the validator set and total under one read lock, so a
// concurrent Stake is either fully in it or not at all.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := &Snapshot{
		Validators:  make([]*models.Validator, 0, l.validators.Len()),
		TotalStaked: l.totalStaked.Clone(),
	}
	l.validators.Ascend(func(v *models.Validator) bool {
		s.Validators = append(s.Validators, v.Clone())
		return true
	})
	return s
}

// CheckInvariant verifies total_staked equals the sum of validator weights.
func (l *Ledger) CheckInvariant() error {
	s := l.Snapshot()
	sum := new(uint256.Int)
	for _, v := range s.Validators {
		sum.Add(sum, v.Weight())
	}
	if !sum.Eq(s.TotalStaked) {
		return fmt.Errorf("%w: total %s, sum %s", ErrInvariant, s.TotalStaked.Dec(), sum.Dec())
	}
	return nil
}

// RewardFor is the reward of a registered validator for its current stake.
func (l *Ledger) RewardFor(id string) (*uint256.Int, error) {
	v, ok := l.Validator(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	return l.Reward(v.Stake, v.Mobile), nil
}
