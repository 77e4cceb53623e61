// Package consensus drives block production: one step per block interval
// selects a stake-weighted proposer, builds a block from pending
// transactions, signs it with the proposer's post-quantum key and commits it.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pos-ledger/breaker"
	"pos-ledger/logger"
	"pos-ledger/mempool"
	"pos-ledger/metrics"
	"pos-ledger/models"
	"pos-ledger/signer"
	"pos-ledger/staking"
	"pos-ledger/statesync"
)

const (
	// DefaultBlockInterval is the time between block rounds.
	DefaultBlockInterval = 5 * time.Second
	// DefaultMaxCommitRounds bounds proposer re-selection within one tick.
	DefaultMaxCommitRounds = 3
)

var (
	ErrNoActiveValidators          = errors.New("no active validators")
	ErrSignatureVerificationFailed = errors.New("block signature verification failed")
	ErrNotLocalProposer            = errors.New("selected proposer has no local key")
	ErrInvalidBlock                = errors.New("invalid block")
	ErrNotBootstrapped             = errors.New("engine has no chain head; call Bootstrap")
)

// Store is the part of the repository the engine reads and commits to.
type Store interface {
	CommitBlock(block *models.Block, accounts []*models.Account) error
	GetBlockAt(height uint64) (*models.Block, error)
	GetHead() (*models.ChainHead, error)
	GetAccount(address string) (*models.Account, error)
	GetAllAccounts() (map[string]*models.Account, error)
}

// Config holds the engine timing and limits.
type Config struct {
	BlockInterval   time.Duration
	MaxCommitRounds int
	MaxBlockTxs     int // 0 means no limit
}

func DefaultConfig() Config {
	return Config{BlockInterval: DefaultBlockInterval, MaxCommitRounds: DefaultMaxCommitRounds}
}

// Deps are the collaborators of the engine. Syncer, Breaker, Metrics and
// Clock may be nil.
type Deps struct {
	Store    Store
	Staking  *staking.Ledger
	Mempool  *mempool.Mempool
	Keyring  *signer.Keyring
	Verifier *signer.Verifier
	Workers  *signer.Pool
	Syncer   *statesync.Syncer
	Breaker  *breaker.Breaker
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Engine is the block production state machine. Step and ImportBlock are
// serialized; reads of the head and phase are lock free.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	store    Store
	staking  *staking.Ledger
	mempool  *mempool.Mempool
	keyring  *signer.Keyring
	verifier *signer.Verifier
	workers  *signer.Pool
	syncer   *statesync.Syncer
	breaker  *breaker.Breaker
	metrics  *metrics.Metrics
	now      func() time.Time

	phase atomic.Int32
	head  atomic.Pointer[models.ChainHead]
}

// New validates deps and returns an engine with no head. Bootstrap must run
// before the first Step.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Staking == nil || deps.Mempool == nil || deps.Verifier == nil {
		return nil, errors.New("consensus: store, staking, mempool and verifier are required")
	}
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = DefaultBlockInterval
	}
	if cfg.MaxCommitRounds <= 0 {
		cfg.MaxCommitRounds = DefaultMaxCommitRounds
	}
	if deps.Keyring == nil {
		deps.Keyring = signer.NewKeyring()
	}
	if deps.Workers == nil {
		deps.Workers = signer.NewPool(0)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		staking:  deps.Staking,
		mempool:  deps.Mempool,
		keyring:  deps.Keyring,
		verifier: deps.Verifier,
		workers:  deps.Workers,
		syncer:   deps.Syncer,
		breaker:  deps.Breaker,
		metrics:  deps.Metrics,
		now:      deps.Clock,
	}, nil
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

// Head returns the last committed block reference.
func (e *Engine) Head() (models.ChainHead, bool) {
	h := e.head.Load()
	if h == nil {
		return models.ChainHead{}, false
	}
	return *h, true
}

func (e *Engine) setHead(block *models.Block) {
	e.head.Store(&models.ChainHead{Height: block.Height, Hash: block.Hash()})
	e.metrics.SetHeight(block.Height)
}

// SelectProposer selects the proposer for (height, previous, round) from a
// consistent snapshot of the validators that have a registered key. A
// validator without one could never produce a verifiable block.
func (e *Engine) SelectProposer(height uint64, previous models.Hash, round uint64) (*models.Validator, error) {
	e.metrics.ProposerSelected()
	return SelectProposer(e.staking.Snapshot().Eligible(), height, previous, round)
}

// Rejection is a pending transaction dropped while building a block.
type Rejection struct {
	Tx  *models.Transaction
	Err error
}

// StepResult describes a committed block.
type StepResult struct {
	Block    *models.Block
	Rejected []Rejection
	Round    uint64
}

// Run steps the engine once per block interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.BlockInterval)
	defer ticker.Stop()

	logger.Logger.Info("Consensus engine started", zap.Duration("block_interval", e.cfg.BlockInterval))
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("Consensus engine stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	_, err := e.Step(ctx)
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrHalted):
		logger.Logger.Debug("Block round skipped, ledger halted")
	case errors.Is(err, ErrNotLocalProposer):
		logger.Logger.Warn("Block round skipped, proposer is not held by this node", zap.Error(err))
	case errors.Is(err, context.Canceled):
	default:
		logger.Logger.Error("Block round failed", zap.Error(err))
	}
}

// Step runs one block round: drain the mempool, build a block on the head,
// then select, sign and verify proposers for up to MaxCommitRounds rounds
// until one commits. On any error the height does not advance and the
// transactions that were valid are returned to the mempool.
func (e *Engine) Step(ctx context.Context) (*StepResult, error) {
	if err := e.breaker.Check(); err != nil {
		e.setPhase(Halted)
		e.metrics.SetHalted(true)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.setPhase(AwaitingTick)

	head, ok := e.Head()
	if !ok {
		return nil, ErrNotBootstrapped
	}
	height := head.Height + 1

	e.setPhase(BuildingBlock)
	pending := e.mempool.Drain(e.cfg.MaxBlockTxs)
	cand, err := e.buildCandidate(height, head.Hash, pending)
	if err != nil {
		e.mempool.Requeue(pending)
		return nil, err
	}
	for _, r := range cand.rejected {
		e.metrics.TxRejected(rejectionCode(r.Err))
		logger.Logger.Info("Transaction dropped",
			zap.String("hash", r.Tx.Hash().String()),
			zap.Uint64("height", height),
			zap.Error(r.Err))
	}

	committed := false
	defer func() {
		if !committed {
			e.mempool.Requeue(cand.block.Transactions)
		}
	}()

	var lastErr error
	for round := uint64(0); round < uint64(e.cfg.MaxCommitRounds); round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.setPhase(SelectingProposer)
		proposer, err := e.SelectProposer(height, head.Hash, round)
		if err != nil {
			e.metrics.CommitFailed("no_proposer")
			return nil, err
		}

		e.setPhase(BuildingBlock)
		block := cand.forProposer(proposer, e.now().UnixMilli())

		e.setPhase(SigningBlock)
		local, ok := e.keyring.Get(proposer.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s at height %d", ErrNotLocalProposer, proposer.ID, height)
		}
		block.Signature, err = e.workers.Sign(ctx, local, block.SigningBytes())
		if err != nil {
			return nil, err
		}

		e.setPhase(CommittingBlock)
		valid, err := e.workers.Verify(ctx, e.verifier, block.SigningBytes(), block.Signature, proposer.PublicKey)
		if err != nil {
			return nil, err
		}
		if !valid {
			lastErr = fmt.Errorf("%w: proposer %s height %d round %d", ErrSignatureVerificationFailed, proposer.ID, height, round)
			e.metrics.CommitFailed("signature")
			logger.Logger.Warn("Block discarded, reselecting proposer",
				zap.Uint64("height", height),
				zap.Uint64("round", round),
				zap.String("proposer_id", proposer.ID))
			continue
		}

		if err := e.store.CommitBlock(block, cand.touched); err != nil {
			e.metrics.CommitFailed("storage")
			return nil, fmt.Errorf("commit height %d: %w", height, err)
		}
		committed = true
		e.afterCommit(block)
		e.metrics.BlockCommitted(block.Height, len(block.Transactions))

		logger.Logger.Info("Block committed",
			zap.Uint64("height", block.Height),
			zap.String("hash", block.Hash().String()),
			zap.String("proposer_id", block.ProposerID),
			zap.Uint64("round", round),
			zap.Int("transactions", len(block.Transactions)),
			zap.Int("rejected", len(cand.rejected)))
		return &StepResult{Block: block, Rejected: cand.rejected, Round: round}, nil
	}
	return nil, lastErr
}

// afterCommit runs the bookkeeping that follows a durable commit. Failures
// here are logged; the block itself is already final.
func (e *Engine) afterCommit(block *models.Block) {
	e.setHead(block)
	if err := e.staking.RecordProposal(block.ProposerID); err != nil {
		logger.Logger.Warn("Failed to record proposal",
			zap.String("proposer_id", block.ProposerID), zap.Error(err))
	}
	if e.syncer != nil && e.syncer.Due(block.Height) {
		if _, err := e.syncer.CreateSnapshot(block.Height); err != nil {
			logger.Logger.Error("Snapshot failed", zap.Uint64("height", block.Height), zap.Error(err))
		}
	}
}
