package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"pos-ledger/logger"
	"pos-ledger/models"
	"pos-ledger/repository"
	"pos-ledger/signer"
	"pos-ledger/txvalidator"
)

// candidate is a block body applied to trial state. The proposer fields and
// signature are filled per round.
type candidate struct {
	block    *models.Block
	touched  []*models.Account
	rejected []Rejection
}

func (c *candidate) forProposer(v *models.Validator, timestamp int64) *models.Block {
	b := *c.block
	b.Timestamp = timestamp
	b.ProposerID = v.ID
	b.ProposerPublicKey = append([]byte(nil), v.PublicKey...)
	b.Signature = nil
	return &b
}

// buildCandidate applies txs in order to a trial copy of the committed
// state. A transaction that fails admission against the trial state is
// rejected and leaves the trial state untouched.
func (e *Engine) buildCandidate(height uint64, previous models.Hash, txs []*models.Transaction) (*candidate, error) {
	trial := newTrialState(e.store)

	applied := make([]*models.Transaction, 0, len(txs))
	var rejected []Rejection
	for _, tx := range txs {
		if err := trial.apply(tx); err != nil {
			if isStorageError(err) {
				return nil, err
			}
			rejected = append(rejected, Rejection{Tx: tx, Err: err})
			continue
		}
		applied = append(applied, tx)
	}

	root, err := trial.root()
	if err != nil {
		return nil, err
	}
	return &candidate{
		block: &models.Block{
			Height:       height,
			PreviousHash: previous,
			TxRoot:       models.TransactionsRoot(applied),
			StateRoot:    root,
			Transactions: applied,
		},
		touched:  trial.touchedAccounts(),
		rejected: rejected,
	}, nil
}

// storageError marks failures reading committed state, as opposed to a
// transaction being inadmissible.
type storageError struct{ err error }

func (s storageError) Error() string { return s.err.Error() }
func (s storageError) Unwrap() error { return s.err }

func isStorageError(err error) bool {
	var se storageError
	return errors.As(err, &se)
}

// trialState overlays uncommitted account changes on the store.
type trialState struct {
	store   Store
	changed map[string]*models.Account
}

func newTrialState(store Store) *trialState {
	return &trialState{store: store, changed: make(map[string]*models.Account)}
}

// account returns a private copy of the account, nil if it was never credited.
func (t *trialState) account(address string) (*models.Account, error) {
	if acc, ok := t.changed[address]; ok {
		return acc.Clone(), nil
	}
	acc, err := t.store.GetAccount(address)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError{fmt.Errorf("read account %q: %w", address, err)}
	}
	return acc, nil
}

func (t *trialState) apply(tx *models.Transaction) error {
	sender, err := t.account(tx.Sender)
	if err != nil {
		return err
	}
	if res := txvalidator.ValidateAgainst(tx, sender); !res.Valid {
		return res.Err
	}

	if tx.Recipient == tx.Sender {
		sender.Nonce++
		t.changed[sender.Address] = sender
		return nil
	}

	recipient, err := t.account(tx.Recipient)
	if err != nil {
		return err
	}
	if recipient == nil {
		recipient = models.NewAccount(tx.Recipient)
	}
	credited, err := models.AddAmounts(recipient.Balance, tx.Amount)
	if err != nil {
		return err
	}
	sender.Balance = new(uint256.Int).Sub(sender.Balance, tx.Amount)
	sender.Nonce++
	recipient.Balance = credited

	t.changed[sender.Address] = sender
	t.changed[recipient.Address] = recipient
	return nil
}

func (t *trialState) root() (models.Hash, error) {
	all, err := t.store.GetAllAccounts()
	if err != nil {
		return models.Hash{}, fmt.Errorf("read accounts: %w", err)
	}
	for addr, acc := range t.changed {
		all[addr] = acc
	}
	return models.StateRoot(all), nil
}

func (t *trialState) touchedAccounts() []*models.Account {
	out := make([]*models.Account, 0, len(t.changed))
	for _, acc := range t.changed {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func rejectionCode(err error) string {
	if errors.Is(err, models.ErrAmountOverflow) {
		return "amount_overflow"
	}
	return txvalidator.Code(err)
}

// ValidateBlock checks a block produced elsewhere against the local head,
// validator set and state without committing it.
func (e *Engine) ValidateBlock(ctx context.Context, block *models.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.validateBlock(ctx, block)
	return err
}

func (e *Engine) validateBlock(ctx context.Context, block *models.Block) (*candidate, error) {
	if block == nil {
		return nil, fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	for i, tx := range block.Transactions {
		if tx == nil {
			return nil, fmt.Errorf("%w: nil transaction at index %d", ErrInvalidBlock, i)
		}
	}
	head, ok := e.Head()
	if !ok {
		return nil, ErrNotBootstrapped
	}
	if block.Height != head.Height+1 {
		return nil, fmt.Errorf("%w: height %d, expected %d", ErrInvalidBlock, block.Height, head.Height+1)
	}
	if block.PreviousHash != head.Hash {
		return nil, fmt.Errorf("%w: previous hash %s does not match head %s", ErrInvalidBlock, block.PreviousHash, head.Hash)
	}

	if err := e.checkProposer(block); err != nil {
		return nil, err
	}

	cand, err := e.buildCandidate(block.Height, block.PreviousHash, block.Transactions)
	if err != nil {
		return nil, err
	}
	if len(cand.rejected) > 0 {
		r := cand.rejected[0]
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrInvalidBlock, r.Tx.Hash(), r.Err)
	}
	if cand.block.TxRoot != block.TxRoot {
		return nil, fmt.Errorf("%w: transaction root mismatch", ErrInvalidBlock)
	}
	if cand.block.StateRoot != block.StateRoot {
		return nil, fmt.Errorf("%w: state root mismatch", ErrInvalidBlock)
	}

	valid, err := e.workers.Verify(ctx, e.verifier, block.SigningBytes(), block.Signature, block.ProposerPublicKey)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("%w: proposer %s height %d", ErrSignatureVerificationFailed, block.ProposerID, block.Height)
	}
	return cand, nil
}

// checkProposer accepts the block proposer if it is the selection for any
// round this node would have tried, and its key is the registered one.
func (e *Engine) checkProposer(block *models.Block) error {
	snapshot := e.staking.Snapshot().Eligible()
	for round := uint64(0); round < uint64(e.cfg.MaxCommitRounds); round++ {
		v, err := SelectProposer(snapshot, block.Height, block.PreviousHash, round)
		if err != nil {
			return err
		}
		if v.ID != block.ProposerID {
			continue
		}
		if !bytes.Equal(v.PublicKey, block.ProposerPublicKey) {
			return fmt.Errorf("%w: proposer %s key is not the registered key", ErrInvalidBlock, v.ID)
		}
		return nil
	}
	return fmt.Errorf("%w: %s is not an eligible proposer at height %d", ErrInvalidBlock, block.ProposerID, block.Height)
}

// ImportBlock validates and commits a block produced by another node.
func (e *Engine) ImportBlock(ctx context.Context, block *models.Block) error {
	return e.breaker.Guard(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		cand, err := e.validateBlock(ctx, block)
		if err != nil {
			logger.Logger.Warn("Block rejected", zap.Error(err))
			return err
		}
		if err := e.store.CommitBlock(block, cand.touched); err != nil {
			e.metrics.CommitFailed("storage")
			return fmt.Errorf("import height %d: %w", block.Height, err)
		}
		e.afterCommit(block)
		e.mempool.Remove(block.Transactions...)
		e.metrics.BlockImported(block.Height, len(block.Transactions))

		logger.Logger.Info("Block imported",
			zap.Uint64("height", block.Height),
			zap.String("hash", block.Hash().String()),
			zap.String("proposer_id", block.ProposerID))
		return nil
	})
}

// VerifyChain walks the committed chain from genesis to head, checking hash
// links and transaction roots, and verifies every proposer signature in
// parallel.
func (e *Engine) VerifyChain(ctx context.Context) error {
	head, ok := e.Head()
	if !ok {
		return ErrNotBootstrapped
	}

	prev, err := e.store.GetBlockAt(0)
	if err != nil {
		return err
	}
	items := make([]signer.VerifyItem, 0, head.Height)
	for h := uint64(1); h <= head.Height; h++ {
		block, err := e.store.GetBlockAt(h)
		if err != nil {
			return err
		}
		if block.PreviousHash != prev.Hash() {
			return fmt.Errorf("%w: height %d does not link to height %d", ErrInvalidBlock, h, h-1)
		}
		if models.TransactionsRoot(block.Transactions) != block.TxRoot {
			return fmt.Errorf("%w: height %d transaction root mismatch", ErrInvalidBlock, h)
		}
		items = append(items, signer.VerifyItem{
			Message:   block.SigningBytes(),
			Signature: block.Signature,
			PublicKey: block.ProposerPublicKey,
		})
		prev = block
	}
	if prev.Hash() != head.Hash {
		return fmt.Errorf("%w: head hash mismatch at height %d", ErrInvalidBlock, head.Height)
	}

	results, err := e.workers.VerifyBatch(ctx, e.verifier, items)
	if err != nil {
		return err
	}
	for i, ok := range results {
		if !ok {
			return fmt.Errorf("%w: height %d", ErrSignatureVerificationFailed, i+1)
		}
	}
	return nil
}
