package consensus

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"pos-ledger/logger"
	"pos-ledger/models"
	"pos-ledger/repository"
	"pos-ledger/staking"
)

// GenesisValidator is a validator staked at height 0.
type GenesisValidator struct {
	ID        string
	Address   string
	Stake     *uint256.Int
	Mobile    bool
	PublicKey []byte
}

// Genesis is the initial state every node of a chain must agree on.
type Genesis struct {
	Timestamp  int64 // unix ms
	Accounts   map[string]*uint256.Int
	Validators []GenesisValidator
}

// Bootstrap resumes from the persisted head, or commits the genesis block
// and stakes the genesis validators on an empty store. It then registers
// local keys for validators that have none.
func (e *Engine) Bootstrap(g *Genesis) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	head, err := e.store.GetHead()
	switch {
	case err == nil:
		e.head.Store(head)
		e.metrics.SetHeight(head.Height)
		logger.Logger.Info("Resuming chain",
			zap.Uint64("height", head.Height), zap.String("hash", head.Hash.String()))
	case errors.Is(err, repository.ErrNotFound):
		if err := e.commitGenesis(g); err != nil {
			return err
		}
	default:
		return fmt.Errorf("read chain head: %w", err)
	}

	e.registerLocalKeys()
	return nil
}

// Resume loads the persisted head without writing anything. An empty store
// is ErrNotBootstrapped.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	head, err := e.store.GetHead()
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotBootstrapped
	}
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	e.head.Store(head)
	e.metrics.SetHeight(head.Height)
	return nil
}

func (e *Engine) commitGenesis(g *Genesis) error {
	if g == nil {
		g = &Genesis{}
	}

	for _, gv := range g.Validators {
		if _, ok := e.staking.Validator(gv.ID); ok {
			continue
		}
		opts := []staking.Option{staking.WithAddress(gv.Address), staking.WithMobile(gv.Mobile)}
		if len(gv.PublicKey) > 0 {
			opts = append(opts, staking.WithPublicKey(gv.PublicKey))
		}
		if err := e.staking.Stake(gv.ID, gv.Stake, opts...); err != nil {
			return fmt.Errorf("genesis validator %q: %w", gv.ID, err)
		}
	}

	state := make(map[string]*models.Account, len(g.Accounts))
	accounts := make([]*models.Account, 0, len(g.Accounts))
	for addr, balance := range g.Accounts {
		if balance.Gt(models.MaxAmount) {
			return fmt.Errorf("genesis account %q: %w", addr, models.ErrAmountOverflow)
		}
		acc := &models.Account{Address: addr, Balance: balance.Clone()}
		state[addr] = acc
		accounts = append(accounts, acc)
	}

	genesis := models.NewGenesisBlock(models.StateRoot(state), g.Timestamp)
	if err := e.store.CommitBlock(genesis, accounts); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	e.setHead(genesis)

	logger.Logger.Info("Genesis committed",
		zap.String("hash", genesis.Hash().String()),
		zap.Int("accounts", len(accounts)),
		zap.Int("validators", len(g.Validators)))
	return nil
}

func (e *Engine) registerLocalKeys() {
	for _, id := range e.keyring.IDs() {
		local, _ := e.keyring.Get(id)
		v, ok := e.staking.Validator(id)
		if !ok {
			logger.Logger.Warn("Local key for unknown validator", zap.String("validator_id", id))
			continue
		}
		switch {
		case len(v.PublicKey) == 0:
			if err := e.staking.SetPublicKey(id, local.PublicKey()); err != nil {
				logger.Logger.Warn("Failed to register validator key", zap.String("validator_id", id), zap.Error(err))
			}
		case !bytes.Equal(v.PublicKey, local.PublicKey()):
			logger.Logger.Warn("Local key differs from registered key; blocks it signs will be discarded",
				zap.String("validator_id", id))
		}
	}
}
