package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pos-ledger/breaker"
	"pos-ledger/config"
	"pos-ledger/consensus"
	"pos-ledger/db"
	"pos-ledger/logger"
	"pos-ledger/mempool"
	"pos-ledger/metrics"
	"pos-ledger/repository"
	"pos-ledger/signer"
	"pos-ledger/staking"
	"pos-ledger/statesync"
)

// node is every long-lived component of a running ledger.
type node struct {
	cfg      *config.Config
	ldb      *db.LevelDB
	repo     *repository.LedgerRepository
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	breaker  *breaker.Breaker
	staking  *staking.Ledger
	mempool  *mempool.Mempool
	keyring  *signer.Keyring
	syncer   *statesync.Syncer
	engine   *consensus.Engine
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// openNode opens storage, restores staking and snapshot state and
// bootstraps the chain. A read-only node opens an existing store without
// writing, loads no signing key and only resumes from the stored head. The
// caller owns n.close.
func openNode(cfg *config.Config, readOnly bool) (_ *node, err error) {
	n := &node{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if n.metrics, err = metrics.New(n.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	open := db.NewLevelDB
	if readOnly {
		open = db.OpenReadOnly
	}
	if n.ldb, err = open(cfg.LevelDB.Path); err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	n.repo = repository.NewLedgerRepository(n.ldb)

	n.breaker = breaker.New()
	n.staking = staking.NewLedger(cfg.StakingParams(), n.repo, n.breaker, n.metrics)
	if err = n.staking.Load(); err != nil {
		return nil, fmt.Errorf("load validators: %w", err)
	}
	n.mempool = mempool.New(cfg.Mempool.MaxSize, n.metrics)
	n.syncer = statesync.New(n.repo, cfg.Consensus.SnapshotInterval, n.metrics)
	if err = n.syncer.Load(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	n.keyring = signer.NewKeyring()
	if !readOnly {
		if n.keyring, err = loadKeyring(cfg.Signer); err != nil {
			return nil, err
		}
	}
	verifier, err := signer.NewVerifier(cfg.Signer.Scheme)
	if err != nil {
		return nil, err
	}

	n.engine, err = consensus.New(cfg.EngineConfig(), consensus.Deps{
		Store:    n.repo,
		Staking:  n.staking,
		Mempool:  n.mempool,
		Keyring:  n.keyring,
		Verifier: verifier,
		Workers:  signer.NewPool(cfg.Signer.Workers),
		Syncer:   n.syncer,
		Breaker:  n.breaker,
		Metrics:  n.metrics,
	})
	if err != nil {
		return nil, err
	}

	if readOnly {
		if err = n.engine.Resume(); err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		return n, nil
	}
	genesis, err := cfg.ConsensusGenesis()
	if err != nil {
		return nil, err
	}
	if err = n.engine.Bootstrap(genesis); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return n, nil
}

// loadKeyring returns an empty keyring when the node has no seed file; such
// a node follows the chain but never proposes.
func loadKeyring(cfg config.SignerConfig) (*signer.Keyring, error) {
	keyring := signer.NewKeyring()
	if cfg.SeedFile == "" || cfg.ValidatorID == "" {
		logger.Logger.Warn("No signing key configured, running as observer")
		return keyring, nil
	}
	seed, err := signer.LoadSeedFile(cfg.SeedFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Logger.Warn("Seed file missing, running as observer; create one with keygen",
			zap.String("seed_file", cfg.SeedFile))
		return keyring, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	s, err := signer.FromSeed(cfg.Scheme, seed)
	if err != nil {
		return nil, err
	}
	keyring.Add(cfg.ValidatorID, s)
	logger.Logger.Info("Signing key loaded",
		zap.String("validator_id", cfg.ValidatorID), zap.Stringer("signer", s))
	return keyring, nil
}

func (n *node) close() {
	if n.ldb == nil {
		return
	}
	if err := n.ldb.Close(); err != nil {
		logger.Logger.Error("Failed to close leveldb", zap.Error(err))
	}
	n.ldb = nil
}
