package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pos-ledger/config"
	"pos-ledger/consensus"
	"pos-ledger/db"
	"pos-ledger/repository"
)

func testConfig(path string) *config.Config {
	cfg := &config.Config{}
	cfg.LevelDB.Path = path
	cfg.Staking.MinimumStake = 5000
	cfg.Staking.InflationRate = 8.0
	return cfg
}

func TestReadOnlyNodeNeverCreatesAStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")

	_, err := openNode(testConfig(path), true)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestReadOnlyNodeDoesNotCommitGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	ldb, err := db.NewLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, ldb.Close())

	_, err = openNode(testConfig(path), true)
	require.ErrorIs(t, err, consensus.ErrNotBootstrapped)

	ldb, err = db.NewLevelDB(path)
	require.NoError(t, err)
	defer ldb.Close()
	_, err = repository.NewLedgerRepository(ldb).GetHead()
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReadOnlyNodeVerifiesExistingChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	cfg := testConfig(path)

	n, err := openNode(cfg, false)
	require.NoError(t, err)
	n.close()

	n, err = openNode(cfg, true)
	require.NoError(t, err)
	defer n.close()
	require.NoError(t, n.engine.VerifyChain(context.Background()))
	head, ok := n.engine.Head()
	require.True(t, ok)
	require.Equal(t, uint64(0), head.Height)
}
