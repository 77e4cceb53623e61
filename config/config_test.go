package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pos-ledger/config"
	"pos-ledger/signer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := config.Load("config.yaml")
	require.NoError(t, err)

	require.Equal(t, uint32(8), cfg.ShardCount)
	require.Equal(t, uint64(5000), cfg.Staking.MinimumStake)
	require.Equal(t, 8.0, cfg.Staking.InflationRate)
	require.Equal(t, 5*time.Second, cfg.Consensus.BlockInterval)
	require.Equal(t, uint64(100), cfg.Consensus.SnapshotInterval)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "data/ledger", cfg.LevelDB.Path)

	g, err := cfg.ConsensusGenesis()
	require.NoError(t, err)
	require.Equal(t, uint64(1000000), g.Accounts["alice"].Uint64())
	require.Len(t, g.Validators, 1)
	require.Equal(t, "validator-1", g.Validators[0].ID)
	require.Empty(t, g.Validators[0].PublicKey)
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, signer.DefaultScheme, cfg.Signer.Scheme)
	require.Equal(t, 3, cfg.Consensus.MaxCommitRounds)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, uint32(config.DefaultShardCount), cfg.ShardCount)

	params := cfg.StakingParams()
	require.Equal(t, uint64(5000), params.MinimumStake)
	require.Equal(t, 5*time.Second, cfg.EngineConfig().BlockInterval)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LEDGER_SERVER_PORT", "9191")
	t.Setenv("LEDGER_CONSENSUS_BLOCK_INTERVAL", "250ms")
	t.Setenv("LEDGER_STAKING_INFLATION_RATE", "6.5")
	t.Setenv("LEDGER_SHARD_COUNT", "16")

	cfg, err := config.Load(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 250*time.Millisecond, cfg.Consensus.BlockInterval)
	require.Equal(t, 6.5, cfg.Staking.InflationRate)
	require.Equal(t, uint32(16), cfg.ShardCount)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad level":        "log:\n  level: loud\n",
		"classical scheme": "signer:\n  scheme: Ed25519\n",
		"zero interval":    "consensus:\n  block_interval: 0s\n",
		"bad port":         "server:\n  port: 70000\n",
		"zero shards":      "shard_count: 0\n",
		"low genesis stake": `genesis:
  validators:
    - id: v1
      stake: "4999"
`,
		"bad balance": `genesis:
  accounts:
    - address: alice
      balance: "-5"
`,
		"duplicate account": `genesis:
  accounts:
    - address: alice
      balance: "1"
    - address: alice
      balance: "2"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			require.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
