// Package config loads the node configuration from YAML through viper.
// Every key can be overridden from the environment with a LEDGER_ prefix,
// dots replaced by underscores (LEDGER_SERVER_PORT=9090).
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"pos-ledger/consensus"
	"pos-ledger/mempool"
	"pos-ledger/models"
	"pos-ledger/signer"
	"pos-ledger/staking"
	"pos-ledger/statesync"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "LEDGER"

var ErrInvalid = errors.New("invalid configuration")

// DefaultShardCount is the number of shards the chain is declared with.
const DefaultShardCount = 8

type Config struct {
	ChainID    string          `mapstructure:"chain_id"`
	ShardCount uint32          `mapstructure:"shard_count"` // declared only; blocks are not partitioned
	Staking    StakingConfig   `mapstructure:"staking"`
	Consensus  ConsensusConfig `mapstructure:"consensus"`
	Mempool    MempoolConfig   `mapstructure:"mempool"`
	LevelDB    LevelDBConfig   `mapstructure:"leveldb"`
	Log        LogConfig       `mapstructure:"log"`
	Server     ServerConfig    `mapstructure:"server"`
	Signer     SignerConfig    `mapstructure:"signer"`
	Genesis    GenesisConfig   `mapstructure:"genesis"`
}

type StakingConfig struct {
	MinimumStake  uint64  `mapstructure:"minimum_stake"`
	InflationRate float64 `mapstructure:"inflation_rate"`
}

type ConsensusConfig struct {
	BlockInterval    time.Duration `mapstructure:"block_interval"`
	MaxCommitRounds  int           `mapstructure:"max_commit_rounds"`
	MaxBlockTxs      int           `mapstructure:"max_block_txs"`
	SnapshotInterval uint64        `mapstructure:"snapshot_interval"`
}

type MempoolConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SignerConfig names the key this node signs blocks with. The seed file
// holds the hex key seed; the secret key itself is never written out.
type SignerConfig struct {
	Scheme      string `mapstructure:"scheme"`
	SeedFile    string `mapstructure:"seed_file"`
	ValidatorID string `mapstructure:"validator_id"`
	Workers     int    `mapstructure:"workers"`
}

type GenesisConfig struct {
	Timestamp  int64                    `mapstructure:"timestamp"`
	Accounts   []GenesisAccountConfig   `mapstructure:"accounts"`
	Validators []GenesisValidatorConfig `mapstructure:"validators"`
}

// Amounts are decimal strings so values above 2^64 survive YAML.
type GenesisAccountConfig struct {
	Address string `mapstructure:"address"`
	Balance string `mapstructure:"balance"`
}

type GenesisValidatorConfig struct {
	ID        string `mapstructure:"id"`
	Address   string `mapstructure:"address"`
	Stake     string `mapstructure:"stake"`
	Mobile    bool   `mapstructure:"mobile"`
	PublicKey string `mapstructure:"public_key"` // hex
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain_id", "pos-ledger-local")
	v.SetDefault("shard_count", DefaultShardCount)
	v.SetDefault("staking.minimum_stake", staking.DefaultMinimumStake)
	v.SetDefault("staking.inflation_rate", staking.DefaultInflationRate)
	v.SetDefault("consensus.block_interval", consensus.DefaultBlockInterval)
	v.SetDefault("consensus.max_commit_rounds", consensus.DefaultMaxCommitRounds)
	v.SetDefault("consensus.max_block_txs", 0)
	v.SetDefault("consensus.snapshot_interval", statesync.DefaultInterval)
	v.SetDefault("mempool.max_size", mempool.DefaultMaxSize)
	v.SetDefault("leveldb.path", "data/ledger")
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("signer.scheme", signer.DefaultScheme)
	v.SetDefault("signer.seed_file", "")
	v.SetDefault("signer.validator_id", "")
	v.SetDefault("signer.workers", 0)
	v.SetDefault("genesis.timestamp", 0)
}

// Load reads path (when not empty), applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the node cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
		}
	}

	check(c.ChainID != "", "chain_id is empty")
	check(c.ShardCount > 0, "shard_count must be positive")
	check(c.Staking.MinimumStake > 0, "staking.minimum_stake must be positive")
	check(c.Staking.InflationRate > 0, "staking.inflation_rate must be positive")
	check(c.Consensus.BlockInterval > 0, "consensus.block_interval must be positive")
	check(c.Consensus.MaxCommitRounds > 0, "consensus.max_commit_rounds must be positive")
	check(c.Consensus.MaxBlockTxs >= 0, "consensus.max_block_txs must not be negative")
	check(c.Consensus.SnapshotInterval > 0, "consensus.snapshot_interval must be positive")
	check(c.LevelDB.Path != "", "leveldb.path is empty")
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log.level: %v", ErrInvalid, err))
	}
	if _, err := signer.SchemeByName(c.Signer.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("%w: signer.scheme: %v", ErrInvalid, err))
	}
	if _, err := c.ConsensusGenesis(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StakingParams are the staking ledger parameters.
func (c *Config) StakingParams() staking.Params {
	return staking.Params{MinimumStake: c.Staking.MinimumStake, InflationRate: c.Staking.InflationRate}
}

// EngineConfig is the consensus engine timing.
func (c *Config) EngineConfig() consensus.Config {
	return consensus.Config{
		BlockInterval:   c.Consensus.BlockInterval,
		MaxCommitRounds: c.Consensus.MaxCommitRounds,
		MaxBlockTxs:     c.Consensus.MaxBlockTxs,
	}
}

// ConsensusGenesis parses the genesis section.
func (c *Config) ConsensusGenesis() (*consensus.Genesis, error) {
	g := &consensus.Genesis{
		Timestamp: c.Genesis.Timestamp,
		Accounts:  make(map[string]*uint256.Int, len(c.Genesis.Accounts)),
	}
	for _, a := range c.Genesis.Accounts {
		if a.Address == "" {
			return nil, fmt.Errorf("%w: genesis account without address", ErrInvalid)
		}
		if _, dup := g.Accounts[a.Address]; dup {
			return nil, fmt.Errorf("%w: genesis account %q listed twice", ErrInvalid, a.Address)
		}
		balance, err := models.ParseAmount(a.Balance)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis account %q: %v", ErrInvalid, a.Address, err)
		}
		g.Accounts[a.Address] = balance
	}

	seen := make(map[string]bool, len(c.Genesis.Validators))
	for _, gv := range c.Genesis.Validators {
		if gv.ID == "" || seen[gv.ID] {
			return nil, fmt.Errorf("%w: genesis validator id %q empty or repeated", ErrInvalid, gv.ID)
		}
		seen[gv.ID] = true
		stake, err := models.ParseAmount(gv.Stake)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis validator %q: %v", ErrInvalid, gv.ID, err)
		}
		if stake.LtUint64(c.Staking.MinimumStake) {
			return nil, fmt.Errorf("%w: genesis validator %q stake %s below minimum %d", ErrInvalid, gv.ID, stake.Dec(), c.Staking.MinimumStake)
		}
		pub, err := hex.DecodeString(gv.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis validator %q public key: %v", ErrInvalid, gv.ID, err)
		}
		g.Validators = append(g.Validators, consensus.GenesisValidator{
			ID:        gv.ID,
			Address:   gv.Address,
			Stake:     stake,
			Mobile:    gv.Mobile,
			PublicKey: pub,
		})
	}
	return g, nil
}
