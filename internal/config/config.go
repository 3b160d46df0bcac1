package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/drips-network/dripfeed/internal/common"
)

// identifierRE validates Postgres schema/identifier-shaped config values
// before they are ever used to build SQL (see internal/store and
// internal/reorg for the interpolation sites this guards).
var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config is the top-level indexer configuration, one process instance per
// (database.schema, chain) pair.
type Config struct {
	Network  string         `yaml:"network"`
	Database DatabaseConfig `yaml:"database"`
	Chain    ChainConfig    `yaml:"chain"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
}

// DatabaseConfig points at the Postgres schema this instance owns.
type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`

	MaxOpenConnections int `yaml:"max_open_connections"`
	MaxIdleConnections int `yaml:"max_idle_connections"`
}

// ChainConfig describes the chain being indexed.
type ChainConfig struct {
	RPCURL                      string           `yaml:"rpc_url"`
	ChainID                     uint64           `yaml:"chain_id"`
	Confirmations               uint32           `yaml:"confirmations"`
	StartBlock                  uint64           `yaml:"start_block"`
	VisibilityThresholdBlockNum uint64           `yaml:"visibility_threshold_block_number"`
	Retry                       RetryConfig      `yaml:"retry"`
	Contracts                   []ContractConfig `yaml:"contracts"`
}

// ContractConfig names one contract whose events this process decodes and
// processes, and where to load its ABI from.
type ContractConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	ABIPath string `yaml:"abi_path"`
}

// RetryConfig governs RpcClient backoff (internal/rpcclient).
type RetryConfig struct {
	MaxAttempts       int             `yaml:"max_attempts"`
	InitialBackoff    common.Duration `yaml:"initial_backoff"`
	MaxBackoff        common.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier"`
	CallTimeout       common.Duration `yaml:"call_timeout"`
}

// IndexerConfig governs fetch/process batching and coordinator behavior.
type IndexerConfig struct {
	FetchBatchSize      uint32          `yaml:"fetch_batch_size"`
	InsertChunkSize     uint32          `yaml:"insert_chunk_size"`
	ProcessBatchSize    uint32          `yaml:"process_batch_size"`
	PollDelay           common.Duration `yaml:"poll_delay_ms"`
	MaxConsecutiveErrors uint32         `yaml:"max_consecutive_errors"`
	RPCConcurrency      uint32          `yaml:"rpc_concurrency"`
	AutoHandleReorgs    bool            `yaml:"auto_handle_reorgs"`
	BaseBackoff         common.Duration `yaml:"base_backoff"`
}

// LoggingConfig controls the zap-backed logger in internal/logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// HealthConfig sets the port of the /metrics and /health HTTP server in
// internal/metrics; a zero port disables it. Validate does not check it.
type HealthConfig struct {
	Port uint16 `yaml:"port"`
}

// ApplyDefaults fills in the defaults named in the configuration reference.
func (c *Config) ApplyDefaults() {
	if c.Chain.Confirmations == 0 {
		c.Chain.Confirmations = 1
	}
	c.Chain.Retry.ApplyDefaults()

	if c.Indexer.FetchBatchSize == 0 {
		c.Indexer.FetchBatchSize = 500
	}
	if c.Indexer.InsertChunkSize == 0 {
		c.Indexer.InsertChunkSize = 1000
	}
	if c.Indexer.ProcessBatchSize == 0 {
		c.Indexer.ProcessBatchSize = 100
	}
	if c.Indexer.PollDelay.Duration == 0 {
		c.Indexer.PollDelay = common.NewDuration(5 * time.Second)
	}
	if c.Indexer.MaxConsecutiveErrors == 0 {
		c.Indexer.MaxConsecutiveErrors = 10
	}
	if c.Indexer.RPCConcurrency == 0 {
		c.Indexer.RPCConcurrency = 10
	}
	if c.Indexer.BaseBackoff.Duration == 0 {
		c.Indexer.BaseBackoff = common.NewDuration(time.Second)
	}

	if c.Database.MaxOpenConnections == 0 {
		c.Database.MaxOpenConnections = 10
	}
	if c.Database.MaxIdleConnections == 0 {
		c.Database.MaxIdleConnections = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ApplyDefaults fills in RpcClient retry defaults.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(250 * time.Millisecond)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
	if r.CallTimeout.Duration == 0 {
		r.CallTimeout = common.NewDuration(60 * time.Second)
	}
}

// Validate checks every required option and rejects malformed identifiers
// before they can reach SQL (database.schema feeds directly into the reorg
// recoverer's information_schema queries).
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.Schema == "" {
		return fmt.Errorf("database.schema is required")
	}
	if !identifierRE.MatchString(c.Database.Schema) {
		return fmt.Errorf("database.schema %q must match %s", c.Database.Schema, identifierRE.String())
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}
