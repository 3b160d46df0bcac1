package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const exampleYAML = `
network: mainnet
database:
  url: "postgres://localhost:5432/dripfeed"
  schema: "drips_1"
chain:
  rpc_url: "https://rpc.example.com"
  chain_id: 1
  start_block: 1000
indexer:
  fetch_batch_size: 250
logging:
  level: debug
`

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleYAML), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "mainnet", cfg.Network)
	require.Equal(t, "drips_1", cfg.Database.Schema)
	require.Equal(t, uint64(1000), cfg.Chain.StartBlock)
	require.Equal(t, uint32(250), cfg.Indexer.FetchBatchSize)
	// defaults applied on top of explicit values
	require.Equal(t, uint32(1), cfg.Chain.Confirmations)
	require.Equal(t, uint32(1000), cfg.Indexer.InsertChunkSize)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadFromFile_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: "postgres://localhost/x"
  schema: "not a valid schema!"
chain:
  rpc_url: "https://rpc.example.com"
  chain_id: 1
`), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database.schema")
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{URL: "postgres://localhost/x", Schema: "s"},
		Chain:    ChainConfig{RPCURL: "https://rpc.example.com", ChainID: 1},
	}

	cfg.ApplyDefaults()

	require.Equal(t, uint32(1), cfg.Chain.Confirmations)
	require.Equal(t, uint32(500), cfg.Indexer.FetchBatchSize)
	require.Equal(t, uint32(1000), cfg.Indexer.InsertChunkSize)
	require.Equal(t, uint32(100), cfg.Indexer.ProcessBatchSize)
	require.Equal(t, uint32(10), cfg.Indexer.MaxConsecutiveErrors)
	require.Equal(t, uint32(10), cfg.Indexer.RPCConcurrency)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 5, cfg.Chain.Retry.MaxAttempts)
}

func TestConfigValidation(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{URL: "postgres://localhost/x", Schema: "drips_1"},
			Chain:    ChainConfig{RPCURL: "https://rpc.example.com", ChainID: 1},
			Logging:  LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing schema",
			mutate:  func(c *Config) { c.Database.Schema = "" },
			wantErr: true,
		},
		{
			name:    "schema with spaces",
			mutate:  func(c *Config) { c.Database.Schema = "bad schema" },
			wantErr: true,
		},
		{
			name:    "missing rpc url",
			mutate:  func(c *Config) { c.Chain.RPCURL = "" },
			wantErr: true,
		},
		{
			name:    "missing chain id",
			mutate:  func(c *Config) { c.Chain.ChainID = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
