package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWithKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	source := WithPassphraseSource(func() (string, error) { return "test-passphrase", nil })
	cfg, err := Load(path, source)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.Storage)
	require.Equal(t, filepath.Join(dir, "operator.keystore"), cfg.OperatorKeystorePath)
	require.True(t, cfg.RPC.Enabled)
	require.Equal(t, defaultJWTSecretEnv, cfg.RPC.JWTSecretEnv)
	require.NoError(t, ValidateConfig(*cfg))

	key, err := cfg.OperatorKey("test-passphrase")
	require.NoError(t, err)
	_, err = cfg.OperatorKey("wrong")
	require.Error(t, err)

	again, err := Load(path, source)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
	reloaded, err := again.OperatorKey("test-passphrase")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), reloaded.PubKey().Address())
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
Storage = "bolt"
GenesisFile = "genesis.yaml"
Environment = "staging"
OperatorKeystorePath = "` + filepath.ToSlash(filepath.Join(dir, "op.keystore")) + `"

[log]
Level = "debug"
File = "./vchain.log"
MaxSizeMB = 50
MaxBackups = 3

[coprocessor]
Workers = 8
QueueSize = 64
DecryptRate = 2.5
DecryptBurst = 5

[treasury]
WithdrawalDelaySecs = 3600

[telemetry]
Endpoint = "otel:4318"
Insecure = true
Traces = true

[indexer]
Enabled = true
Path = "./data/events.db"

[rpc]
Enabled = true
Issuer = "ops"
Audience = "vchaind"
ClockSkewSecs = 30

[ledger]
RelayBonusMax = 5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv(defaultPassphraseEnv, "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "bolt", cfg.Storage)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 8, cfg.Coprocessor.Workers)
	require.Equal(t, 2.5, cfg.Coprocessor.DecryptRate)
	require.Equal(t, "VCHAIN_COPROCESSOR_SECRET", cfg.Coprocessor.SecretEnv)
	require.Equal(t, int64(3600), int64(cfg.WithdrawalDelay().Seconds()))
	require.True(t, cfg.Telemetry.Traces)
	require.False(t, cfg.Telemetry.Metrics)
	require.True(t, cfg.Indexer.Enabled)
	require.Equal(t, "ops", cfg.RPC.Issuer)
	require.Equal(t, defaultJWTSecretEnv, cfg.RPC.JWTSecretEnv)
	require.Equal(t, 30*time.Second, cfg.RPCClockSkew())
	require.Equal(t, uint64(5), cfg.Ledger.RelayBonusMax)
	require.FileExists(t, cfg.OperatorKeystorePath)
	_, err = cfg.OperatorKey("from-env")
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(*cfg))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \":1\"\nValidatorKey = \"abc\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "ValidatorKey"))
}

func TestLoadPropagatesPassphraseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	_, err := Load(path, WithPassphraseSource(func() (string, error) {
		return "", errors.New("no terminal")
	}))
	require.ErrorContains(t, err, "no terminal")
	require.NoFileExists(t, path)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			ListenAddress: ":8545",
			Storage:       "leveldb",
			Coprocessor:   CoprocessorConfig{Workers: 2, QueueSize: 8, DecryptRate: 1, DecryptBurst: 1},
		}
	}
	require.NoError(t, ValidateConfig(valid()))

	cases := map[string]func(*Config){
		"listen":       func(c *Config) { c.ListenAddress = " " },
		"storage":      func(c *Config) { c.Storage = "postgres" },
		"workers":      func(c *Config) { c.Coprocessor.Workers = 0 },
		"too many":     func(c *Config) { c.Coprocessor.Workers = MaxCoprocessorWorkers + 1 },
		"queue":        func(c *Config) { c.Coprocessor.QueueSize = 0 },
		"rate":         func(c *Config) { c.Coprocessor.DecryptRate = -1 },
		"burst":        func(c *Config) { c.Coprocessor.DecryptBurst = 0 },
		"delay":        func(c *Config) { c.Treasury.WithdrawalDelaySecs = MaxWithdrawalDelaySecs + 1 },
		"indexer path": func(c *Config) { c.Indexer.Enabled = true },
		"log":          func(c *Config) { c.Log.MaxBackups = -1 },
		"sample":       func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"skew":         func(c *Config) { c.RPC.ClockSkewSecs = -1 },
		"skew cap":     func(c *Config) { c.RPC.ClockSkewSecs = MaxRPCClockSkewSecs + 1 },
		"rpc secret":   func(c *Config) { c.RPC.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		if err := ValidateConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
