package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vchain/crypto"

	"github.com/BurntSushi/toml"
)

const (
	defaultPassphraseEnv = "VCHAIN_OPERATOR_PASSPHRASE"
	defaultJWTSecretEnv  = "VCHAIN_RPC_JWT_SECRET"
)

// PassphraseSource resolves the operator keystore passphrase.
type PassphraseSource func() (string, error)

type loadOptions struct {
	passphrase PassphraseSource
}

// Option customises Load.
type Option func(*loadOptions)

// WithPassphraseSource sets how the passphrase for a newly generated
// operator keystore is obtained. The default reads OperatorPassphraseEnv.
func WithPassphraseSource(src PassphraseSource) Option {
	return func(o *loadOptions) {
		if src != nil {
			o.passphrase = src
		}
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults alongside a fresh operator keystore.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := &Config{}
	options := loadOptions{passphrase: func() (string, error) {
		return os.Getenv(cfg.OperatorPassphraseEnv), nil
	}}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, cfg, options.passphrase)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := ensureKeystore(path, cfg, options.passphrase); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithdrawalDelay is the configured treasury delay. Zero keeps the engine
// default.
func (c *Config) WithdrawalDelay() time.Duration {
	return time.Duration(c.Treasury.WithdrawalDelaySecs) * time.Second
}

// RPCClockSkew is the tolerated token clock drift. Zero keeps the
// authenticator default.
func (c *Config) RPCClockSkew() time.Duration {
	return time.Duration(c.RPC.ClockSkewSecs) * time.Second
}

// OperatorKey decrypts the operator keystore.
func (c *Config) OperatorKey(passphrase string) (*crypto.PrivateKey, error) {
	key, err := crypto.LoadFromKeystore(c.OperatorKeystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("load operator keystore %s: %w", c.OperatorKeystorePath, err)
	}
	return key, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Storage) == "" {
		cfg.Storage = "leveldb"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.OperatorPassphraseEnv == "" {
		cfg.OperatorPassphraseEnv = defaultPassphraseEnv
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Coprocessor.SecretEnv == "" {
		cfg.Coprocessor.SecretEnv = "VCHAIN_COPROCESSOR_SECRET"
	}
	if cfg.Coprocessor.Workers == 0 {
		cfg.Coprocessor.Workers = 4
	}
	if cfg.Coprocessor.QueueSize == 0 {
		cfg.Coprocessor.QueueSize = 1024
	}
	if cfg.RPC.JWTSecretEnv == "" {
		cfg.RPC.JWTSecretEnv = defaultJWTSecretEnv
	}
}

func ensureKeystore(configPath string, cfg *Config, passphrase PassphraseSource) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if err := generateKeystore(keystorePath, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

func generateKeystore(path string, passphrase PassphraseSource) error {
	pass, err := passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(path, key, pass)
}

// createDefault fills cfg with defaults and saves it.
func createDefault(path string, cfg *Config, passphrase PassphraseSource) (*Config, error) {
	*cfg = Config{
		ListenAddress: ":8545",
		DataDir:       "./vchain-data",
		GenesisFile:   "",
		Coprocessor: CoprocessorConfig{
			DecryptRate:  20,
			DecryptBurst: 40,
		},
		Indexer: IndexerConfig{Path: "./vchain-data/events.db"},
		RPC:     RPCConfig{Enabled: true, Issuer: "vchain", Audience: "vchaind"},
	}
	applyDefaults(cfg)

	keystorePath := defaultKeystorePath(path)
	if err := generateKeystore(keystorePath, passphrase); err != nil {
		return nil, err
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
