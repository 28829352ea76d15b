package config

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// CoprocessorConfig tunes the in-process coprocessor used when no external
// endpoint is configured.
type CoprocessorConfig struct {
	// SecretEnv names the environment variable holding the input-proof key.
	SecretEnv    string  `toml:"SecretEnv"`
	Workers      int     `toml:"Workers"`
	QueueSize    int     `toml:"QueueSize"`
	DecryptRate  float64 `toml:"DecryptRate"`
	DecryptBurst int     `toml:"DecryptBurst"`
}

// TreasuryConfig holds host-side treasury policy.
type TreasuryConfig struct {
	WithdrawalDelaySecs uint64 `toml:"WithdrawalDelaySecs"`
}

// TelemetryConfig wires the OpenTelemetry exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// IndexerConfig controls the SQLite event audit log.
type IndexerConfig struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}

// RPCConfig controls the JSON-RPC endpoint. Write methods require an HS256
// bearer token signed with the secret read from JWTSecretEnv.
type RPCConfig struct {
	Enabled       bool   `toml:"Enabled"`
	JWTSecretEnv  string `toml:"JWTSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
	ClockSkewSecs int64  `toml:"ClockSkewSecs"`
}

// LedgerConfig holds host-side ledger policy.
type LedgerConfig struct {
	// RelayBonusMax caps the pseudo-random relay reward multiplier. Zero or
	// one pays a single reward unit per relay.
	RelayBonusMax uint64 `toml:"RelayBonusMax"`
}

// Config is the node configuration file.
type Config struct {
	ListenAddress         string `toml:"ListenAddress"`
	DataDir               string `toml:"DataDir"`
	Storage               string `toml:"Storage"`
	GenesisFile           string `toml:"GenesisFile"`
	Environment           string `toml:"Environment"`
	OperatorKeystorePath  string `toml:"OperatorKeystorePath"`
	OperatorPassphraseEnv string `toml:"OperatorPassphraseEnv"`

	Log         LogConfig         `toml:"log"`
	Coprocessor CoprocessorConfig `toml:"coprocessor"`
	Treasury    TreasuryConfig    `toml:"treasury"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Indexer     IndexerConfig     `toml:"indexer"`
	RPC         RPCConfig         `toml:"rpc"`
	Ledger      LedgerConfig      `toml:"ledger"`
}
