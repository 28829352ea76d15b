package config

import (
	"fmt"
	"strings"
)

var (
	MaxCoprocessorWorkers  = 64
	MaxWithdrawalDelaySecs = uint64(365 * 24 * 3600)
	MaxRPCClockSkewSecs    = int64(600)
)

// ValidateConfig checks the bounds Load cannot fill in.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "", "leveldb", "bolt", "bbolt", "memory", "mem":
	default:
		return fmt.Errorf("config: unknown storage backend %q", cfg.Storage)
	}
	if cfg.Coprocessor.Workers <= 0 || cfg.Coprocessor.Workers > MaxCoprocessorWorkers {
		return fmt.Errorf("coprocessor: workers must be in [1,%d]", MaxCoprocessorWorkers)
	}
	if cfg.Coprocessor.QueueSize <= 0 {
		return fmt.Errorf("coprocessor: queue_size <= 0")
	}
	if cfg.Coprocessor.DecryptRate < 0 {
		return fmt.Errorf("coprocessor: decrypt_rate < 0")
	}
	if cfg.Coprocessor.DecryptRate > 0 && cfg.Coprocessor.DecryptBurst <= 0 {
		return fmt.Errorf("coprocessor: decrypt_burst <= 0 with throttling enabled")
	}
	if cfg.Treasury.WithdrawalDelaySecs > MaxWithdrawalDelaySecs {
		return fmt.Errorf("treasury: withdrawal delay too large")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be in [0,1]")
	}
	if cfg.Indexer.Enabled && strings.TrimSpace(cfg.Indexer.Path) == "" {
		return fmt.Errorf("indexer: path required when enabled")
	}
	if cfg.RPC.ClockSkewSecs < 0 || cfg.RPC.ClockSkewSecs > MaxRPCClockSkewSecs {
		return fmt.Errorf("rpc: clock_skew must be in [0,%d]", MaxRPCClockSkewSecs)
	}
	if cfg.RPC.Enabled && strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		return fmt.Errorf("rpc: jwt_secret_env required when enabled")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		return fmt.Errorf("log: rotation bounds must not be negative")
	}
	return nil
}
