package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vchain/cmd/internal/passphrase"
	"vchain/config"
	"vchain/core"
	"vchain/core/events"
	"vchain/core/genesis"
	"vchain/crypto"
	"vchain/fhe/local"
	"vchain/indexer"
	"vchain/native/ledger"
	"vchain/observability/logging"
	telemetry "vchain/observability/otel"
	"vchain/rpc"
	"vchain/storage"
)

const (
	operatorPassEnv        = "VCHAIN_OPERATOR_PASSPHRASE"
	localCoprocessorSecret = "vchain-local-coprocessor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vchaind: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a YAML genesis file (overrides config GenesisFile)")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	issueTokenFlag := flag.String("issue-token", "", "Print an RPC bearer token for the given account and exit")
	tokenTTLFlag := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of a token printed by -issue-token")
	flag.Parse()

	passSource := passphrase.NewSource(operatorPassEnv)
	cfg, err := config.Load(*configFile, config.WithPassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(*cfg); err != nil {
		return err
	}
	if subject := strings.TrimSpace(*issueTokenFlag); subject != "" {
		token, err := issueToken(cfg, subject, *tokenTTLFlag, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service:    "vchaind",
		Env:        cfg.Environment,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if operator, err := crypto.KeystoreAddress(cfg.OperatorKeystorePath); err == nil {
		logger.Info("operator keystore", slog.String("address", operator.String()))
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vchaind",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.Open(cfg.Storage, filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	secret, err := coprocessorSecret(cfg)
	if err != nil {
		return err
	}
	cop := local.New(local.Config{
		Secret:       secret,
		Workers:      cfg.Coprocessor.Workers,
		QueueSize:    cfg.Coprocessor.QueueSize,
		DecryptRate:  cfg.Coprocessor.DecryptRate,
		DecryptBurst: cfg.Coprocessor.DecryptBurst,
		Logger:       logger,
	})
	cop.Start()
	defer cop.Stop()

	var sinks events.Fanout
	var idx *indexer.Indexer
	if cfg.Indexer.Enabled {
		idx, err = indexer.Open(cfg.Indexer.Path, logger)
		if err != nil {
			return err
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}

	chain, err := core.NewChain(core.Options{
		DB:           db,
		Coprocessor:  cop,
		Emitter:      sinks,
		Logger:       logger,
		Bonus:        ledger.BeaconBonus{Max: cfg.Ledger.RelayBonusMax},
		AllowMigrate: *allowMigrateFlag,
	})
	if err != nil {
		return fmt.Errorf("create chain: %w", err)
	}
	if d := cfg.WithdrawalDelay(); d > 0 {
		chain.SetWithdrawalDelay(d)
	}

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if err := applyGenesis(chain, cfg, genesisPath, passSource.Get, logger); err != nil {
		return err
	}

	var rpcHandler http.Handler
	if cfg.RPC.Enabled {
		authCfg, err := rpcAuthConfig(cfg)
		if err != nil {
			return err
		}
		rpcServer := rpc.NewServer(chain, rpc.NewAuthenticator(authCfg), cop, logger)
		logger.Info("json-rpc enabled", slog.Int("methods", len(rpcServer.Methods())))
		rpcHandler = rpcServer
	}
	srv := newServer(chain, idx, rpcHandler, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("vchaind listening", slog.String("address", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		logger.Info("vchaind stopped")
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func coprocessorSecret(cfg *config.Config) ([]byte, error) {
	if secret := strings.TrimSpace(os.Getenv(cfg.Coprocessor.SecretEnv)); secret != "" {
		return []byte(secret), nil
	}
	if cfg.Environment != "local" {
		return nil, fmt.Errorf("coprocessor secret missing: set %s", cfg.Coprocessor.SecretEnv)
	}
	return []byte(localCoprocessorSecret), nil
}

func rpcAuthConfig(cfg *config.Config) (rpc.AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv(cfg.RPC.JWTSecretEnv))
	if secret == "" {
		return rpc.AuthConfig{}, fmt.Errorf("rpc secret missing: set %s", cfg.RPC.JWTSecretEnv)
	}
	return rpc.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.RPC.Issuer,
		Audience:   cfg.RPC.Audience,
		ClockSkew:  cfg.RPCClockSkew(),
	}, nil
}

// issueToken signs a write credential for subject with the configured RPC
// secret.
func issueToken(cfg *config.Config, subject string, ttl time.Duration, now time.Time) (string, error) {
	addr, err := crypto.DecodeAddress(subject)
	if err != nil {
		return "", fmt.Errorf("token subject: %w", err)
	}
	authCfg, err := rpcAuthConfig(cfg)
	if err != nil {
		return "", err
	}
	return rpc.IssueToken(authCfg, addr, ttl, now)
}

// applyGenesis initializes an empty chain from path with the operator key as
// admin. An initialized chain is left untouched.
func applyGenesis(chain *core.Chain, cfg *config.Config, path string, passphrase config.PassphraseSource, logger *slog.Logger) error {
	meta, err := chain.Metadata()
	if err != nil {
		return fmt.Errorf("read chain metadata: %w", err)
	}
	if meta.Initialized {
		logger.Info("chain state loaded", slog.String("name", meta.Name), slog.Uint64("chainId", meta.ChainID))
		return nil
	}
	if path == "" {
		logger.Warn("chain not initialized and no genesis file configured")
		return nil
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	pass, err := passphrase()
	if err != nil {
		return err
	}
	key, err := cfg.OperatorKey(pass)
	if err != nil {
		return err
	}
	admin := key.PubKey().Address()
	if err := genesis.Apply(context.Background(), chain, admin, spec); err != nil {
		return err
	}
	logger.Info("genesis applied",
		slog.String("name", spec.Name),
		slog.String("admin", admin.String()))
	return nil
}
