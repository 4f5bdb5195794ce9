package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mortgagechain/cmd/internal/passphrase"
	"mortgagechain/config"
	"mortgagechain/core"
	"mortgagechain/core/genesis"
	"mortgagechain/crypto"
	"mortgagechain/indexer"
	"mortgagechain/observability"
	"mortgagechain/observability/logging"
	mtgotel "mortgagechain/observability/otel"
	"mortgagechain/rpc"
	"mortgagechain/storage"
)

const (
	operatorPassEnv = "MORTGAGE_OPERATOR_PASS"
	genesisPathEnv  = "MORTGAGE_GENESIS"
	serviceName     = "mortgaged"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis spec (overrides MORTGAGE_GENESIS and config GenesisFile)")
	flag.Parse()

	passSource := passphrase.NewSource(operatorPassEnv, "operator keystore")
	pass, err := passSource.Get()
	if err != nil {
		panic(fmt.Sprintf("Failed to resolve operator passphrase: %v", err))
	}

	cfg, err := config.Load(*configFile, config.WithKeystorePassphrase(pass))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, logCloser := logging.Setup(serviceName, cfg.Environment, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := mtgotel.Init(ctx, mtgotel.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     mtgotel.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, pass)
	if err != nil {
		panic(fmt.Sprintf("Failed to load operator key: %v", err))
	}
	operator := key.PubKey().Address()

	nodeCfg, err := nodeConfig(cfg, operator)
	if err != nil {
		logger.Error("Invalid module configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}
	history, err := indexer.Open(cfg.Indexer.Driver, indexerDSN(cfg))
	if err != nil {
		db.Close()
		panic(fmt.Sprintf("Failed to open event indexer: %v", err))
	}
	defer history.Close()
	history.SetLogger(logger)

	node, err := core.NewNode(db, nodeCfg,
		core.WithLogger(logger),
		core.WithSink(history),
		core.WithSink(observability.Events()),
	)
	if err != nil {
		db.Close()
		panic(fmt.Sprintf("Failed to create node: %v", err))
	}
	defer node.Close()

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := applyGenesis(ctx, node, genesisPath); err != nil {
		logger.Error("Failed to apply genesis", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("mortgage node ready",
		slog.String("operator", operator.String()),
		slog.String("pricingToken", nodeCfg.PricingToken),
		slog.String("loanToken", nodeCfg.LoanToken),
		slog.String("storage", cfg.StorageBackend))

	server := rpc.NewServer(node, history, rpc.ServerConfig{
		JWTSecret:         cfg.JWTSecret(),
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		Logger:            logger,
	})
	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("JSON-RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("mortgage node stopped")
}

// nodeConfig maps the file configuration onto the module parameters. Empty
// helper addresses keep the node's built-in order book.
func nodeConfig(cfg *config.Config, operator [20]byte) (core.Config, error) {
	out := core.Config{
		PricingToken:    cfg.Mortgage.PricingToken,
		LoanToken:       cfg.Loans.Token,
		MinCoverageBps:  cfg.Mortgage.MinCoverageBps,
		MaxOverspendBps: cfg.Mortgage.MaxOverspendBps,
		MarginSpendBps:  cfg.Helper.MarginSpendBps,
		Operator:        operator,
	}
	if raw := strings.TrimSpace(cfg.Helper.Oracle); raw != "" {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return core.Config{}, fmt.Errorf("helper oracle: %w", err)
		}
		out.HelperOracle = addr
	}
	if raw := strings.TrimSpace(cfg.Helper.Converter); raw != "" {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return core.Config{}, fmt.Errorf("helper converter: %w", err)
		}
		out.HelperConverter = addr
	}
	return out, nil
}

// indexerDSN falls back to a sqlite file in the data directory.
func indexerDSN(cfg *config.Config) string {
	if dsn := strings.TrimSpace(cfg.Indexer.DSN); dsn != "" {
		return dsn
	}
	if cfg.Indexer.Driver == "sqlite" || cfg.Indexer.Driver == "" {
		return filepath.Join(cfg.DataDir, "index.db")
	}
	return ""
}

func resolveGenesisPath(cliPath, cfgPath string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// applyGenesis seeds a fresh node from path. A node that already carries
// genesis state ignores the file.
func applyGenesis(ctx context.Context, node *core.Node, path string) error {
	applied, err := node.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if path == "" {
		return errors.New("no genesis applied yet; pass -genesis or set GenesisFile")
	}
	spec, err := genesis.Load(path)
	if err != nil {
		return err
	}
	return node.InitGenesis(ctx, spec)
}
