package config

import (
	"fmt"
	"strings"

	"mortgagechain/crypto"
	"mortgagechain/storage"
)

const maxBps = 10_000

// Validate checks ranges and enumerations after defaults are applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	switch cfg.StorageBackend {
	case storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("config: unknown StorageBackend %q", cfg.StorageBackend)
	}
	if strings.TrimSpace(cfg.Mortgage.PricingToken) == "" {
		return fmt.Errorf("mortgage: PricingToken required")
	}
	if strings.TrimSpace(cfg.Loans.Token) == "" {
		return fmt.Errorf("loans: Token required")
	}
	if cfg.Mortgage.MinCoverageBps < maxBps {
		return fmt.Errorf("mortgage: MinCoverageBps %d below %d", cfg.Mortgage.MinCoverageBps, maxBps)
	}
	if cfg.Mortgage.MaxOverspendBps > maxBps {
		return fmt.Errorf("mortgage: MaxOverspendBps %d above %d", cfg.Mortgage.MaxOverspendBps, maxBps)
	}
	if cfg.Helper.MarginSpendBps > maxBps {
		return fmt.Errorf("helper: MarginSpendBps %d above %d", cfg.Helper.MarginSpendBps, maxBps)
	}
	for name, value := range map[string]string{"Oracle": cfg.Helper.Oracle, "Converter": cfg.Helper.Converter} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("helper: %s: %w", name, err)
		}
	}
	if cfg.RPC.RequestsPerMinute < 0 || cfg.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must be non-negative")
	}
	switch cfg.Indexer.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unknown Driver %q", cfg.Indexer.Driver)
	}
	if cfg.Indexer.Driver == "postgres" && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("indexer: postgres requires DSN")
	}
	if cfg.Log.MaxSizeMB < 0 {
		return fmt.Errorf("log: MaxSizeMB must be non-negative")
	}
	return nil
}
