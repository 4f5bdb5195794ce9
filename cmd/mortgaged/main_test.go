package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mortgagechain/config"
	"mortgagechain/core"
	"mortgagechain/crypto"
	"mortgagechain/storage"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key != genesisPathEnv {
			t.Fatalf("unexpected lookup key: %s", key)
		}
		return "env-path", true
	}

	t.Run("cli flag takes precedence", func(t *testing.T) {
		if path := resolveGenesisPath("cli-path", "cfg-path", lookup); path != "cli-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "cli-path")
		}
	})

	t.Run("environment overrides config", func(t *testing.T) {
		if path := resolveGenesisPath("", "cfg-path", lookup); path != "env-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "env-path")
		}
	})

	t.Run("blank values fall through", func(t *testing.T) {
		blank := func(string) (string, bool) { return "  \t ", true }
		if path := resolveGenesisPath("  ", " cfg ", blank); path != "cfg" {
			t.Fatalf("expected trimmed config path, got %q", path)
		}
	})
}

func TestNodeConfigDecodesHelperAddresses(t *testing.T) {
	cfg := config.Default()
	oracle := crypto.ModuleAddress("oracle/test")
	cfg.Helper.Oracle = oracle.String()

	out, err := nodeConfig(cfg, [20]byte{0x0a})
	if err != nil {
		t.Fatalf("nodeConfig: %v", err)
	}
	if out.HelperOracle != [20]byte(oracle) {
		t.Fatalf("unexpected oracle %x", out.HelperOracle)
	}
	if out.HelperConverter != ([20]byte{}) {
		t.Fatalf("converter should stay empty, got %x", out.HelperConverter)
	}
	if out.LoanToken != "RCN" || out.PricingToken != "MANA" || out.MinCoverageBps != 11_000 {
		t.Fatalf("unexpected module config %+v", out)
	}

	cfg.Helper.Converter = "not-an-address"
	if _, err := nodeConfig(cfg, [20]byte{0x0a}); err == nil {
		t.Fatalf("expected invalid converter to fail")
	}
}

func TestIndexerDSNDefaultsToDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/var/lib/mortgage"
	if got := indexerDSN(cfg); got != filepath.Join("/var/lib/mortgage", "index.db") {
		t.Fatalf("unexpected dsn %q", got)
	}
	cfg.Indexer.Driver = "postgres"
	if got := indexerDSN(cfg); got != "" {
		t.Fatalf("postgres must not get a file dsn, got %q", got)
	}
	cfg.Indexer.DSN = "host=db user=mortgage"
	if got := indexerDSN(cfg); got != "host=db user=mortgage" {
		t.Fatalf("explicit dsn ignored, got %q", got)
	}
}

func TestApplyGenesisOnlyOnFreshNode(t *testing.T) {
	node, err := core.NewNode(storage.NewMemDB(), core.Config{PricingToken: "MANA", LoanToken: "RCN"})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	ctx := context.Background()
	if err := applyGenesis(ctx, node, ""); err == nil {
		t.Fatalf("expected missing genesis to fail on a fresh node")
	}

	path := filepath.Join(t.TempDir(), "genesis.yaml")
	spec := "tokens:\n  - symbol: MANA\n    decimals: 18\n  - symbol: RCN\n    decimals: 18\n"
	if err := os.WriteFile(path, []byte(spec), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	if err := applyGenesis(ctx, node, path); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if err := applyGenesis(ctx, node, ""); err != nil {
		t.Fatalf("applied node should ignore the genesis path: %v", err)
	}
}
