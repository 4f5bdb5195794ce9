package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mortgagechain/crypto"
)

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg, err := Load(path, WithKeystorePassphrase("pw"), WithLightKeystore())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mortgage.PricingToken != "MANA" || cfg.Mortgage.MinCoverageBps != 11_000 {
		t.Fatalf("unexpected mortgage defaults: %+v", cfg.Mortgage)
	}
	if cfg.Helper.MarginSpendBps != 1_000 {
		t.Fatalf("unexpected helper margin: %d", cfg.Helper.MarginSpendBps)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, "pw"); err != nil {
		t.Fatalf("load keystore: %v", err)
	}

	again, err := Load(path, WithKeystorePassphrase("pw"), WithLightKeystore())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.OperatorKeystorePath != cfg.OperatorKeystorePath {
		t.Fatalf("keystore path changed: %s vs %s", again.OperatorKeystorePath, cfg.OperatorKeystorePath)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "127.0.0.1:9000"
DataDir = "./data"
StorageBackend = "Bolt"
GenesisFile = "genesis.yaml"

[mortgage]
PricingToken = "mana"
MinCoverageBps = 12000
MaxOverspendBps = 300

[helper]
MarginSpendBps = 1500

[rpc]
JWTSecret = "secret"
RequestsPerMinute = 120
Burst = 10

[indexer]
Driver = "postgres"
DSN = "postgres://localhost/mortgage"

[log]
File = "node.log"
MaxSizeMB = 10
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, WithLightKeystore())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StorageBackend != "bolt" {
		t.Fatalf("unexpected backend %q", cfg.StorageBackend)
	}
	if cfg.Mortgage.PricingToken != "MANA" || cfg.Mortgage.MinCoverageBps != 12_000 || cfg.Mortgage.MaxOverspendBps != 300 {
		t.Fatalf("unexpected mortgage section: %+v", cfg.Mortgage)
	}
	if cfg.Helper.MarginSpendBps != 1_500 {
		t.Fatalf("unexpected helper section: %+v", cfg.Helper)
	}
	if cfg.RPC.RequestsPerMinute != 120 || cfg.RPC.Burst != 10 || cfg.JWTSecret() != "secret" {
		t.Fatalf("unexpected rpc section: %+v", cfg.RPC)
	}
	if cfg.Indexer.Driver != "postgres" || cfg.Log.File != "node.log" {
		t.Fatalf("unexpected indexer/log: %+v %+v", cfg.Indexer, cfg.Log)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path, WithLightKeystore())
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":   func(c *Config) { c.StorageBackend = "rocks" },
		"loanToken": func(c *Config) { c.Loans.Token = " " },
		"coverage":  func(c *Config) { c.Mortgage.MinCoverageBps = 9_000 },
		"overspend": func(c *Config) { c.Mortgage.MaxOverspendBps = 20_000 },
		"margin":    func(c *Config) { c.Helper.MarginSpendBps = 10_001 },
		"oracle":    func(c *Config) { c.Helper.Oracle = "not-an-address" },
		"driver":    func(c *Config) { c.Indexer.Driver = "mysql" },
		"postgres":  func(c *Config) { c.Indexer.Driver = "postgres" },
		"burst":     func(c *Config) { c.RPC.Burst = -1 },
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestJWTSecretPrefersEnvironment(t *testing.T) {
	cfg := Default()
	cfg.RPC.JWTSecret = "file"
	cfg.RPC.JWTSecretEnv = "MORTGAGE_TEST_JWT"
	if got := cfg.JWTSecret(); got != "file" {
		t.Fatalf("expected file secret, got %q", got)
	}
	t.Setenv("MORTGAGE_TEST_JWT", "env")
	if got := cfg.JWTSecret(); got != "env" {
		t.Fatalf("expected env secret, got %q", got)
	}
}
