package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"mortgagechain/crypto"
	"mortgagechain/storage"
)

// Config is the node configuration file.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	GenesisFile    string `toml:"GenesisFile"`
	Environment    string `toml:"Environment"`
	// OperatorKeystorePath holds the key that administers the manager,
	// helper and converters.
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`

	Loans     Loans     `toml:"loans"`
	Mortgage  Mortgage  `toml:"mortgage"`
	Helper    Helper    `toml:"helper"`
	RPC       RPC       `toml:"rpc"`
	Indexer   Indexer   `toml:"indexer"`
	Telemetry Telemetry `toml:"telemetry"`
	Log       Log       `toml:"log"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase string
	scrypt     crypto.ScryptParams
}

// WithKeystorePassphrase sets the passphrase used when Load creates the
// operator keystore.
func WithKeystorePassphrase(passphrase string) Option {
	return func(o *loadOptions) { o.passphrase = passphrase }
}

// WithLightKeystore makes Load encrypt new keystores with cheap scrypt
// parameters.
func WithLightKeystore() Option {
	return func(o *loadOptions) { o.scrypt = crypto.LightScrypt }
}

// Load loads the configuration from path, creating a default file and an
// operator keystore when none exist.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{scrypt: crypto.StandardScrypt}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{
		RPCAddress:     ":8080",
		DataDir:        "./mortgage-data",
		StorageBackend: storage.BackendLevelDB,
		Environment:    "local",
		Mortgage: Mortgage{
			PricingToken:    "MANA",
			MinCoverageBps:  11_000,
			MaxOverspendBps: 500,
		},
		Loans:   Loans{Token: "RCN"},
		Helper:  Helper{MarginSpendBps: 1_000},
		RPC:     RPC{RequestsPerMinute: 600, Burst: 60, ReadTimeout: 15, WriteTimeout: 15},
		Indexer: Indexer{Driver: "sqlite"},
		Log:     Log{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
	return cfg
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = def.RPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = def.StorageBackend
	}
	c.Mortgage.PricingToken = strings.ToUpper(strings.TrimSpace(c.Mortgage.PricingToken))
	if c.Mortgage.PricingToken == "" {
		c.Mortgage.PricingToken = def.Mortgage.PricingToken
	}
	c.Loans.Token = strings.ToUpper(strings.TrimSpace(c.Loans.Token))
	if c.Loans.Token == "" {
		c.Loans.Token = def.Loans.Token
	}
	if c.Mortgage.MinCoverageBps == 0 {
		c.Mortgage.MinCoverageBps = def.Mortgage.MinCoverageBps
	}
	if c.Mortgage.MaxOverspendBps == 0 {
		c.Mortgage.MaxOverspendBps = def.Mortgage.MaxOverspendBps
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = def.RPC.ReadTimeout
	}
	if c.RPC.WriteTimeout == 0 {
		c.RPC.WriteTimeout = def.RPC.WriteTimeout
	}
	c.Indexer.Driver = strings.ToLower(strings.TrimSpace(c.Indexer.Driver))
	if c.Indexer.Driver == "" {
		c.Indexer.Driver = def.Indexer.Driver
	}
}

func ensureKeystore(configPath string, cfg *Config, opts loadOptions) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystoreWithParams(keystorePath, key, opts.passphrase, opts.scrypt); err != nil {
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

// createDefault creates and saves a default configuration file.
func createDefault(path string, opts loadOptions) (*Config, error) {
	cfg := Default()
	if err := ensureKeystore(path, cfg, opts); err != nil {
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

// JWTSecret resolves the RPC signing secret, preferring the environment
// variable named by JWTSecretEnv.
func (c *Config) JWTSecret() string {
	if env := strings.TrimSpace(c.RPC.JWTSecretEnv); env != "" {
		if value, ok := os.LookupEnv(env); ok {
			return value
		}
	}
	return c.RPC.JWTSecret
}
