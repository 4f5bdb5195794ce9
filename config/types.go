package config

// Mortgage configures the mortgage manager.
type Mortgage struct {
	PricingToken    string `toml:"PricingToken"`
	MinCoverageBps  uint64 `toml:"MinCoverageBps"`
	MaxOverspendBps uint64 `toml:"MaxOverspendBps"`
}

// Loans configures the built-in loan engine.
type Loans struct {
	Token string `toml:"Token"`
}

// Helper configures the one-step mortgage helper. Oracle and Converter are
// bech32 addresses; empty values fall back to the node's built-in modules.
type Helper struct {
	MarginSpendBps uint64 `toml:"MarginSpendBps"`
	Oracle         string `toml:"Oracle"`
	Converter      string `toml:"Converter"`
}

// RPC controls the JSON-RPC listener.
type RPC struct {
	JWTSecret         string  `toml:"JWTSecret"`
	JWTSecretEnv      string  `toml:"JWTSecretEnv"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	ReadTimeout       int     `toml:"ReadTimeout"`
	WriteTimeout      int     `toml:"WriteTimeout"`
}

// Indexer selects the event history database.
type Indexer struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures OTLP export. Tracing stays off when Endpoint is empty.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
}

// Log selects optional rotated file output in addition to stdout.
type Log struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}
