package config

// Wiring controls the one-time engine registration performed at startup.
type Wiring struct {
	// AutoWire registers the factoring engine with the invoice registry and
	// the reputation ledger and sets Oracle when the node starts unwired.
	AutoWire bool   `toml:"AutoWire"`
	Oracle   string `toml:"Oracle"`
}

// Policy carries the lending policy knobs.
type Policy struct {
	AllowSelfFunding bool `toml:"AllowSelfFunding"`
	// ReputationBase is added to every credit and penalty.
	ReputationBase int64 `toml:"ReputationBase"`
	// ReputationUnit is the amount, in base units, worth one extra point.
	ReputationUnit string `toml:"ReputationUnit"`
	// PenaltyMultiplier scales penalties relative to credits.
	PenaltyMultiplier int64 `toml:"PenaltyMultiplier"`
	// MaxAdjustment caps a single policy adjustment.
	MaxAdjustment int64 `toml:"MaxAdjustment"`
}

type Pauses struct {
	Invoice   bool `toml:"Invoice"`
	Factoring bool `toml:"Factoring"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	// JWTSecret enables bearer authentication for mutating methods when set.
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`
	// RateLimitPerSecond and RateLimitBurst configure the per-client token
	// bucket. Zero disables limiting.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	// NonceTTLSeconds bounds how far in the future an envelope may expire.
	NonceTTLSeconds int64 `toml:"NonceTTLSeconds"`
	// RedisURL moves replay protection to a shared Redis instance.
	RedisURL                 string   `toml:"RedisURL"`
	MaxRequestBytes          int64    `toml:"MaxRequestBytes"`
	ReadHeaderTimeoutSeconds int      `toml:"ReadHeaderTimeoutSeconds"`
	TrustedProxies           []string `toml:"TrustedProxies"`
}

// Indexer configures the SQL read model.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// DSN selects the driver: postgres:// URLs use postgres, anything else
	// is treated as a sqlite path.
	DSN string `toml:"DSN"`
}

// Webhooks configures signed delivery of loan lifecycle events.
type Webhooks struct {
	URL         string `toml:"URL"`
	Secret      string `toml:"Secret"`
	SecretEnv   string `toml:"SecretEnv"`
	MaxAttempts int    `toml:"MaxAttempts"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled     bool              `toml:"Enabled"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers"`
	SampleRatio float64           `toml:"SampleRatio"`
}

// Logging configures log level and optional file rotation.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}
