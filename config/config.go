package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"factorchain/crypto"
	nativecommon "factorchain/native/common"
	"factorchain/native/reputation"
	"factorchain/observability/logging"
)

// DefaultPassphraseEnv names the environment variable holding the authority
// keystore passphrase when AuthorityPassphraseEnv is unset.
const DefaultPassphraseEnv = "FACTORING_AUTHORITY_PASSPHRASE"

type Config struct {
	ListenAddress          string    `toml:"ListenAddress"`
	DataDir                string    `toml:"DataDir"`
	Environment            string    `toml:"Environment"`
	AuthorityKeystorePath  string    `toml:"AuthorityKeystorePath"`
	AuthorityPassphraseEnv string    `toml:"AuthorityPassphraseEnv"`
	Wiring                 Wiring    `toml:"Wiring"`
	Policy                 Policy    `toml:"Policy"`
	Pauses                 Pauses    `toml:"Pauses"`
	RPC                    RPC       `toml:"RPC"`
	Indexer                Indexer   `toml:"Indexer"`
	Webhooks               Webhooks  `toml:"Webhooks"`
	Telemetry              Telemetry `toml:"Telemetry"`
	Logging                Logging   `toml:"Logging"`
}

// keystoreOptions is overridden in tests to avoid the full scrypt cost.
var keystoreOptions []crypto.KeystoreOption

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration with a freshly generated authority
// keystore.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for new data directories.
func Default() *Config {
	return &Config{
		ListenAddress:          "127.0.0.1:8545",
		DataDir:                "./factoring-data",
		Environment:            "local",
		AuthorityPassphraseEnv: DefaultPassphraseEnv,
		Policy: Policy{
			ReputationBase:    10,
			ReputationUnit:    "1000000000000000000",
			PenaltyMultiplier: 2,
			MaxAdjustment:     1000,
		},
		RPC: RPC{
			RateLimitPerSecond:       20,
			RateLimitBurst:           40,
			NonceTTLSeconds:          600,
			MaxRequestBytes:          1 << 20,
			ReadHeaderTimeoutSeconds: 5,
		},
		Telemetry: Telemetry{SampleRatio: 1},
		Logging:   Logging{Level: "info"},
	}
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(c.RPC.JWTSecretEnv); env != "" && c.RPC.JWTSecret == "" {
		c.RPC.JWTSecret = os.Getenv(env)
	}
	if env := strings.TrimSpace(c.Webhooks.SecretEnv); env != "" && c.Webhooks.Secret == "" {
		c.Webhooks.Secret = os.Getenv(env)
	}
}

// Passphrase returns the authority keystore passphrase from the configured
// environment variable. An unset variable yields the empty passphrase.
func (c *Config) Passphrase() string {
	env := strings.TrimSpace(c.AuthorityPassphraseEnv)
	if env == "" {
		env = DefaultPassphraseEnv
	}
	return os.Getenv(env)
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, cfg.Passphrase(), keystoreOptions...); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, cfg.Passphrase(), keystoreOptions...); err != nil {
		return nil, err
	}
	cfg.AuthorityKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
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
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
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
	return filepath.Join(dir, "authority.keystore")
}

// PauseView converts the pause flags into the view consulted by modules.
func (c *Config) PauseView() nativecommon.StaticPauses {
	var modules []string
	if c.Pauses.Invoice {
		modules = append(modules, "invoice")
	}
	if c.Pauses.Factoring {
		modules = append(modules, "factoring")
	}
	return nativecommon.NewStaticPauses(modules...)
}

// ReputationPolicy builds the score policy from the policy section.
func (c *Config) ReputationPolicy() (reputation.DefaultPolicy, error) {
	policy := reputation.NewDefaultPolicy()
	if c.Policy.ReputationBase > 0 {
		policy.Base = c.Policy.ReputationBase
	}
	if raw := strings.TrimSpace(c.Policy.ReputationUnit); raw != "" {
		unit, ok := new(big.Int).SetString(raw, 10)
		if !ok || unit.Sign() <= 0 {
			return policy, fmt.Errorf("Policy.ReputationUnit must be a positive integer, got %q", raw)
		}
		policy.UnitSize = unit
	}
	if c.Policy.PenaltyMultiplier > 0 {
		policy.PenaltyMultiplier = c.Policy.PenaltyMultiplier
	}
	if c.Policy.MaxAdjustment > 0 {
		policy.Max = c.Policy.MaxAdjustment
	}
	return policy, nil
}

// OracleAddress parses Wiring.Oracle. ok is false when it is unset.
func (c *Config) OracleAddress() (crypto.Address, bool, error) {
	raw := strings.TrimSpace(c.Wiring.Oracle)
	if raw == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("Wiring.Oracle: %w", err)
	}
	return addr, true, nil
}

// Sanitized returns a copy safe to log: secrets are masked and connection
// strings lose their passwords.
func (c Config) Sanitized() Config {
	out := c
	out.RPC.JWTSecret = logging.MaskValue(c.RPC.JWTSecret)
	out.RPC.RedisURL = logging.MaskURL(c.RPC.RedisURL)
	out.Indexer.DSN = logging.MaskURL(c.Indexer.DSN)
	out.Webhooks.Secret = logging.MaskValue(c.Webhooks.Secret)
	if len(c.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for key, value := range c.Telemetry.Headers {
			out.Telemetry.Headers[key] = logging.MaskValue(value)
		}
	}
	if len(c.RPC.TrustedProxies) > 0 {
		out.RPC.TrustedProxies = append([]string(nil), c.RPC.TrustedProxies...)
	}
	return out
}
