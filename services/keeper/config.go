package keeper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied on top of the YAML file.
const (
	EnvRPCURL        = "FACTORING_RPC_URL"
	EnvLoanID        = "LOAN_ID"
	EnvKeystore      = "KEEPER_KEYSTORE"
	EnvPassphraseEnv = "KEEPER_PASSPHRASE_ENV"
	EnvBearerToken   = "KEEPER_BEARER_TOKEN"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration of the keeper daemon.
type Config struct {
	RPCURL        string   `yaml:"rpc_url"`
	BearerToken   string   `yaml:"bearer_token"`
	Keystore      string   `yaml:"keystore"`
	PassphraseEnv string   `yaml:"passphrase_env"`
	JournalPath   string   `yaml:"journal"`
	PollInterval  Duration `yaml:"poll_interval"`
	PageSize      int      `yaml:"page_size"`
	// LoanID switches the keeper to single-shot mode.
	LoanID *uint64 `yaml:"loan_id"`
}

// LoadConfig reads path, when non-empty, then applies environment overrides
// and defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvRPCURL)); v != "" {
		cfg.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvKeystore)); v != "" {
		cfg.Keystore = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPassphraseEnv)); v != "" {
		cfg.PassphraseEnv = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBearerToken)); v != "" {
		cfg.BearerToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLoanID)); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLoanID, err)
		}
		cfg.LoanID = &id
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.RPCURL == "" {
		cfg.RPCURL = "http://127.0.0.1:8545"
	}
	if cfg.PassphraseEnv == "" {
		cfg.PassphraseEnv = "KEEPER_PASSPHRASE"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "keeper.db"
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
}

// Validate checks the configuration for values the keeper cannot run with.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") {
		return fmt.Errorf("rpc_url must be an http(s) URL")
	}
	if strings.TrimSpace(c.Keystore) == "" {
		return fmt.Errorf("keystore must be configured (or set %s)", EnvKeystore)
	}
	if c.PollInterval.Duration < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	if c.PageSize > 500 {
		return fmt.Errorf("page_size must not exceed 500")
	}
	return nil
}
