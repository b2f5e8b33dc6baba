package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"factorchain/native/reputation"
)

var (
	// MinNonceTTLSeconds keeps envelopes usable across ordinary clock skew.
	MinNonceTTLSeconds = int64(30)
	// MaxNonceTTLSeconds bounds replay-cache growth.
	MaxNonceTTLSeconds = int64(24 * 60 * 60)
)

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must be set")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("ListenAddress: %w", err)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if c.Wiring.AutoWire {
		if _, ok, err := c.OracleAddress(); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("Wiring.AutoWire requires Wiring.Oracle")
		}
	} else if _, _, err := c.OracleAddress(); err != nil {
		return err
	}
	if c.Policy.ReputationBase < 0 || c.Policy.PenaltyMultiplier < 0 {
		return fmt.Errorf("Policy: reputation parameters must not be negative")
	}
	if c.Policy.MaxAdjustment < 0 || c.Policy.MaxAdjustment > reputation.DefaultMaxAdjustment {
		return fmt.Errorf("Policy.MaxAdjustment must be within [0, %d]", reputation.DefaultMaxAdjustment)
	}
	if _, err := c.ReputationPolicy(); err != nil {
		return err
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("RPC: rate limits must not be negative")
	}
	if c.RPC.RateLimitPerSecond > 0 && c.RPC.RateLimitBurst == 0 {
		return fmt.Errorf("RPC.RateLimitBurst must be positive when RateLimitPerSecond is set")
	}
	if c.RPC.NonceTTLSeconds < MinNonceTTLSeconds || c.RPC.NonceTTLSeconds > MaxNonceTTLSeconds {
		return fmt.Errorf("RPC.NonceTTLSeconds must be within [%d, %d]", MinNonceTTLSeconds, MaxNonceTTLSeconds)
	}
	if c.RPC.MaxRequestBytes <= 0 {
		return fmt.Errorf("RPC.MaxRequestBytes must be positive")
	}
	if c.Indexer.Enabled && strings.TrimSpace(c.Indexer.DSN) == "" {
		return fmt.Errorf("Indexer.DSN must be set when the indexer is enabled")
	}
	if strings.TrimSpace(c.Webhooks.URL) != "" {
		if u, err := url.Parse(c.Webhooks.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("Webhooks.URL must be an http(s) URL")
		}
		if strings.TrimSpace(c.Webhooks.Secret) == "" {
			return fmt.Errorf("Webhooks.Secret or SecretEnv must be set when Webhooks.URL is set")
		}
		if c.Webhooks.MaxAttempts < 0 {
			return fmt.Errorf("Webhooks.MaxAttempts must not be negative")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("Telemetry.SampleRatio must be within [0, 1]")
	}
	return nil
}
