package config

import (
	"fmt"
	"strings"
)

var supportedBackends = map[string]struct{}{
	"leveldb": {},
	"bolt":    {},
	"bbolt":   {},
	"memory":  {},
	"mem":     {},
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if _, ok := supportedBackends[c.StorageBackend]; !ok {
		return fmt.Errorf("storage: unsupported backend %q", c.StorageBackend)
	}
	if _, err := c.Module(); err != nil {
		return fmt.Errorf("module id: %w", err)
	}
	if strings.TrimSpace(c.TreasurySeed) == "" {
		return fmt.Errorf("treasury seed must not be empty")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: clock skew must be non-negative")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must be non-negative")
	}
	if c.Webhook.MaxAttempts < 0 || c.Webhook.MinBackoffMs < 0 || c.Webhook.MaxBackoffMs < 0 || c.Webhook.TimeoutSeconds < 0 {
		return fmt.Errorf("webhook: retry settings must be non-negative")
	}
	if c.Webhook.Enabled() && !strings.HasPrefix(c.Webhook.Endpoint, "http://") && !strings.HasPrefix(c.Webhook.Endpoint, "https://") {
		return fmt.Errorf("webhook: endpoint must be an http(s) URL")
	}
	return nil
}
