package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"paysettle/core/types"
)

const (
	defaultListenAddress = ":8088"
	defaultHealthAddress = ":8089"
	defaultDataDir       = "./paysettle-data"
	defaultBackend       = "leveldb"
	defaultTreasurySeed  = "authority"
	defaultHMACEnv       = "PAYSETTLE_JWT_SECRET"
	defaultWebhookEnv    = "PAYSETTLE_WEBHOOK_SECRET"
	defaultRatePerSecond = 20
	defaultRateBurst     = 40
)

type Config struct {
	ListenAddress  string          `toml:"ListenAddress"`
	HealthAddress  string          `toml:"HealthAddress"`
	DataDir        string          `toml:"DataDir"`
	StorageBackend string          `toml:"StorageBackend"`
	JournalPath    string          `toml:"JournalPath"`
	GenesisFile    string          `toml:"GenesisFile"`
	Environment    string          `toml:"Environment"`
	ModuleID       string          `toml:"ModuleID"`
	TreasurySeed   string          `toml:"TreasurySeed"`
	Auth           AuthConfig      `toml:"auth"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
	Telemetry      TelemetryConfig `toml:"telemetry"`
	Logging        LoggingConfig   `toml:"logging"`
	Webhook        WebhookConfig   `toml:"webhook"`
}

// AuthConfig controls JWT verification for the HTTP API. The secret itself
// is read from the environment variable named by HMACSecretEnv.
type AuthConfig struct {
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// LoggingConfig adds an optional rotating file sink next to stdout.
type LoggingConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// WebhookConfig enables signed delivery of committed settlement events. The
// signing secret is read from the environment variable named by SecretEnv.
type WebhookConfig struct {
	Endpoint       string `toml:"Endpoint"`
	SecretEnv      string `toml:"SecretEnv"`
	MaxAttempts    int    `toml:"MaxAttempts"`
	MinBackoffMs   int    `toml:"MinBackoffMs"`
	MaxBackoffMs   int    `toml:"MaxBackoffMs"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
}

// Enabled reports whether an endpoint has been configured.
func (w WebhookConfig) Enabled() bool {
	return strings.TrimSpace(w.Endpoint) != ""
}

// DefaultModuleID is the settlement module identity used when ModuleID is
// left empty.
func DefaultModuleID() types.Address {
	return types.BytesToAddress(ethcrypto.Keccak256([]byte("paysettle/settlement")))
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.HealthAddress) == "" {
		c.HealthAddress = defaultHealthAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.StorageBackend) == "" {
		c.StorageBackend = defaultBackend
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if strings.TrimSpace(c.JournalPath) == "" {
		c.JournalPath = filepath.Join(c.DataDir, "journal.db")
	}
	if strings.TrimSpace(c.TreasurySeed) == "" {
		c.TreasurySeed = defaultTreasurySeed
	}
	if strings.TrimSpace(c.Auth.HMACSecretEnv) == "" {
		c.Auth.HMACSecretEnv = defaultHMACEnv
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = defaultRatePerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = defaultRateBurst
	}
	if c.Webhook.Enabled() && strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		c.Webhook.SecretEnv = defaultWebhookEnv
	}
}

// Module resolves the configured module identity.
func (c *Config) Module() (types.Address, error) {
	if strings.TrimSpace(c.ModuleID) == "" {
		return DefaultModuleID(), nil
	}
	return types.ParseAddress(c.ModuleID)
}

// StoragePath is the location of the ledger database for file backends.
func (c *Config) StoragePath() string {
	switch c.StorageBackend {
	case "bolt", "bbolt":
		return filepath.Join(c.DataDir, "ledger.bolt")
	default:
		return filepath.Join(c.DataDir, "ledger")
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:  defaultListenAddress,
		HealthAddress:  defaultHealthAddress,
		DataDir:        defaultDataDir,
		StorageBackend: defaultBackend,
		TreasurySeed:   defaultTreasurySeed,
		Auth:           AuthConfig{HMACSecretEnv: defaultHMACEnv, Issuer: "paysettle", Audience: "settled", ClockSkewSeconds: 30},
		RateLimit:      RateLimitConfig{RequestsPerSecond: defaultRatePerSecond, Burst: defaultRateBurst},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
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
