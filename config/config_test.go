package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paysettle/core/types"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != defaultListenAddress || cfg.StorageBackend != "leveldb" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Auth.Issuer != "paysettle" || reloaded.RateLimit.Burst != defaultRateBurst {
		t.Fatalf("persisted defaults lost: %+v", reloaded)
	}
	module, err := reloaded.Module()
	if err != nil || module != DefaultModuleID() {
		t.Fatalf("unexpected module %s: %v", module, err)
	}
}

func TestLoadParsesSections(t *testing.T) {
	module := types.BytesToAddress([]byte("custom-module"))
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/paysettle"
StorageBackend = "Bolt"
ModuleID = "%s"
Environment = "staging"

[auth]
HMACSecretEnv = "SETTLE_SECRET"
Issuer = "ops"
Audience = "settled"
ClockSkewSeconds = 5

[rate_limit]
RequestsPerSecond = 2.5
Burst = 5

[telemetry]
Endpoint = "otel:4318"
Traces = true

[logging]
File = "/var/log/settled.log"
MaxSizeMB = 50

[webhook]
Endpoint = "https://hooks.example.com/settlements"
MaxAttempts = 3
`, module)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageBackend != "bolt" || cfg.StoragePath() != filepath.Join("/var/lib/paysettle", "ledger.bolt") {
		t.Fatalf("unexpected storage: %s %s", cfg.StorageBackend, cfg.StoragePath())
	}
	if cfg.JournalPath != filepath.Join("/var/lib/paysettle", "journal.db") {
		t.Fatalf("unexpected journal path: %s", cfg.JournalPath)
	}
	if got, _ := cfg.Module(); got != module {
		t.Fatalf("unexpected module: %s", got)
	}
	if cfg.Auth.HMACSecretEnv != "SETTLE_SECRET" || cfg.RateLimit.RequestsPerSecond != 2.5 || !cfg.Telemetry.Traces {
		t.Fatalf("sections not decoded: %+v", cfg)
	}
	if !cfg.Webhook.Enabled() || cfg.Webhook.SecretEnv != defaultWebhookEnv || cfg.Webhook.MaxAttempts != 3 {
		t.Fatalf("unexpected webhook section: %+v", cfg.Webhook)
	}
	if cfg.HealthAddress != defaultHealthAddress || cfg.TreasurySeed != "authority" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeysAndBackends(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown key": "ValidatorKey = \"abc\"\n",
		"backend":     "StorageBackend = \"cassandra\"\n",
		"module":      "ModuleID = \"not-base58-0OIl\"\n",
		"webhook":     "[webhook]\nEndpoint = \"ftp://hooks\"\n",
	}
	for name, contents := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".toml")
		if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseGenesis(t *testing.T) {
	a := func(tag string) types.Address { return types.BytesToAddress([]byte(tag)) }
	doc := fmt.Sprintf(`owner: %s
treasuries:
  - address: %s
    asset: %s
accounts:
  - address: %s
    owner: %s
    asset: %s
    balance: 1000
pools:
  constant_product:
    - id: %s
      fee_bps: 30
      base: {address: %s, asset: %s, reserve: 10000}
      quote: {address: %s, asset: %s, reserve: 20000}
  fixed_rate:
    - id: %s
      rate_num: 15
      rate_den: 1
      base: {address: %s, asset: %s, reserve: 500}
      quote: {address: %s, asset: %s, reserve: 7500}
`,
		a("owner"),
		a("treasury"), a("usd"),
		a("payer-usd"), a("payer"), a("usd"),
		a("pool"), a("pool-sol"), a("sol"), a("pool-usd"), a("usd"),
		a("venue"), a("venue-sol"), a("sol"), a("venue-usd"), a("usd"),
	)
	gen, err := ParseGenesis([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if gen.Owner != a("owner") || len(gen.Accounts) != 1 || gen.Accounts[0].Balance != 1000 {
		t.Fatalf("unexpected genesis: %+v", gen)
	}
	if len(gen.Pools.ConstantProduct) != 1 || gen.Pools.ConstantProduct[0].Quote.Reserve != 20000 {
		t.Fatalf("unexpected pools: %+v", gen.Pools)
	}
	if gen.Pools.FixedRate[0].RateNum != 15 {
		t.Fatalf("unexpected venue: %+v", gen.Pools.FixedRate[0])
	}
	if !strings.Contains(gen.Describe(), "constant_product=1") {
		t.Fatalf("unexpected summary: %s", gen.Describe())
	}

	dup := strings.Replace(doc, a("payer-usd").String(), a("treasury").String(), 1)
	if _, err := ParseGenesis([]byte(dup)); err == nil {
		t.Fatalf("expected duplicate address to be rejected")
	}
	if _, err := ParseGenesis([]byte("treasuries: []\n")); err == nil {
		t.Fatalf("expected missing owner to be rejected")
	}
}

func TestExampleFilesLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "services", "settled", "settled.example.toml"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.Webhook.Enabled() || cfg.StorageBackend != "leveldb" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
	gen, err := LoadGenesis(filepath.Join("..", "services", "settled", "genesis.example.yaml"))
	if err != nil {
		t.Fatalf("example genesis: %v", err)
	}
	if len(gen.Accounts) != 3 || len(gen.Pools.ConstantProduct) != 1 || len(gen.Pools.FixedRate) != 1 {
		t.Fatalf("unexpected example genesis: %s", gen.Describe())
	}
}
