package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paysettle/config"
	"paysettle/core"
	"paysettle/core/events"
	"paysettle/core/state"
	"paysettle/integrations/webhooks"
	"paysettle/native/exchange"
	"paysettle/native/settlement"
	"paysettle/observability/logging"
	telemetry "paysettle/observability/otel"
	"paysettle/services/settled/bootstrap"
	"paysettle/services/settled/journal"
	"paysettle/services/settled/server"
	"paysettle/storage"
)

func main() {
	var cfgPath, genesisPath string
	flag.StringVar(&cfgPath, "config", "settled.toml", "path to settled configuration file")
	flag.StringVar(&genesisPath, "genesis", "", "override the genesis file from the configuration")
	flag.Parse()

	if err := run(cfgPath, genesisPath); err != nil {
		slog.Error("settled exited", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath, genesisPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(genesisPath) != "" {
		cfg.GenesisFile = genesisPath
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "settled",
		Env:        cfg.Environment,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "settled",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	secret := strings.TrimSpace(os.Getenv(cfg.Auth.HMACSecretEnv))
	if secret == "" {
		return fmt.Errorf("environment variable %s must hold the JWT secret", cfg.Auth.HMACSecretEnv)
	}
	module, err := cfg.Module()
	if err != nil {
		return fmt.Errorf("module id: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(cfg.StorageBackend, cfg.StoragePath())
	if err != nil {
		return fmt.Errorf("open ledger storage: %w", err)
	}
	defer db.Close()

	jrnl, err := journal.Open(cfg.JournalPath, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jrnl.Close()

	emitter := events.Fanout{jrnl}
	if cfg.Webhook.Enabled() {
		dispatcher, err := newWebhookDispatcher(cfg.Webhook, logger)
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		emitter = append(emitter, dispatcher)
	}

	envelope := core.NewEnvelope(state.NewLedger(db), emitter)
	exchanges := bootstrap.Exchanges{
		ConstantProduct: exchange.NewConstantProduct(),
		FixedRate:       exchange.NewFixedRate(),
	}
	engine := settlement.NewEngine()
	engine.SetTreasurySeed([]byte(cfg.TreasurySeed))
	for _, ex := range []settlement.Exchange{exchanges.ConstantProduct, exchanges.FixedRate} {
		if err := engine.RegisterExchange(ex); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GenesisFile != "" {
		gen, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return err
		}
		seeded, err := bootstrap.Seed(ctx, envelope, module, []byte(cfg.TreasurySeed), gen)
		if err != nil {
			return err
		}
		if err := bootstrap.RegisterPools(gen, exchanges); err != nil {
			return fmt.Errorf("register pools: %w", err)
		}
		logger.Info("genesis loaded", "seeded", seeded, "summary", gen.Describe())
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	srv, err := server.New(server.Config{
		Envelope: envelope,
		Engine:   engine,
		Module:   module,
		Journal:  jrnl,
		Auth:     auth,
		Limiter:  server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	health := server.NewHealth(logger)
	lis, err := net.Listen("tcp", cfg.HealthAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HealthAddress, err)
	}

	errs := make(chan error, 2)
	go func() { errs <- health.Serve(ctx, lis) }()
	go func() { errs <- srv.Run(ctx, cfg.ListenAddress) }()
	health.SetServing(true)
	logger.Info("settled started", "module", module.String(), "storage", cfg.StorageBackend)

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	logger.Info("settled stopped")
	return firstErr
}

func newWebhookDispatcher(cfg config.WebhookConfig, logger *slog.Logger) (*webhooks.Dispatcher, error) {
	secret := strings.TrimSpace(os.Getenv(cfg.SecretEnv))
	if secret == "" {
		return nil, fmt.Errorf("environment variable %s must hold the webhook secret", cfg.SecretEnv)
	}
	opts := []webhooks.Option{
		webhooks.WithLogger(logger.With("component", "webhooks")),
		webhooks.WithRetryPolicy(cfg.MaxAttempts,
			time.Duration(cfg.MinBackoffMs)*time.Millisecond,
			time.Duration(cfg.MaxBackoffMs)*time.Millisecond),
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, webhooks.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}))
	}
	dispatcher, err := webhooks.NewDispatcher(cfg.Endpoint, []byte(secret), opts...)
	if err != nil {
		return nil, fmt.Errorf("configure webhooks: %w", err)
	}
	return dispatcher, nil
}
