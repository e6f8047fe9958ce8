package ledgerd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ledgerconfig "pynthchain/config"
	"pynthchain/core"
	"pynthchain/integrations/webhooks"
	"pynthchain/observability/logging"
	telemetry "pynthchain/observability/otel"
	ledgerdconfig "pynthchain/services/ledgerd/config"
	"pynthchain/services/ledgerd/journal"
	"pynthchain/services/ledgerd/server"
	"pynthchain/storage"
)

// Main loads the daemon configuration, opens the ledger and serves the HTTP
// API until SIGINT or SIGTERM.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/ledgerd/config.yaml", "path to ledgerd configuration")
	flag.Parse()

	cfg, err := ledgerdconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Env
	if env == "" {
		env = strings.TrimSpace(os.Getenv("PYNTH_ENV"))
	}

	logger, logCloser, err := logging.SetupWithOptions(logging.Options{
		Service:  "ledgerd",
		Env:      env,
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()

	ledgerCfg, err := ledgerconfig.Load(cfg.LedgerConfig)
	if err != nil {
		return fmt.Errorf("load ledger config: %w", err)
	}
	opts, err := ledgerCfg.NodeOptions()
	if err != nil {
		return fmt.Errorf("ledger options: %w", err)
	}
	opts.Logger = logger

	endpoint := cfg.Telemetry.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Environment: env,
		NetworkID:   ledgerCfg.NetworkID,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := openStore(cfg, ledgerCfg)
	if err != nil {
		return err
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("open ledger: %w", err)
	}
	defer node.Close()

	gormDB, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	events, err := journal.New(gormDB, logger)
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}
	node.SetEmitter(events)
	logger.Info("event journal ready",
		slog.String("driver", cfg.Journal.Driver),
		logging.MaskField("dsn", cfg.Journal.DSN),
		slog.Uint64("last_sequence", events.Last()))

	if cfg.Webhooks.Enabled() {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhooks.Endpoint, []byte(cfg.Webhooks.SigningSecret()),
			webhooks.WithRetryPolicy(cfg.Webhooks.MaxAttempts, cfg.Webhooks.MinBackoff, cfg.Webhooks.MaxBackoff),
			webhooks.WithTopics(cfg.Webhooks.Topics...),
			webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("init webhooks: %w", err)
		}
		defer dispatcher.Close()
		node.SetEmitter(dispatcher)
	}

	verifier, err := server.NewVerifier(cfg.Auth.Secret(), cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	api, err := server.New(server.Config{
		Node:      node,
		Journal:   events,
		Verifier:  verifier,
		Limiter:   server.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		ExportDir: cfg.Exports.Dir,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Uint64("network", ledgerCfg.NetworkID),
			slog.Any("collateral", node.EngineNames()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		logger.Info("ledgerd stopped")
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func openStore(cfg ledgerdconfig.Config, ledgerCfg *ledgerconfig.Config) (storage.Database, error) {
	if cfg.InMemory {
		return storage.NewMemDB(), nil
	}
	dir := cfg.DataDir
	if dir == "" {
		dir = ledgerCfg.DataDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return db, nil
}
