package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"factorchain/config"
	"factorchain/core"
	"factorchain/crypto"
	"factorchain/integrations/webhooks"
	"factorchain/native/factoring"
	"factorchain/observability/logging"
	telemetry "factorchain/observability/otel"
	"factorchain/rpc"
	"factorchain/services/indexer"
	"factorchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile); err != nil {
		slog.Error("factoringd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("FACTORING_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("factoringd", env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays))
	safe := cfg.Sanitized()
	logger.Info("configuration loaded",
		slog.String("listen", safe.ListenAddress),
		slog.String("data_dir", safe.DataDir),
		slog.String("redis", safe.RPC.RedisURL),
		slog.String("indexer_dsn", safe.Indexer.DSN),
		slog.Bool("jwt", cfg.RPC.JWTSecret != ""))

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "factoringd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Enabled,
		Traces:      cfg.Telemetry.Enabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	authority, err := crypto.KeystoreAddress(cfg.AuthorityKeystorePath)
	if err != nil {
		return fmt.Errorf("read authority keystore: %w", err)
	}
	policy, err := cfg.ReputationPolicy()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Options{
		Authority:        authority,
		AllowSelfFunding: cfg.Policy.AllowSelfFunding,
		Policy:           policy,
		MaxAdjustment:    cfg.Policy.MaxAdjustment,
		Pauses:           cfg.PauseView(),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Close()

	if err := autoWire(node, cfg, logger); err != nil {
		return err
	}

	var workers sync.WaitGroup
	defer workers.Wait()
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if cfg.Indexer.Enabled {
		ix, err := startIndexer(node, cfg.Indexer.DSN, logger)
		if err != nil {
			return err
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := ix.Run(workerCtx, node.Events()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("indexer stopped", slog.Any("error", err))
			}
		}()
	}

	if url := strings.TrimSpace(cfg.Webhooks.URL); url != "" {
		dispatcher, err := webhooks.NewDispatcher(url, []byte(cfg.Webhooks.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithRetryPolicy(cfg.Webhooks.MaxAttempts, 0, 0))
		if err != nil {
			return fmt.Errorf("webhooks: %w", err)
		}
		defer dispatcher.Close()
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := dispatcher.Forward(workerCtx, node.Events()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webhook forwarder stopped", slog.Any("error", err))
			}
		}()
	}

	rpcCfg, closeNonces, err := rpcConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNonces()

	server := rpc.NewServer(node, rpcCfg)
	readHeaderTimeout := time.Duration(cfg.RPC.ReadHeaderTimeoutSeconds) * time.Second
	err = server.Serve(ctx, cfg.ListenAddress, readHeaderTimeout)
	cancelWorkers()
	logger.Info("shutting down")
	return err
}

// autoWire registers the engine and the configured oracle when the node has
// not been wired yet. Restarts against wired state are a no-op.
func autoWire(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Wiring.AutoWire {
		return nil
	}
	wired, err := node.Wired()
	if err != nil {
		return fmt.Errorf("inspect wiring: %w", err)
	}
	if wired {
		return nil
	}
	oracle, ok, err := cfg.OracleAddress()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Wiring.Oracle must be set when Wiring.AutoWire is enabled")
	}
	if err := node.Wire(node.Authority(), oracle); err != nil {
		return fmt.Errorf("auto-wire: %w", err)
	}
	logger.Info("factoring engine wired",
		slog.String("engine", node.EscrowAddress().Hex()),
		slog.String("oracle", oracle.Hex()))
	return nil
}

func startIndexer(node *core.Node, dsn string, logger *slog.Logger) (*indexer.Indexer, error) {
	db, err := indexer.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open indexer database: %w", err)
	}
	ix, err := indexer.New(db, logger)
	if err != nil {
		return nil, fmt.Errorf("migrate indexer: %w", err)
	}
	invoices, err := node.Invoices(0, 0)
	if err != nil {
		return nil, fmt.Errorf("snapshot invoices: %w", err)
	}
	loans, err := node.Loans(factoring.Filter{})
	if err != nil {
		return nil, fmt.Errorf("snapshot loans: %w", err)
	}
	if err := ix.Snapshot(invoices, loans); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	logger.Info("indexer seeded", slog.Int("invoices", len(invoices)), slog.Int("loans", len(loans)))
	return ix, nil
}

func rpcConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rpc.Config, func(), error) {
	out := rpc.Config{
		JWTSecret:       cfg.RPC.JWTSecret,
		JWTIssuer:       cfg.RPC.JWTIssuer,
		RateLimit:       cfg.RPC.RateLimitPerSecond,
		RateBurst:       cfg.RPC.RateLimitBurst,
		NonceTTL:        time.Duration(cfg.RPC.NonceTTLSeconds) * time.Second,
		MaxRequestBytes: cfg.RPC.MaxRequestBytes,
		TrustedProxies:  cfg.RPC.TrustedProxies,
		Logger:          logger,
	}
	if strings.TrimSpace(cfg.RPC.RedisURL) == "" {
		return out, func() {}, nil
	}
	store, err := rpc.NewRedisNonceStore(ctx, cfg.RPC.RedisURL)
	if err != nil {
		return rpc.Config{}, nil, fmt.Errorf("connect nonce store: %w", err)
	}
	out.NonceStore = store
	return out, func() { _ = store.Close() }, nil
}
