package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"factorchain/cmd/internal/passphrase"
	"factorchain/crypto"
	"factorchain/observability/logging"
	telemetry "factorchain/observability/otel"
	"factorchain/rpc/client"
	"factorchain/services/keeper"
)

func main() {
	configPath := flag.String("config", "", "Path to the keeper YAML configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FACTORING_ENV"))
	logger := logging.Setup("keeper", env, logging.WithLevel(os.Getenv("KEEPER_LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, env, logger); err != nil {
		logger.Error("keeper exited", slog.Any("error", err), slog.Bool("fatal", keeper.IsFatal(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, env string, logger *slog.Logger) error {
	cfg, err := keeper.LoadConfig(configPath)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "keeper",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Insecure:    true,
		Traces:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	pass, err := passphrase.NewSource(cfg.PassphraseEnv, "keeper keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(cfg.Keystore, pass)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}

	journal, err := keeper.OpenJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	opts := []client.Option{client.WithSigner(key)}
	if cfg.BearerToken != "" {
		opts = append(opts, client.WithBearerToken(cfg.BearerToken))
	}
	rpcClient := client.New(cfg.RPCURL, opts...)
	k := keeper.New(rpcClient, key.Address(), journal,
		keeper.WithLogger(logger),
		keeper.WithPageSize(cfg.PageSize))

	logger.Info("keeper starting",
		slog.String("rpc", logging.MaskURL(cfg.RPCURL)),
		slog.String("address", key.Address().Hex()))

	if cfg.LoanID != nil {
		callCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		entry, err := k.RunOnce(callCtx, *cfg.LoanID)
		if err != nil {
			return err
		}
		logger.Info("loan handled",
			slog.Uint64("invoice_id", entry.InvoiceID),
			slog.String("outcome", entry.Outcome),
			slog.String("detail", entry.Detail))
		return nil
	}
	return k.Run(ctx, cfg.PollInterval.Duration)
}
