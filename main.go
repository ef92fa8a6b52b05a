package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"courier/internal/app"
	"courier/internal/config"
	"courier/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("courier exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", "error", err)
		}
	}()

	a, err := app.New(cfg, deps.DB, deps.Store, logger)
	if err != nil {
		return err
	}

	return a.Run(ctx, app.NewNSQIngestion(cfg))
}
