package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agamariel/printdesk/internal/client"
	"github.com/agamariel/printdesk/internal/config"
	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadClient()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Локальные подготовленные изменения переживают перезапуск клиента
	staged, err := staging.NewSQLiteStore(ctx, cfg.StagingPath, logger)
	if err != nil {
		logger.Error("failed to open staging store", "path", cfg.StagingPath, "error", err)
		os.Exit(1)
	}
	defer staged.Close()

	r := &runner{
		cfg:    cfg,
		api:    client.New(cfg.ServerURL, cfg.Token, 0, logger),
		staged: staged,
		out:    os.Stdout,
		logger: logger,
	}

	if err := r.run(ctx, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error("command failed", "error", err)
		staged.Close()
		os.Exit(1)
	}
}
