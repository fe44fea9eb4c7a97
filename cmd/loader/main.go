// Command loader bulk-loads a historical traffic CSV export into the store,
// seeding training data for the classifier and forecaster.
//
// Usage:
//
//	go run ./cmd/loader -file data/historical_traffic.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/citypulse/traffic-stream-etl/internal/adapter/postgres"
	"github.com/citypulse/traffic-stream-etl/internal/config"
	"github.com/citypulse/traffic-stream-etl/internal/loader"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("file", "", "path to the historical traffic CSV export")
	flag.Parse()
	if *file == "" {
		flag.Usage()
		return fmt.Errorf("-file is required")
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	result, err := loader.New(store, logger, metrics).Load(ctx, f)
	if err != nil {
		return err
	}

	fmt.Printf("loaded %d rows, skipped %d\n", result.Loaded, result.Skipped)
	return nil
}
