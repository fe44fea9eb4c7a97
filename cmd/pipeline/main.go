// Command pipeline runs the full ingestion-to-inference service: the
// producer polling the city traffic feed, the consumer moving topic records
// into Postgres, the scoring loop retraining the inference session, and the
// HTTP server exposing health, metrics, and the dashboard API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/citypulse/traffic-stream-etl/internal/adapter/chicago"
	httpadapter "github.com/citypulse/traffic-stream-etl/internal/adapter/http"
	kafkaadapter "github.com/citypulse/traffic-stream-etl/internal/adapter/kafka"
	"github.com/citypulse/traffic-stream-etl/internal/adapter/postgres"
	"github.com/citypulse/traffic-stream-etl/internal/adapter/redispub"
	"github.com/citypulse/traffic-stream-etl/internal/config"
	"github.com/citypulse/traffic-stream-etl/internal/consumer"
	"github.com/citypulse/traffic-stream-etl/internal/features"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
	"github.com/citypulse/traffic-stream-etl/internal/producer"
	"github.com/citypulse/traffic-stream-etl/internal/scoring"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		logger.Error("failed to load TLS materials", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Schema creation happens exactly once, here, never inside write paths.
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, tlsCfg, logger)
	writer := kafkaadapter.NewWriter(cfg, tlsCfg, logger)
	apiClient := chicago.NewClient(cfg.APIEndpoint, cfg.FetchTimeout, logger)

	// Score publishing is feature-flagged on REDIS_URL.
	var publisher scoring.ScorePublisher
	var redisCloser interface{ Close() error }
	if cfg.RedisURL != "" {
		pub, err := redispub.New(ctx, cfg.RedisURL, cfg.ScoreChannel, logger)
		if err != nil {
			logger.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
		publisher = pub
		redisCloser = pub
		logger.Info("score publishing enabled", "channel", cfg.ScoreChannel)
	} else {
		logger.Info("score publishing disabled")
	}

	prod := producer.New(apiClient, writer, logger, metrics, clock, cfg.PollInterval, cfg.FetchTimeout)
	cons := consumer.New(reader, store, logger, metrics, cfg.BatchSize)

	deriver := features.NewDeriver(cfg.CongestionThreshold, cfg.RollingWindow)
	scorer := scoring.New(store, publisher, logger, metrics, clock, scoring.Options{
		Deriver:         deriver,
		MinTrainingRows: cfg.MinTrainingRows,
		MinHistory:      cfg.MinHistory,
		RetrainInterval: cfg.RetrainInterval,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, cons, scorer, cfg.ForecastHorizon, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := prod.Run(ctx); err != nil {
			logger.Error("producer error", "error", err)
			stop()
		}
	}()

	go func() {
		if err := scorer.Run(ctx); err != nil {
			logger.Error("scoring error", "error", err)
			stop()
		}
	}()

	// The consumer's fatal errors (exhausted retries) bring the process
	// down; the surrounding orchestrator restarts it.
	consumerErr := make(chan error, 1)
	go func() { consumerErr <- cons.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-consumerErr:
		if err != nil {
			logger.Error("consumer fatal error", "error", err)
		}
		stop()
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if redisCloser != nil {
		if err := redisCloser.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
