// Command persister consumes message-pair events from Redpanda and writes
// them to Postgres. It runs separately from the server so conversation
// persistence never sits on the request path.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("postgres connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.MessageTopic,
		postgres.NewMessageRepo(pool), cfg.ConsumerMaxConcurrency)
	if err != nil {
		slog.Error("redpanda consumer failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	// Run blocks until shutdown or until a record cannot be applied even
	// after retries; the supervisor restart replays from the last commit.
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("persister stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("persister stopped")
}
