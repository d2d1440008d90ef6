// Package main provides the outbox relay service entry point. It publishes
// committed appointment events from the outbox table to Redpanda.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/bootstrap"
	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/internal/infrastructure/postgres"
	"github.com/medibook/go-appointments/internal/infrastructure/redpanda"
	"github.com/medibook/go-appointments/internal/observability/metrics"
)

const (
	serviceName = "outbox-relay"

	// published rows are kept this long for debugging
	processedRetention = 7 * 24 * time.Hour
)

func main() {
	cfg := config.Load()

	logger, err := bootstrap.Logger(cfg, serviceName)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := bootstrap.Tracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	pool, err := bootstrap.Postgres(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
		logger.Fatal("redpanda unreachable", zap.Error(err))
	}
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("could not ensure topics", zap.Error(err))
	}
	admin.Close()

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	m := metrics.New(nil)
	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), m, logger)
	outbox.Start()
	go cleanup(ctx, outbox, logger)
	go bootstrap.ServeOps(ctx, cfg.MetricsPort, serviceName, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}
	logger.Info("outbox relay stopped")
}

func cleanup(ctx context.Context, outbox *postgres.Outbox, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := outbox.CleanupProcessed(ctx, processedRetention)
			if err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("removed processed outbox entries", zap.Int64("count", n))
			}
		}
	}
}
