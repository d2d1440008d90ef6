// Package main consumes appointment events and emails the affected doctor
// or patient.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/bootstrap"
	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/infrastructure/redpanda"
	"github.com/medibook/go-appointments/internal/notify"
	"github.com/medibook/go-appointments/internal/observability/metrics"
	"github.com/medibook/go-appointments/pkg/idempotency"
)

const serviceName = "notification-service"

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

	m := metrics.New(nil)

	sender, err := bootstrap.EmailSender(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal("email sender init failed", zap.Error(err))
	}

	// Profile images are never read here, so the user service runs without a store.
	users := user.NewService(user.NewRepository(pool, logger), nil, logger)

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()

	dispatcher := notify.NewDispatcher(users, sender, inbox, logger)
	handle := func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		if err := dispatcher.HandleMessage(ctx, msg); err != nil {
			return err
		}
		m.Consumed()
		return nil
	}

	consumerCfg := redpanda.DefaultConsumerConfig(cfg.KafkaBrokers)
	consumerCfg.GroupID = cfg.KafkaGroupID
	consumer, err := redpanda.NewConsumer(consumerCfg, handle, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("consuming appointment events",
		zap.Strings("topics", consumerCfg.Topics),
		zap.String("group", consumerCfg.GroupID))

	go reportLag(ctx, cfg.KafkaBrokers, consumerCfg.GroupID, logger)
	go bootstrap.ServeOps(ctx, cfg.MetricsPort, serviceName, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	inbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}
	logger.Info("notification service stopped")
}

func reportLag(ctx context.Context, brokers []string, group string, logger *zap.Logger) {
	admin, err := redpanda.NewAdmin(brokers, logger)
	if err != nil {
		logger.Warn("lag reporting disabled", zap.Error(err))
		return
	}
	defer admin.Close()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := admin.GroupLag(ctx, group)
			if err != nil {
				logger.Warn("consumer lag unavailable", zap.Error(err))
				continue
			}
			for topic, n := range lag {
				logger.Info("consumer lag", zap.String("topic", topic), zap.Int64("lag", n))
			}
		}
	}
}
