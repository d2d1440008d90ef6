// Package main runs the periodic appointment jobs: daily reminders and the
// monthly doctor report.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/bootstrap"
	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/jobs"
	"github.com/medibook/go-appointments/internal/observability/metrics"
	"github.com/medibook/go-appointments/pkg/workerpool"
)

const serviceName = "scheduler"

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

	rdb, err := bootstrap.Redis(ctx, cfg)
	if err != nil {
		logger.Fatal("redis init failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	m := metrics.New(nil)

	sender, err := bootstrap.EmailSender(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal("email sender init failed", zap.Error(err))
	}

	userRepo := user.NewRepository(pool, logger)
	appointmentRepo := appointment.NewRepository(pool, logger)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.JobWorkers

	runner := jobs.NewCronRunner(jobs.DefaultRunnerConfig(), bootstrap.Locker(rdb, logger), m, logger)
	register := func(name, schedule string, job jobs.Job) {
		if err := runner.Register(name, schedule, job); err != nil {
			logger.Fatal("register job", zap.String("job", name), zap.Error(err))
		}
	}
	register(jobs.JobReminders, cfg.ReminderSchedule,
		jobs.NewReminders(appointmentRepo, sender, poolCfg, logger).Job())
	register(jobs.JobMonthlyReport, cfg.ReportSchedule,
		jobs.NewMonthlyReport(userRepo, appointmentRepo, sender, poolCfg, logger).Job())

	runner.Start()
	go bootstrap.ServeOps(ctx, cfg.MetricsPort, serviceName, logger)

	<-ctx.Done()
	logger.Info("shutting down scheduler")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error("job runner stop error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}
	logger.Info("scheduler stopped")
}
