// Package main provides the appointment API service entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/api"
	"github.com/medibook/go-appointments/internal/api/handlers"
	"github.com/medibook/go-appointments/internal/api/middleware"
	"github.com/medibook/go-appointments/internal/auth"
	"github.com/medibook/go-appointments/internal/bootstrap"
	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/jobs"
	"github.com/medibook/go-appointments/internal/observability/metrics"
	"github.com/medibook/go-appointments/pkg/workerpool"
)

const serviceName = "appointment-api"

func main() {
	cfg := config.Load()

	logger, err := bootstrap.Logger(cfg, serviceName)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.ValidateAPI(); err != nil {
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

	m := metrics.New(nil)

	images, err := bootstrap.ImageStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("image store init failed", zap.Error(err))
	}

	// Initialize repositories and services
	userRepo := user.NewRepository(pool, logger)
	appointmentRepo := appointment.NewRepository(pool, logger)
	users := user.NewService(userRepo, images, logger)
	appointments := appointment.NewService(appointmentRepo, users, m, logger)

	// The on-demand report shares the scheduler's lease so a manual run never
	// overlaps a scheduled one.
	rdb, err := bootstrap.Redis(ctx, cfg)
	if err != nil {
		logger.Fatal("redis init failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}
	sender, err := bootstrap.EmailSender(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal("email sender init failed", zap.Error(err))
	}
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.JobWorkers
	report := jobs.NewMonthlyReport(userRepo, appointmentRepo, sender, poolCfg, logger)

	runner := jobs.NewCronRunner(jobs.DefaultRunnerConfig(), bootstrap.Locker(rdb, logger), m, logger)
	if err := runner.Register(jobs.JobMonthlyReport, "", report.Job()); err != nil {
		logger.Fatal("register report job", zap.Error(err))
	}

	// Initialize handlers
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	limiter := middleware.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst)
	go limiter.Run(ctx)

	router := api.NewRouter(api.Deps{
		Users:        handlers.NewUserHandler(users, issuer, logger),
		Appointments: handlers.NewAppointmentHandler(appointments, runner, logger),
		Tokens:       issuer,
		AuthLimiter:  limiter,
		CORSOrigins:  cfg.CORSOrigins,
		Metrics:      m,
		Ready:        pool,
		ServiceName:  serviceName,
		Version:      cfg.ServiceVersion,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting appointment API", zap.String("port", cfg.Port))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error("job runner stop error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}
