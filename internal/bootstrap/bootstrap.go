// Package bootstrap builds the shared runtime dependencies of the binaries
// from config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/infrastructure/postgres"
	"github.com/medibook/go-appointments/internal/jobs"
	"github.com/medibook/go-appointments/internal/notify"
	"github.com/medibook/go-appointments/internal/observability/logging"
	"github.com/medibook/go-appointments/internal/observability/metrics"
	"github.com/medibook/go-appointments/internal/observability/tracing"
	"github.com/medibook/go-appointments/internal/storage"
	"github.com/medibook/go-appointments/pkg/circuitbreaker"
)

// Logger builds the process logger, named after the service.
func Logger(cfg config.Config, service string) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.Named(service), nil
}

// Tracing installs the global tracer provider for service.
func Tracing(ctx context.Context, cfg config.Config, service string) (*tracing.Provider, error) {
	return tracing.Init(ctx, tracing.Config{
		ServiceName:    service,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
}

// Postgres opens the connection pool.
func Postgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	return postgres.Connect(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig())
}

// Redis returns a client, or nil when REDIS_ADDR is unset.
func Redis(ctx context.Context, cfg config.Config) (redis.UniversalClient, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Locker returns a Redis lease locker, or a no-op locker for a single
// replica without Redis.
func Locker(client redis.UniversalClient, logger *zap.Logger) jobs.Locker {
	if client == nil {
		logger.Warn("REDIS_ADDR not set; scheduled jobs are not coordinated across replicas")
		return jobs.NopLocker{}
	}
	return jobs.NewRedisLocker(client, "medibook:jobs:", logger)
}

func loadAWS(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// EmailSender returns the configured provider behind a circuit breaker and
// bounded retry. Without a provider it returns a stub that only logs.
func EmailSender(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) (notify.EmailSender, error) {
	from := notify.From{Email: cfg.EmailFrom, Name: cfg.EmailFromName}

	var provider notify.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		provider = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), from, logger)
	case "sendgrid":
		provider = notify.NewSendGridSender(cfg.SendGridAPIKey, from, logger)
	default:
		logger.Warn("EMAIL_PROVIDER not set; emails are logged, not sent")
		return notify.NewStubSender(logger), nil
	}

	bcfg := circuitbreaker.DefaultConfig("email-" + cfg.EmailProvider)
	bcfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.SetBreakerState(name, to.Gauge())
	}
	breaker, err := circuitbreaker.New(bcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("email circuit breaker: %w", err)
	}
	return notify.NewResilientSender(provider, breaker, notify.DefaultRetryConfig(), m, logger), nil
}

// ImageStore returns S3 storage when PROFILE_IMAGE_BUCKET is set, otherwise
// a local directory.
func ImageStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (user.ImageStore, error) {
	if cfg.ProfileImageBucket != "" {
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.ProfileImageBucket, logger), nil
	}
	dir, err := storage.NewDirStore(cfg.ProfileImageDir)
	if err != nil {
		return nil, fmt.Errorf("profile image dir: %w", err)
	}
	return dir, nil
}

// ServeOps serves /health and /metrics on port until ctx is done. Worker
// binaries use it in place of a full API router.
func ServeOps(ctx context.Context, port, service string, logger *zap.Logger) {
	mux := chi.NewRouter()
	mux.Handle("/metrics", metrics.Handler())
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, service)
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ops server listening", zap.String("port", port))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ops server failed", zap.Error(err))
	}
}
