package notify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/observability/metrics"
	"github.com/medibook/go-appointments/pkg/circuitbreaker"
)

// RetryConfig bounds delivery retries.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns three attempts starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// ResilientSender wraps a provider with a circuit breaker and bounded
// exponential backoff. An open breaker fails fast without retrying.
type ResilientSender struct {
	next    EmailSender
	breaker *circuitbreaker.CircuitBreaker
	retry   RetryConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewResilientSender(next EmailSender, breaker *circuitbreaker.CircuitBreaker, retry RetryConfig, m *metrics.Metrics, logger *zap.Logger) *ResilientSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 1
	}
	return &ResilientSender{next: next, breaker: breaker, retry: retry, metrics: m, logger: logger}
}

func (s *ResilientSender) Send(ctx context.Context, msg EmailMessage) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	b.MaxInterval = s.retry.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.next.Send(ctx, msg)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.retry.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("email send failed, retrying",
				zap.String("to", msg.To),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	s.metrics.Email(err)
	if err != nil {
		s.logger.Error("email delivery failed",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
	return err
}
