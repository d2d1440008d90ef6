// Package jobs runs the periodic appointment jobs: daily reminders and the
// monthly doctor report.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/observability/metrics"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// Runner schedules named jobs.
type Runner interface {
	Register(name, schedule string, job Job) error
	Start()
	Stop(ctx context.Context) error
}

// Registered job names.
const (
	JobReminders     = "appointment_reminders"
	JobMonthlyReport = "monthly_doctor_report"
)

// ErrUnknownJob is returned by Trigger for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// RunnerConfig holds configuration for the cron runner
type RunnerConfig struct {
	// JobTimeout bounds a single run
	JobTimeout time.Duration
	// LeaseTTL is how long a replica holds a job's lock; it should exceed JobTimeout
	LeaseTTL time.Duration
}

// DefaultRunnerConfig returns sensible defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		JobTimeout: 30 * time.Minute,
		LeaseTTL:   35 * time.Minute,
	}
}

// CronRunner runs jobs on cron schedules evaluated in UTC. Every run takes
// a lease from the Locker so only one replica executes a job at a time.
type CronRunner struct {
	cron    *cron.Cron
	config  RunnerConfig
	locker  Locker
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string]Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCronRunner creates a runner. locker may be nil for single-replica use.
func NewCronRunner(cfg RunnerConfig, locker Locker, m *metrics.Metrics, logger *zap.Logger) *CronRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NopLocker{}
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultRunnerConfig().JobTimeout
	}
	if cfg.LeaseTTL < cfg.JobTimeout {
		cfg.LeaseTTL = cfg.JobTimeout + 5*time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CronRunner{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		config:  cfg,
		locker:  locker,
		metrics: m,
		logger:  logger,
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds job under name on a standard five-field cron schedule. An
// empty schedule registers a job that only runs through Trigger.
func (r *CronRunner) Register(name, schedule string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	if schedule != "" {
		if _, err := r.cron.AddFunc(schedule, func() { r.run(name, job) }); err != nil {
			return fmt.Errorf("schedule job %q: %w", name, err)
		}
	}
	r.jobs[name] = job
	r.logger.Info("job registered", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// Trigger runs a registered job now, in the background.
func (r *CronRunner) Trigger(name string) error {
	r.mu.Lock()
	job, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(name, job)
	}()
	return nil
}

func (r *CronRunner) Start() {
	r.cron.Start()
	r.logger.Info("job runner started", zap.Int("jobs", len(r.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs until ctx expires, then
// cancels them.
func (r *CronRunner) Stop(ctx context.Context) error {
	cronDone := r.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

func (r *CronRunner) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
	defer cancel()

	start := time.Now()
	logger := r.logger.With(zap.String("job", name))

	release, ok, err := r.locker.Acquire(ctx, "job:"+name, r.config.LeaseTTL)
	if err != nil {
		logger.Error("failed to acquire job lease", zap.Error(err))
		r.metrics.ObserveJob(name, "failure", time.Since(start))
		return
	}
	if !ok {
		logger.Info("job skipped: lease held by another replica")
		r.metrics.ObserveJob(name, "skipped", time.Since(start))
		return
	}
	defer release()

	logger.Info("job started")
	err = safeRun(ctx, job)
	d := time.Since(start)
	if err != nil {
		logger.Error("job failed", zap.Duration("duration", d), zap.Error(err))
		r.metrics.ObserveJob(name, "failure", d)
		return
	}
	logger.Info("job finished", zap.Duration("duration", d))
	r.metrics.ObserveJob(name, "success", d)
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return job(ctx)
}
