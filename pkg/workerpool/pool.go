// Package workerpool provides a bounded worker pool for controlled concurrency.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload any
	Context context.Context
}

// Result represents the outcome of task processing
type Result struct {
	TaskID  string
	Success bool
	Error   error
	Data    any
}

// WorkerFunc is the function signature for task processing
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the number of extra attempts for a failed task
	MaxRetries int
	// RetryDelay is the base delay between retries; attempt n waits n*RetryDelay
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds how long Stop waits for workers
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for batch jobs.
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               1024,
		MaxRetries:              0,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("pool is shutting down")

// ErrQueueFull is returned by Submit when the queue has no free slot.
var ErrQueueFull = errors.New("task queue is full")

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
	queueDepth     int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		resultChan: make(chan *Result, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a task to the queue without blocking.
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	default:
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Results returns the result channel. It is closed by Stop.
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// Stop drains queued tasks and shuts the pool down.
func (p *Pool) Stop() error {
	p.cancel()
	close(p.taskChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(p.resultChan)
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
	}

	p.logger.Debug("worker pool stopped")
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for task := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.processTask(id, task)
	}
}

func (p *Pool) processTask(workerID int, task *Task) {
	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}

	result := p.execute(ctx, task)
	if result.TaskID == "" {
		result.TaskID = task.ID
	}

	if result.Success {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Debug("task failed",
			zap.String("task_id", task.ID),
			zap.Int("worker_id", workerID),
			zap.Error(result.Error))
	}

	select {
	case p.resultChan <- result:
	default:
		p.logger.Warn("result channel full, dropping result",
			zap.String("task_id", task.ID))
	}
}

// execute runs the task, retrying failures up to MaxRetries times.
func (p *Pool) execute(ctx context.Context, task *Task) *Result {
	var last *Result
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Result{TaskID: task.ID, Error: err}
		}

		last = p.call(ctx, task)
		if last == nil {
			last = &Result{TaskID: task.ID, Error: errors.New("worker returned no result")}
		}
		if last.Success || attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		select {
		case <-ctx.Done():
			return &Result{TaskID: task.ID, Error: ctx.Err()}
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if !last.Success && p.config.MaxRetries > 0 {
		last.Error = fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, last.Error)
	}
	return last
}

func (p *Pool) call(ctx context.Context, task *Task) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = &Result{TaskID: task.ID, Error: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return p.workerFunc(ctx, task)
}

// Run processes a fixed set of tasks on a temporary pool and returns every
// result, in completion order. Tasks without a context inherit ctx.
func Run(ctx context.Context, cfg Config, fn WorkerFunc, tasks []*Task, logger *zap.Logger) ([]*Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	cfg.QueueSize = len(tasks)
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	cfg.Workers = min(cfg.Workers, len(tasks))

	pool, err := New(cfg, fn, logger)
	if err != nil {
		return nil, err
	}
	pool.Start()

	for _, t := range tasks {
		if t.Context == nil {
			t.Context = ctx
		}
		if err := pool.Submit(t); err != nil {
			_ = pool.Stop()
			return nil, fmt.Errorf("submit task %s: %w", t.ID, err)
		}
	}

	results := make([]*Result, 0, len(tasks))
	for len(results) < len(tasks) {
		results = append(results, <-pool.Results())
	}

	st := pool.Stats()
	pool.logger.Debug("pool drained",
		zap.Int64("completed", st.TasksCompleted),
		zap.Int64("failed", st.TasksFailed),
		zap.Int64("retried", st.TasksRetried))
	return results, pool.Stop()
}

// Stats holds pool counters.
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int64
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}
