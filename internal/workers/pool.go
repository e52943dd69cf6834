// Package workers provides a bounded worker pool for concurrent operations
// in portaudit. A fixed number of goroutines pull jobs from a bounded queue,
// so submission blocks once every worker is busy and the queue is full.
// Completions stream back over a single result channel in whatever order
// they finish.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/metrics"
)

var (
	// ErrInvalidConfig is returned by New for unusable pool settings.
	ErrInvalidConfig = errors.New("invalid worker pool configuration")
	// ErrPoolClosed is returned when submitting to a stopped pool.
	ErrPoolClosed = errors.New("worker pool is shut down")
	// ErrPoolNotStarted is returned when submitting before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted is returned by a second call to Start.
	ErrPoolStarted = errors.New("worker pool already started")
	// ErrJobPanicked wraps a panic recovered from a job.
	ErrJobPanicked = errors.New("job panicked")
	// ErrShutdownTimeout is returned when workers outlive ShutdownTimeout.
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
)

// Job represents a unit of work to be executed by a worker.
type Job[T any] interface {
	// Execute performs the job and returns its value or an error.
	Execute(ctx context.Context) (T, error)
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result[T any] struct {
	JobID    string
	JobType  string
	Value    T
	Error    error
	Duration time.Duration
	Retries  int
	WorkerID int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout is the maximum time Shutdown waits for workers.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of job starts per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       100,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       0,
	}
}

// Validate checks that the configuration can back a running pool.
func (c Config) Validate() error {
	switch {
	case c.Size < 1:
		return fmt.Errorf("%w: size must be at least 1, got %d", ErrInvalidConfig, c.Size)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue size must not be negative, got %d", ErrInvalidConfig, c.QueueSize)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidConfig, c.MaxRetries)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative, got %d", ErrInvalidConfig, c.RateLimit)
	}
	return nil
}

// Pool manages a fixed set of worker goroutines for concurrent job execution.
type Pool[T any] struct {
	config    Config
	jobs      chan Job[T]
	results   chan Result[T]
	limiter   *rate.Limiter
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	stopped   atomic.Bool
	inputOnce sync.Once
	logger    *logging.Logger
}

// New creates a new worker pool with the given configuration.
func New[T any](config Config) (*Pool[T], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool[T]{
		config:  config,
		jobs:    make(chan Job[T], config.QueueSize),
		results: make(chan Result[T], config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logging.Default().WithComponent("workers"),
	}

	if config.RateLimit > 0 {
		pool.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return pool, nil
}

// Start launches the worker goroutines.
func (p *Pool[T]) Start() error {
	if p.stopped.Load() {
		return ErrPoolClosed
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrPoolStarted
	}

	p.logger.Debug("Starting worker pool",
		"worker_count", p.config.Size,
		"queue_size", p.config.QueueSize,
		"rate_limit", p.config.RateLimit)

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	// Results close once every worker has exited, so consumers may range.
	go func() {
		p.wg.Wait()
		close(p.results)
		close(p.done)
	}()

	metrics.Gauge("worker_pool_size", float64(p.config.Size), metrics.Labels{
		"component": "workers",
	})
	return nil
}

// Submit enqueues a job, blocking while the queue is full. It returns early
// when ctx is done or the pool is stopped.
func (p *Pool[T]) Submit(ctx context.Context, job Job[T]) error {
	if p.stopped.Load() {
		return ErrPoolClosed
	}
	if !p.started.Load() {
		return ErrPoolNotStarted
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// CloseInput marks the end of submissions. Workers exit once the queue is
// drained, after which Results is closed. It must be called by the
// submitting goroutine after its last Submit.
func (p *Pool[T]) CloseInput() {
	p.inputOnce.Do(func() {
		close(p.jobs)
	})
}

// Results returns a channel for receiving job results.
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.results
}

// Done is closed once every worker has exited.
func (p *Pool[T]) Done() <-chan struct{} {
	return p.done
}

// Stop signals all workers to stop and returns without waiting for them.
// In-flight jobs observe cancellation through their context; queued jobs
// are abandoned.
func (p *Pool[T]) Stop() {
	if p.stopped.CompareAndSwap(false, true) {
		p.logger.Debug("Stopping worker pool")
		p.cancel()
	}
}

// Shutdown stops the pool and waits up to ShutdownTimeout for workers to exit.
func (p *Pool[T]) Shutdown() error {
	p.Stop()

	if !p.started.Load() {
		return nil
	}

	timeout := p.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		p.logger.Warn("Worker pool shutdown timeout, abandoning workers", "timeout", timeout)
		return ErrShutdownTimeout
	}
}

// worker pulls jobs until the queue closes or the pool stops.
func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if !p.process(id, job) {
				return
			}
		}
	}
}

// process runs one job with retries and delivers exactly one result.
// It reports false when the pool stopped before the result was delivered.
func (p *Pool[T]) process(workerID int, job Job[T]) bool {
	if p.ctx.Err() != nil {
		return false
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return false
		}
	}

	result := Result[T]{
		JobID:    job.ID(),
		JobType:  job.Type(),
		WorkerID: workerID,
	}

	start := time.Now()
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		result.Retries = attempt
		result.Value, result.Error = p.execute(job)
		if result.Error == nil || errors.Is(result.Error, ErrJobPanicked) {
			break
		}
		if attempt < p.config.MaxRetries {
			select {
			case <-time.After(p.config.RetryDelay):
			case <-p.ctx.Done():
				return false
			}
		}
	}
	result.Duration = time.Since(start)

	status := "success"
	if result.Error != nil {
		status = "error"
		p.logger.Debug("Job failed",
			"job_id", result.JobID,
			"job_type", result.JobType,
			"retries", result.Retries,
			"error", result.Error,
			"worker_id", workerID)
	}
	metrics.Counter("jobs_completed_total", metrics.Labels{
		"job_type": result.JobType,
		"status":   status,
	})

	select {
	case p.results <- result:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// execute runs the job, converting a panic into an ErrJobPanicked error.
func (p *Pool[T]) execute(job Job[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, job.ID(), r)
		}
	}()
	return job.Execute(p.ctx)
}

// FuncJob adapts a function to the Job interface.
type FuncJob[T any] struct {
	id      string
	jobType string
	fn      func(ctx context.Context) (T, error)
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob[T any](id, jobType string, fn func(ctx context.Context) (T, error)) *FuncJob[T] {
	return &FuncJob[T]{
		id:      id,
		jobType: jobType,
		fn:      fn,
	}
}

// Execute implements the Job interface.
func (j *FuncJob[T]) Execute(ctx context.Context) (T, error) {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob[T]) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob[T]) Type() string {
	return j.jobType
}
