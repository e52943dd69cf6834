package scanning

import (
	"context"
	"fmt"
	"time"

	"github.com/anstrom/portaudit/internal/errors"
	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/metrics"
	"github.com/anstrom/portaudit/internal/workers"
)

const probeJobType = "tcp_probe"

// Config holds scan engine settings.
type Config struct {
	// Concurrency is the maximum number of probes in flight.
	Concurrency int
	// Timeout bounds each connection attempt.
	Timeout time.Duration
	// RateLimit caps probe launches per second (0 = no limit).
	RateLimit int
	// MaxResourceErrors aborts the scan once this many probes failed on
	// local resource exhaustion (0 = never abort).
	MaxResourceErrors int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:       DefaultConcurrency,
		Timeout:           DefaultTimeout,
		MaxResourceErrors: DefaultMaxResourceErrors,
	}
}

// Validate checks that the configuration can drive a scan.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return &ScanError{Op: "validate config", Err: fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)}
	}
	if c.Timeout <= 0 {
		return &ScanError{Op: "validate config", Err: fmt.Errorf("timeout must be positive, got %s", c.Timeout)}
	}
	if c.RateLimit < 0 {
		return &ScanError{Op: "validate config", Err: fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit)}
	}
	if c.MaxResourceErrors < 0 {
		return &ScanError{
			Op:  "validate config",
			Err: fmt.Errorf("max resource errors must not be negative, got %d", c.MaxResourceErrors),
		}
	}
	return nil
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDialer replaces the network dialer used by probes.
func WithDialer(dial DialFunc) Option {
	return func(e *Engine) {
		e.prober = NewProber(dial)
	}
}

// WithOnOpen registers a callback invoked once per newly confirmed open port.
// It runs on the engine's collecting goroutine and must not block.
func WithOnOpen(fn func(port uint16)) Option {
	return func(e *Engine) {
		e.onOpen = fn
	}
}

// WithProgress registers a callback invoked after every consumed probe result.
func WithProgress(fn func(probed, total int)) Option {
	return func(e *Engine) {
		e.onProgress = fn
	}
}

// WithMetrics sets the Prometheus metrics the engine reports to.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine scans one target's port range with bounded parallelism.
type Engine struct {
	config     Config
	prober     *Prober
	onOpen     func(port uint16)
	onProgress func(probed, total int)
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
}

// NewEngine creates a scan engine.
func NewEngine(config Config, opts ...Option) *Engine {
	e := &Engine{
		config: config,
		prober: NewProber(nil),
		logger: logging.Default().WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.GetGlobalMetrics()
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Scan probes every port of ports on target and returns the confirmed open
// ports with the terminal status. When ctx is cancelled Scan returns at once
// with the ports confirmed so far, including results already waiting to be
// consumed; in-flight probes are abandoned.
func (e *Engine) Scan(ctx context.Context, target string, ports PortRange) (*ScanResult, ScanStatus) {
	result := &ScanResult{
		Target:    target,
		Range:     ports,
		StartedAt: time.Now(),
	}
	agg := NewAggregator()
	logger := e.logger.WithTarget(target)

	e.metrics.ScanStarted()
	finish := func(status ScanStatus, err error) (*ScanResult, ScanStatus) {
		result.Ports = agg.Snapshot()
		result.FinishedAt = time.Now()
		result.Err = err
		e.metrics.ScanFinished(status.String(), result.Duration())
		return result, status
	}

	pool, err := e.startPool(target, ports)
	if err != nil {
		logger.Error("Scan engine failed to start", "ports", ports.String(), "error", err)
		return finish(StatusEngineFailure, errors.ErrEngineFailure(target, err))
	}
	defer pool.Stop()

	feedCtx, stopFeeding := context.WithCancel(ctx)
	defer stopFeeding()
	go e.feed(feedCtx, pool, target, ports)

	logger.Info("Scan started",
		"ports", ports.String(),
		"concurrency", e.config.Concurrency,
		"timeout", e.config.Timeout)

	total := ports.Size()
	resourceErrors := 0

	// consume records one probe result. It returns a non-nil error once
	// resource exhaustion crosses the configured limit.
	consume := func(r workers.Result[ProbeDetail]) error {
		result.Probed++
		detail := r.Value
		if r.Error != nil {
			logger.Debug("Probe job failed", "job_id", r.JobID, "error", r.Error)
			detail.Outcome = OutcomeError
		}

		switch detail.Outcome {
		case OutcomeOpen:
			if !ports.Contains(detail.Port) {
				logger.Warn("Ignoring open port outside the scan range", "port", detail.Port)
				break
			}
			if agg.Record(detail.Port) {
				e.metrics.IncrementOpenPorts()
				logger.Debug("Open port found", "port", detail.Port, "rtt", detail.RTT)
				if e.onOpen != nil {
					e.onOpen(detail.Port)
				}
			}
		case OutcomeError:
			logger.Debug("Probe error", "port", detail.Port, "error", detail.Err)
			if detail.ResourceExhausted {
				resourceErrors++
				if e.config.MaxResourceErrors > 0 && resourceErrors >= e.config.MaxResourceErrors {
					return fmt.Errorf("%d probes failed on local resource exhaustion: %w",
						resourceErrors, detail.Err)
				}
			}
		default:
			logger.Debug("Probe finished", "port", detail.Port, "outcome", detail.Outcome.String())
		}

		if e.onProgress != nil {
			e.onProgress(result.Probed, total)
		}
		return nil
	}

	for {
		if ctx.Err() != nil {
			// Results already delivered are confirmed findings; in-flight
			// probes are abandoned.
			drainResults(pool, consume)
			logger.Info("Scan interrupted", "probed", result.Probed, "total", total, "open_ports", agg.Len())
			return finish(StatusInterrupted, nil)
		}

		select {
		case <-ctx.Done():
			continue

		case r, ok := <-pool.Results():
			if !ok {
				if ctx.Err() != nil {
					continue
				}
				logger.Info("Scan completed", "probed", result.Probed, "open_ports", agg.Len())
				return finish(StatusCompleted, nil)
			}

			if cause := consume(r); cause != nil {
				logger.Error("Scan aborted", "probed", result.Probed, "open_ports", agg.Len(), "error", cause)
				return finish(StatusEngineFailure, errors.ErrEngineFailure(target, cause))
			}
		}
	}
}

// drainResults consumes the results buffered at the moment of the call without
// waiting for more. The scan is already interrupted, so resource exhaustion
// no longer changes its status.
func drainResults(pool *workers.Pool[ProbeDetail], consume func(workers.Result[ProbeDetail]) error) {
	for pending := len(pool.Results()); pending > 0; pending-- {
		select {
		case r, ok := <-pool.Results():
			if !ok {
				return
			}
			_ = consume(r)
		default:
			return
		}
	}
}

// startPool validates the request and starts a worker pool sized for it.
func (e *Engine) startPool(target string, ports PortRange) (*workers.Pool[ProbeDetail], error) {
	if target == "" {
		return nil, &ScanError{Op: "validate target", Err: fmt.Errorf("no target specified")}
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if err := ports.Validate(); err != nil {
		return nil, err
	}

	size := e.config.Concurrency
	if n := ports.Size(); n < size {
		size = n
	}

	pool, err := workers.New[ProbeDetail](workers.Config{
		Size:            size,
		QueueSize:       size,
		MaxRetries:      0,
		ShutdownTimeout: e.config.Timeout,
		RateLimit:       e.config.RateLimit,
	})
	if err != nil {
		return nil, &ScanError{Op: "create worker pool", Host: target, Err: err}
	}
	if err := pool.Start(); err != nil {
		return nil, &ScanError{Op: "start worker pool", Host: target, Err: err}
	}
	return pool, nil
}

// feed submits one probe per port, blocking while the pool is saturated.
func (e *Engine) feed(ctx context.Context, pool *workers.Pool[ProbeDetail], target string, ports PortRange) {
	defer pool.CloseInput()

	// int loop so End=65535 terminates.
	for port := int(ports.Start); port <= int(ports.End); port++ {
		if err := pool.Submit(ctx, e.probeJob(target, uint16(port))); err != nil {
			return
		}
	}
}

func (e *Engine) probeJob(target string, port uint16) workers.Job[ProbeDetail] {
	id := fmt.Sprintf("%s:%d", target, port)
	return workers.NewFuncJob(id, probeJobType, func(ctx context.Context) (ProbeDetail, error) {
		e.metrics.ProbeStarted()
		outcome := OutcomeError
		defer func() {
			e.metrics.ProbeFinished(outcome.String())
		}()

		detail := e.prober.ProbeDetail(ctx, target, port, e.config.Timeout)
		outcome = detail.Outcome
		return detail, nil
	})
}
