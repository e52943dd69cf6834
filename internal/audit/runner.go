// Package audit runs one complete port audit: scan a target, then hand the
// findings to the report sink.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/metrics"
	"github.com/anstrom/portaudit/internal/report"
	"github.com/anstrom/portaudit/internal/scanning"
)

// Observer is notified about the progress of every audit a Runner performs.
// Callbacks run on the scanning goroutine and must not block.
type Observer interface {
	ScanStarted(scanID, target string, ports scanning.PortRange)
	PortOpen(scanID string, port uint16)
	Progress(scanID string, probed, total int)
	ScanFinished(scanID string, result *scanning.ScanResult, status scanning.ScanStatus)
}

// Config holds the settings for every audit a Runner performs.
type Config struct {
	Scan  scanning.Config
	Ports scanning.PortRange
}

// Outcome is the result of one audit.
type Outcome struct {
	ScanID   string
	Result   *scanning.ScanResult
	Status   scanning.ScanStatus
	Delivery *report.Delivery
}

// Option customizes a Runner.
type Option func(*Runner)

// WithObserver registers an observer for scan events.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithConsole sets where human-readable progress is printed.
func WithConsole(w io.Writer) Option {
	return func(r *Runner) {
		r.console = w
	}
}

// WithDialer replaces the network dialer of the scan engine.
func WithDialer(dial scanning.DialFunc) Option {
	return func(r *Runner) {
		r.dial = dial
	}
}

// WithResourceManager sets the gate that keeps audits from overlapping.
func WithResourceManager(rm scanning.ResourceManager) Option {
	return func(r *Runner) {
		r.resources = rm
	}
}

// WithMetrics sets the Prometheus metrics handed to the scan engine.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// Runner performs audits one at a time.
type Runner struct {
	config    Config
	sink      *report.Sink
	observer  Observer
	console   io.Writer
	dial      scanning.DialFunc
	resources scanning.ResourceManager
	metrics   *metrics.PrometheusMetrics
	logger    *logging.Logger
}

// NewRunner creates an audit runner that delivers findings to sink.
func NewRunner(config Config, sink *report.Sink, opts ...Option) *Runner {
	r := &Runner{
		config:    config,
		sink:      sink,
		console:   os.Stdout,
		resources: scanning.NewFixedResourceManager(1),
		logger:    logging.Default().WithComponent("audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.GetGlobalMetrics()
	}
	return r
}

// Run audits target once. It returns scanning.ErrScanInProgress without scanning
// when another audit of this runner is still running. A scan that ends in
// an engine failure returns the outcome together with the engine error; an
// artifact write failure returns the outcome with the report error.
// Cancelling ctx interrupts the scan, which is not an error.
func (r *Runner) Run(ctx context.Context, target string) (*Outcome, error) {
	scanID := uuid.New().String()

	if err := r.resources.TryAcquire(scanID); err != nil {
		r.logger.Warn("Audit skipped", "target", target, "error", err)
		return nil, err
	}
	defer r.resources.Release(scanID)

	logger := r.logger.WithScanID(scanID).WithTarget(target)
	timer := metrics.NewTimer(metrics.MetricAuditDuration, metrics.Labels{metrics.LabelTarget: target})
	defer timer.Stop()

	r.printf("[*] Starting multi-threaded scan on %s (ports %s)...\n", target, r.config.Ports)
	logger.Info("Audit started", "ports", r.config.Ports.String(), "concurrency", r.config.Scan.Concurrency)
	if r.observer != nil {
		r.observer.ScanStarted(scanID, target, r.config.Ports)
	}

	engine := scanning.NewEngine(r.config.Scan, r.engineOptions(scanID)...)
	result, status := engine.Scan(ctx, target, r.config.Ports)

	if r.observer != nil {
		r.observer.ScanFinished(scanID, result, status)
	}

	switch status {
	case scanning.StatusInterrupted:
		r.printf("\n[*] Cancelling scan on %s: interrupted by user.\n", target)
	case scanning.StatusEngineFailure:
		r.printf("\n[X] Scan engine failure on %s: %v\n", target, result.Err)
		logger.ErrorScan("Scan engine failure", target, result.Err, "open_ports", len(result.Ports))
	}

	delivery, deliverErr := r.sink.Deliver(ctx, report.NewFindings(scanID, result, status))
	outcome := &Outcome{
		ScanID:   scanID,
		Result:   result,
		Status:   status,
		Delivery: delivery,
	}

	logger.Info("Audit finished",
		"status", status.String(),
		"open_ports", len(result.Ports),
		"probed", result.Probed,
		"duration", result.Duration(),
		"report", delivery.Path)

	if status == scanning.StatusEngineFailure {
		if deliverErr != nil {
			logger.Error("Report also failed after engine failure", "error", deliverErr)
		}
		return outcome, result.Err
	}
	return outcome, deliverErr
}

func (r *Runner) engineOptions(scanID string) []scanning.Option {
	opts := []scanning.Option{
		scanning.WithMetrics(r.metrics),
		scanning.WithLogger(logging.Default().WithComponent("engine").WithScanID(scanID)),
		scanning.WithOnOpen(func(port uint16) {
			r.printf("[+] Found open port: %d\n", port)
			if r.observer != nil {
				r.observer.PortOpen(scanID, port)
			}
		}),
	}
	if r.observer != nil {
		opts = append(opts, scanning.WithProgress(func(probed, total int) {
			r.observer.Progress(scanID, probed, total)
		}))
	}
	if r.dial != nil {
		opts = append(opts, scanning.WithDialer(r.dial))
	}
	return opts
}

func (r *Runner) printf(format string, args ...any) {
	if r.console == nil {
		return
	}
	_, _ = fmt.Fprintf(r.console, format, args...)
}
