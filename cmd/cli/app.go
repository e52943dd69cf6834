package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/anstrom/portaudit/internal/analysis"
	"github.com/anstrom/portaudit/internal/api"
	"github.com/anstrom/portaudit/internal/audit"
	"github.com/anstrom/portaudit/internal/config"
	"github.com/anstrom/portaudit/internal/errors"
	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/report"
	"github.com/anstrom/portaudit/internal/scanning"
)

const resolveTimeout = 5 * time.Second

// app is one assembled audit pipeline: sink, gate, runner and the optional
// live monitor.
type app struct {
	cfg     *config.Config
	runner  *audit.Runner
	monitor *api.Server
	gate    *scanning.FixedResourceManager
}

// newApp validates cfg and wires the audit pipeline. The monitor, when
// enabled, is already listening when newApp returns.
func newApp(ctx context.Context, cfg *config.Config, console io.Writer, opts ...audit.Option) (*app, error) {
	ports, err := scanning.ParsePortRange(cfg.Scanning.Ports)
	if err != nil {
		return nil, usageError(err)
	}
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return nil, usageError(err)
	}

	sinkOpts := []report.Option{report.WithConsole(console)}
	if cfg.Analysis.Enabled {
		if err := cfg.RequireAnalysisCredentials(); err != nil {
			return nil, usageError(fmt.Errorf("%w (set %s or %s, or pass --no-analysis)",
				err, config.EnvAnalysisAPIKey, config.EnvGeminiAPIKey))
		}
		analyzer, err := analysis.NewGeminiAnalyzer(ctx, analysis.GeminiConfig{
			APIKey:  cfg.AnalysisAPIKey(),
			Model:   cfg.Analysis.Model,
			Timeout: cfg.Analysis.Timeout,
		})
		if err != nil {
			return nil, usageError(err)
		}
		sinkOpts = append(sinkOpts, report.WithAnalyzer(analyzer))
	}

	sink := report.NewSink(report.Config{
		OutputDir: cfg.Report.OutputDir,
		Format:    format,
	}, sinkOpts...)

	a := &app{
		cfg:  cfg,
		gate: scanning.NewFixedResourceManager(1),
	}

	runnerOpts := []audit.Option{
		audit.WithConsole(console),
		audit.WithResourceManager(a.gate),
	}

	if cfg.IsMonitorEnabled() {
		monitorConfig := api.DefaultConfig()
		monitorConfig.ListenAddr = cfg.Monitor.ListenAddr
		monitorConfig.AllowedOrigins = cfg.Monitor.AllowedOrigins
		if cfg.Monitor.ShutdownTimeout > 0 {
			monitorConfig.ShutdownTimeout = cfg.Monitor.ShutdownTimeout
		}

		a.monitor = api.New(monitorConfig, api.WithResourceManager(a.gate))
		// Only close stops the monitor, so the final events of an interrupted scan still go out.
		if err := a.monitor.Start(context.WithoutCancel(ctx)); err != nil {
			_ = a.gate.Close()
			return nil, failure(err)
		}
		fmt.Fprintf(console, "[*] Live monitor on http://%s\n", a.monitor.Addr())
		runnerOpts = append(runnerOpts, audit.WithObserver(a.monitor))
	}

	a.runner = audit.NewRunner(audit.Config{
		Scan: scanning.Config{
			Concurrency:       cfg.Scanning.Concurrency,
			Timeout:           cfg.Scanning.Timeout,
			RateLimit:         cfg.Scanning.RateLimit,
			MaxResourceErrors: cfg.Scanning.MaxResourceErrors,
		},
		Ports: ports,
	}, sink, append(runnerOpts, opts...)...)

	return a, nil
}

// close stops the monitor and releases the gate.
func (a *app) close() {
	if a.monitor != nil {
		if err := a.monitor.Stop(); err != nil {
			logging.Warn("Monitor shutdown failed", "error", err)
		}
	}
	_ = a.gate.Close()
}

// resolveTarget accepts an IP literal or a hostname that resolves.
func resolveTarget(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return usageError(errors.ErrInvalidTarget(target))
	}
	if net.ParseIP(target) != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, target)
	if err != nil || len(addrs) == 0 {
		logging.Debug("Target did not resolve", "target", target, "error", err)
		return usageError(errors.ErrInvalidTarget(target))
	}
	return nil
}
