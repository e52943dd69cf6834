package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/anstrom/portaudit/internal/audit"
	"github.com/anstrom/portaudit/internal/config"
	"github.com/anstrom/portaudit/internal/logging"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [target]",
	Short: "Audit one host for open TCP ports",
	Long: `Scan a single host for open TCP ports and write a timestamped report.

The target is an IP address or a hostname, given either as the first
argument or with --target. Open ports are reported as soon as they are
confirmed. When the scan finds open ports, a report is written to the
output directory, enriched by the configured AI analyst unless
--no-analysis is given.`,
	Example: `  portaudit scan 192.168.1.10
  portaudit scan --target scanme.example.com --ports 1-65535 --concurrency 500
  portaudit scan 10.0.0.5 --no-analysis --format json --output-dir ./reports
  portaudit scan 10.0.0.5 --listen 127.0.0.1:9090`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addAuditFlags(scanCmd.Flags())
}

// addAuditFlags registers the flags shared by scan and watch.
func addAuditFlags(flags *pflag.FlagSet) {
	flags.StringP("target", "t", "", "IP address or hostname to audit")
	flags.StringP("ports", "p", "", "port range to probe, e.g. '1-1000' or '443' (default 1-1000)")
	flags.IntP("concurrency", "c", 0, "maximum number of probes in flight (default 100)")
	flags.Duration("timeout", 0, "per-probe connect timeout (default 1s)")
	flags.Int("rate", 0, "probe launches per second, 0 for unlimited")
	flags.Int("max-resource-errors", 0, "socket exhaustion errors tolerated before aborting (default 25)")
	flags.StringP("output-dir", "o", "", "directory for report artifacts (default .)")
	flags.StringP("format", "f", "", "report format: markdown, json (default markdown)")
	flags.Bool("no-analysis", false, "skip AI analysis; the report carries the raw findings only")
	flags.String("model", "", "analysis model name")
	flags.String("listen", "", "serve the live monitor on this address, e.g. 127.0.0.1:9090")
}

// bindAuditFlags binds the audit flags of cmd to their config keys. Binding
// happens when the command runs because scan and watch share the keys.
func bindAuditFlags(cmd *cobra.Command) {
	bindFlag(cmd, "scanning.ports", "ports")
	bindFlag(cmd, "scanning.concurrency", "concurrency")
	bindFlag(cmd, "scanning.timeout", "timeout")
	bindFlag(cmd, "scanning.rate_limit", "rate")
	bindFlag(cmd, "scanning.max_resource_errors", "max-resource-errors")
	bindFlag(cmd, "report.output_dir", "output-dir")
	bindFlag(cmd, "report.format", "format")
	bindFlag(cmd, "analysis.model", "model")
	bindFlag(cmd, "monitor.listen_addr", "listen")
}

// auditSetup loads the configuration for an audit command and picks the target.
func auditSetup(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	bindAuditFlags(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if noAnalysis, _ := cmd.Flags().GetBool("no-analysis"); noAnalysis {
		cfg.Analysis.Enabled = false
	}

	target, _ := cmd.Flags().GetString("target")
	if len(args) > 0 {
		if target != "" && target != args[0] {
			return nil, "", usageError(fmt.Errorf("target given twice: %q and %q", args[0], target))
		}
		target = args[0]
	}
	if target == "" {
		return nil, "", usageError(fmt.Errorf("a target is required, pass it as an argument or with --target"))
	}
	return cfg, target, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, target, err := auditSetup(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeScan(ctx, cfg, target, cmd.OutOrStdout())
}

// executeScan audits target once. Interrupting ctx stops the scan early; the
// findings gathered so far are still delivered and the command succeeds.
func executeScan(ctx context.Context, cfg *config.Config, target string, out io.Writer, opts ...audit.Option) error {
	if err := resolveTarget(ctx, target); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, out, opts...)
	if err != nil {
		return err
	}
	defer a.close()

	outcome, err := a.runner.Run(ctx, target)
	if err != nil {
		return failure(err)
	}

	logging.Info("Scan complete",
		"target", target,
		"status", outcome.Status.String(),
		"open_ports", len(outcome.Result.Ports),
		"report", outcome.Delivery.Path)
	return nil
}
