package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/portaudit/internal/audit"
	"github.com/anstrom/portaudit/internal/config"
	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/scanning"
	"github.com/anstrom/portaudit/internal/scheduler"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [target]",
	Short: "Audit one host repeatedly on a cron schedule",
	Long: `Audit a host again and again on a cron schedule, writing a new report
whenever open ports are found. Every tick runs an independent audit; a
tick that arrives while the previous audit is still running is skipped.

The schedule accepts five-field cron expressions ("0 3 * * *") and
descriptors such as "@hourly" or "@every 30m". Stop with Ctrl-C.`,
	Example: `  portaudit watch 192.168.1.10 --schedule "@every 1h"
  portaudit watch 10.0.0.5 --schedule "0 3 * * *" --now --no-analysis
  portaudit watch 10.0.0.5 --listen 127.0.0.1:9090`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addAuditFlags(watchCmd.Flags())

	watchCmd.Flags().StringP("schedule", "s", "", "cron expression or descriptor (default \"@every 1h\")")
	watchCmd.Flags().Bool("now", false, "run the first audit immediately instead of waiting for the first tick")
}

func runWatch(cmd *cobra.Command, args []string) error {
	bindFlag(cmd, "schedule.expression", "schedule")

	cfg, target, err := auditSetup(cmd, args)
	if err != nil {
		return err
	}
	runNow, _ := cmd.Flags().GetBool("now")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeWatch(ctx, cfg, target, runNow, cmd.OutOrStdout())
}

// executeWatch audits target on the configured schedule until ctx ends.
func executeWatch(ctx context.Context, cfg *config.Config, target string, runNow bool, out io.Writer,
	opts ...audit.Option) error {
	if err := scheduler.ValidateExpression(cfg.Schedule.Expression); err != nil {
		return usageError(err)
	}
	if err := resolveTarget(ctx, target); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, out, opts...)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.NewScheduler(a.runner)
	id, err := sched.AddAuditJob(target, cfg.Schedule.Expression)
	if err != nil {
		return usageError(err)
	}
	if err := sched.Start(); err != nil {
		return failure(err)
	}

	job, _ := sched.GetJob(id)
	fmt.Fprintf(out, "[*] Watching %s on schedule %q, next audit at %s. Press Ctrl-C to stop.\n",
		target, job.Expression, job.NextRun.Format("2006-01-02 15:04:05"))

	if runNow {
		go func() {
			err := sched.TriggerJob(id)
			if err != nil && !errors.Is(err, scheduler.ErrJobRunning) && !errors.Is(err, scanning.ErrScanInProgress) {
				logging.Warn("Immediate audit failed", "target", target, "error", err)
			}
		}()
	}

	<-ctx.Done()
	fmt.Fprintln(out, "\n[*] Stopping watch...")

	sched.Stop()
	job, _ = sched.GetJob(id)
	logging.Info("Watch stopped", "target", target, "runs", job.Runs, "skipped", job.Skipped,
		"last_status", job.LastStatus)
	return nil
}
