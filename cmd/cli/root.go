// Package cli provides the command-line interface of portaudit.
// It implements the Cobra-based command tree: a one-shot scan, a scheduled
// watch mode, configuration helpers and version information.
package cli

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portaudit/internal/config"
	"github.com/anstrom/portaudit/internal/errors"
	"github.com/anstrom/portaudit/internal/logging"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1 // the audit ran but could not finish or persist its findings
	ExitUsage   = 2 // invalid flags, configuration or missing credentials
)

const (
	envPrefix      = "PORTAUDIT"
	configFileName = "portaudit.yaml"
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portaudit",
	Short: "Concurrent TCP port auditor",
	Long: `portaudit scans a single host for open TCP ports with a bounded pool of
concurrent connect probes and writes a timestamped security report, optionally
enriched by an AI analyst.

Interrupting a scan (Ctrl-C) keeps every port confirmed so far and still
writes the report.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: ExitUsage, err: err}
}

func failure(err error) error {
	return &exitError{code: ExitFailure, err: err}
}

// exitCode maps a command error onto a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code
	}
	switch errors.GetCode(err) {
	case errors.CodeConfiguration, errors.CodeValidation, errors.CodeCredentialsMissing,
		errors.CodeTargetInvalid, errors.CodePortRangeInvalid:
		return ExitUsage
	}
	return ExitFailure
}

// Execute runs the root command and returns the process exit code.
// This is called by main.main().
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portaudit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")

	bindFlag(rootCmd, "logging.level", "log-level")
	bindFlag(rootCmd, "logging.format", "log-format")
}

// bindFlag binds a persistent or local flag to a viper key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	if err := viper.BindPFlag(key, f); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
	}
}

// initConfig wires environment variables. The config file itself is parsed
// by the config package; viper only carries flag and environment overrides.
func initConfig() {
	// PORTAUDIT_SCANNING_CONCURRENCY overrides scanning.concurrency and so on.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path := configPath(); path != "" && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", path)
	}
}

// configPath returns the config file to load, empty when none was found.
// Without --config it looks for portaudit.yaml in the working directory and
// then in the user config directory.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	candidates := []string{configFileName}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "portaudit", configFileName))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// loadConfig reads the config file and applies environment and flag
// overrides on top of it. Precedence: flags, environment, file, defaults.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := configPath(); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, usageError(fmt.Errorf("config file %s: %w", path, err))
		}
		loaded, err := config.Load(path)
		if err != nil {
			return nil, usageError(err)
		}
		cfg = loaded
	}

	applyOverrides(cfg, viper.GetViper())
	if verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

// applyOverrides copies every key set through a flag or the environment into cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	str("scanning.ports", &cfg.Scanning.Ports)
	num("scanning.concurrency", &cfg.Scanning.Concurrency)
	if v.IsSet("scanning.timeout") {
		cfg.Scanning.Timeout = v.GetDuration("scanning.timeout")
	}
	num("scanning.rate_limit", &cfg.Scanning.RateLimit)
	num("scanning.max_resource_errors", &cfg.Scanning.MaxResourceErrors)

	str("report.output_dir", &cfg.Report.OutputDir)
	str("report.format", &cfg.Report.Format)

	if v.IsSet("analysis.enabled") {
		cfg.Analysis.Enabled = v.GetBool("analysis.enabled")
	}
	str("analysis.model", &cfg.Analysis.Model)
	str("analysis.api_key", &cfg.Analysis.APIKey)
	if v.IsSet("analysis.timeout") {
		cfg.Analysis.Timeout = v.GetDuration("analysis.timeout")
	}

	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
	str("logging.output", &cfg.Logging.Output)

	if v.IsSet("monitor.listen_addr") {
		cfg.Monitor.ListenAddr = v.GetString("monitor.listen_addr")
		cfg.Monitor.Enabled = cfg.Monitor.ListenAddr != ""
	}
	if v.IsSet("monitor.enabled") {
		cfg.Monitor.Enabled = v.GetBool("monitor.enabled")
	}

	str("schedule.expression", &cfg.Schedule.Expression)
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging from the flags, environment
// and config file.
func initLogging() error {
	cfg := config.Default()
	if path := configPath(); path != "" {
		if loaded, err := config.Load(path); err == nil {
			cfg = loaded
		}
	}
	applyOverrides(cfg, viper.GetViper())

	logConfig := logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.GetLogOutput(),
		AddSource: cfg.Logging.Level == string(logging.LevelDebug),
	}
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		return usageError(fmt.Errorf("failed to initialize logging: %w", err))
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
	return nil
}
