package cli

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portaudit/internal/config"
	"github.com/anstrom/portaudit/internal/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage error", usageError(stderrors.New("bad flag")), ExitUsage},
		{"failure", failure(stderrors.New("disk full")), ExitFailure},
		{"wrapped usage error", fmt.Errorf("scan: %w", usageError(stderrors.New("x"))), ExitUsage},
		{"invalid target", errors.ErrInvalidTarget("nowhere"), ExitUsage},
		{"invalid port range", errors.ErrInvalidPortRange("0-10"), ExitUsage},
		{"missing credentials", errors.ErrCredentialsMissing("analysis.api_key"), ExitUsage},
		{"engine failure", errors.ErrEngineFailure("10.0.0.1", stderrors.New("too many open files")), ExitFailure},
		{"plain error", stderrors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Run("unset keys keep the file values", func(t *testing.T) {
		cfg := config.Default()
		cfg.Scanning.Ports = "1-100"

		applyOverrides(cfg, viper.New())

		assert.Equal(t, "1-100", cfg.Scanning.Ports)
		assert.Equal(t, config.Default().Scanning.Concurrency, cfg.Scanning.Concurrency)
		assert.False(t, cfg.Monitor.Enabled)
	})

	t.Run("set keys win", func(t *testing.T) {
		v := viper.New()
		v.Set("scanning.ports", "1-65535")
		v.Set("scanning.concurrency", 500)
		v.Set("scanning.timeout", "250ms")
		v.Set("scanning.rate_limit", 1000)
		v.Set("report.output_dir", "/tmp/reports")
		v.Set("report.format", "json")
		v.Set("analysis.enabled", false)
		v.Set("analysis.model", "gemini-2.5-pro")
		v.Set("logging.level", "debug")
		v.Set("schedule.expression", "@every 5m")

		cfg := config.Default()
		applyOverrides(cfg, v)

		assert.Equal(t, "1-65535", cfg.Scanning.Ports)
		assert.Equal(t, 500, cfg.Scanning.Concurrency)
		assert.Equal(t, 250*time.Millisecond, cfg.Scanning.Timeout)
		assert.Equal(t, 1000, cfg.Scanning.RateLimit)
		assert.Equal(t, "/tmp/reports", cfg.Report.OutputDir)
		assert.Equal(t, "json", cfg.Report.Format)
		assert.False(t, cfg.Analysis.Enabled)
		assert.Equal(t, "gemini-2.5-pro", cfg.Analysis.Model)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "@every 5m", cfg.Schedule.Expression)
	})

	t.Run("listen address enables the monitor", func(t *testing.T) {
		v := viper.New()
		v.Set("monitor.listen_addr", "127.0.0.1:9191")

		cfg := config.Default()
		applyOverrides(cfg, v)

		assert.True(t, cfg.Monitor.Enabled)
		assert.Equal(t, "127.0.0.1:9191", cfg.Monitor.ListenAddr)
		assert.True(t, cfg.IsMonitorEnabled())
	})
}

func TestConfigPath(t *testing.T) {
	defer func(old string) { cfgFile = old }(cfgFile)

	cfgFile = "/etc/portaudit/custom.yaml"
	assert.Equal(t, "/etc/portaudit/custom.yaml", configPath())

	cfgFile = ""
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	assert.Empty(t, configPath())

	require.NoError(t, os.WriteFile(configFileName, []byte("scanning:\n  ports: \"1-10\"\n"), 0600))
	assert.Equal(t, configFileName, configPath())
}

func TestLoadConfig(t *testing.T) {
	defer func(old string) { cfgFile = old }(cfgFile)

	t.Run("reads the file", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "portaudit.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte("scanning:\n  ports: \"20-30\"\n"), 0600))

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "20-30", cfg.Scanning.Ports)
	})

	t.Run("missing explicit file is a usage error", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "absent.yaml")

		_, err := loadConfig()
		require.Error(t, err)
		assert.Equal(t, ExitUsage, exitCode(err))
	})

	t.Run("invalid file is a usage error", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "portaudit.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte("scanning:\n  concurrency: 0\n"), 0600))

		_, err := loadConfig()
		require.Error(t, err)
		assert.Equal(t, ExitUsage, exitCode(err))
	})
}

func TestSetVersion(t *testing.T) {
	defer SetVersion(version, commit, buildTime)

	SetVersion("1.2.3", "abc123", "2026-01-01")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-01-01)", rootCmd.Version)
}
