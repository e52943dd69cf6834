// Package config loads, validates and persists the portaudit configuration file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portaudit/internal/errors"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	// Environment variables consulted for the analysis API key, in order.
	EnvAnalysisAPIKey = "PORTAUDIT_ANALYSIS_API_KEY"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
)

// Config represents the complete portaudit configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Report artifact configuration
	Report ReportConfig `yaml:"report" json:"report"`

	// External analysis service configuration
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Live monitor configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Repeated audit configuration for the watch command
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// ScanningConfig holds scan engine settings
type ScanningConfig struct {
	// Port range, "start-end" or a single port
	Ports string `yaml:"ports" json:"ports" validate:"required,max=32"`

	// Maximum number of probes in flight
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1,max=10000"`

	// Per-probe connect timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=1ms,max=1m"`

	// Probe launches per second, 0 disables rate limiting
	RateLimit int `yaml:"rate_limit" json:"rate_limit" validate:"min=0,max=1000000"`

	// Resource exhaustion errors tolerated before the scan aborts, 0 disables
	MaxResourceErrors int `yaml:"max_resource_errors" json:"max_resource_errors" validate:"min=0"`
}

// ReportConfig holds report artifact settings
type ReportConfig struct {
	// Directory the artifact is written to
	OutputDir string `yaml:"output_dir" json:"output_dir" validate:"required"`

	// Artifact format (markdown, json)
	Format string `yaml:"format" json:"format" validate:"oneof=markdown json"`
}

// AnalysisConfig holds settings for the external analysis service
type AnalysisConfig struct {
	// Enable AI enrichment of the report
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Model name passed to the service
	Model string `yaml:"model" json:"model" validate:"required_if=Enabled true,max=128"`

	// API key, usually supplied through the environment instead
	APIKey string `yaml:"api_key" json:"-"`

	// Request timeout for one analysis call
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// MonitorConfig holds live monitor settings
type MonitorConfig struct {
	// Enable the monitor HTTP server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address, host:port
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`

	// Allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

// ScheduleConfig holds the watch command schedule
type ScheduleConfig struct {
	// Cron expression or descriptor such as "@every 1h"
	Expression string `yaml:"expression" json:"expression"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Ports:             "1-1000",
			Concurrency:       100,
			Timeout:           time.Second,
			RateLimit:         0,
			MaxResourceErrors: 25,
		},
		Report: ReportConfig{
			OutputDir: ".",
			Format:    "markdown",
		},
		Analysis: AnalysisConfig{
			Enabled: true,
			Model:   "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Monitor: MonitorConfig{
			Enabled:         false,
			ListenAddr:      "127.0.0.1:9090",
			ShutdownTimeout: 5 * time.Second,
		},
		Schedule: ScheduleConfig{
			Expression: "@every 1h",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// YAML is a superset of JSON, so .json files go through the same decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return errors.ErrConfigInvalid(first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "configuration validation failed", err)
	}

	return nil
}

// AnalysisAPIKey returns the configured analysis API key, falling back to the
// environment.
func (c *Config) AnalysisAPIKey() string {
	if c.Analysis.APIKey != "" {
		return c.Analysis.APIKey
	}
	if key := os.Getenv(EnvAnalysisAPIKey); key != "" {
		return key
	}
	return os.Getenv(EnvGeminiAPIKey)
}

// RequireAnalysisCredentials fails when analysis is enabled without an API key.
func (c *Config) RequireAnalysisCredentials() error {
	if c.Analysis.Enabled && c.AnalysisAPIKey() == "" {
		return errors.ErrCredentialsMissing("analysis.api_key")
	}
	return nil
}

// IsMonitorEnabled returns true if the live monitor should be started
func (c *Config) IsMonitorEnabled() bool {
	return c.Monitor.Enabled && c.Monitor.ListenAddr != ""
}

// GetLogOutput returns the log output destination
func (c *Config) GetLogOutput() string {
	return c.Logging.Output
}
