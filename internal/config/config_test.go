package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anstrom/portaudit/internal/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scanning.Ports != "1-1000" {
		t.Errorf("Ports = %q, want %q", cfg.Scanning.Ports, "1-1000")
	}
	if cfg.Scanning.Concurrency != 100 {
		t.Errorf("Concurrency = %d, want 100", cfg.Scanning.Concurrency)
	}
	if cfg.Scanning.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", cfg.Scanning.Timeout)
	}
	if cfg.Scanning.MaxResourceErrors != 25 {
		t.Errorf("MaxResourceErrors = %d, want 25", cfg.Scanning.MaxResourceErrors)
	}
	if !cfg.Analysis.Enabled {
		t.Error("Analysis should be enabled by default")
	}
	if cfg.IsMonitorEnabled() {
		t.Error("Monitor should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "valid yaml config",
			path: func(t *testing.T) string {
				return writeConfig(t, "portaudit.yaml", `
scanning:
  ports: "20-25"
  concurrency: 8
  timeout: 250ms
  rate_limit: 50
report:
  output_dir: /tmp/reports
  format: json
analysis:
  enabled: false
`)
			},
			check: func(t *testing.T, c *Config) {
				if c.Scanning.Ports != "20-25" {
					t.Errorf("Ports = %q, want 20-25", c.Scanning.Ports)
				}
				if c.Scanning.Concurrency != 8 {
					t.Errorf("Concurrency = %d, want 8", c.Scanning.Concurrency)
				}
				if c.Scanning.Timeout != 250*time.Millisecond {
					t.Errorf("Timeout = %v, want 250ms", c.Scanning.Timeout)
				}
				if c.Report.Format != "json" {
					t.Errorf("Format = %q, want json", c.Report.Format)
				}
				if c.Analysis.Enabled {
					t.Error("Analysis should be disabled")
				}
				// Untouched sections keep their defaults.
				if c.Analysis.Model != "gemini-2.5-flash" {
					t.Errorf("Model = %q, want default", c.Analysis.Model)
				}
			},
		},
		{
			name: "valid json config",
			path: func(t *testing.T) string {
				return writeConfig(t, "portaudit.json", `{
					"scanning": {"concurrency": 4},
					"logging": {"level": "debug", "format": "json"}
				}`)
			},
			check: func(t *testing.T, c *Config) {
				if c.Scanning.Concurrency != 4 {
					t.Errorf("Concurrency = %d, want 4", c.Scanning.Concurrency)
				}
				if c.Logging.Level != "debug" {
					t.Errorf("Level = %q, want debug", c.Logging.Level)
				}
			},
		},
		{
			name: "nonexistent file returns defaults",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.yaml")
			},
			check: func(t *testing.T, c *Config) {
				if c.Scanning.Concurrency != 100 {
					t.Errorf("Concurrency = %d, want default 100", c.Scanning.Concurrency)
				}
			},
		},
		{
			name: "invalid yaml syntax",
			path: func(t *testing.T) string {
				return writeConfig(t, "bad.yaml", "scanning:\n  concurrency: [oops\n")
			},
			wantErr: true,
		},
		{
			name: "invalid values",
			path: func(t *testing.T) string {
				return writeConfig(t, "bad.yaml", "scanning:\n  concurrency: 0\n")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.path(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantErr  bool
		wantCode errors.ErrorCode
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{
			name:     "zero concurrency",
			mutate:   func(c *Config) { c.Scanning.Concurrency = 0 },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "zero timeout",
			mutate:   func(c *Config) { c.Scanning.Timeout = 0 },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "negative rate",
			mutate:   func(c *Config) { c.Scanning.RateLimit = -1 },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "empty port range",
			mutate:   func(c *Config) { c.Scanning.Ports = "" },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "unknown report format",
			mutate:   func(c *Config) { c.Report.Format = "pdf" },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "analysis enabled without model",
			mutate:   func(c *Config) { c.Analysis.Model = "" },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name: "analysis disabled without model",
			mutate: func(c *Config) {
				c.Analysis.Enabled = false
				c.Analysis.Model = ""
			},
		},
		{
			name: "monitor enabled without address",
			mutate: func(c *Config) {
				c.Monitor.Enabled = true
				c.Monitor.ListenAddr = ""
			},
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.IsCode(err, tt.wantCode) {
				t.Errorf("Validate() code = %s, want %s", errors.GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Scanning.Ports = "1-65535"
	cfg.Analysis.APIKey = "secret"

	path := filepath.Join(t.TempDir(), "nested", "portaudit.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != configFilePerm {
		t.Errorf("file mode = %v, want %v", info.Mode().Perm(), os.FileMode(configFilePerm))
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Scanning.Ports != "1-65535" {
		t.Errorf("Ports = %q, want 1-65535", loaded.Scanning.Ports)
	}
	if loaded.Analysis.APIKey != "secret" {
		t.Errorf("APIKey was not persisted")
	}
}

func TestAnalysisAPIKey(t *testing.T) {
	t.Run("config value wins", func(t *testing.T) {
		t.Setenv(EnvAnalysisAPIKey, "from-env")
		cfg := Default()
		cfg.Analysis.APIKey = "from-file"
		if got := cfg.AnalysisAPIKey(); got != "from-file" {
			t.Errorf("AnalysisAPIKey() = %q, want from-file", got)
		}
	})

	t.Run("portaudit env before gemini env", func(t *testing.T) {
		t.Setenv(EnvAnalysisAPIKey, "portaudit")
		t.Setenv(EnvGeminiAPIKey, "gemini")
		if got := Default().AnalysisAPIKey(); got != "portaudit" {
			t.Errorf("AnalysisAPIKey() = %q, want portaudit", got)
		}
	})

	t.Run("gemini env fallback", func(t *testing.T) {
		t.Setenv(EnvAnalysisAPIKey, "")
		t.Setenv(EnvGeminiAPIKey, "gemini")
		if got := Default().AnalysisAPIKey(); got != "gemini" {
			t.Errorf("AnalysisAPIKey() = %q, want gemini", got)
		}
	})
}

func TestRequireAnalysisCredentials(t *testing.T) {
	t.Setenv(EnvAnalysisAPIKey, "")
	t.Setenv(EnvGeminiAPIKey, "")

	cfg := Default()
	err := cfg.RequireAnalysisCredentials()
	if !errors.IsCode(err, errors.CodeCredentialsMissing) {
		t.Fatalf("expected CREDENTIALS_MISSING, got %v", err)
	}

	cfg.Analysis.Enabled = false
	if err := cfg.RequireAnalysisCredentials(); err != nil {
		t.Errorf("disabled analysis needs no key, got %v", err)
	}
}
