package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portaudit/internal/config"
)

const redacted = "<redacted>"

var configForce bool

// configCmd groups the configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, inspect and validate configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the default settings",
	Example: `  portaudit config init
  portaudit config init ~/.config/portaudit/portaudit.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFileName
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return usageError(fmt.Errorf("%s already exists, use --force to overwrite", path))
		}
		if err := config.Default().Save(path); err != nil {
			return failure(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after the config file, environment variables
and flags have been applied. The analysis API key is never printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.AnalysisAPIKey() != "" {
			cfg.Analysis.APIKey = redacted
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return failure(fmt.Errorf("failed to marshal config: %w", err))
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return usageError(fmt.Errorf("no config file found, pass a path or --config"))
		}
		if _, err := os.Stat(path); err != nil {
			return usageError(fmt.Errorf("config file %s: %w", path, err))
		}
		if _, err := config.Load(path); err != nil {
			return usageError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}
