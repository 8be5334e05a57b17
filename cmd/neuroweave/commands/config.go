package commands

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Inspect the effective configuration.

Settings are layered: built-in defaults, then the config file
(--config or ~/.neuroweave/config.yaml), then NEUROWEAVE_* environment
variables.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration with the API key masked.

Example:
  NEUROWEAVE_LLM_PROVIDER=openai neuroweave config show --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		printVerbose("config file: %q", cfg.Path())
		return outputResult(cfg.Redacted())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if cfg.Path() == "" {
			return outputResult("(defaults)")
		}
		return outputResult(cfg.Path())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
