package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/previewkit/internal/config"
)

var (
	configFormat outputFormat
	configFile   string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect previewkit configuration",
	Long: `Show or validate the configuration previewkit runs with. The effective
configuration merges defaults, .previewkit.yml, PREVIEWKIT_* environment
variables and flags.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the configuration after defaults, files, environment variables and
flags have been applied.

Examples:
  previewkit config show
  previewkit config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file on its own, apply defaults and report the first
problem found.

Examples:
  previewkit config validate
  previewkit config validate --file configs/dev.yml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configFormat = formatYAML
	configShowCmd.Flags().VarP(&configFormat, "output", "o", "Output format (yaml|json)")
	configValidateCmd.Flags().StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: .previewkit.yml)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if configFormat == formatTable {
		configFormat = formatYAML
	}
	return writeStructured(cmd.OutOrStdout(), configFormat, cfg)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	target := configFile
	if target == "" {
		target = ".previewkit.yml"
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("configuration file %s does not exist", target)
		}
		return err
	}

	v := viper.New()
	v.SetConfigFile(target)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	w := cmd.OutOrStdout()
	if _, err := config.LoadFrom(v); err != nil {
		fmt.Fprintf(w, "%s: %v\n", target, err)
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			for _, suggestion := range ve.Suggestions {
				fmt.Fprintf(w, "  hint: %s\n", suggestion)
			}
		}
		return fmt.Errorf("configuration validation failed")
	}

	fmt.Fprintf(w, "%s: configuration is valid\n", target)
	return nil
}
