// Package cmd provides the previewkit command-line interface.
//
// Configuration is resolved in this order, highest first:
//
//  1. Command-line flags (--config, --port, --log-level, ...)
//  2. Environment variables with the PREVIEWKIT_ prefix
//     (PREVIEWKIT_SERVER_PORT, PREVIEWKIT_SANDBOX_TIMEOUT, ...)
//  3. The file named by --config or PREVIEWKIT_CONFIG_FILE
//  4. .previewkit.yml in the current directory
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/previewkit/internal/config"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "previewkit",
	Short: "Live previews for generated JSX components",
	Long: `previewkit compiles JSX and CSS into a self-contained document, runs it in an
isolated sandbox and reports compile and runtime failures as they happen.

Quick Start:
  previewkit serve                        Start the preview server
  previewkit serve card.jsx card.css      Serve and live-reload a component
  previewkit render card.jsx              Render once and print the markup
  previewkit watch card.jsx card.css      Re-render on every save
  previewkit export card.jsx -o card.zip  Package the sources`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .previewkit.yml, can also use PREVIEWKIT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PREVIEWKIT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".previewkit")
	}

	viper.SetEnvPrefix("PREVIEWKIT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads the effective configuration and a logger built from its
// log section. Log output goes to w.
func loadConfig(w io.Writer) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: w,
	})
	return cfg, logger, nil
}

func newStore(cfg *config.Config, logger logging.Logger, metrics *preview.Metrics) (*session.Store, error) {
	store, err := session.NewStore(session.OptionsFromConfig(cfg, logger, metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	return store, nil
}
