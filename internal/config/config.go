// Package config provides configuration management for previewkit using
// Viper for loading from files, environment variables, and command-line flags.
//
// The configuration system supports YAML files (.previewkit.yml), environment
// variable overrides with the PREVIEWKIT_ prefix and validation. It covers the
// HTTP server, the preview engine (runtime scripts, mount node, reporter
// throttling), the sandbox realm limits, logging and the file watcher.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default runtime libraries loaded into every surface document before the
// compiled component.
var DefaultRuntimeScripts = []string{
	"https://unpkg.com/react@18/umd/react.development.js",
	"https://unpkg.com/react-dom@18/umd/react-dom.development.js",
}

// DefaultBaseStyle is prepended to the generated CSS inside the document's
// style block.
const DefaultBaseStyle = "body { margin: 0; padding: 10px; font-family: system-ui, sans-serif; }"

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Preview PreviewConfig `mapstructure:"preview" yaml:"preview" json:"preview"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox" json:"sandbox"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch" json:"watch"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port" json:"port"`
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

type PreviewConfig struct {
	RuntimeScripts []string `mapstructure:"runtime_scripts" yaml:"runtime_scripts" json:"runtime_scripts"`
	BaseStyle      string   `mapstructure:"base_style" yaml:"base_style" json:"base_style"`
	MountID        string   `mapstructure:"mount_id" yaml:"mount_id" json:"mount_id"`
	MaxSourceBytes int      `mapstructure:"max_source_bytes" yaml:"max_source_bytes" json:"max_source_bytes"`
	ReportRate     float64  `mapstructure:"report_rate" yaml:"report_rate" json:"report_rate"`
	ReportBurst    int      `mapstructure:"report_burst" yaml:"report_burst" json:"report_burst"`
	HistorySize    int      `mapstructure:"history_size" yaml:"history_size" json:"history_size"`
}

type SandboxConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxTimers     int           `mapstructure:"max_timers" yaml:"max_timers" json:"max_timers"`
	MaxCallStack  int           `mapstructure:"max_call_stack" yaml:"max_call_stack" json:"max_call_stack"`
	EnableConsole bool          `mapstructure:"enable_console" yaml:"enable_console" json:"enable_console"`
	MaxMemoryMB   int64         `mapstructure:"max_memory_mb" yaml:"max_memory_mb" json:"max_memory_mb"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Sandbox: SandboxConfig{EnableConsole: true}}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration from the global viper instance, applies
// defaults and validates the result.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Bool fields cannot distinguish "unset" from "false" after unmarshal.
	if !v.IsSet("sandbox.enable_console") {
		config.Sandbox.EnableConsole = true
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}

	if len(config.Preview.RuntimeScripts) == 0 {
		config.Preview.RuntimeScripts = append([]string(nil), DefaultRuntimeScripts...)
	}
	if config.Preview.BaseStyle == "" {
		config.Preview.BaseStyle = DefaultBaseStyle
	}
	if config.Preview.MountID == "" {
		config.Preview.MountID = "root"
	}
	if config.Preview.MaxSourceBytes == 0 {
		config.Preview.MaxSourceBytes = 1 << 20
	}
	if config.Preview.ReportRate == 0 {
		config.Preview.ReportRate = 20
	}
	if config.Preview.ReportBurst == 0 {
		config.Preview.ReportBurst = 40
	}
	if config.Preview.HistorySize == 0 {
		config.Preview.HistorySize = 100
	}

	if config.Sandbox.Timeout == 0 {
		config.Sandbox.Timeout = 5 * time.Second
	}
	if config.Sandbox.MaxTimers == 0 {
		config.Sandbox.MaxTimers = 1000
	}
	if config.Sandbox.MaxCallStack == 0 {
		config.Sandbox.MaxCallStack = 1024
	}
	if config.Sandbox.MaxMemoryMB == 0 {
		config.Sandbox.MaxMemoryMB = 256
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = 300 * time.Millisecond
	}
}
