package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/conneroisu/previewkit/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// Validate checks an already loaded configuration.
func (c *Config) Validate() error {
	return validateConfig(c)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validatePreviewConfig(&config.Preview); err != nil {
		return fmt.Errorf("preview config: %w", err)
	}

	if err := validateSandboxConfig(&config.Sandbox); err != nil {
		return fmt.Errorf("sandbox config: %w", err)
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		return &ValidationError{
			Field:       "log.format",
			Value:       config.Log.Format,
			Message:     "unsupported format",
			Suggestions: []string{"use text or json"},
		}
	}

	if config.Watch.Debounce < 0 {
		return &ValidationError{Field: "watch.debounce", Value: config.Watch.Debounce, Message: "must not be negative"}
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return &ValidationError{
				Field:   "server.host",
				Value:   config.Host,
				Message: fmt.Sprintf("host contains dangerous character: %q", char),
			}
		}
	}

	for _, origin := range config.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return &ValidationError{Field: "server.allowed_origins", Value: origin, Message: "empty origin"}
		}
	}

	return nil
}

func validatePreviewConfig(config *PreviewConfig) error {
	if len(config.RuntimeScripts) == 0 {
		return &ValidationError{
			Field:       "preview.runtime_scripts",
			Message:     "at least one runtime script is required",
			Suggestions: []string{"list the React and ReactDOM UMD bundles"},
		}
	}
	for _, src := range config.RuntimeScripts {
		u, err := url.Parse(src)
		if err != nil || u.Path == "" {
			return &ValidationError{Field: "preview.runtime_scripts", Value: src, Message: "not a valid script URL"}
		}
		if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			return &ValidationError{Field: "preview.runtime_scripts", Value: src, Message: "only http and https scripts are allowed"}
		}
	}

	if config.MountID == "" || strings.ContainsAny(config.MountID, "'\"<>\\ \t\n") {
		return &ValidationError{Field: "preview.mount_id", Value: config.MountID, Message: "mount id must be a plain identifier"}
	}
	if config.MaxSourceBytes < 0 {
		return &ValidationError{Field: "preview.max_source_bytes", Value: config.MaxSourceBytes, Message: "must not be negative"}
	}
	if config.ReportRate < 0 || config.ReportBurst < 0 {
		return &ValidationError{Field: "preview.report_rate", Value: config.ReportRate, Message: "rate and burst must not be negative"}
	}
	if config.HistorySize < 0 {
		return &ValidationError{Field: "preview.history_size", Value: config.HistorySize, Message: "must not be negative"}
	}

	return nil
}

func validateSandboxConfig(config *SandboxConfig) error {
	if config.Timeout <= 0 {
		return &ValidationError{
			Field:       "sandbox.timeout",
			Value:       config.Timeout,
			Message:     "timeout must be positive",
			Suggestions: []string{"for example 5s"},
		}
	}
	if config.MaxTimers < 0 {
		return &ValidationError{Field: "sandbox.max_timers", Value: config.MaxTimers, Message: "must not be negative"}
	}
	if config.MaxCallStack < 0 {
		return &ValidationError{Field: "sandbox.max_call_stack", Value: config.MaxCallStack, Message: "must not be negative"}
	}
	if config.MaxMemoryMB < 0 {
		return &ValidationError{Field: "sandbox.max_memory_mb", Value: config.MaxMemoryMB, Message: "must not be negative"}
	}
	return nil
}
