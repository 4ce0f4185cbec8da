package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/previewkit/internal/preview"
)

// outputFormat is a pflag.Value restricted to the supported formats.
type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

var outputFormats = []outputFormat{formatTable, formatJSON, formatYAML}

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(value string) error {
	candidate := outputFormat(strings.ToLower(strings.TrimSpace(value)))
	for _, format := range outputFormats {
		if candidate == format {
			*f = candidate
			return nil
		}
	}
	names := make([]string, len(outputFormats))
	for i, format := range outputFormats {
		names[i] = string(format)
	}
	return fmt.Errorf("invalid output format %s, must be one of: %s", value, strings.Join(names, ", "))
}

func (f *outputFormat) Type() string { return "format" }

func addOutputFlag(cmd *cobra.Command, target *outputFormat) {
	*target = formatTable
	cmd.Flags().VarP(target, "output", "o", "Output format (table|json|yaml)")
}

// writeStructured encodes v as JSON or YAML. Table output is left to the
// caller.
func writeStructured(w io.Writer, format outputFormat, v interface{}) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case formatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// eventLabel turns "compile_error" into "Compile Error".
func eventLabel(kind preview.EventKind) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(kind), "_", " "))
}

// AddFlagValidation wraps an existing flag so that every Set is checked by
// validator first.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if err := v.validator(val); err != nil {
		return err
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}
