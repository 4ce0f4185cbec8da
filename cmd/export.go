package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/previewkit/internal/session"
	"github.com/conneroisu/previewkit/internal/validation"
	"github.com/conneroisu/previewkit/internal/watcher"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <file.jsx> [file.css]",
	Short: "Package a component and its stylesheet as a zip archive",
	Long: `Write the component and stylesheet into a zip archive holding
component.jsx and styles.css, the same layout the server's download
endpoint produces.

Examples:
  previewkit export card.jsx card.css
  previewkit export card.jsx -o build/card.zip`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Archive path (default <component>.zip)")
}

func runExport(cmd *cobra.Command, args []string) error {
	files, err := watcher.SourceFilesFromArgs(args)
	if err != nil {
		return err
	}
	unit, err := files.Load()
	if err != nil {
		return err
	}

	info, err := os.Stat(files.Component)
	if err != nil {
		return err
	}

	output := exportOutput
	if output == "" {
		output = strings.TrimSuffix(filepath.Base(files.Component), filepath.Ext(files.Component)) + ".zip"
	}
	if err := validation.ValidatePath(output); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	if err := session.WriteArchive(out, unit, info.ModTime()); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", output)
	return nil
}
