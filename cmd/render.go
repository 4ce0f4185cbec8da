package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/previewkit/internal/config"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/session"
	"github.com/conneroisu/previewkit/internal/watcher"
)

var (
	renderFormat   outputFormat
	renderDocument bool
	renderStrict   bool
)

var renderCmd = &cobra.Command{
	Use:     "render <file.jsx> [file.css]",
	Aliases: []string{"r"},
	Short:   "Render a component once and print the result",
	Long: `Compile the component, run it in the sandbox and print every compile and
runtime failure followed by the rendered markup.

Examples:
  previewkit render card.jsx
  previewkit render card.jsx card.css -o json
  previewkit render card.jsx --document     # print the built document instead
  previewkit render card.jsx --strict       # exit non-zero on any failure`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	addOutputFlag(renderCmd, &renderFormat)
	renderCmd.Flags().BoolVar(&renderDocument, "document", false, "Print the surface document instead of the rendered markup")
	renderCmd.Flags().BoolVar(&renderStrict, "strict", false, "Exit with an error when any failure was reported")
}

// renderReport is the outcome of one mount.
type renderReport struct {
	Component  string                `json:"component" yaml:"component"`
	Generation uint64                `json:"generation" yaml:"generation"`
	Compiled   bool                  `json:"compiled" yaml:"compiled"`
	Events     []preview.RenderEvent `json:"events" yaml:"events"`
	HTML       string                `json:"html,omitempty" yaml:"html,omitempty"`
	Document   string                `json:"document,omitempty" yaml:"document,omitempty"`
}

func runRender(cmd *cobra.Command, args []string) error {
	files, err := watcher.SourceFilesFromArgs(args)
	if err != nil {
		return err
	}
	unit, err := files.Load()
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	store, err := newStore(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Create(cmd.Context())
	if err != nil {
		return err
	}

	report, err := renderUnit(cmd.Context(), sess, unit, renderTimeout(cfg), renderDocument)
	if err != nil {
		return err
	}
	report.Component = files.Component

	if err := writeReport(cmd.OutOrStdout(), renderFormat, report); err != nil {
		return err
	}
	if renderStrict && len(report.Events) > 0 {
		return fmt.Errorf("render reported %d failure(s)", len(report.Events))
	}
	return nil
}

// renderUnit mounts unit on sess and waits for the realm to finish. Only
// events raised by this mount are returned.
func renderUnit(ctx context.Context, sess *session.Session, unit preview.SourceUnit, timeout time.Duration, document bool) (renderReport, error) {
	started := time.Now()
	result, err := sess.Update(ctx, unit)
	if err != nil {
		return renderReport{}, err
	}

	report := renderReport{
		Generation: result.Generation,
		Compiled:   !result.Artifact.Failed(),
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	html, err := sess.Snapshot(waitCtx)
	switch {
	case errors.Is(err, preview.ErrNotMounted):
	case err != nil:
		return report, fmt.Errorf("waiting for render: %w", err)
	}

	if document {
		report.Document = result.Document
	} else {
		report.HTML = html
	}

	for _, event := range sess.Events() {
		if !event.Timestamp.Before(started) {
			report.Events = append(report.Events, event)
		}
	}
	return report, nil
}

func renderTimeout(cfg *config.Config) time.Duration {
	return cfg.Sandbox.Timeout + 2*time.Second
}

func writeReport(w io.Writer, format outputFormat, report renderReport) error {
	if format != formatTable {
		return writeStructured(w, format, report)
	}

	if len(report.Events) == 0 {
		fmt.Fprintln(w, "No failures reported.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tTIME\tMESSAGE")
		fmt.Fprintln(tw, "----\t----\t-------")
		for _, event := range report.Events {
			fmt.Fprintf(tw, "%s\t%s\t%s\n",
				eventLabel(event.Kind),
				event.Timestamp.Format("15:04:05.000"),
				firstLine(event.Message))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	body := report.HTML
	if report.Document != "" {
		body = report.Document
	}
	if body != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, body)
	}
	return nil
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i] + " ..."
	}
	return message
}
