package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/previewkit/internal/config"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/watcher"
)

var (
	watchFormat   outputFormat
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:     "watch <file.jsx> [file.css]",
	Aliases: []string{"w"},
	Short:   "Re-render a component every time its files change",
	Long: `Render the component, then watch the component and stylesheet files and
rebuild the whole preview on every save. Each change is a full
reconstruction: failures from earlier versions are never carried over.

Examples:
  previewkit watch card.jsx card.css
  previewkit watch card.jsx --debounce 100ms -o json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addOutputFlag(watchCmd, &watchFormat)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Delay before a burst of changes is rendered (default from watch.debounce)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	files, err := watcher.SourceFilesFromArgs(args)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if watchDebounce > 0 {
		cfg.Watch.Debounce = watchDebounce
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watchSources(ctx, cmd.OutOrStdout(), files, cfg, logger, watchFormat)
}

// watchSources renders files once and again after every debounced change
// until ctx is done.
func watchSources(ctx context.Context, w io.Writer, files watcher.SourceFiles, cfg *config.Config, logger logging.Logger, format outputFormat) error {
	store, err := newStore(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Create(ctx)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	render := func(reason string) {
		mu.Lock()
		defer mu.Unlock()

		unit, err := files.Load()
		if err != nil {
			logger.Warn(ctx, err, "Skipping render", "reason", reason)
			return
		}
		report, err := renderUnit(ctx, sess, unit, renderTimeout(cfg), false)
		if err != nil {
			logger.Warn(ctx, err, "Render failed", "reason", reason)
			return
		}
		report.Component = files.Component

		if format == formatTable {
			fmt.Fprintf(w, "== %s (generation %d, %s)\n", time.Now().Format("15:04:05"), report.Generation, reason)
		}
		if err := writeReport(w, format, report); err != nil {
			logger.Warn(ctx, err, "Writing report failed")
		}
	}

	fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Stop()

	if err := fw.WatchFiles(files.Paths()...); err != nil {
		return err
	}
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		changed := make([]string, 0, len(events))
		for _, event := range events {
			changed = append(changed, fmt.Sprintf("%s %s", event.Type, event.Path))
		}
		render(strings.Join(changed, ", "))
		return nil
	})

	render("initial")

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	logger.Info(ctx, "Watching for changes", "files", files.Paths())

	<-ctx.Done()
	return nil
}
