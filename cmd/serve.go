package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/previewkit/internal/config"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/server"
	"github.com/conneroisu/previewkit/internal/session"
	"github.com/conneroisu/previewkit/internal/validation"
	"github.com/conneroisu/previewkit/internal/watcher"
)

var serveOpen bool

var serveCmd = &cobra.Command{
	Use:     "serve [file.jsx [file.css]]",
	Aliases: []string{"s"},
	Short:   "Start the preview server",
	Long: `Start the HTTP server that hosts preview sessions. Each session has a host
page with an editor, a live preview frame and an error list fed over a
websocket.

When a component file is given, a session is created from it and rebuilt
whenever the file or its stylesheet changes.

Examples:
  previewkit serve
  previewkit serve --port 3000 --open
  previewkit serve card.jsx card.css`,
	Args: cobra.MaximumNArgs(2),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open the browser once the server is listening")
	AddFlagValidation(serveCmd, "port", ValidatePort)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	var files watcher.SourceFiles
	if len(args) > 0 {
		var err error
		if files, err = watcher.SourceFilesFromArgs(args); err != nil {
			return err
		}
	}

	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := preview.NewMetrics(registry)

	store, err := newStore(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := "/"
	if files.Component != "" {
		sess, err := seedSession(ctx, store, files, cfg, logger)
		if err != nil {
			return err
		}
		path = "/sessions/" + sess.ID
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", srv.Addr(), path)
	fmt.Fprintf(cmd.OutOrStdout(), "Preview server running at %s\n", url)
	if serveOpen {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(ctx, url, logger)
		}()
	}

	return srv.Start(ctx)
}

// seedSession creates a session from files and keeps it in sync with them
// until ctx is done.
func seedSession(ctx context.Context, store *session.Store, files watcher.SourceFiles, cfg *config.Config, logger logging.Logger) (*session.Session, error) {
	unit, err := files.Load()
	if err != nil {
		return nil, err
	}
	sess, err := store.Create(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Update(ctx, unit); err != nil {
		return nil, err
	}

	fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.WatchFiles(files.Paths()...); err != nil {
		fw.Stop()
		return nil, err
	}
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		unit, err := files.Load()
		if err != nil {
			return err
		}
		_, err = sess.Update(ctx, unit)
		return err
	})
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		fw.Stop()
	}()
	return sess, nil
}

func openBrowser(ctx context.Context, url string, logger logging.Logger) {
	if err := validation.ValidateURL(url); err != nil {
		logger.Warn(ctx, err, "Browser open failed due to invalid URL")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	if err != nil {
		logger.Warn(ctx, err, "Failed to open browser")
	}
}
