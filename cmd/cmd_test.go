package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/previewkit/internal/config"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/watcher"
)

func newTestCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	return cmd, out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func resetRenderFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		renderFormat = formatTable
		renderDocument = false
		renderStrict = false
	})
	renderFormat = formatTable
	renderDocument = false
	renderStrict = false
}

func TestOutputFormatFlag(t *testing.T) {
	var format outputFormat
	require.NoError(t, format.Set("JSON"))
	assert.Equal(t, formatJSON, format)
	assert.Equal(t, "format", format.Type())

	err := format.Set("csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json, yaml")
	assert.Equal(t, formatJSON, format)
}

func TestEventLabel(t *testing.T) {
	assert.Equal(t, "Compile Error", eventLabel(preview.EventCompileError))
	assert.Equal(t, "Runtime Error", eventLabel(preview.EventRuntimeError))
	assert.Equal(t, "Construction Error", eventLabel(preview.EventConstructionError))
}

func TestPortFlagValidation(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Int("port", 8080, "")
	AddFlagValidation(cmd, "port", ValidatePort)

	require.NoError(t, cmd.Flags().Set("port", "3000"))
	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 3000, port)

	assert.Error(t, cmd.Flags().Set("port", "70000"))
	assert.Error(t, cmd.Flags().Set("port", "http"))
}

func TestRenderCommand(t *testing.T) {
	resetRenderFlags(t)
	cmd, out := newTestCommand(t)
	dir := t.TempDir()
	jsx := writeFile(t, dir, "card.jsx", "<h1>Hi</h1>")
	css := writeFile(t, dir, "card.css", "h1 { color: teal; }")

	require.NoError(t, runRender(cmd, []string{jsx, css}))

	assert.Contains(t, out.String(), "No failures reported.")
	assert.Contains(t, out.String(), "<h1>Hi</h1>")
}

func TestRenderCommandReportsCompileErrors(t *testing.T) {
	resetRenderFlags(t)
	cmd, out := newTestCommand(t)
	jsx := writeFile(t, t.TempDir(), "broken.jsx", "<div>")

	renderFormat = formatJSON
	renderStrict = true
	err := runRender(cmd, []string{jsx})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failure(s)")

	var report struct {
		Compiled bool `json:"compiled"`
		Events   []struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"events"`
		HTML string `json:"html"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.False(t, report.Compiled)
	require.Len(t, report.Events, 1)
	assert.Equal(t, "compile_error", report.Events[0].Kind)
	assert.True(t, strings.HasPrefix(report.Events[0].Message, preview.CompileErrorPrefix))
	assert.Contains(t, report.HTML, "JSX Compile Error: ")
}

func TestRenderCommandTableListsEvents(t *testing.T) {
	resetRenderFlags(t)
	cmd, out := newTestCommand(t)
	jsx := writeFile(t, t.TempDir(), "broken.jsx", "<div>{</div>")

	require.NoError(t, runRender(cmd, []string{jsx}))

	assert.Contains(t, out.String(), "KIND")
	assert.Contains(t, out.String(), "Compile Error")
}

func TestRenderCommandDocument(t *testing.T) {
	resetRenderFlags(t)
	cmd, out := newTestCommand(t)
	dir := t.TempDir()
	jsx := writeFile(t, dir, "card.jsx", "<p>doc</p>")
	css := writeFile(t, dir, "card.css", "p{margin:0}")

	renderFormat = formatYAML
	renderDocument = true
	require.NoError(t, runRender(cmd, []string{jsx, css}))

	var report map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, true, report["compiled"])
	assert.NotContains(t, report, "html")
	document, ok := report["document"].(string)
	require.True(t, ok)
	assert.Contains(t, document, "p{margin:0}")
	assert.Contains(t, document, `id="root"`)
}

func TestRenderCommandRejectsBadFiles(t *testing.T) {
	resetRenderFlags(t)
	cmd, _ := newTestCommand(t)
	dir := t.TempDir()

	assert.Error(t, runRender(cmd, []string{writeFile(t, dir, "card.txt", "<p/>")}))
	assert.Error(t, runRender(cmd, []string{filepath.Join(dir, "missing.jsx")}))
	assert.Error(t, runRender(cmd, []string{
		writeFile(t, dir, "a.jsx", "<p/>"),
		writeFile(t, dir, "b.jsx", "<p/>"),
	}))
}

func TestExportCommand(t *testing.T) {
	cmd, out := newTestCommand(t)
	dir := t.TempDir()
	jsx := writeFile(t, dir, "card.jsx", "<h1>Export</h1>")
	css := writeFile(t, dir, "card.css", "h1{}")
	target := filepath.Join(dir, "card.zip")

	exportOutput = target
	t.Cleanup(func() { exportOutput = "" })
	require.NoError(t, runExport(cmd, []string{jsx, css}))
	assert.Contains(t, out.String(), "Exported "+target)

	reader, err := zip.OpenReader(target)
	require.NoError(t, err)
	defer reader.Close()

	contents := map[string]string{}
	for _, file := range reader.File {
		rc, err := file.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[file.Name] = string(data)
	}
	assert.Equal(t, map[string]string{
		"component.jsx": "<h1>Export</h1>",
		"styles.css":    "h1{}",
	}, contents)
}

func TestConfigShow(t *testing.T) {
	cmd, out := newTestCommand(t)
	viper.Set("server.port", 9191)

	configFormat = formatJSON
	t.Cleanup(func() { configFormat = formatYAML })
	require.NoError(t, runConfigShow(cmd, nil))

	var cfg config.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "root", cfg.Preview.MountID)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { configFile = "" })

	t.Run("valid", func(t *testing.T) {
		cmd, out := newTestCommand(t)
		configFile = writeFile(t, dir, "good.yml", "server:\n  port: 3000\n")
		require.NoError(t, runConfigValidate(cmd, nil))
		assert.Contains(t, out.String(), "configuration is valid")
	})

	t.Run("invalid", func(t *testing.T) {
		cmd, out := newTestCommand(t)
		configFile = writeFile(t, dir, "bad.yml", "log:\n  format: xml\n")
		require.Error(t, runConfigValidate(cmd, nil))
		assert.Contains(t, out.String(), "log.format")
		assert.Contains(t, out.String(), "hint: use text or json")
	})

	t.Run("missing", func(t *testing.T) {
		cmd, _ := newTestCommand(t)
		configFile = filepath.Join(dir, "absent.yml")
		assert.Error(t, runConfigValidate(cmd, nil))
	})
}

func TestVersionCommand(t *testing.T) {
	t.Cleanup(func() {
		versionFormat = "text"
		versionShort = false
	})

	cmd, out := newTestCommand(t)
	versionFormat = "json"
	require.NoError(t, runVersionCommand(cmd, nil))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	cmd, out = newTestCommand(t)
	versionFormat = "text"
	require.NoError(t, runVersionCommand(cmd, nil))
	assert.True(t, strings.HasPrefix(out.String(), "previewkit "))

	versionFormat = "xml"
	assert.Error(t, runVersionCommand(cmd, nil))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchSourcesRerendersOnChange(t *testing.T) {
	dir := t.TempDir()
	jsx := writeFile(t, dir, "live.jsx", "<p>one</p>")
	files, err := watcher.SourceFilesFromArgs([]string{jsx})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Watch.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- watchSources(ctx, out, files, cfg, logging.NewNopLogger(), formatTable)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "<p>one</p>")
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(jsx, []byte("<p>two</p>"), 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "<p>two</p>")
	}, 10*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "generation 2")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
