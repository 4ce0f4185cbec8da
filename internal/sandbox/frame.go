package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/previewkit/internal/logging"
)

// Frame is an isolated document host. Each Load replaces the current window
// with a fresh realm, the way writing a new document into an iframe does.
type Frame struct {
	config Config
	loader ScriptLoader
	logger logging.Logger

	mu      sync.Mutex
	current *Window
	loads   uint64
	closed  bool
}

// NewFrame creates a frame. A nil loader serves the embedded runtime and a
// nil logger discards output.
func NewFrame(config Config, loader ScriptLoader, logger logging.Logger) *Frame {
	if loader == nil {
		loader = NewEmbeddedLoader()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Frame{
		config: config,
		loader: loader,
		logger: logger.WithComponent("sandbox"),
	}
}

// Load parses document and installs it as the frame's new window. The
// previous window is discarded: its execution is interrupted and it never
// dispatches another error event. The returned window has not started; call
// Run once its listeners are registered.
func (f *Frame) Load(ctx context.Context, document string) (*Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFrameClosed
	}

	window, err := newWindow(f.loads+1, f.config, f.loader, f.logger, root)
	if err != nil {
		return nil, fmt.Errorf("creating window: %w", err)
	}
	f.loads++

	if f.current != nil {
		f.current.discard()
	}
	f.current = window

	f.logger.Debug(ctx, "Document loaded",
		"window", window.ID(),
		"scripts", len(window.scripts),
		"bytes", len(document),
	)
	return window, nil
}

// Current returns the active window, or nil before the first Load.
func (f *Frame) Current() *Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Loads returns how many documents have been loaded.
func (f *Frame) Loads() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// Close discards the active window. Later loads fail with ErrFrameClosed.
func (f *Frame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.current != nil {
		f.current.discard()
	}
	return nil
}
