package preview

import (
	"context"

	"github.com/conneroisu/previewkit/internal/sandbox"
)

// ExecutionContext is the isolated host a Surface loads documents into.
// Every Load fully replaces the previous document.
type ExecutionContext interface {
	Load(ctx context.Context, document string) (Realm, error)
	Close() error
}

// Realm is one loaded document and its script global scope.
type Realm interface {
	AddErrorListener(fn sandbox.ErrorListener) sandbox.ListenerID
	RemoveErrorListener(id sandbox.ListenerID) bool
	ListenerCount() int
	Run(ctx context.Context)
	Ready() <-chan struct{}
	Done() <-chan struct{}
	InnerHTML(id string) (string, error)
	Snapshot() (string, error)
}

// FrameContext adapts a sandbox.Frame to ExecutionContext.
type FrameContext struct {
	frame *sandbox.Frame
}

// NewFrameContext wraps frame.
func NewFrameContext(frame *sandbox.Frame) *FrameContext {
	return &FrameContext{frame: frame}
}

// Load implements ExecutionContext.
func (c *FrameContext) Load(ctx context.Context, document string) (Realm, error) {
	window, err := c.frame.Load(ctx, document)
	if err != nil {
		return nil, err
	}
	return window, nil
}

// Close implements ExecutionContext.
func (c *FrameContext) Close() error {
	return c.frame.Close()
}
