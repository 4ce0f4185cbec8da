package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameLoadReplacesWindow(t *testing.T) {
	frame := newTestFrame(DefaultConfig())
	assert.Nil(t, frame.Current())

	first := loadDocument(t, frame, "<script>throw new Error('stale');</script>")
	recorder := &eventRecorder{}
	first.AddErrorListener(recorder.listen)

	second := loadDocument(t, frame, "")
	assert.Same(t, second, frame.Current())
	assert.Equal(t, uint64(2), frame.Loads())
	assert.True(t, first.Discarded())
	assert.False(t, second.Discarded())

	// A discarded window never runs and never reports.
	first.Run(context.Background())
	select {
	case <-first.Done():
	default:
		t.Fatal("discarded window should be done")
	}
	assert.Empty(t, recorder.messages())
}

func TestFrameClose(t *testing.T) {
	frame := newTestFrame(DefaultConfig())
	w := loadDocument(t, frame, "")

	require.NoError(t, frame.Close())
	require.NoError(t, frame.Close())
	assert.True(t, w.Discarded())

	_, err := frame.Load(context.Background(), "<html></html>")
	assert.ErrorIs(t, err, ErrFrameClosed)
}

func TestFrameLoadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFrame(DefaultConfig()).Load(ctx, "<html></html>")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFrameDefaults(t *testing.T) {
	frame := NewFrame(DefaultConfig(), nil, nil)
	w, err := frame.Load(context.Background(), `<div id="root"></div><script src="https://unpkg.com/react@18/umd/react.development.js"></script><script>document.getElementById('root').textContent = typeof React.createElement;</script>`)
	require.NoError(t, err)
	runWindow(t, w)

	out, err := w.InnerHTML("root")
	require.NoError(t, err)
	assert.Equal(t, "function", out)
}
