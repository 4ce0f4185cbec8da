package sandbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/previewkit/internal/logging"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []ErrorEvent
}

func (r *eventRecorder) listen(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Message)
	}
	return out
}

func newTestFrame(config Config) *Frame {
	return NewFrame(config, NewEmbeddedLoader(), logging.NewNopLogger())
}

func loadDocument(t *testing.T, frame *Frame, body string) *Window {
	t.Helper()
	doc := "<!DOCTYPE html><html><head></head><body><div id=\"root\"></div>" + body + "</body></html>"
	w, err := frame.Load(context.Background(), doc)
	require.NoError(t, err)
	return w
}

func runWindow(t *testing.T, w *Window) {
	t.Helper()
	w.Run(context.Background())
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("window did not finish")
	}
}

func rootHTML(t *testing.T, w *Window) string {
	t.Helper()
	out, err := w.InnerHTML("root")
	require.NoError(t, err)
	return out
}

func TestWindowRunsScriptsInOrder(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>var parts = ['first'];</script>
		<script>parts.push('second');</script>
		<script>document.getElementById('root').textContent = parts.join(',');</script>`)
	runWindow(t, w)

	assert.Equal(t, "first,second", rootHTML(t, w))
}

func TestWindowDispatchesUncaughtErrors(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		expected string
	}{
		{"thrown error", "throw new Error('boom');", "Uncaught Error: boom"},
		{"reference error", "notDefined();", "Uncaught ReferenceError: notDefined is not defined"},
		{"thrown string", "throw 'plain';", "Uncaught plain"},
		{"syntax error", "var = ;", "Uncaught SyntaxError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := loadDocument(t, newTestFrame(DefaultConfig()), "<script>"+tt.script+"</script>")
			recorder := &eventRecorder{}
			w.AddErrorListener(recorder.listen)
			runWindow(t, w)

			messages := recorder.messages()
			require.Len(t, messages, 1)
			assert.True(t, strings.HasPrefix(messages[0], tt.expected), messages[0])
		})
	}
}

func TestWindowContinuesAfterFailingScript(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>throw new Error('first');</script>
		<script>document.getElementById('root').textContent = 'still running';</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	assert.Equal(t, "still running", rootHTML(t, w))
	assert.Equal(t, []string{"Uncaught Error: first"}, recorder.messages())
}

func TestWindowRealmErrorHandlers(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>
			window.addEventListener('error', function (e) { console.error('Frame error:', e.message); });
		</script>
		<script>throw new Error('boom');</script>`)
	runWindow(t, w)

	console := w.Console()
	require.Len(t, console, 1)
	assert.Equal(t, "error", console[0].Level)
	assert.Equal(t, "Frame error: Uncaught Error: boom", console[0].Message)
}

func TestWindowRemoveRealmErrorHandler(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>
			function onError(e) { console.log('seen'); }
			window.addEventListener('error', onError);
			window.removeEventListener('error', onError);
		</script>
		<script>throw new Error('boom');</script>`)
	runWindow(t, w)

	assert.Empty(t, w.Console())
}

func TestWindowTimeout(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 100 * time.Millisecond

	w := loadDocument(t, newTestFrame(config), `
		<script>while (true) {}</script>
		<script>document.getElementById('root').textContent = 'unreachable';</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.events, 1)
	assert.True(t, recorder.events[0].Timeout)
	assert.Contains(t, recorder.events[0].Message, "timed out")
	assert.Equal(t, "", rootHTML(t, w))
}

func TestWindowMemoryLimit(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 10 * time.Second
	config.MaxMemoryMB = 16

	w := loadDocument(t, newTestFrame(config), `
		<script>
			window.addEventListener('error', function (e) { console.error('handled'); });
		</script>
		<script>
			var keep = [];
			for (var i = 0; i < 64; i++) { keep.push('x'.repeat(1 << 22) + i); }
			document.getElementById('root').textContent = 'unreachable';
		</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.events, 1)
	assert.False(t, recorder.events[0].Timeout)
	assert.Equal(t, "Uncaught RangeError: memory limit of 16 MB exceeded", recorder.events[0].Message)
	assert.Equal(t, "", rootHTML(t, w))
	assert.Empty(t, w.Console())
}

func TestWindowMemoryLimitDisabled(t *testing.T) {
	config := DefaultConfig()
	config.MaxMemoryMB = 0

	w := loadDocument(t, newTestFrame(config), `
		<script>
			var keep = [];
			for (var i = 0; i < 8; i++) { keep.push('x'.repeat(1 << 20) + i); }
			document.getElementById('root').textContent = String(keep.length);
		</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	assert.Empty(t, recorder.messages())
	assert.Equal(t, "8", rootHTML(t, w))
}

func TestWindowReadyHandshake(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>
			if (window.parent && window.parent !== window) {
				window.parent.postMessage({ type: 'preview:ready' }, '*');
			}
		</script>`)
	runWindow(t, w)

	select {
	case <-w.Ready():
	default:
		t.Fatal("ready was not signalled")
	}

	messages := w.Messages()
	require.Len(t, messages, 1)
	payload, ok := messages[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ReadyMessageType, payload["type"])
}

func TestWindowOtherMessagesDoNotSignalReady(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>window.parent.postMessage({ type: 'something-else' }, '*');</script>`)
	runWindow(t, w)

	select {
	case <-w.Ready():
		t.Fatal("unexpected ready signal")
	default:
	}
	assert.Len(t, w.Messages(), 1)
}

func TestWindowTimers(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>
			var out = [];
			setTimeout(function () { out.push('late'); }, 10);
			setTimeout(function (v) { out.push(v); }, 0, 'early');
			var cancelled = setTimeout(function () { out.push('cancelled'); }, 5);
			clearTimeout(cancelled);
			setTimeout(function () { document.getElementById('root').textContent = out.join(','); }, 20);
		</script>`)
	runWindow(t, w)

	assert.Equal(t, "early,late", rootHTML(t, w))
}

func TestWindowTimerBudget(t *testing.T) {
	config := DefaultConfig()
	config.MaxTimers = 5

	w := loadDocument(t, newTestFrame(config), `
		<script>
			var ticks = 0;
			setInterval(function () {
				ticks++;
				document.getElementById('root').textContent = String(ticks);
			}, 1);
		</script>`)
	runWindow(t, w)

	assert.Equal(t, "5", rootHTML(t, w))
}

func TestWindowTimerErrorsAreUncaught(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>setTimeout(function () { throw new Error('later'); }, 0);</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	assert.Equal(t, []string{"Uncaught Error: later"}, recorder.messages())
}

func TestWindowHidesHostGlobals(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>
			document.getElementById('root').textContent =
				[typeof require, typeof process, typeof module, typeof exports].join(',');
		</script>`)
	runWindow(t, w)

	assert.Equal(t, "undefined,undefined,undefined,undefined", rootHTML(t, w))
}

func TestWindowExternalScriptFailureContinues(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script src="https://example.com/missing.js"></script>
		<script>document.getElementById('root').textContent = 'ok';</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	assert.Equal(t, "ok", rootHTML(t, w))
	assert.Empty(t, recorder.messages())
	console := w.Console()
	require.Len(t, console, 1)
	assert.Contains(t, console[0].Message, "Failed to load script https://example.com/missing.js")
}

func TestWindowRendersReactRuntime(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script src="https://unpkg.com/react@18/umd/react.development.js"></script>
		<script src="https://unpkg.com/react-dom@18/umd/react-dom.development.js"></script>
		<script>
			const App = () => React.createElement(React.Fragment, null,
				React.createElement('h1', { className: 'title', style: { marginTop: 4 } }, 'Hi & bye'));
			ReactDOM.createRoot(document.getElementById('root')).render(React.createElement(App));
		</script>`)
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	assert.Empty(t, recorder.messages())
	assert.Equal(t, `<h1 class="title" style="margin-top:4px">Hi &amp; bye</h1>`, rootHTML(t, w))
}

func TestWindowListeners(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), "")

	first := w.AddErrorListener(func(ErrorEvent) {})
	second := w.AddErrorListener(func(ErrorEvent) {})
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, w.ListenerCount())

	assert.True(t, w.RemoveErrorListener(first))
	assert.False(t, w.RemoveErrorListener(first))
	assert.Equal(t, 1, w.ListenerCount())
}

func TestWindowListenerPanicIsContained(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), "<script>throw new Error('boom');</script>")
	w.AddErrorListener(func(ErrorEvent) { panic("listener bug") })
	recorder := &eventRecorder{}
	w.AddErrorListener(recorder.listen)
	runWindow(t, w)

	assert.Equal(t, []string{"Uncaught Error: boom"}, recorder.messages())
}

func TestWindowSnapshotBeforeRun(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), "")

	_, err := w.Snapshot()
	assert.ErrorIs(t, err, ErrNotFinished)

	runWindow(t, w)
	snapshot, err := w.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snapshot, `<div id="root"></div>`)

	_, err = w.InnerHTML("missing")
	assert.ErrorIs(t, err, ErrNoElement)
}

func TestWindowRunOnlyOnce(t *testing.T) {
	w := loadDocument(t, newTestFrame(DefaultConfig()), `
		<script>document.getElementById('root').textContent += 'x';</script>`)
	runWindow(t, w)
	w.Run(context.Background())

	assert.Equal(t, "x", rootHTML(t, w))
}

func TestWindowConsoleDisabled(t *testing.T) {
	config := DefaultConfig()
	config.EnableConsole = false

	w := loadDocument(t, newTestFrame(config), "<script>console.log('hidden');</script>")
	runWindow(t, w)

	assert.Empty(t, w.Console())
}
