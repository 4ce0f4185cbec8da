package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/metrics"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/conneroisu/previewkit/internal/logging"
)

// Window is one execution realm: a parsed document, a goja runtime bound to
// it and the host listeners observing its uncaught errors. A Window runs its
// scripts once and is never reused.
type Window struct {
	id     uint64
	config Config
	loader ScriptLoader
	logger logging.Logger

	vm      *goja.Runtime
	doc     *html.Node
	dom     *domBinding
	scripts []script

	mu        sync.Mutex
	listeners map[ListenerID]ErrorListener
	nextID    ListenerID
	started   bool
	discarded bool

	// domMu is held while the realm executes.
	domMu sync.Mutex

	// Only touched from the run goroutine.
	realmListeners []goja.Value
	timers         []*timer
	timerSeq       int64
	nextTimerID    int64
	now            int64

	outputMu sync.Mutex
	console  []LogEntry
	messages []interface{}

	memoryExceeded atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

type timer struct {
	id       int64
	due      int64
	interval int64
	seq      int64
	fn       goja.Callable
	args     []goja.Value
}

func newWindow(id uint64, config Config, loader ScriptLoader, logger logging.Logger, doc *html.Node) (*Window, error) {
	vm := goja.New()
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}

	w := &Window{
		id:        id,
		config:    config,
		loader:    loader,
		logger:    logger.With("window", id),
		vm:        vm,
		doc:       doc,
		dom:       newDOMBinding(vm, doc),
		scripts:   collectScripts(doc),
		listeners: make(map[ListenerID]ErrorListener),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := w.setupGlobals(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Window) setupGlobals() error {
	global := w.vm.GlobalObject()

	// Host module system is not reachable from generated code.
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := w.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	bridge := w.hostBridge()
	values := map[string]interface{}{
		"window":              global,
		"self":                global,
		"globalThis":          global,
		"document":            w.dom.documentObject(),
		"console":             w.consoleObject(),
		"parent":              bridge,
		"top":                 bridge,
		"addEventListener":    w.addEventListener,
		"removeEventListener": w.removeEventListener,
		"setTimeout":          w.schedule(false),
		"setInterval":         w.schedule(true),
		"clearTimeout":        w.clearTimer,
		"clearInterval":       w.clearTimer,
	}
	for name, value := range values {
		if err := w.vm.Set(name, value); err != nil {
			return fmt.Errorf("setting global %s: %w", name, err)
		}
	}
	return nil
}

// ID returns the sequence number of the window within its frame.
func (w *Window) ID() uint64 {
	return w.id
}

// AddErrorListener registers a host listener for uncaught errors.
func (w *Window) AddErrorListener(fn ErrorListener) ListenerID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.listeners[w.nextID] = fn
	return w.nextID
}

// RemoveErrorListener unregisters a host listener. It reports whether the
// listener was registered.
func (w *Window) RemoveErrorListener(id ListenerID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.listeners[id]; !ok {
		return false
	}
	delete(w.listeners, id)
	return true
}

// ListenerCount returns the number of registered host listeners.
func (w *Window) ListenerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

// Run starts executing the document's scripts in order on a separate
// goroutine. Only the first call has an effect.
func (w *Window) Run(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.discarded {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Ready is closed when the document posts the ready message to its parent.
func (w *Window) Ready() <-chan struct{} {
	return w.ready
}

// Done is closed when execution has finished, failed or was discarded.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

// Discarded reports whether the frame has replaced this window.
func (w *Window) Discarded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.discarded
}

// Snapshot serializes the whole document after execution has finished.
func (w *Window) Snapshot() (string, error) {
	if !w.finished() {
		return "", ErrNotFinished
	}
	w.domMu.Lock()
	defer w.domMu.Unlock()

	var b strings.Builder
	if err := html.Render(&b, w.doc); err != nil {
		return "", err
	}
	return b.String(), nil
}

// InnerHTML serializes the children of the element with the given id after
// execution has finished.
func (w *Window) InnerHTML(id string) (string, error) {
	if !w.finished() {
		return "", ErrNotFinished
	}
	w.domMu.Lock()
	defer w.domMu.Unlock()

	node := w.dom.elementByID(id)
	if node == nil {
		return "", fmt.Errorf("%w: %s", ErrNoElement, id)
	}
	return innerHTML(node), nil
}

// Console returns the captured console output.
func (w *Window) Console() []LogEntry {
	w.outputMu.Lock()
	defer w.outputMu.Unlock()
	return append([]LogEntry(nil), w.console...)
}

// Messages returns the payloads posted to the parent, in order.
func (w *Window) Messages() []interface{} {
	w.outputMu.Lock()
	defer w.outputMu.Unlock()
	return append([]interface{}(nil), w.messages...)
}

func (w *Window) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// discard stops the realm and suppresses every later error dispatch.
func (w *Window) discard() {
	w.mu.Lock()
	if w.discarded {
		w.mu.Unlock()
		return
	}
	w.discarded = true
	started := w.started
	w.started = true
	w.mu.Unlock()

	w.vm.Interrupt(errWindowDiscarded)
	if !started {
		close(w.done)
	}
}

func (w *Window) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, fmt.Errorf("%v", r), "Sandbox window panicked")
		}
	}()

	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	stop := make(chan struct{})
	defer close(stop)
	go w.watch(ctx, stop, heapBytes())

	w.domMu.Lock()
	defer w.domMu.Unlock()

	start := time.Now()
	for _, s := range w.scripts {
		if err := w.execute(ctx, s); err != nil {
			w.interrupted(ctx, err)
			return
		}
	}
	if err := w.drainTimers(); err != nil {
		w.interrupted(ctx, err)
		return
	}

	w.logger.Debug(ctx, "Window finished",
		"scripts", len(w.scripts),
		"duration", time.Since(start),
	)
}

// watch interrupts the VM when ctx ends or when the heap has grown by more
// than MaxMemoryMB since baseline.
func (w *Window) watch(ctx context.Context, stop <-chan struct{}, baseline uint64) {
	var tick <-chan time.Time
	if w.config.MaxMemoryMB > 0 {
		ticker := time.NewTicker(memorySampleInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	limit := uint64(w.config.MaxMemoryMB) << 20

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				w.vm.Interrupt(errExecutionTimeout)
			} else {
				w.vm.Interrupt(ctx.Err())
			}
			return
		case <-stop:
			return
		case <-tick:
			if used := heapBytes(); used > baseline && used-baseline > limit {
				w.memoryExceeded.Store(true)
				w.vm.Interrupt(errMemoryLimit)
				return
			}
		}
	}
}

const memorySampleInterval = 2 * time.Millisecond

// heapBytes returns the bytes occupied by heap objects, live or not yet
// swept.
func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

func (w *Window) execute(ctx context.Context, s script) error {
	source := s.source
	if s.src != "" {
		loaded, err := w.loader.Load(ctx, s.src)
		if err != nil {
			// A missing script is reported like a failed network load: the
			// document keeps running.
			w.record("error", fmt.Sprintf("Failed to load script %s: %v", s.src, err))
			w.logger.Warn(ctx, err, "Script load failed", "src", s.src)
			return nil
		}
		source = loaded
	}

	_, err := w.vm.RunScript(s.name, source)
	return w.uncaught(err, s.name)
}

// uncaught dispatches script failures as error events. Interruptions are
// returned to the caller and end the run.
func (w *Window) uncaught(err error, filename string) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}

	var value goja.Value = goja.Undefined()
	var exception *goja.Exception
	if errors.As(err, &exception) {
		value = exception.Value()
	}

	w.dispatch(ErrorEvent{
		Message:  "Uncaught " + describeError(err),
		Filename: filename,
		Time:     time.Now(),
	}, value)
	return nil
}

func (w *Window) interrupted(ctx context.Context, err error) {
	if w.Discarded() {
		return
	}
	if w.memoryExceeded.Load() {
		w.dispatch(ErrorEvent{
			Message: fmt.Sprintf("Uncaught RangeError: memory limit of %d MB exceeded", w.config.MaxMemoryMB),
			Time:    time.Now(),
		}, nil)
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		w.dispatch(ErrorEvent{
			Message: fmt.Sprintf("Uncaught Error: script execution timed out after %s", w.config.Timeout),
			Time:    time.Now(),
			Timeout: true,
		}, nil)
		return
	}
	w.logger.Debug(ctx, "Window interrupted", "reason", err.Error())
}

// dispatch delivers an error event to the realm's own error handlers and
// then to every host listener.
func (w *Window) dispatch(event ErrorEvent, value goja.Value) {
	if w.Discarded() {
		return
	}

	// An interrupted realm does not run its own handlers.
	if !event.Timeout && !w.memoryExceeded.Load() && len(w.realmListeners) > 0 {
		if value == nil {
			value = goja.Undefined()
		}
		obj := w.vm.NewObject()
		_ = obj.Set("type", "error")
		_ = obj.Set("message", event.Message)
		_ = obj.Set("filename", event.Filename)
		_ = obj.Set("error", value)

		for _, handler := range append([]goja.Value(nil), w.realmListeners...) {
			fn, ok := goja.AssertFunction(handler)
			if !ok {
				continue
			}
			if _, err := fn(w.vm.GlobalObject(), obj); err != nil {
				w.logger.Debug(context.Background(), "Error handler threw", "error", describeError(err))
			}
		}
	}

	w.mu.Lock()
	if w.discarded {
		w.mu.Unlock()
		return
	}
	ids := make([]ListenerID, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]ErrorListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, w.listeners[id])
	}
	w.mu.Unlock()

	for _, listener := range listeners {
		w.notify(listener, event)
	}
}

func (w *Window) notify(listener ErrorListener, event ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(context.Background(), fmt.Errorf("%v", r), "Error listener panicked")
		}
	}()
	listener(event)
}

func (w *Window) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

func (w *Window) record(level, message string) {
	if !w.config.EnableConsole {
		return
	}
	w.outputMu.Lock()
	defer w.outputMu.Unlock()
	w.console = append(w.console, LogEntry{Level: level, Message: message, Time: time.Now()})
}

func (w *Window) consoleObject() *goja.Object {
	console := w.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, describeValue(arg))
			}
			w.record(level, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	return console
}

// hostBridge stands in for window.parent. Posted messages are recorded and
// the ready message closes Ready.
func (w *Window) hostBridge() *goja.Object {
	bridge := w.vm.NewObject()
	_ = bridge.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		data := call.Argument(0).Export()

		w.outputMu.Lock()
		w.messages = append(w.messages, data)
		w.outputMu.Unlock()

		if m, ok := data.(map[string]interface{}); ok && m["type"] == ReadyMessageType {
			w.markReady()
		}
		return goja.Undefined()
	})
	return bridge
}

func (w *Window) addEventListener(call goja.FunctionCall) goja.Value {
	if call.Argument(0).String() != "error" {
		return goja.Undefined()
	}
	handler := call.Argument(1)
	if _, ok := goja.AssertFunction(handler); ok {
		w.realmListeners = append(w.realmListeners, handler)
	}
	return goja.Undefined()
}

func (w *Window) removeEventListener(call goja.FunctionCall) goja.Value {
	if call.Argument(0).String() != "error" {
		return goja.Undefined()
	}
	handler := call.Argument(1)
	for i, existing := range w.realmListeners {
		if existing.SameAs(handler) {
			w.realmListeners = append(w.realmListeners[:i], w.realmListeners[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

// schedule implements setTimeout and setInterval on a virtual clock. Timers
// fire after the document's scripts, ordered by due time then creation.
func (w *Window) schedule(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			// String callbacks would be an eval.
			return w.vm.ToValue(0)
		}
		delay := call.Argument(1).ToInteger()
		if delay < 0 {
			delay = 0
		}

		w.nextTimerID++
		t := &timer{
			id:  w.nextTimerID,
			due: w.now + delay,
			seq: w.timerSeq,
			fn:  fn,
		}
		if repeat {
			t.interval = max(delay, 1)
		}
		if len(call.Arguments) > 2 {
			t.args = append([]goja.Value(nil), call.Arguments[2:]...)
		}
		w.timerSeq++
		w.timers = append(w.timers, t)
		return w.vm.ToValue(t.id)
	}
}

func (w *Window) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, t := range w.timers {
		if t.id == id {
			w.timers = append(w.timers[:i], w.timers[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (w *Window) drainTimers() error {
	executed := 0
	for len(w.timers) > 0 {
		if w.config.MaxTimers > 0 && executed >= w.config.MaxTimers {
			w.logger.Warn(context.Background(), nil, "Timer budget exhausted", "pending", len(w.timers))
			w.timers = nil
			return nil
		}

		next := 0
		for i, t := range w.timers {
			if t.due < w.timers[next].due || (t.due == w.timers[next].due && t.seq < w.timers[next].seq) {
				next = i
			}
		}
		t := w.timers[next]
		w.timers = append(w.timers[:next], w.timers[next+1:]...)
		w.now = t.due

		if t.interval > 0 {
			t.due += t.interval
			t.seq = w.timerSeq
			w.timerSeq++
			w.timers = append(w.timers, t)
		}

		executed++
		_, err := t.fn(goja.Undefined(), t.args...)
		if err := w.uncaught(err, "timer"); err != nil {
			return err
		}
	}
	return nil
}

func collectScripts(doc *html.Node) []script {
	var scripts []script
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			if s, ok := scriptFromNode(n, len(scripts)); ok {
				scripts = append(scripts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return scripts
}

func scriptFromNode(n *html.Node, index int) (script, bool) {
	kind, _ := getAttr(n, "type")
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "text/javascript", "application/javascript":
	default:
		return script{}, false
	}

	if src, ok := getAttr(n, "src"); ok && strings.TrimSpace(src) != "" {
		return script{name: src, src: src}, true
	}
	return script{
		name:   fmt.Sprintf("inline-script-%d", index),
		source: textContent(n),
	}, true
}

func describeError(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return describeValue(exception.Value())
	}
	return err.Error()
}

// describeValue converts a thrown value to its message. A toString that
// itself throws must not escape into the host.
func describeValue(v goja.Value) (s string) {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	defer func() {
		if recover() != nil {
			s = "[object]"
		}
	}()
	return v.String()
}
