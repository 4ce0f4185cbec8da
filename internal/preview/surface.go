package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	perrors "github.com/conneroisu/previewkit/internal/errors"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/sandbox"
)

var (
	// ErrNotMounted is returned when the surface has no realm yet.
	ErrNotMounted = errors.New("surface has nothing mounted")
	// ErrSurfaceClosed is returned by construction after Close.
	ErrSurfaceClosed = errors.New("surface is closed")
)

// SurfaceOptions wires a Surface. Context is required; the other fields
// fall back to defaults.
type SurfaceOptions struct {
	Compiler *Compiler
	Builder  *DocumentBuilder
	Context  ExecutionContext
	Reporter Reporter
	OnEvent  func(RenderEvent)
	Logger   logging.Logger
	Metrics  *Metrics
}

// MountResult describes one reconstruction.
type MountResult struct {
	Generation uint64
	Artifact   Artifact
	Document   string
	// Events raised synchronously by this mount. Runtime errors arrive later
	// through the Reporter and OnEvent.
	Events []RenderEvent
}

// Surface owns the isolated execution context and rebuilds it for every
// SourceUnit. Mounts are strictly sequential: the previous realm's listener
// is removed before the new document is built, and the new listener is
// registered before the new realm starts executing.
type Surface struct {
	compiler *Compiler
	builder  *DocumentBuilder
	context  ExecutionContext
	reporter Reporter
	onEvent  func(RenderEvent)
	logger   logging.Logger
	metrics  *Metrics
	errors   *perrors.ErrorHandler

	mountMu sync.Mutex

	mu         sync.RWMutex
	generation uint64
	loading    bool
	ready      chan struct{}
	realm      Realm
	realmGen   uint64
	listener   sandbox.ListenerID
	document   string
	closed     bool
}

// NewSurface creates a surface. It fails only when options.Context is nil.
func NewSurface(options SurfaceOptions) (*Surface, error) {
	if options.Context == nil {
		return nil, fmt.Errorf("surface requires an execution context")
	}
	if options.Compiler == nil {
		options.Compiler = NewCompiler()
	}
	if options.Builder == nil {
		builder, err := NewDocumentBuilder(DocumentOptions{})
		if err != nil {
			return nil, err
		}
		options.Builder = builder
	}
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	logger := options.Logger.WithComponent("preview")

	return &Surface{
		compiler: options.Compiler,
		builder:  options.Builder,
		context:  options.Context,
		reporter: options.Reporter,
		onEvent:  options.OnEvent,
		logger:   logger,
		metrics:  options.Metrics,
		errors:   perrors.NewErrorHandler(logger),
	}, nil
}

// Mount tears down the current document and mounts unit in its place. It
// never panics and never returns an error: failures are reported and listed
// in the result.
func (s *Surface) Mount(ctx context.Context, unit SourceUnit) (result MountResult) {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()

	start := time.Now()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loading = true
	ready := make(chan struct{})
	s.ready = ready
	previous, listener := s.realm, s.listener
	s.realm, s.listener = nil, 0
	closed := s.closed
	s.mu.Unlock()

	result.Generation = gen
	outcome := "construction_error"
	running := false

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			result.Events = append(result.Events, s.constructionFailed(ctx, gen, perrors.ErrCodeConstructionPanic, cause))
			outcome = "construction_error"
		}
		if !running {
			s.finish(gen, ready)
		}
		s.metrics.observeMount(outcome, time.Since(start))
	}()

	if previous != nil {
		previous.RemoveErrorListener(listener)
	}

	if closed {
		result.Events = append(result.Events, s.constructionFailed(ctx, gen, perrors.ErrCodeContextClosed, ErrSurfaceClosed))
		return result
	}

	compileStart := time.Now()
	artifact := s.compiler.Compile(Assemble(unit.JSX))
	s.metrics.observeCompile(time.Since(compileStart))
	result.Artifact = artifact

	if message, failed := artifact.CompileError(); failed {
		s.logger.Debug(ctx, "Compile failed", "generation", gen, "error", logging.Truncate(message, 512))
		result.Events = append(result.Events, s.emit(EventCompileError, message))
	}

	document, err := s.builder.Build(artifact, unit.CSS)
	if err != nil {
		result.Events = append(result.Events, s.constructionFailed(ctx, gen, perrors.ErrCodeDocumentBuild, err))
		return result
	}
	result.Document = document

	s.mu.Lock()
	s.document = document
	s.mu.Unlock()

	realm, err := s.context.Load(ctx, document)
	if err != nil {
		result.Events = append(result.Events, s.constructionFailed(ctx, gen, perrors.ErrCodeContextLoad, err))
		return result
	}

	id := realm.AddErrorListener(func(event sandbox.ErrorEvent) {
		s.handleRuntimeError(gen, event)
	})

	s.mu.Lock()
	s.realm, s.realmGen, s.listener = realm, gen, id
	s.mu.Unlock()

	// The realm outlives a request-scoped ctx; its own timeout bounds it.
	realm.Run(context.WithoutCancel(ctx))
	running = true
	go s.awaitReady(gen, realm, ready)

	if artifact.Failed() {
		outcome = "compile_error"
	} else {
		outcome = "compiled"
	}
	s.logger.Debug(ctx, "Surface mounted",
		"generation", gen,
		"compiled", !artifact.Failed(),
		"document_bytes", len(document),
		"duration", time.Since(start),
	)
	return result
}

// Loading reports whether the current document is still being constructed
// or executed. It clears when the realm signals ready, or when it finishes
// or fails without doing so.
func (s *Surface) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// WaitReady blocks until the latest mount is no longer loading.
func (s *Surface) WaitReady(ctx context.Context) error {
	for {
		s.mu.RLock()
		ready, gen := s.ready, s.generation
		s.mu.RUnlock()
		if ready == nil {
			return nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}

		s.mu.RLock()
		latest := s.generation == gen
		s.mu.RUnlock()
		if latest {
			return nil
		}
	}
}

// Snapshot waits for the current realm to finish executing and returns the
// markup rendered into the mount node.
func (s *Surface) Snapshot(ctx context.Context) (string, error) {
	html, _, err := s.SnapshotWithGeneration(ctx)
	return html, err
}

// SnapshotWithGeneration is Snapshot that also returns the generation of
// the realm the markup was taken from.
func (s *Surface) SnapshotWithGeneration(ctx context.Context) (string, uint64, error) {
	realm, gen, err := s.awaitDone(ctx)
	if err != nil {
		return "", 0, err
	}
	html, err := realm.InnerHTML(s.builder.MountID())
	if err != nil {
		return "", 0, err
	}
	return html, gen, nil
}

// RenderedDocument waits for the current realm to finish executing and
// returns its whole serialized document.
func (s *Surface) RenderedDocument(ctx context.Context) (string, error) {
	realm, _, err := s.awaitDone(ctx)
	if err != nil {
		return "", err
	}
	return realm.Snapshot()
}

// Document returns the last SurfaceDocument that was built.
func (s *Surface) Document() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

// Generation returns the number of mounts performed.
func (s *Surface) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// ActiveListeners returns the number of error listeners registered on the
// current realm.
func (s *Surface) ActiveListeners() int {
	s.mu.RLock()
	realm := s.realm
	s.mu.RUnlock()
	if realm == nil {
		return 0
	}
	return realm.ListenerCount()
}

// Close removes the current listener and closes the execution context.
func (s *Surface) Close() error {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	s.loading = false
	realm, listener := s.realm, s.listener
	s.realm, s.listener = nil, 0
	s.mu.Unlock()

	if realm != nil {
		realm.RemoveErrorListener(listener)
	}
	return s.context.Close()
}

func (s *Surface) awaitDone(ctx context.Context) (Realm, uint64, error) {
	s.mu.RLock()
	realm, gen := s.realm, s.realmGen
	s.mu.RUnlock()
	if realm == nil {
		return nil, 0, ErrNotMounted
	}

	select {
	case <-realm.Done():
		return realm, gen, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (s *Surface) awaitReady(gen uint64, realm Realm, ready chan struct{}) {
	select {
	case <-realm.Ready():
	case <-realm.Done():
	}
	s.finish(gen, ready)
}

func (s *Surface) finish(gen uint64, ready chan struct{}) {
	s.mu.Lock()
	if s.generation == gen {
		s.loading = false
	}
	s.mu.Unlock()
	close(ready)
}

// handleRuntimeError relays an uncaught realm error. Events from a realm
// that has since been replaced are dropped.
func (s *Surface) handleRuntimeError(gen uint64, event sandbox.ErrorEvent) {
	s.mu.RLock()
	current := s.generation == gen && !s.closed
	s.mu.RUnlock()
	if !current {
		s.logger.Debug(context.Background(), "Dropped error from replaced realm", "generation", gen)
		return
	}

	code := perrors.ErrCodeUncaught
	if event.Timeout {
		code = perrors.ErrCodeTimeout
	}
	s.errors.Handle(context.Background(),
		perrors.NewRuntimeError(code, logging.Truncate(event.Message, 512)).
			WithContext("generation", gen).
			WithContext("filename", event.Filename))

	s.emit(EventRuntimeError, RuntimeErrorPrefix+event.Message)
}

func (s *Surface) constructionFailed(ctx context.Context, gen uint64, code string, cause error) RenderEvent {
	s.errors.Handle(ctx, perrors.NewConstructionError(code, "surface construction failed", cause).
		WithContext("generation", gen))
	return s.emit(EventConstructionError, ConstructionErrorPrefix+cause.Error())
}

func (s *Surface) emit(kind EventKind, message string) RenderEvent {
	event := RenderEvent{Kind: kind, Message: message, Timestamp: time.Now()}
	s.metrics.recordEvent(kind)
	s.report(message)
	s.notify(event)
	return event
}

func (s *Surface) report(message string) {
	if s.reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(context.Background(), fmt.Errorf("%v", r), "Reporter panicked")
		}
	}()
	s.reporter(message)
}

func (s *Surface) notify(event RenderEvent) {
	if s.onEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(context.Background(), fmt.Errorf("%v", r), "Event observer panicked")
		}
	}()
	s.onEvent(event)
}
