package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	perrors "github.com/conneroisu/previewkit/internal/errors"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/preview"
)

// NotificationType identifies what changed in a session.
type NotificationType string

const (
	// NotificationSource is sent after a new SourceUnit was mounted.
	NotificationSource NotificationType = "source"
	// NotificationError carries a reported failure message.
	NotificationError NotificationType = "error"
)

// Notification is delivered to session subscribers.
type Notification struct {
	Type       NotificationType   `json:"type"`
	Session    string             `json:"session"`
	Generation uint64             `json:"generation,omitempty"`
	Source     preview.SourceUnit `json:"source,omitempty"`
	Document   string             `json:"document,omitempty"`
	Message    string             `json:"message,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string                `json:"id" yaml:"id"`
	CreatedAt  time.Time             `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at" yaml:"updated_at"`
	Generation uint64                `json:"generation" yaml:"generation"`
	Loading    bool                  `json:"loading" yaml:"loading"`
	Source     preview.SourceUnit    `json:"source" yaml:"source"`
	Events     []preview.RenderEvent `json:"events" yaml:"events"`
}

// Session is one preview: the current SourceUnit and the surface it is
// mounted in.
type Session struct {
	ID        string
	CreatedAt time.Time

	surface  *preview.Surface
	reporter *preview.ThrottledReporter
	logger   logging.Logger

	historySize int
	maxSource   int

	// updateMu serializes Update so notifications follow mount order.
	updateMu sync.Mutex

	mu          sync.RWMutex
	updatedAt   time.Time
	unit        preview.SourceUnit
	events      []preview.RenderEvent
	subscribers map[uint64]func(Notification)
	nextSub     uint64
	closed      bool
}

// Update replaces the session's SourceUnit and remounts its surface. The
// returned error only covers rejected input; render failures are listed in
// the MountResult.
func (s *Session) Update(ctx context.Context, unit preview.SourceUnit) (preview.MountResult, error) {
	if size := len(unit.JSX) + len(unit.CSS); s.maxSource > 0 && size > s.maxSource {
		return preview.MountResult{}, perrors.ErrSourceTooLarge(size, s.maxSource).WithSession(s.ID)
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return preview.MountResult{}, perrors.ErrSessionNotFound(s.ID)
	}
	s.unit = unit
	s.updatedAt = time.Now()
	s.mu.Unlock()

	result := s.surface.Mount(ctx, unit)

	s.logger.Info(ctx, "Session updated",
		"generation", result.Generation,
		"jsx_bytes", len(unit.JSX),
		"css_bytes", len(unit.CSS),
		"events", len(result.Events),
	)

	s.notify(Notification{
		Type:       NotificationSource,
		Session:    s.ID,
		Generation: result.Generation,
		Source:     unit,
		Document:   result.Document,
		Timestamp:  time.Now(),
	})
	return result, nil
}

// ReportRuntimeError records an uncaught error observed by a browser that
// renders this session's document. generation names the mount the browser
// was showing; zero means the current one. It reports whether the error was
// recorded: reports for a replaced mount are dropped, and so are messages
// already recorded since the last update.
func (s *Session) ReportRuntimeError(generation uint64, message string) bool {
	if current := s.surface.Generation(); generation != 0 && generation != current {
		s.logger.Debug(context.Background(), "Dropped browser error from replaced mount", "generation", generation, "current", current)
		return false
	}
	return s.observe(preview.RenderEvent{
		Kind:      preview.EventRuntimeError,
		Message:   preview.RuntimeErrorPrefix + message,
		Timestamp: time.Now(),
	})
}

// Source returns the current SourceUnit.
func (s *Session) Source() preview.SourceUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unit
}

// Events returns the retained render events, oldest first.
func (s *Session) Events() []preview.RenderEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]preview.RenderEvent(nil), s.events...)
}

// Info returns a snapshot of the session state.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.updatedAt,
		Generation: s.surface.Generation(),
		Loading:    s.surface.Loading(),
		Source:     s.unit,
		Events:     append([]preview.RenderEvent{}, s.events...),
	}
}

// Document returns the SurfaceDocument of the last update.
func (s *Session) Document() string {
	return s.surface.Document()
}

// Snapshot returns the markup rendered by the last update once its realm
// has finished.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	return s.surface.Snapshot(ctx)
}

// SnapshotWithGeneration is Snapshot that also returns the generation the
// markup belongs to.
func (s *Session) SnapshotWithGeneration(ctx context.Context) (string, uint64, error) {
	return s.surface.SnapshotWithGeneration(ctx)
}

// WaitReady blocks until the last update finished loading.
func (s *Session) WaitReady(ctx context.Context) error {
	return s.surface.WaitReady(ctx)
}

// DroppedReports returns how many reports were throttled.
func (s *Session) DroppedReports() uint64 {
	return s.reporter.Dropped()
}

// Subscribe registers fn for notifications. The returned function removes
// the subscription.
func (s *Session) Subscribe(fn func(Notification)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// observe records event and publishes it through the throttled reporter.
// The sandbox realm and a browser can both see the same uncaught error, so
// a runtime error already recorded since the last update is skipped.
func (s *Session) observe(event preview.RenderEvent) bool {
	s.mu.Lock()
	if s.closed || (event.Kind == preview.EventRuntimeError && s.seenLocked(event.Message)) {
		s.mu.Unlock()
		return false
	}
	s.events = append(s.events, event)
	if over := len(s.events) - s.historySize; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	s.mu.Unlock()

	s.reporter.Report(event.Message)
	return true
}

func (s *Session) seenLocked(message string) bool {
	for i := len(s.events) - 1; i >= 0 && !s.events[i].Timestamp.Before(s.updatedAt); i-- {
		if s.events[i].Message == message {
			return true
		}
	}
	return false
}

// publishError is the session's Reporter target.
func (s *Session) publishError(message string) {
	s.logger.Debug(context.Background(), "Preview reported error", "message", logging.Truncate(message, 256))
	s.notify(Notification{
		Type:      NotificationError,
		Session:   s.ID,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (s *Session) notify(n Notification) {
	s.mu.RLock()
	subscribers := make([]func(Notification), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn(context.Background(), fmt.Errorf("%v", r), "Subscriber panicked")
				}
			}()
			fn(n)
		}()
	}
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subscribers = make(map[uint64]func(Notification))
	s.mu.Unlock()
	return s.surface.Close()
}
