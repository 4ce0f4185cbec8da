// Package session keeps the live preview sessions served by previewkit.
//
// A Session pairs the current SourceUnit with its own preview Surface and
// isolated frame, a bounded history of render events, and the subscribers
// that want to hear about updates. Sessions live in memory only.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/conneroisu/previewkit/internal/config"
	perrors "github.com/conneroisu/previewkit/internal/errors"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/sandbox"
)

// Options configures every session created by a Store.
type Options struct {
	Sandbox        sandbox.Config
	Loader         sandbox.ScriptLoader
	Document       preview.DocumentOptions
	MaxSourceBytes int
	HistorySize    int
	ReportRate     rate.Limit
	ReportBurst    int
	Logger         logging.Logger
	Metrics        *preview.Metrics
}

// OptionsFromConfig maps the preview and sandbox sections of cfg onto
// store options.
func OptionsFromConfig(cfg *config.Config, logger logging.Logger, metrics *preview.Metrics) Options {
	return Options{
		Sandbox: sandbox.Config{
			Timeout:       cfg.Sandbox.Timeout,
			MaxTimers:     cfg.Sandbox.MaxTimers,
			MaxCallStack:  cfg.Sandbox.MaxCallStack,
			EnableConsole: cfg.Sandbox.EnableConsole,
			MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
		},
		Document: preview.DocumentOptions{
			RuntimeScripts: cfg.Preview.RuntimeScripts,
			BaseStyle:      cfg.Preview.BaseStyle,
			MountID:        cfg.Preview.MountID,
		},
		MaxSourceBytes: cfg.Preview.MaxSourceBytes,
		HistorySize:    cfg.Preview.HistorySize,
		ReportRate:     rate.Limit(cfg.Preview.ReportRate),
		ReportBurst:    cfg.Preview.ReportBurst,
		Logger:         logger,
		Metrics:        metrics,
	}
}

// Store is an in-memory registry of sessions keyed by id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	options  Options
	compiler *preview.Compiler
	builder  *preview.DocumentBuilder
	logger   logging.Logger
}

// NewStore creates an empty store.
func NewStore(options Options) (*Store, error) {
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	if options.Loader == nil {
		options.Loader = sandbox.NewEmbeddedLoader()
	}
	if options.HistorySize <= 0 {
		options.HistorySize = 100
	}

	builder, err := preview.NewDocumentBuilder(options.Document)
	if err != nil {
		return nil, err
	}

	return &Store{
		sessions: make(map[string]*Session),
		options:  options,
		compiler: preview.NewCompiler(),
		builder:  builder,
		logger:   options.Logger.WithComponent("session"),
	}, nil
}

// Create starts a new empty session.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	id := uuid.New().String()
	logger := s.logger.With("session", id)

	now := time.Now()
	session := &Session{
		ID:          id,
		CreatedAt:   now,
		updatedAt:   now,
		historySize: s.options.HistorySize,
		maxSource:   s.options.MaxSourceBytes,
		subscribers: make(map[uint64]func(Notification)),
		logger:      logger,
	}
	session.reporter = preview.NewThrottledReporter(session.publishError, s.options.ReportRate, s.options.ReportBurst, s.options.Metrics)

	frame := sandbox.NewFrame(s.options.Sandbox, s.options.Loader, logger)
	surface, err := preview.NewSurface(preview.SurfaceOptions{
		Compiler: s.compiler,
		Builder:  s.builder,
		Context:  preview.NewFrameContext(frame),
		OnEvent:  func(event preview.RenderEvent) { session.observe(event) },
		Logger:   logger,
		Metrics:  s.options.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating surface: %w", err)
	}
	session.surface = surface

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	logger.Info(ctx, "Session created")
	return session, nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, perrors.ErrSessionNotFound(id)
	}
	return session, nil
}

// List returns every session, oldest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Delete closes and removes a session.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return perrors.ErrSessionNotFound(id)
	}
	return session.close()
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close closes every session.
func (s *Store) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if err := session.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
