// Package server exposes preview sessions over HTTP.
//
// It serves the index and host pages, the JSON session API, the websocket
// that pushes SurfaceDocuments to host pages, and the health and metrics
// endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/conneroisu/previewkit/internal/config"
	"github.com/conneroisu/previewkit/internal/logging"
	"github.com/conneroisu/previewkit/internal/session"
	"github.com/conneroisu/previewkit/internal/validation"
	"github.com/conneroisu/previewkit/internal/websocket"
)

// Options wires a Server. Config and Store are required.
type Options struct {
	Config   *config.Config
	Store    *session.Store
	Logger   logging.Logger
	Registry *prometheus.Registry
}

// Server serves preview sessions.
type Server struct {
	config   *config.Config
	store    *session.Store
	hub      *websocket.WebSocketManager
	logger   logging.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics
	handler  http.Handler

	subsMu        sync.Mutex
	subscriptions map[string]func()

	serverMutex  sync.Mutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a server. It does not listen until Start.
func New(options Options) (*Server, error) {
	if options.Config == nil {
		return nil, fmt.Errorf("server requires a configuration")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("server requires a session store")
	}
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	if options.Registry == nil {
		options.Registry = prometheus.NewRegistry()
	}

	cfg := options.Config
	s := &Server{
		config:        cfg,
		store:         options.Store,
		logger:        options.Logger.WithComponent("server"),
		registry:      options.Registry,
		metrics:       newHTTPMetrics(options.Registry),
		subscriptions: make(map[string]func()),
	}

	s.hub = websocket.NewWebSocketManager(websocket.Options{
		OriginValidator: validation.NewOriginPolicy(cfg.Server.Host, cfg.Server.Port, cfg.Server.AllowedOrigins),
		Sessions: func(id string) bool {
			_, err := s.store.Get(id)
			return err == nil
		},
		Handler:      s.handleClientMessage,
		Logger:       options.Logger,
		MessageRate:  rate.Limit(cfg.Preview.ReportRate),
		MessageBurst: cfg.Preview.ReportBurst,
	})

	for _, sess := range s.store.List() {
		s.Attach(sess)
	}

	s.handler = s.addMiddleware(s.routes())
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.indexPage())
	mux.HandleFunc("GET /sessions/{id}", s.handleHostPage)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /api/sessions/{id}/source", s.handleUpdateSource)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/sessions/{id}/document", s.handleDocument)
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/sessions/{id}/download", s.handleDownload)

	mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metricsHandler())
	return mux
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
}

// Attach relays sess notifications to its host pages. Attaching a session
// twice has no effect.
func (s *Server) Attach(sess *session.Session) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subscriptions[sess.ID]; ok {
		return
	}
	s.subscriptions[sess.ID] = sess.Subscribe(func(n session.Notification) {
		s.hub.BroadcastToSession(updateMessage(n))
	})
}

func (s *Server) detach(id string) {
	s.subsMu.Lock()
	cancel, ok := s.subscriptions[id]
	delete(s.subscriptions, id)
	s.subsMu.Unlock()
	if ok {
		cancel()
	}
}

func updateMessage(n session.Notification) websocket.UpdateMessage {
	msg := websocket.UpdateMessage{
		Session:    n.Session,
		Generation: n.Generation,
		Timestamp:  n.Timestamp,
	}
	switch n.Type {
	case session.NotificationSource:
		msg.Type = websocket.TypeSource
		msg.Content = n.Document
	default:
		msg.Type = websocket.TypeError
		msg.Message = n.Message
	}
	return msg
}

// handleClientMessage routes host page messages to their session.
func (s *Server) handleClientMessage(id string, message websocket.ClientMessage) {
	sess, err := s.store.Get(id)
	if err != nil {
		return
	}

	switch message.Type {
	case websocket.TypeRuntimeError:
		if message.Message == "" {
			return
		}
		recorded := sess.ReportRuntimeError(message.Generation, logging.Truncate(message.Message, 2048))
		s.logger.Debug(context.Background(), "Browser reported runtime error",
			"session", id,
			"generation", message.Generation,
			"recorded", recorded,
		)
	case websocket.TypeReady:
		s.logger.Debug(context.Background(), "Host page ready", "session", id, "generation", message.Generation)
	default:
		s.logger.Debug(context.Background(), "Ignoring client message", "session", id, "type", message.Type)
	}
}

// Start listens until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Server shutdown failed")
		}
	}()

	s.logger.Info(ctx, "Preview server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and closes every websocket.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.serverMutex.Lock()
		server := s.httpServer
		s.serverMutex.Unlock()

		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("shutting down http server: %w", err)
			}
		}
		if err := s.hub.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	})
	return shutdownErr
}
