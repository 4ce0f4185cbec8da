// Package websocket connects host pages to their preview sessions.
//
// Each connection is bound to one session. Updates are broadcast only to
// the clients of the session they belong to, and messages sent by a host
// page are decoded and handed to a MessageHandler.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/conneroisu/previewkit/internal/logging"
)

const (
	pingPeriod   = 54 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// Options configures a WebSocketManager. OriginValidator is required.
type Options struct {
	OriginValidator OriginValidator
	Sessions        SessionResolver
	Handler         MessageHandler
	Logger          logging.Logger
	// MessageRate bounds client messages per second on each connection. A
	// non-positive rate disables the limit.
	MessageRate     rate.Limit
	MessageBurst    int
	MaxMessageBytes int64
}

type envelope struct {
	session string
	data    []byte
}

// WebSocketManager owns every host page connection.
//
// A single hub goroutine registers, unregisters and broadcasts, so the send
// channel of a client is only ever written and closed from that goroutine.
// Shutdown cancels the hub, which closes every remaining connection.
type WebSocketManager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan envelope
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	sessions        SessionResolver
	handler         MessageHandler
	logger          logging.Logger
	messageRate     rate.Limit
	messageBurst    int
	maxMessageBytes int64

	ctx          context.Context
	cancel       context.CancelFunc
	hubDone      chan struct{}
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// NewWebSocketManager starts the hub. It panics without an origin
// validator.
func NewWebSocketManager(options Options) *WebSocketManager {
	if options.OriginValidator == nil {
		panic("WebSocketManager: originValidator cannot be nil")
	}
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	if options.MessageRate <= 0 {
		options.MessageRate = rate.Inf
	}
	if options.MessageBurst <= 0 {
		options.MessageBurst = 1
	}
	if options.MaxMessageBytes <= 0 {
		options.MaxMessageBytes = 64 << 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &WebSocketManager{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan envelope, 256),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: options.OriginValidator,
		sessions:        options.Sessions,
		handler:         options.Handler,
		logger:          options.Logger.WithComponent("websocket"),
		messageRate:     options.MessageRate,
		messageBurst:    options.MessageBurst,
		maxMessageBytes: options.MaxMessageBytes,
		ctx:             ctx,
		cancel:          cancel,
		hubDone:         make(chan struct{}),
	}

	go manager.runHub()
	return manager
}

// HandleWebSocket upgrades a host page connection for the session named by
// the "session" query parameter.
func (wm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if wm.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	clientIP := getClientIP(r)
	if !wm.validateWebSocketRequest(r) {
		wm.logger.Warn(r.Context(), nil, "WebSocket connection rejected", "remote", clientIP, "origin", r.Header.Get("Origin"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		http.Error(w, "session query parameter is required", http.StatusBadRequest)
		return
	}
	if wm.sessions != nil && !wm.sessions(session) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	// Origins were validated above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		wm.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", clientIP)
		return
	}
	conn.SetReadLimit(wm.maxMessageBytes)

	client := &Client{
		conn:       conn,
		session:    session,
		remote:     clientIP,
		send:       make(chan []byte, sendBuffer),
		limiter:    rate.NewLimiter(wm.messageRate, wm.messageBurst),
		registered: make(chan struct{}),
	}

	select {
	case wm.register <- client:
	case <-wm.ctx.Done():
		wm.closeConn(conn, websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
		wm.logger.Warn(r.Context(), nil, "WebSocket registration channel full, rejecting client")
		wm.closeConn(conn, websocket.StatusTryAgainLater, "Server busy")
		return
	}

	go wm.handleClient(client)
}

// BroadcastToSession sends message to every client of message.Session.
func (wm *WebSocketManager) BroadcastToSession(message UpdateMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		wm.logger.Error(wm.ctx, err, "Failed to marshal broadcast message")
		return
	}

	select {
	case wm.broadcast <- envelope{session: message.Session, data: data}:
	case <-wm.ctx.Done():
	default:
		wm.logger.Warn(wm.ctx, nil, "Broadcast channel full, dropping message", "session", message.Session)
	}
}

// GetConnectedClients returns the number of connected clients.
func (wm *WebSocketManager) GetConnectedClients() int {
	wm.clientsMutex.RLock()
	defer wm.clientsMutex.RUnlock()
	return len(wm.clients)
}

// SessionClients returns the number of clients bound to session.
func (wm *WebSocketManager) SessionClients(session string) int {
	wm.clientsMutex.RLock()
	defer wm.clientsMutex.RUnlock()
	n := 0
	for _, client := range wm.clients {
		if client.session == session {
			n++
		}
	}
	return n
}

// Shutdown stops the hub and closes every connection.
func (wm *WebSocketManager) Shutdown(ctx context.Context) error {
	wm.shutdownOnce.Do(func() {
		wm.isShutdown.Store(true)
		wm.cancel()
	})

	select {
	case <-wm.hubDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket hub: %w", ctx.Err())
	}
}

// IsShutdown returns whether Shutdown was called.
func (wm *WebSocketManager) IsShutdown() bool {
	return wm.isShutdown.Load()
}

func (wm *WebSocketManager) validateWebSocketRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || wm.originValidator.IsAllowedOrigin(origin)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func (wm *WebSocketManager) runHub() {
	defer close(wm.hubDone)
	for {
		select {
		case client := <-wm.register:
			wm.registerClient(client)

		case conn := <-wm.unregister:
			wm.unregisterClient(conn, websocket.StatusNormalClosure, "")

		case message := <-wm.broadcast:
			wm.broadcastToSession(message)

		case <-wm.ctx.Done():
			wm.clientsMutex.Lock()
			conns := make([]*websocket.Conn, 0, len(wm.clients))
			for conn := range wm.clients {
				conns = append(conns, conn)
			}
			wm.clientsMutex.Unlock()
			for _, conn := range conns {
				wm.unregisterClient(conn, websocket.StatusGoingAway, "Server shutdown")
			}
			wm.logger.Info(context.Background(), "WebSocket manager shut down")
			return
		}
	}
}

func (wm *WebSocketManager) registerClient(client *Client) {
	wm.clientsMutex.Lock()
	wm.clients[client.conn] = client
	total := len(wm.clients)
	wm.clientsMutex.Unlock()
	close(client.registered)

	wm.logger.Info(wm.ctx, "WebSocket client connected", "session", client.session, "remote", client.remote, "clients", total)
}

func (wm *WebSocketManager) unregisterClient(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	wm.clientsMutex.Lock()
	client, exists := wm.clients[conn]
	if exists {
		delete(wm.clients, conn)
		close(client.send)
	}
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	if exists {
		wm.closeConn(conn, code, reason)
		wm.logger.Info(context.Background(), "WebSocket client disconnected", "session", client.session, "clients", total)
	}
}

func (wm *WebSocketManager) broadcastToSession(message envelope) {
	wm.clientsMutex.RLock()
	clients := make([]*Client, 0, len(wm.clients))
	for _, client := range wm.clients {
		if client.session == message.session {
			clients = append(clients, client)
		}
	}
	wm.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message.data:
		default:
			// A client that cannot keep up is dropped.
			wm.unregisterClient(client.conn, websocket.StatusPolicyViolation, "Client too slow")
		}
	}
}

func (wm *WebSocketManager) handleClient(client *Client) {
	defer wm.release(client)

	go wm.writeToClient(client)
	wm.readFromClient(client)
}

// release queues client for removal once the hub has registered it, so an
// unregister can never overtake its own register.
func (wm *WebSocketManager) release(client *Client) {
	select {
	case <-client.registered:
	case <-wm.ctx.Done():
		return
	}
	select {
	case wm.unregister <- client.conn:
	case <-wm.ctx.Done():
	}
}

func (wm *WebSocketManager) readFromClient(client *Client) {
	for {
		_, data, err := client.conn.Read(wm.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				wm.logger.Debug(wm.ctx, "WebSocket read ended", "session", client.session, "error", err)
			}
			return
		}

		if !client.limiter.Allow() {
			wm.logger.Warn(wm.ctx, nil, "WebSocket message rate limit exceeded", "session", client.session)
			continue
		}

		wm.processClientMessage(client, data)
	}
}

func (wm *WebSocketManager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				wm.logger.Debug(wm.ctx, "WebSocket write failed", "session", client.session, "error", err)
				wm.closeConn(client.conn, websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				wm.logger.Debug(wm.ctx, "WebSocket ping failed", "session", client.session, "error", err)
				wm.closeConn(client.conn, websocket.StatusGoingAway, "ping failed")
				return
			}

		case <-wm.ctx.Done():
			return
		}
	}
}

func (wm *WebSocketManager) processClientMessage(client *Client, data []byte) {
	var message ClientMessage
	if err := json.Unmarshal(data, &message); err != nil {
		wm.logger.Debug(wm.ctx, "Ignoring malformed client message", "session", client.session, "bytes", len(data))
		return
	}
	if message.Type == "" {
		return
	}
	if wm.handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			wm.logger.Warn(wm.ctx, fmt.Errorf("%v", r), "WebSocket message handler panicked", "session", client.session)
		}
	}()
	wm.handler(client.session, message)
}

func (wm *WebSocketManager) closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	if err := conn.Close(code, reason); err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		wm.logger.Debug(context.Background(), "WebSocket close failed", "error", err)
	}
}
