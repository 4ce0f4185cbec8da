package websocket

import (
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// Message types exchanged with host pages.
const (
	// TypeSource carries a freshly built SurfaceDocument.
	TypeSource = "source"
	// TypeError carries a reported failure message.
	TypeError = "error"
	// TypeRuntimeError is sent by a host page for an uncaught error in its
	// iframe.
	TypeRuntimeError = "runtime_error"
	// TypeReady is sent by a host page once its iframe signalled ready.
	TypeReady = "ready"
)

// Client is one host page connection, bound to a single session.
type Client struct {
	conn    *websocket.Conn
	session string
	remote  string
	send    chan []byte
	limiter *rate.Limiter

	// registered is closed once the hub has added the client.
	registered chan struct{}
}

// UpdateMessage is sent to the host pages of a session.
type UpdateMessage struct {
	Type       string    `json:"type"`
	Session    string    `json:"session"`
	Generation uint64    `json:"generation,omitempty"`
	Content    string    `json:"content,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ClientMessage is received from a host page.
type ClientMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

// OriginValidator validates websocket connection origins.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// SessionResolver reports whether a session exists.
type SessionResolver func(id string) bool

// MessageHandler receives decoded client messages.
type MessageHandler func(session string, message ClientMessage)
