package sandbox

import (
	"errors"
	"time"
)

// ReadyMessageType is the message type a document posts to its parent once
// its last script has executed.
const ReadyMessageType = "preview:ready"

var (
	ErrFrameClosed = errors.New("sandbox frame is closed")
	ErrNotFinished = errors.New("sandbox window has not finished running")
	ErrNoElement   = errors.New("no element with that id")

	errExecutionTimeout = errors.New("execution timeout exceeded")
	errMemoryLimit      = errors.New("memory limit exceeded")
	errWindowDiscarded  = errors.New("window discarded")
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Execution budget for one window
	MaxTimers     int           // Timer callbacks drained per window
	MaxCallStack  int           // goja call stack limit
	EnableConsole bool          // Capture console.log/warn/error
	MaxMemoryMB   int64         // Heap growth allowed while the window runs
}

// DefaultConfig returns the default sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		MaxTimers:     1000,
		MaxCallStack:  1024,
		EnableConsole: true,
		MaxMemoryMB:   256,
	}
}

// ErrorEvent is an uncaught failure raised inside a window.
type ErrorEvent struct {
	Message  string
	Filename string
	Time     time.Time
	Timeout  bool
}

// ErrorListener receives error events from a window.
type ErrorListener func(ErrorEvent)

// ListenerID identifies a registered host listener.
type ListenerID uint64

// LogEntry represents console output
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

type script struct {
	name   string
	src    string // external URL, empty for inline scripts
	source string
}
