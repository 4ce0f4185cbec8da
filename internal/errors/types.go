package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeCompile      ErrorType = "compile"
	ErrorTypeConstruction ErrorType = "construction"
	ErrorTypeRuntime      ErrorType = "runtime"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeInternal     ErrorType = "internal"
)

// PreviewError is a structured error type with context.
type PreviewError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Session     string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *PreviewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Session != "" {
		parts = append(parts, "session:"+e.Session)
	}

	if e.Line > 0 {
		location := fmt.Sprintf("line %d", e.Line)
		if e.Column > 0 {
			location += fmt.Sprintf(":%d", e.Column)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PreviewError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PreviewError) Is(target error) bool {
	var t *PreviewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PreviewError) WithContext(key string, value interface{}) *PreviewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds source position information.
func (e *PreviewError) WithLocation(line, column int) *PreviewError {
	e.Line = line
	e.Column = column

	return e
}

// WithSession adds session context.
func (e *PreviewError) WithSession(session string) *PreviewError {
	e.Session = session

	return e
}

// Error creation functions

// NewCompileError creates a JSX compilation error. Compile errors are always
// recoverable: the next source update retries from scratch.
func NewCompileError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConstructionError creates an error raised while building or loading a
// surface document.
func NewConstructionError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeConstruction,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRuntimeError creates an error observed inside an isolated realm.
func NewRuntimeError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeRuntime,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsType reports whether err is a PreviewError of the given type.
func IsType(err error, errType ErrorType) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Type == errType
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level that matches its type. Recoverable preview
// failures are warnings; everything else is an error.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var pe *PreviewError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch pe.Type {
	case ErrorTypeCompile, ErrorTypeRuntime, ErrorTypeConstruction, ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Preview error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"session", pe.Session)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"session", pe.Session)
	}
}

// Common error codes.
const (
	ErrCodeCompileFailed     = "ERR_COMPILE_FAILED"
	ErrCodeDocumentBuild     = "ERR_DOCUMENT_BUILD"
	ErrCodeContextLoad       = "ERR_CONTEXT_LOAD"
	ErrCodeContextClosed     = "ERR_CONTEXT_CLOSED"
	ErrCodeConstructionPanic = "ERR_CONSTRUCTION_PANIC"
	ErrCodeUncaught          = "ERR_UNCAUGHT"
	ErrCodeTimeout           = "ERR_TIMEOUT"
	ErrCodeSessionNotFound   = "ERR_SESSION_NOT_FOUND"
	ErrCodeSourceTooLarge    = "ERR_SOURCE_TOO_LARGE"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError     = "ERR_INTERNAL"
)

// ErrSessionNotFound creates a session lookup error.
func ErrSessionNotFound(id string) *PreviewError {
	return NewValidationError(ErrCodeSessionNotFound, "session not found").WithSession(id)
}

// ErrSourceTooLarge creates a source size validation error.
func ErrSourceTooLarge(size, limit int) *PreviewError {
	return NewValidationError(
		ErrCodeSourceTooLarge,
		fmt.Sprintf("source is %d bytes, limit is %d", size, limit),
	)
}
