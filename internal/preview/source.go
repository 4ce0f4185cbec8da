// Package preview implements the live preview engine for generated UI
// components.
//
// A SourceUnit (JSX text plus CSS text) flows through four stages on every
// update:
//
//   - Assemble wraps the JSX in a zero-argument App component with an
//     internal error boundary.
//   - Compiler turns the assembled module into plain script with esbuild's
//     classic React JSX transform, or into a compile error.
//   - DocumentBuilder produces a self-contained SurfaceDocument holding the
//     stylesheet, the runtime libraries and either the compiled script or an
//     escaped fallback script.
//   - Surface loads the document into an isolated execution context,
//     replacing whatever was mounted before, and relays compile,
//     construction and runtime failures to a Reporter.
//
// No failure escapes the engine as a panic or error return: every path ends
// in an inline fallback, a Reporter call, or both.
package preview

import "time"

// SourceUnit is one version of generated UI code. Values are never mutated
// after they are handed to a Surface.
type SourceUnit struct {
	JSX string `json:"jsx" yaml:"jsx"`
	CSS string `json:"css" yaml:"css"`
}

// EventKind classifies a RenderEvent.
type EventKind string

const (
	EventCompileError      EventKind = "compile_error"
	EventConstructionError EventKind = "construction_error"
	EventRuntimeError      EventKind = "runtime_error"
)

// RenderEvent is a failure observed while mounting or running a SourceUnit.
type RenderEvent struct {
	Kind      EventKind `json:"kind" yaml:"kind"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Reporter receives failure messages. Calls are fire-and-forget: the engine
// never blocks on or retries a Reporter.
type Reporter func(message string)

const (
	CompileErrorPrefix      = "JSX Compile Error: "
	ConstructionErrorPrefix = "Preview Error: "
	RuntimeErrorPrefix      = "Runtime Error: "
)
