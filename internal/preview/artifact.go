package preview

// Artifact is the result of compiling an assembled module: either compiled
// script or a compile error, never both and never neither.
type Artifact struct {
	code         string
	compileError string
	failed       bool
	set          bool
}

// Compiled returns the success variant.
func Compiled(code string) Artifact {
	return Artifact{code: code, set: true}
}

// Failed returns the error variant.
func Failed(message string) Artifact {
	return Artifact{compileError: message, failed: true, set: true}
}

// Code returns the compiled script of a success variant.
func (a Artifact) Code() (string, bool) {
	if !a.set || a.failed {
		return "", false
	}
	return a.code, true
}

// CompileError returns the message of an error variant.
func (a Artifact) CompileError() (string, bool) {
	if !a.failed {
		return "", false
	}
	return a.compileError, true
}

// Failed reports whether a is the error variant.
func (a Artifact) Failed() bool {
	return a.failed
}

// Valid reports whether a was produced by Compiled or Failed. The zero
// Artifact is not valid.
func (a Artifact) Valid() bool {
	return a.set
}
