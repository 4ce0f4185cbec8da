package sandbox

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"path"
	"strings"
)

//go:embed runtime/react.js
var reactRuntime string

//go:embed runtime/react-dom.js
var reactDOMRuntime string

// ScriptLoader resolves the src of an external script element.
type ScriptLoader interface {
	Load(ctx context.Context, src string) (string, error)
}

// EmbeddedLoader serves the bundled rendering runtime for React and ReactDOM
// URLs and static overrides registered with Register.
type EmbeddedLoader struct {
	scripts map[string]string
}

// NewEmbeddedLoader creates a loader for the bundled runtime.
func NewEmbeddedLoader() *EmbeddedLoader {
	return &EmbeddedLoader{scripts: make(map[string]string)}
}

// Register serves source for an exact src URL.
func (l *EmbeddedLoader) Register(src, source string) {
	l.scripts[src] = source
}

// Load implements ScriptLoader.
func (l *EmbeddedLoader) Load(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if source, ok := l.scripts[src]; ok {
		return source, nil
	}

	switch runtimeName(src) {
	case "react-dom":
		return reactDOMRuntime, nil
	case "react":
		return reactRuntime, nil
	}

	return "", fmt.Errorf("no script available for %s", src)
}

// runtimeName maps unpkg/jsdelivr style URLs such as
// https://unpkg.com/react-dom@18/umd/react-dom.development.js onto a package.
func runtimeName(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	base := strings.ToLower(path.Base(u.Path))
	for _, suffix := range []string{".development.js", ".production.min.js", ".production.js", ".min.js", ".js"} {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	switch base {
	case "react-dom", "react-dom.profiling":
		return "react-dom"
	case "react":
		return "react"
	}
	return ""
}
