package preview

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Compiler transforms assembled modules with esbuild's classic React JSX
// transform. It is stateless and safe for concurrent use.
type Compiler struct {
	options api.TransformOptions
}

// NewCompiler creates a compiler emitting React.createElement calls.
func NewCompiler() *Compiler {
	return &Compiler{
		options: api.TransformOptions{
			Loader:      api.LoaderJSX,
			JSX:         api.JSXTransform,
			JSXFactory:  "React.createElement",
			JSXFragment: "React.Fragment",
			Sourcefile:  "App.jsx",
			Target:      api.ES2017,
			LogLevel:    api.LogLevelSilent,
		},
	}
}

// Compile returns Compiled(code) or Failed("JSX Compile Error: ...").
// It never panics.
func (c *Compiler) Compile(module string) (artifact Artifact) {
	defer func() {
		if r := recover(); r != nil {
			artifact = Failed(fmt.Sprintf("%s%v", CompileErrorPrefix, r))
		}
	}()

	result := api.Transform(module, c.options)
	if len(result.Errors) > 0 {
		return Failed(CompileErrorPrefix + formatMessages(result.Errors))
	}
	return Compiled(string(result.Code))
}

func formatMessages(messages []api.Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if loc := msg.Location; loc != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, msg.Text))
			continue
		}
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "; ")
}
