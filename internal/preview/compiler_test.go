package preview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactVariants(t *testing.T) {
	ok := Compiled("var a = 1;")
	code, isCode := ok.Code()
	assert.True(t, isCode)
	assert.Equal(t, "var a = 1;", code)
	_, isErr := ok.CompileError()
	assert.False(t, isErr)
	assert.False(t, ok.Failed())
	assert.True(t, ok.Valid())

	bad := Failed("JSX Compile Error: nope")
	_, isCode = bad.Code()
	assert.False(t, isCode)
	msg, isErr := bad.CompileError()
	assert.True(t, isErr)
	assert.Equal(t, "JSX Compile Error: nope", msg)
	assert.True(t, bad.Failed())

	var zero Artifact
	assert.False(t, zero.Valid())
	_, isCode = zero.Code()
	assert.False(t, isCode)
	_, isErr = zero.CompileError()
	assert.False(t, isErr)
}

func TestAssemble(t *testing.T) {
	module := Assemble("<div>Hello</div>")

	assert.True(t, strings.HasPrefix(module, "const App = () => {"))
	assert.Contains(t, module, "<React.Fragment><div>Hello</div></React.Fragment>")
	assert.Contains(t, module, "'Component Error: ' + error.message")
	assert.Equal(t, 1, strings.Count(module, "<div>Hello</div>"))
}

func TestAssembleDoesNotEscape(t *testing.T) {
	jsx := `<p title="a 'quoted' value">{"</script>"}</p>`
	assert.Contains(t, Assemble(jsx), jsx)
}

func TestCompile(t *testing.T) {
	compiler := NewCompiler()

	tests := []struct {
		name     string
		jsx      string
		failed   bool
		contains []string
	}{
		{
			name:     "simple element",
			jsx:      "<div>Hello</div>",
			contains: []string{"React.createElement(React.Fragment", `React.createElement("div", null, "Hello")`, "const App"},
		},
		{
			name:     "expression and props",
			jsx:      `<ul className="list">{[1, 2].map(n => <li key={n}>{n}</li>)}</ul>`,
			contains: []string{`className: "list"`, "key: n"},
		},
		{
			name:   "unterminated tag",
			jsx:    "<div>",
			failed: true,
		},
		{
			name:   "unbalanced braces",
			jsx:    "<div>{</div>",
			failed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := compiler.Compile(Assemble(tt.jsx))
			require.Equal(t, tt.failed, artifact.Failed())

			if tt.failed {
				msg, ok := artifact.CompileError()
				require.True(t, ok)
				assert.True(t, strings.HasPrefix(msg, CompileErrorPrefix), msg)
				assert.Contains(t, msg, "App.jsx:")
				return
			}

			code, ok := artifact.Code()
			require.True(t, ok)
			assert.NotContains(t, code, "<div>")
			for _, want := range tt.contains {
				assert.Contains(t, code, want)
			}
		})
	}
}
