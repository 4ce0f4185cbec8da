package preview

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeScriptString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "hello", "hello"},
		{"single quote", "it's", `it\'s`},
		{"double quote", `say "hi"`, `say \"hi\"`},
		{"backslash", `a\b`, `a\\b`},
		{"newlines", "a\nb\rc", `a\nb\rc`},
		{"line separators", "a\u2028b\u2029c", `a\u2028b\u2029c`},
		{"closing tag", "</script><script>alert(1)</script>", `<\/script><script>alert(1)<\/script>`},
		{"comment open", "<!--", `<\!--`},
		{"escaped quote", `\'`, `\\\'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := EscapeScriptString(tt.input)
			assert.Equal(t, tt.expected, escaped)

			back, err := UnescapeScriptString(escaped)
			require.NoError(t, err)
			assert.Equal(t, tt.input, back)
		})
	}
}

func TestUnescapeScriptStringErrors(t *testing.T) {
	for _, input := range []string{`abc\`, `\u12`, `\uzzzz`} {
		_, err := UnescapeScriptString(input)
		assert.Error(t, err, input)
	}
}

func TestEscapedStringEvaluatesToOriginal(t *testing.T) {
	vm := goja.New()
	message := `Unexpected "}" in 'App.jsx'` + "\n</script>\\"

	for _, quote := range []string{"'", `"`} {
		v, err := vm.RunString(quote + EscapeScriptString(message) + quote)
		require.NoError(t, err)
		assert.Equal(t, message, v.String())
	}
}

func TestFallbackScriptWritesText(t *testing.T) {
	script := FallbackScript(`JSX Compile Error: <b>"bad"</b> it's`)

	assert.Contains(t, script, "getElementById('root')")
	assert.Contains(t, script, ".textContent = ")
	assert.NotContains(t, script, "innerHTML = 'JSX")
	assert.Contains(t, script, `<b>\"bad\"<\/b> it\'s`)
}
