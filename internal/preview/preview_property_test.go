//go:build property

package preview

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEscapeProperties validates the script string escaping boundary.
func TestEscapeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	quoted := gen.SliceOf(gen.OneGenOf(
		gen.AlphaString(),
		gen.OneConstOf(`'`, `"`, `\`, "\n", "\r", "</", "<!--", "\u2028", "</script>"),
	)).Map(func(parts []string) string { return strings.Join(parts, "") })

	// Property: unescaping an escaped string recovers the original
	properties.Property("escape round-trips", prop.ForAll(
		func(s string) bool {
			back, err := UnescapeScriptString(EscapeScriptString(s))
			return err == nil && back == s
		},
		gen.AnyString(),
	))

	properties.Property("escape round-trips with quotes", prop.ForAll(
		func(s string) bool {
			back, err := UnescapeScriptString(EscapeScriptString(s))
			return err == nil && back == s
		},
		quoted,
	))

	// Property: no quote in the escaped text can terminate the literal
	properties.Property("quotes are always escaped", prop.ForAll(
		func(s string) bool {
			escaped := EscapeScriptString(s)
			for i := 0; i < len(escaped); i++ {
				if escaped[i] != '\'' && escaped[i] != '"' {
					continue
				}
				backslashes := 0
				for j := i - 1; j >= 0 && escaped[j] == '\\'; j-- {
					backslashes++
				}
				if backslashes%2 == 0 {
					return false
				}
			}
			return !strings.Contains(escaped, "</") && !strings.Contains(escaped, "\n")
		},
		quoted,
	))

	// Property: the escaped literal evaluates to the original message
	properties.Property("escaped literal evaluates to original", prop.ForAll(
		func(s string) bool {
			vm := goja.New()
			v, err := vm.RunString("'" + EscapeScriptString(s) + "'")
			return err == nil && v.String() == s
		},
		quoted,
	))

	properties.TestingRun(t)
}

// TestAssemblyProperties validates that assembly is total and compiling
// always yields exactly one artifact variant.
func TestAssemblyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9753)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	compiler := NewCompiler()

	jsx := gen.SliceOf(gen.OneGenOf(
		gen.AlphaString(),
		gen.OneConstOf("<div>", "</div>", "<p>", "</p>", "{", "}", "<>", "</>", "'", `"`, "=>", "()"),
	)).Map(func(parts []string) string { return strings.Join(parts, "") })

	// Property: assembly never fails and embeds the JSX verbatim
	properties.Property("assembly is total", prop.ForAll(
		func(s string) bool {
			module := Assemble(s)
			return strings.HasPrefix(module, assemblyPrefix) &&
				strings.HasSuffix(module, assemblySuffix) &&
				module[len(assemblyPrefix):len(module)-len(assemblySuffix)] == s
		},
		gen.AnyString(),
	))

	// Property: compiling any assembled module yields exactly one variant
	properties.Property("artifact is a tagged union", prop.ForAll(
		func(s string) bool {
			artifact := compiler.Compile(Assemble(s))
			_, hasCode := artifact.Code()
			message, hasError := artifact.CompileError()
			if hasCode == hasError {
				return false
			}
			return !hasError || strings.HasPrefix(message, CompileErrorPrefix)
		},
		jsx,
	))

	// Property: well-formed element trees always compile
	properties.Property("balanced elements compile", prop.ForAll(
		func(depth int, text string) bool {
			var b strings.Builder
			for i := 0; i < depth; i++ {
				b.WriteString("<div>")
			}
			b.WriteString(text)
			for i := 0; i < depth; i++ {
				b.WriteString("</div>")
			}
			return !compiler.Compile(Assemble(b.String())).Failed()
		},
		gen.IntRange(1, 8),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
