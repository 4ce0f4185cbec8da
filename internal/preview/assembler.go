package preview

import "strings"

const (
	assemblyPrefix = "const App = () => {\n  try {\n    return (<React.Fragment>"
	assemblySuffix = "</React.Fragment>);\n  } catch (error) {\n" +
		"    return React.createElement('pre', {\n" +
		"      style: { color: 'red', padding: '10px', fontFamily: 'monospace' }\n" +
		"    }, 'Component Error: ' + error.message);\n" +
		"  }\n};\n"
)

// Assemble wraps jsx in the App component definition. An exception thrown
// while the body builds its element tree is turned into a red <pre> node
// carrying the message, so mounting App never throws for faulty component
// logic. jsx is embedded verbatim; syntax problems surface when compiling.
func Assemble(jsx string) string {
	var b strings.Builder
	b.Grow(len(assemblyPrefix) + len(jsx) + len(assemblySuffix))
	b.WriteString(assemblyPrefix)
	b.WriteString(jsx)
	b.WriteString(assemblySuffix)
	return b.String()
}
