package preview

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMountID is the id of the node App is rendered into.
const DefaultMountID = "root"

var scriptStringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
	"</", `<\/`,
	"<!--", `<\!--`,
)

// EscapeScriptString escapes s for a single- or double-quoted JavaScript
// string literal inside an inline <script>. Neither quote character, a line
// terminator nor a closing tag in s can end the literal or the element.
func EscapeScriptString(s string) string {
	return scriptStringEscaper.Replace(s)
}

// UnescapeScriptString reverses EscapeScriptString.
func UnescapeScriptString(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("dangling escape at offset %d", i)
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'u':
			if i+4 >= len(s) {
				return "", fmt.Errorf("short unicode escape at offset %d", i-1)
			}
			code, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("invalid unicode escape at offset %d: %w", i-1, err)
			}
			b.WriteRune(rune(code))
			i += 4
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// FallbackScript returns the script that replaces compiled code when
// compilation failed. It renders message as plain text in a red <pre>
// inside the default mount node.
func FallbackScript(message string) string {
	return fallbackScript(DefaultMountID, message)
}

func fallbackScript(mountID, message string) string {
	return fmt.Sprintf(`(function () {
  var mount = document.getElementById('%s');
  if (!mount) {
    return;
  }
  var pre = document.createElement('pre');
  pre.setAttribute('style', 'color:red;padding:10px;font-family:monospace;');
  pre.textContent = '%s';
  mount.innerHTML = '';
  mount.appendChild(pre);
})();`, EscapeScriptString(mountID), EscapeScriptString(message))
}
