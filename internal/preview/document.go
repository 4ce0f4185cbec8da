package preview

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"text/template"

	"github.com/conneroisu/previewkit/internal/sandbox"
)

// ErrInvalidArtifact is returned when a document is built from the zero
// Artifact.
var ErrInvalidArtifact = errors.New("artifact has neither code nor compile error")

// DocumentOptions configures the SurfaceDocument skeleton.
type DocumentOptions struct {
	RuntimeScripts []string
	BaseStyle      string
	MountID        string
}

// DocumentBuilder renders SurfaceDocuments.
type DocumentBuilder struct {
	options DocumentOptions
	tmpl    *template.Template
}

type documentData struct {
	BaseStyle      string
	CSS            string
	RuntimeScripts []string
	MountID        string
	Script         string
	Mount          bool
	ReadyType      string
}

// The document is raw markup, so text/template is used and every
// interpolation is escaped for its own context by hand.
const documentTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
{{.BaseStyle}}
{{.CSS}}
</style>
{{range .RuntimeScripts}}<script src="{{attr .}}"></script>
{{end}}</head>
<body>
<div id="{{attr .MountID}}"></div>
<script>
window.addEventListener('error', function (event) {
  console.error('Frame error:', event.message);
});
{{.Script}}
{{if .Mount}}try {
  const root = ReactDOM.createRoot(document.getElementById('{{jsstr .MountID}}'));
  root.render(React.createElement(App));
} catch (error) {
  var mount = document.getElementById('{{jsstr .MountID}}');
  if (mount) {
    var pre = document.createElement('pre');
    pre.setAttribute('style', 'color:red;padding:10px;font-family:monospace;');
    pre.textContent = 'Render Error: ' + (error && error.message ? error.message : String(error));
    mount.innerHTML = '';
    mount.appendChild(pre);
  }
}
{{end}}</script>
<script>
if (window.parent && window.parent !== window) {
  window.parent.postMessage({ type: '{{jsstr .ReadyType}}' }, '*');
}
</script>
</body>
</html>
`

// scriptDataMarkers are the sequences that end or escape an inline script
// element's raw text: "</script" closes it, "<!--" followed by "<script"
// switches the tokenizer into the double-escaped state.
var scriptDataMarkers = regexp.MustCompile(`(?i)<(/script|!--|script)`)

// neutralizeScriptData keeps code inside a single script element.
func neutralizeScriptData(code string) string {
	return scriptDataMarkers.ReplaceAllStringFunc(code, func(marker string) string {
		if marker[1] == '/' {
			return `<\/` + marker[2:]
		}
		return `\x3C` + marker[1:]
	})
}

// NewDocumentBuilder parses the document skeleton. Empty options fall back
// to the default mount id.
func NewDocumentBuilder(options DocumentOptions) (*DocumentBuilder, error) {
	if options.MountID == "" {
		options.MountID = DefaultMountID
	}
	options.RuntimeScripts = append([]string(nil), options.RuntimeScripts...)

	tmpl, err := template.New("surface").Funcs(template.FuncMap{
		"attr":  html.EscapeString,
		"jsstr": EscapeScriptString,
	}).Parse(documentTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing document template: %w", err)
	}

	return &DocumentBuilder{options: options, tmpl: tmpl}, nil
}

// MountID returns the id of the node App renders into.
func (b *DocumentBuilder) MountID() string {
	return b.options.MountID
}

// Build renders the SurfaceDocument for artifact. css is embedded verbatim.
// A compiled artifact is followed by the guarded mount block; a failed one
// is replaced by its fallback script and nothing is mounted over it.
func (b *DocumentBuilder) Build(artifact Artifact, css string) (string, error) {
	if !artifact.Valid() {
		return "", ErrInvalidArtifact
	}

	data := documentData{
		BaseStyle:      b.options.BaseStyle,
		CSS:            css,
		RuntimeScripts: b.options.RuntimeScripts,
		MountID:        b.options.MountID,
		ReadyType:      sandbox.ReadyMessageType,
	}
	if code, ok := artifact.Code(); ok {
		data.Script = neutralizeScriptData(code)
		data.Mount = true
	} else {
		message, _ := artifact.CompileError()
		data.Script = fallbackScript(b.options.MountID, message)
	}

	var out strings.Builder
	if err := b.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("rendering document: %w", err)
	}
	return out.String(), nil
}
