package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/previewkit/internal/session"
	"github.com/conneroisu/previewkit/internal/version"
)

// Page components are written by hand with templ.ComponentFunc; every
// interpolated value goes through templ.EscapeString.

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>%s</style>
</head>
<body>
`, templ.EscapeString(title), pageStyle); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "<footer>previewkit %s</footer>\n</body>\n</html>\n", templ.EscapeString(version.GetShortVersion()))
		return err
	})
}

func sessionList(sessions []session.Info) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<main class="index">
<h1>Preview sessions</h1>
<button id="new-session" type="button">New session</button>
`); err != nil {
			return err
		}

		if len(sessions) == 0 {
			if _, err := io.WriteString(w, "<p class=\"empty\">No sessions yet.</p>\n"); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, "<table>\n<thead><tr><th>Session</th><th>Updated</th><th>Mounts</th><th>Errors</th></tr></thead>\n<tbody>\n"); err != nil {
				return err
			}
			for _, info := range sessions {
				if _, err := fmt.Fprintf(w, "<tr><td><a href=\"/sessions/%s\">%s</a></td><td>%s</td><td>%d</td><td>%d</td></tr>\n",
					templ.EscapeString(info.ID),
					templ.EscapeString(info.ID),
					templ.EscapeString(info.UpdatedAt.Format(time.RFC3339)),
					info.Generation,
					len(info.Events),
				); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "</tbody>\n</table>\n"); err != nil {
				return err
			}
		}

		_, err := fmt.Fprintf(w, "</main>\n<script>%s</script>\n", indexScript)
		return err
	})
}

func hostView(info session.Info) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<main id="host" class="host" data-session="%s" data-generation="%d">
<section class="editor">
<div class="toolbar">
<a href="/">Sessions</a>
<button id="run" type="button">Run</button>
<a href="/api/sessions/%s/download">Download ZIP</a>
</div>
<label for="jsx">JSX</label>
<textarea id="jsx" spellcheck="false">%s</textarea>
<label for="css">CSS</label>
<textarea id="css" spellcheck="false">%s</textarea>
<ul id="errors" class="errors"></ul>
</section>
<section class="preview">
<div id="loading" class="loading" hidden>Loading preview...</div>
<iframe id="preview-frame" sandbox="allow-scripts allow-same-origin" title="Code Preview"></iframe>
</section>
</main>
<script>%s</script>
`,
			templ.EscapeString(info.ID),
			info.Generation,
			templ.EscapeString(info.ID),
			templ.EscapeString(info.Source.JSX),
			templ.EscapeString(info.Source.CSS),
			hostScript,
		)
		return err
	})
}

func (s *Server) indexPage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions := s.store.List()
		infos := make([]session.Info, 0, len(sessions))
		for _, sess := range sessions {
			infos = append(infos, sess.Info())
		}
		templ.Handler(layout("previewkit", sessionList(infos))).ServeHTTP(w, r)
	})
}

func (s *Server) handleHostPage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		templ.Handler(layout("Session not found", notFound()), templ.WithStatus(http.StatusNotFound)).ServeHTTP(w, r)
		return
	}
	info := sess.Info()
	templ.Handler(layout("Preview "+info.ID, hostView(info))).ServeHTTP(w, r)
}

func notFound() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<main class=\"index\"><h1>Session not found</h1><p><a href=\"/\">Back to sessions</a></p></main>\n")
		return err
	})
}

const pageStyle = `
body { margin: 0; font-family: system-ui, sans-serif; background: #f5f5f5; color: #222; }
main.index { max-width: 960px; margin: 0 auto; padding: 24px; }
main.host { display: grid; grid-template-columns: minmax(320px, 1fr) 2fr; gap: 16px; padding: 16px; height: calc(100vh - 64px); box-sizing: border-box; }
table { width: 100%; border-collapse: collapse; background: #fff; }
th, td { text-align: left; padding: 8px; border-bottom: 1px solid #ddd; }
.editor { display: flex; flex-direction: column; gap: 6px; }
.editor textarea { flex: 1; font-family: monospace; font-size: 13px; min-height: 120px; }
.toolbar { display: flex; gap: 12px; align-items: center; }
.errors { list-style: none; margin: 0; padding: 0; max-height: 160px; overflow: auto; }
.errors li { color: #b00020; font-family: monospace; font-size: 12px; padding: 4px 0; border-bottom: 1px solid #eee; }
.preview { position: relative; }
.preview iframe { width: 100%; height: 100%; border: 1px solid #ccc; border-radius: 4px; background: #fff; }
.loading { position: absolute; inset: 0; display: flex; align-items: center; justify-content: center; background: #f0f0f0; color: #666; font-size: 14px; }
.loading[hidden] { display: none; }
footer { padding: 8px 16px; color: #888; font-size: 12px; }
`

const indexScript = `
document.getElementById('new-session').addEventListener('click', function () {
  fetch('/api/sessions', { method: 'POST' })
    .then(function (res) { return res.json(); })
    .then(function (info) { window.location.href = '/sessions/' + encodeURIComponent(info.id); });
});
`

// hostScript writes each SurfaceDocument into the iframe. The error
// listener of the previous document is removed before the frame is
// reopened, and the new one is attached before the document's scripts run.
const hostScript = `
(function () {
  var host = document.getElementById('host');
  var sessionId = host.dataset.session;
  var frame = document.getElementById('preview-frame');
  var loading = document.getElementById('loading');
  var errors = document.getElementById('errors');
  var jsx = document.getElementById('jsx');
  var css = document.getElementById('css');
  var generation = Number(host.dataset.generation) || 0;
  var detach = null;
  var socket = null;
  var retry = 500;

  function send(message) {
    if (socket && socket.readyState === WebSocket.OPEN) {
      socket.send(JSON.stringify(message));
    }
  }

  function showError(message) {
    var item = document.createElement('li');
    item.textContent = message;
    errors.insertBefore(item, errors.firstChild);
    while (errors.children.length > 20) {
      errors.removeChild(errors.lastChild);
    }
  }

  function mount(html, gen) {
    if (detach) {
      detach();
      detach = null;
    }
    generation = gen;
    loading.hidden = false;

    var doc = frame.contentDocument;
    if (!doc) {
      showError('Preview Error: frame document is unavailable');
      loading.hidden = true;
      return;
    }
    try {
      doc.open();
      var view = doc.defaultView;
      if (view) {
        var onError = function (event) {
          send({ type: 'runtime_error', message: event.message, filename: event.filename, generation: gen });
        };
        view.addEventListener('error', onError);
        detach = function () { view.removeEventListener('error', onError); };
      }
      doc.write(html);
      doc.close();
    } catch (error) {
      showError('Preview Error: ' + (error && error.message ? error.message : String(error)));
      loading.hidden = true;
    }
  }

  window.addEventListener('message', function (event) {
    if (event.source === frame.contentWindow && event.data && event.data.type === 'preview:ready') {
      loading.hidden = true;
      send({ type: 'ready', generation: generation });
    }
  });
  frame.addEventListener('load', function () { loading.hidden = true; });

  function connect() {
    var scheme = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
    socket = new WebSocket(scheme + '//' + window.location.host + '/ws?session=' + encodeURIComponent(sessionId));
    socket.onopen = function () { retry = 500; };
    socket.onmessage = function (event) {
      var message = JSON.parse(event.data);
      if (message.type === 'source') {
        errors.innerHTML = '';
        mount(message.content, message.generation);
      } else if (message.type === 'error') {
        showError(message.message);
      }
    };
    socket.onclose = function () {
      setTimeout(connect, retry);
      retry = Math.min(retry * 2, 10000);
    };
  }

  document.getElementById('run').addEventListener('click', function () {
    fetch('/api/sessions/' + encodeURIComponent(sessionId) + '/source', {
      method: 'PUT',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({ jsx: jsx.value, css: css.value })
    }).then(function (res) {
      if (!res.ok) {
        return res.json().then(function (body) { showError(body.error || res.statusText); });
      }
    }).catch(function (error) { showError('Preview Error: ' + error.message); });
  });

  if (generation > 0) {
    fetch('/api/sessions/' + encodeURIComponent(sessionId) + '/document')
      .then(function (res) { return res.ok ? res.text() : null; })
      .then(function (html) { if (html) { mount(html, generation); } });
  }
  connect();
})();
`
