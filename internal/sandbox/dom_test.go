package sandbox

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func newTestDOM(t *testing.T, markup string) *goja.Runtime {
	t.Helper()
	root, err := html.Parse(strings.NewReader(markup))
	require.NoError(t, err)

	vm := goja.New()
	dom := newDOMBinding(vm, root)
	require.NoError(t, vm.Set("document", dom.documentObject()))
	return vm
}

func evalString(t *testing.T, vm *goja.Runtime, src string) string {
	t.Helper()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	return v.String()
}

func TestDOMGetElementById(t *testing.T) {
	vm := newTestDOM(t, `<div id="root"><span id="inner">text</span></div>`)

	assert.Equal(t, "true", evalString(t, vm, `document.getElementById('root') === document.getElementById('root')`))
	assert.Equal(t, "SPAN", evalString(t, vm, `document.getElementById('inner').tagName`))
	assert.Equal(t, "null", evalString(t, vm, `String(document.getElementById('missing'))`))
}

func TestDOMTextContentIsNotMarkup(t *testing.T) {
	vm := newTestDOM(t, `<div id="root"></div>`)

	out := evalString(t, vm, `
		var root = document.getElementById('root');
		root.textContent = '<b>bold</b>';
		root.innerHTML`)
	assert.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", out)
	assert.Equal(t, "0", evalString(t, vm, `document.querySelectorAll('b').length`))
}

func TestDOMInnerHTMLParsesMarkup(t *testing.T) {
	vm := newTestDOM(t, `<div id="root">old</div>`)

	out := evalString(t, vm, `
		document.getElementById('root').innerHTML = '<p class="a">one</p><p>two</p>';
		document.querySelectorAll('#root p').length + ':' + document.querySelector('.a').textContent`)
	assert.Equal(t, "2:one", out)
	assert.Equal(t, "onetwo", evalString(t, vm, `document.getElementById('root').textContent`))
}

func TestDOMCreateAndAppend(t *testing.T) {
	vm := newTestDOM(t, `<div id="root"></div>`)

	out := evalString(t, vm, `
		var pre = document.createElement('PRE');
		pre.setAttribute('style', 'color:red;');
		pre.appendChild(document.createTextNode('failure'));
		var root = document.getElementById('root');
		root.appendChild(pre);
		root.innerHTML`)
	assert.Equal(t, `<pre style="color:red;">failure</pre>`, out)
	assert.Equal(t, "true", evalString(t, vm, `pre.parentNode === root`))
}

func TestDOMAppendAncestorThrows(t *testing.T) {
	vm := newTestDOM(t, `<div id="outer"><div id="inner"></div></div>`)

	out := evalString(t, vm, `
		try {
			document.getElementById('inner').appendChild(document.getElementById('outer'));
			'no error';
		} catch (e) {
			e instanceof TypeError ? 'type error' : 'other';
		}`)
	assert.Equal(t, "type error", out)
}

func TestDOMAttributes(t *testing.T) {
	vm := newTestDOM(t, `<div id="root" class="a"></div>`)

	assert.Equal(t, "a", evalString(t, vm, `document.getElementById('root').className`))
	assert.Equal(t, "null", evalString(t, vm, `String(document.getElementById('root').getAttribute('title'))`))

	out := evalString(t, vm, `
		var el = document.getElementById('root');
		el.className = 'b';
		el.setAttribute('data-x', '1');
		el.removeAttribute('data-x');
		el.className + ':' + el.hasAttribute('data-x')`)
	assert.Equal(t, "b:false", out)
}

func TestDOMRemoveChild(t *testing.T) {
	vm := newTestDOM(t, `<div id="root"><i id="child"></i></div>`)

	out := evalString(t, vm, `
		var root = document.getElementById('root');
		root.removeChild(document.getElementById('child'));
		root.innerHTML`)
	assert.Equal(t, "", out)
}

func TestDOMDocumentAccessors(t *testing.T) {
	vm := newTestDOM(t, `<html><head><title>t</title></head><body><p>x</p></body></html>`)

	assert.Equal(t, "BODY", evalString(t, vm, `document.body.tagName`))
	assert.Equal(t, "HEAD", evalString(t, vm, `document.head.nodeName`))
	assert.Equal(t, "1", evalString(t, vm, `String(document.documentElement.nodeType)`))
	assert.Equal(t, "x", evalString(t, vm, `document.body.firstChild.textContent`))
}
