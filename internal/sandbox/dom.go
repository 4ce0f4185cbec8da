package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// domBinding exposes a parsed document to a goja runtime. Every node is
// represented by at most one JS object so identity comparisons hold inside
// the realm.
type domBinding struct {
	vm      *goja.Runtime
	root    *html.Node
	doc     *goquery.Document
	objects map[*html.Node]*goja.Object
	nodes   map[*goja.Object]*html.Node
}

func newDOMBinding(vm *goja.Runtime, root *html.Node) *domBinding {
	return &domBinding{
		vm:      vm,
		root:    root,
		doc:     goquery.NewDocumentFromNode(root),
		objects: make(map[*html.Node]*goja.Object),
		nodes:   make(map[*goja.Object]*html.Node),
	}
}

func (d *domBinding) documentObject() *goja.Object {
	document := d.vm.NewObject()

	_ = document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.wrap(d.elementByID(call.Argument(0).String()))
	})
	_ = document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.querySelector(d.doc.Selection, call.Argument(0).String())
	})
	_ = document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.querySelectorAll(d.doc.Selection, call.Argument(0).String())
	})
	_ = document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return d.wrap(&html.Node{
			Type:     html.ElementNode,
			Data:     tag,
			DataAtom: atom.Lookup([]byte(tag)),
		})
	})
	_ = document.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})

	d.accessor(document, "documentElement", func() goja.Value { return d.wrap(d.firstTag("html")) }, nil)
	d.accessor(document, "head", func() goja.Value { return d.wrap(d.firstTag("head")) }, nil)
	d.accessor(document, "body", func() goja.Value { return d.wrap(d.firstTag("body")) }, nil)
	d.accessor(document, "readyState", func() goja.Value { return d.vm.ToValue("complete") }, nil)

	return document
}

// wrap returns the JS object for n, creating it on first use.
func (d *domBinding) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := d.objects[n]; ok {
		return obj
	}

	obj := d.vm.NewObject()
	d.objects[n] = obj
	d.nodes[obj] = n

	d.accessor(obj, "nodeType", func() goja.Value { return d.vm.ToValue(nodeType(n)) }, nil)
	d.accessor(obj, "nodeName", func() goja.Value { return d.vm.ToValue(nodeName(n)) }, nil)
	d.accessor(obj, "parentNode", func() goja.Value { return d.wrap(n.Parent) }, nil)
	d.accessor(obj, "firstChild", func() goja.Value { return d.wrap(n.FirstChild) }, nil)
	d.accessor(obj, "nextSibling", func() goja.Value { return d.wrap(n.NextSibling) }, nil)
	d.accessor(obj, "textContent",
		func() goja.Value { return d.vm.ToValue(textContent(n)) },
		func(v goja.Value) { setTextContent(n, valueString(v)) },
	)

	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := d.unwrap(call.Argument(0))
		if child == nil {
			panic(d.vm.NewTypeError("appendChild: parameter 1 is not of type 'Node'"))
		}
		if isAncestor(child, n) {
			panic(d.vm.NewTypeError("appendChild: the new child element contains the parent"))
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return call.Argument(0)
	})
	_ = obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.unwrap(call.Argument(0))
		if child == nil || child.Parent != n {
			panic(d.vm.NewTypeError("removeChild: the node to be removed is not a child of this node"))
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})

	if n.Type == html.ElementNode {
		d.bindElement(obj, n)
	}

	return obj
}

func (d *domBinding) bindElement(obj *goja.Object, n *html.Node) {
	d.accessor(obj, "tagName", func() goja.Value { return d.vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	d.accessor(obj, "id",
		func() goja.Value { v, _ := getAttr(n, "id"); return d.vm.ToValue(v) },
		func(v goja.Value) { setAttr(n, "id", valueString(v)) },
	)
	d.accessor(obj, "className",
		func() goja.Value { v, _ := getAttr(n, "class"); return d.vm.ToValue(v) },
		func(v goja.Value) { setAttr(n, "class", valueString(v)) },
	)
	d.accessor(obj, "innerHTML",
		func() goja.Value { return d.vm.ToValue(innerHTML(n)) },
		func(v goja.Value) {
			if err := setInnerHTML(n, valueString(v)); err != nil {
				panic(d.vm.NewGoError(err))
			}
		},
	)
	d.accessor(obj, "outerHTML", func() goja.Value {
		var b strings.Builder
		_ = html.Render(&b, n)
		return d.vm.ToValue(b.String())
	}, nil)

	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := getAttr(n, call.Argument(0).String()); ok {
			return d.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := getAttr(n, call.Argument(0).String())
		return d.vm.ToValue(ok)
	})
	_ = obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(n, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.querySelector(goquery.NewDocumentFromNode(n).Selection, call.Argument(0).String())
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.querySelectorAll(goquery.NewDocumentFromNode(n).Selection, call.Argument(0).String())
	})
}

func (d *domBinding) unwrap(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return d.nodes[obj]
}

// accessor defines a getter/setter pair. Assignments to read-only properties
// are ignored, matching sloppy-mode DOM behaviour.
func (d *domBinding) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	setter := d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if set != nil {
			set(call.Argument(0))
		}
		return goja.Undefined()
	})
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *domBinding) elementByID(id string) *html.Node {
	match := d.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr("id", "") == id
	}).First()
	if match.Length() == 0 {
		return nil
	}
	return match.Get(0)
}

func (d *domBinding) firstTag(tag string) *html.Node {
	match := d.doc.Find(tag).First()
	if match.Length() == 0 {
		return nil
	}
	return match.Get(0)
}

func (d *domBinding) querySelector(scope *goquery.Selection, selector string) goja.Value {
	match := scope.Find(selector).First()
	if match.Length() == 0 {
		return goja.Null()
	}
	return d.wrap(match.Get(0))
}

func (d *domBinding) querySelectorAll(scope *goquery.Selection, selector string) goja.Value {
	matches := scope.Find(selector)
	items := make([]interface{}, 0, matches.Length())
	for _, n := range matches.Nodes {
		items = append(items, d.wrap(n))
	}
	return d.vm.NewArray(items...)
}

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	case html.DoctypeNode:
		return 10
	default:
		return 0
	}
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	default:
		return n.Data
	}
}

func valueString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func getAttr(n *html.Node, key string) (string, bool) {
	key = strings.ToLower(key)
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	key = strings.ToLower(key)
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	key = strings.ToLower(key)
	attrs := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			continue
		}
		attrs = append(attrs, attr)
	}
	n.Attr = attrs
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func isAncestor(candidate, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return b.String()
}

// setTextContent replaces the children of n with a single text node, so the
// value is never interpreted as markup.
func setTextContent(n *html.Node, text string) {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		n.Data = text
		return
	}
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func innerHTML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

func setInnerHTML(n *html.Node, markup string) error {
	children, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return err
	}
	removeChildren(n)
	for _, c := range children {
		n.AppendChild(c)
	}
	return nil
}
