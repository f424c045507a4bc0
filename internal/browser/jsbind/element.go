package jsbind

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/browser/parser"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// nodeWrapperKey holds the Go *Element behind a JS node object.
const nodeWrapperKey = "__go_node_wrapper__"

// reflectedAttributes are exposed as element properties backed by the
// attribute of the same name.
var reflectedAttributes = []string{
	"id", "name", "type", "value", "title", "alt", "rel", "target", "width",
	"height", "action", "method", "src", "href", "data", "lang", "dir", "role",
	"placeholder", "charset", "integrity", "download", "enctype", "poster",
}

// urlAttributes carry a URL the page will fetch or navigate to.
var urlAttributes = map[string]bool{
	"src": true, "href": true, "action": true, "formaction": true,
	"data": true, "poster": true, "background": true, "codebase": true,
}

// listenerSeverity rates what registering a listener for an event type
// says about a script.
var listenerSeverity = map[string]int{
	"keydown": 4, "keyup": 4, "keypress": 4, "input": 4, "change": 2,
	"copy": 5, "paste": 5, "cut": 5, "beforeunload": 3, "message": 2,
	"contextmenu": 2, "devtoolschange": 5,
}

// Element represents a DOM node wrapper.
type Element struct {
	d         *DOM
	Node      *html.Node
	Object    *goja.Object
	listeners map[string][]goja.Value
}

func newElement(d *DOM, node *html.Node) *Element {
	vm := d.s.vm
	e := &Element{d: d, Node: node, Object: vm.NewObject(), listeners: make(map[string][]goja.Value)}
	obj := e.Object
	_ = obj.DefineDataProperty(nodeWrapperKey, vm.ToValue(e), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	d.s.markHost(obj, e.className())

	obj.Set("nodeType", e.nodeType())
	obj.Set("nodeName", e.nodeName())

	// Relationships are live.
	d.s.accessor(obj, "parentNode", func() goja.Value { return d.Wrap(node.Parent) }, nil)
	d.s.accessor(obj, "parentElement", func() goja.Value {
		if node.Parent != nil && node.Parent.Type == html.ElementNode {
			return d.Wrap(node.Parent)
		}
		return goja.Null()
	}, nil)
	d.s.accessor(obj, "childNodes", func() goja.Value { return d.WrapList(children(node, false)) }, nil)
	d.s.accessor(obj, "children", func() goja.Value { return d.WrapList(children(node, true)) }, nil)
	d.s.accessor(obj, "firstChild", func() goja.Value { return d.Wrap(node.FirstChild) }, nil)
	d.s.accessor(obj, "lastChild", func() goja.Value { return d.Wrap(node.LastChild) }, nil)
	d.s.accessor(obj, "nextSibling", func() goja.Value { return d.Wrap(node.NextSibling) }, nil)
	d.s.accessor(obj, "previousSibling", func() goja.Value { return d.Wrap(node.PrevSibling) }, nil)
	d.s.accessor(obj, "ownerDocument", func() goja.Value { return vm.Get("document") }, nil)
	d.s.accessor(obj, "isConnected", func() goja.Value { return vm.ToValue(e.connected()) }, nil)

	obj.Set("appendChild", e.appendChild)
	obj.Set("append", e.append)
	obj.Set("prepend", e.prepend)
	obj.Set("removeChild", e.removeChild)
	obj.Set("replaceChild", e.replaceChild)
	obj.Set("insertBefore", e.insertBefore)
	obj.Set("cloneNode", e.cloneNode)
	obj.Set("remove", e.remove)
	obj.Set("contains", e.contains)
	obj.Set("hasChildNodes", func(goja.FunctionCall) goja.Value { return vm.ToValue(node.FirstChild != nil) })

	obj.Set("addEventListener", e.addEventListener)
	obj.Set("removeEventListener", e.removeEventListener)
	obj.Set("dispatchEvent", e.dispatchEvent)

	switch node.Type {
	case html.ElementNode:
		e.installElement()
	case html.TextNode, html.CommentNode:
		getter := func() goja.Value { return vm.ToValue(node.Data) }
		setter := func(v goja.Value) { node.Data = v.String() }
		for _, p := range []string{"textContent", "nodeValue", "data"} {
			d.s.accessor(obj, p, getter, setter)
		}
	}
	return e
}

func (e *Element) installElement() {
	s, node, obj := e.d.s, e.Node, e.Object
	obj.Set("tagName", strings.ToUpper(node.Data))
	obj.Set("localName", node.Data)

	for _, name := range reflectedAttributes {
		name := name
		s.accessor(obj, name, func() goja.Value {
			v, _ := attr(node, name)
			return s.vm.ToValue(v)
		}, func(v goja.Value) { e.setAttribute(name, v.String()) })
	}
	s.accessor(obj, "className", func() goja.Value {
		v, _ := attr(node, "class")
		return s.vm.ToValue(v)
	}, func(v goja.Value) { setAttr(node, "class", v.String()) })

	s.accessor(obj, "innerHTML", func() goja.Value { return s.vm.ToValue(renderInner(node)) }, e.setInnerHTML)
	s.accessor(obj, "outerHTML", func() goja.Value { return s.vm.ToValue(renderOuter(node)) }, e.setOuterHTML)
	s.accessor(obj, "textContent", func() goja.Value { return s.vm.ToValue(htmlquery.InnerText(node)) }, e.setTextContent)
	s.accessor(obj, "innerText", func() goja.Value { return s.vm.ToValue(htmlquery.InnerText(node)) }, e.setTextContent)
	s.accessor(obj, "text", func() goja.Value { return s.vm.ToValue(htmlquery.InnerText(node)) }, e.setTextContent)

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := attr(node, strings.ToLower(argString(call, 0))); ok {
			return s.vm.ToValue(v)
		}
		return goja.Null()
	})
	obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := attr(node, strings.ToLower(argString(call, 0)))
		return s.vm.ToValue(ok)
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		e.setAttribute(argString(call, 0), argString(call, 1))
		return goja.Undefined()
	})
	obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(node, strings.ToLower(argString(call, 0)))
		return goja.Undefined()
	})
	obj.Set("insertAdjacentHTML", e.insertAdjacentHTML)

	obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		n, err := e.d.Query(node, argString(call, 0))
		if err != nil {
			s.throwTypeError("%v", err)
		}
		return e.d.Wrap(n)
	})
	obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		nodes, err := e.d.QueryAll(node, argString(call, 0))
		if err != nil {
			s.throwTypeError("%v", err)
		}
		return e.d.WrapList(nodes)
	})
	obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return e.d.WrapList(e.d.ByTagName(node, argString(call, 0)))
	})
	obj.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		return e.d.WrapList(e.d.ByClassName(node, argString(call, 0)))
	})

	obj.Set("click", func(goja.FunctionCall) goja.Value {
		e.click()
		return goja.Undefined()
	})
	obj.Set("submit", func(goja.FunctionCall) goja.Value {
		e.submit()
		return goja.Undefined()
	})

	style := s.hostObject("CSSStyleDeclaration")
	style.Set("setProperty", s.noop(nil))
	style.Set("removeProperty", s.noop(func() goja.Value { return s.vm.ToValue("") }))
	style.Set("getPropertyValue", s.noop(func() goja.Value { return s.vm.ToValue("") }))
	obj.Set("style", style)
	obj.Set("dataset", s.vm.NewObject())
	obj.Set("classList", e.classList())

	rect := func() goja.Value {
		r := s.vm.NewObject()
		for _, k := range []string{"x", "y", "top", "left", "right", "bottom", "width", "height"} {
			r.Set(k, 0)
		}
		return r
	}
	obj.Set("getBoundingClientRect", s.noop(rect))
	obj.Set("getClientRects", s.noop(func() goja.Value { return s.vm.NewArray() }))
	for _, m := range []string{"focus", "blur", "scrollIntoView", "select", "setSelectionRange", "reset", "play", "pause", "load"} {
		obj.Set(m, s.noop(nil))
	}
	for _, p := range []string{"offsetWidth", "offsetHeight", "clientWidth", "clientHeight", "scrollTop", "scrollLeft", "scrollHeight", "scrollWidth"} {
		obj.Set(p, 0)
	}
	obj.Set("matches", s.noop(func() goja.Value { return s.vm.ToValue(false) }))
	obj.Set("closest", s.noop(goja.Null))

	if node.Data == "canvas" {
		e.installCanvas()
	}
}

// --- Node properties ---

func (e *Element) nodeType() int {
	switch e.Node.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	default:
		return 0
	}
}

func (e *Element) nodeName() string {
	switch e.Node.Type {
	case html.ElementNode:
		return strings.ToUpper(e.Node.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	}
	return ""
}

func (e *Element) className() string {
	if e.Node.Type != html.ElementNode {
		return "Node"
	}
	return "HTML" + strings.ToUpper(e.Node.Data[:1]) + e.Node.Data[1:] + "Element"
}

func (e *Element) connected() bool {
	for n := e.Node; n != nil; n = n.Parent {
		if n == e.d.root {
			return true
		}
	}
	return false
}

func children(n *html.Node, elementsOnly bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if elementsOnly && c.Type != html.ElementNode {
			continue
		}
		out = append(out, c)
	}
	return out
}

// --- Content ---

func (e *Element) setInnerHTML(v goja.Value) {
	markup := v.String()
	e.d.s.writeHTML("element.innerHTML", markup, []jsvalue.Value{jsvalue.String(markup)})
	nodes, err := e.d.parseFragment(e.Node, markup)
	if err != nil {
		panic(e.d.s.vm.NewGoError(err))
	}
	removeChildren(e.Node)
	for _, n := range nodes {
		e.Node.AppendChild(n)
	}
}

func (e *Element) setOuterHTML(v goja.Value) {
	markup := v.String()
	e.d.s.writeHTML("element.outerHTML", markup, []jsvalue.Value{jsvalue.String(markup)})
	parent := e.Node.Parent
	if parent == nil {
		return
	}
	nodes, err := e.d.parseFragment(parent, markup)
	if err != nil {
		panic(e.d.s.vm.NewGoError(err))
	}
	for _, n := range nodes {
		parent.InsertBefore(n, e.Node)
	}
	parent.RemoveChild(e.Node)
}

func (e *Element) setTextContent(v goja.Value) {
	removeChildren(e.Node)
	e.Node.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
	if e.Node.Data == "script" {
		e.d.s.onInsert(e.Node)
	}
}

func (e *Element) insertAdjacentHTML(call goja.FunctionCall) goja.Value {
	position := strings.ToLower(argString(call, 0))
	markup := argString(call, 1)
	e.d.s.writeHTML("element.insertAdjacentHTML", markup, e.d.s.values(call.Arguments))

	target := e.Node
	if position == "beforebegin" || position == "afterend" {
		target = e.Node.Parent
		if target == nil {
			return goja.Undefined()
		}
	}
	nodes, err := e.d.parseFragment(target, markup)
	if err != nil {
		panic(e.d.s.vm.NewGoError(err))
	}
	for _, n := range nodes {
		switch position {
		case "beforebegin":
			target.InsertBefore(n, e.Node)
		case "afterbegin":
			target.InsertBefore(n, target.FirstChild)
		case "afterend":
			target.InsertBefore(n, e.Node.NextSibling)
		default:
			target.AppendChild(n)
		}
	}
	return goja.Undefined()
}

// writeHTML is the shared hook for markup written into the page.
func (s *Sandbox) writeHTML(name, markup string, args []jsvalue.Value) htmlScore {
	score := scoreHTML(markup)
	if !s.allow(name) {
		return score
	}
	meta := score.metadata(len(markup)).Set("score", jsvalue.Int(score.Severity))
	s.record(dynamic.EventDOMManipulation, name, args, jsvalue.Undefined(), score.Severity, meta)
	s.chain(name, args, jsvalue.Undefined())
	s.track(markup, name)
	s.harvestHTML(markup, name)
	if score.DangerousTags && score.Obfuscation {
		s.finding(schemas.NewDetection("obfuscated_html_injection", clamp(score.Severity, 0, 10),
			name+" wrote markup with dangerous tags and obfuscation markers").
			WithSnippet(jsvalue.Truncate(markup, snippetLength)).
			WithFeature("score", score.Severity))
	}
	return score
}

// harvestHTML collects URLs from written markup and schedules any inline
// scripts it contains.
func (s *Sandbox) harvestHTML(markup, origin string) {
	if s.ac.Tags == nil {
		return
	}
	ex, err := s.ac.Tags.Extract(markup)
	if err != nil {
		return
	}
	s.ac.URLs.AddAll(ex.URLs, origin)
	s.ac.URLs.AddAll(ex.ExternalScripts, origin)
	for _, code := range ex.InlineScripts {
		s.scheduleScript(code, origin)
	}
}

// scheduleScript queues a script discovered at runtime for the registered
// handler.
func (s *Sandbox) scheduleScript(code, origin string) {
	if s.onScript == nil || strings.TrimSpace(code) == "" {
		return
	}
	s.jobs.Enqueue("script:"+origin, func() error { return s.onScript(code, origin) })
}

// --- Attributes ---

func (e *Element) setAttribute(name, value string) {
	s := e.d.s
	key := strings.ToLower(strings.TrimSpace(name))
	setAttr(e.Node, key, value)

	var sev int
	meta := jsvalue.MapOf("tag", e.Node.Data, "attribute", key)
	switch {
	case urlAttributes[key]:
		trimmed := strings.ToLower(strings.TrimSpace(value))
		sev = 2
		switch {
		case strings.HasPrefix(trimmed, "javascript:"):
			sev = 6
			meta.Set("javascript_url", jsvalue.Bool(true))
			s.track(value, "element.setAttribute")
		case strings.HasPrefix(trimmed, "data:text/html"), strings.HasPrefix(trimmed, "data:application/"):
			sev = 5
			meta.Set("data_url", jsvalue.Bool(true))
		default:
			s.collectURL(value, "element."+key)
		}
		if ext := core.Extension(value); core.IsSuspiciousExtension(ext) {
			sev += 2
			meta.Set("suspicious_extension", jsvalue.String(ext))
		}
		if e.Node.Data == "img" && key == "src" {
			s.beacon("Image.src", value)
		}
	case strings.HasPrefix(key, "on"):
		sev = 5
		meta.Set("event_handler", jsvalue.Bool(true))
		s.track(value, "element.setAttribute")
	default:
		return
	}
	if !s.allow("element.setAttribute") {
		return
	}
	args := []jsvalue.Value{jsvalue.String(key), jsvalue.String(value)}
	s.record(dynamic.EventDOMManipulation, "element.setAttribute", args, jsvalue.Undefined(), sev, meta)
	s.chain("element.setAttribute", args, jsvalue.Undefined())
}

// onInsert inspects a node that was just attached or filled.
func (s *Sandbox) onInsert(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}
	switch n.Data {
	case "script":
		if src, ok := attr(n, "src"); ok && src != "" {
			if !s.allow("script.inject") {
				return
			}
			s.collectURL(src, "script.src")
			s.record(dynamic.EventDOMManipulation, "script.inject", []jsvalue.Value{jsvalue.String(src)}, jsvalue.Undefined(), 6,
				jsvalue.MapOf("src", src, "inline", false))
			s.finding(schemas.NewDetection("dynamic_script_injection", 6, "Script element with external source injected").
				WithSnippet(jsvalue.Truncate(src, snippetLength)).
				WithFeature("src", src))
			return
		}
		if code := htmlquery.InnerText(n); n.Parent != nil && strings.TrimSpace(code) != "" {
			if s.allow("script.inject") {
				s.record(dynamic.EventDOMManipulation, "script.inject", []jsvalue.Value{jsvalue.String(jsvalue.Truncate(code, snippetLength))},
					jsvalue.Undefined(), 5, jsvalue.MapOf("inline", true, "length", len(code)))
			}
			s.scheduleScript(code, "script.inject")
		}
	case "iframe":
		src, _ := attr(n, "src")
		s.collectURL(src, "iframe.src")
		if hiddenFrame(n) && s.allow("iframe.inject") {
			s.record(dynamic.EventDOMManipulation, "iframe.inject", []jsvalue.Value{jsvalue.String(src)}, jsvalue.Undefined(), 7,
				jsvalue.MapOf("hidden", true))
			s.finding(schemas.NewDetection("hidden_iframe_injection", 7, "Invisible iframe injected into the page").
				WithSnippet(src).WithFeature("src", src))
		}
	case "form":
		if action, ok := attr(n, "action"); ok {
			s.collectURL(action, "form.action")
		}
	}
}

func hiddenFrame(n *html.Node) bool {
	w, _ := attr(n, "width")
	h, _ := attr(n, "height")
	style, _ := attr(n, "style")
	return w == "0" || h == "0" || w == "1" && h == "1" || parser.HiddenStyle(style)
}

// --- Tree manipulation ---

func (e *Element) insert(method string, child goja.Value, before *html.Node) goja.Value {
	c := e.d.mustUnwrap(method, child)
	if c.Node == e.Node {
		e.d.s.throwTypeError("Failed to execute '%s' on 'Node': The new child element contains the parent.", method)
	}
	if c.Node.Type == html.DocumentNode {
		// Document fragments move their children.
		for _, n := range children(c.Node, false) {
			detach(n)
			e.Node.InsertBefore(n, before)
			e.d.s.onInsert(n)
		}
		return child
	}
	detach(c.Node)
	e.Node.InsertBefore(c.Node, before)
	e.d.s.onInsert(c.Node)
	return child
}

func (e *Element) appendChild(call goja.FunctionCall) goja.Value {
	return e.insert("appendChild", call.Argument(0), nil)
}

func (e *Element) append(call goja.FunctionCall) goja.Value {
	for _, a := range call.Arguments {
		if _, err := e.d.unwrap(a); err != nil {
			e.Node.AppendChild(&html.Node{Type: html.TextNode, Data: a.String()})
			continue
		}
		e.insert("append", a, nil)
	}
	return goja.Undefined()
}

func (e *Element) prepend(call goja.FunctionCall) goja.Value {
	first := e.Node.FirstChild
	for _, a := range call.Arguments {
		if _, err := e.d.unwrap(a); err != nil {
			e.Node.InsertBefore(&html.Node{Type: html.TextNode, Data: a.String()}, first)
			continue
		}
		e.insert("prepend", a, first)
	}
	return goja.Undefined()
}

func (e *Element) insertBefore(call goja.FunctionCall) goja.Value {
	var ref *html.Node
	if r := call.Argument(1); !goja.IsNull(r) && !goja.IsUndefined(r) {
		ref = e.d.mustUnwrap("insertBefore", r).Node
		if ref.Parent != e.Node {
			e.d.s.throwTypeError("Failed to execute 'insertBefore' on 'Node': The node before which the new node is to be inserted is not a child of this node.")
		}
	}
	return e.insert("insertBefore", call.Argument(0), ref)
}

func (e *Element) removeChild(call goja.FunctionCall) goja.Value {
	c := e.d.mustUnwrap("removeChild", call.Argument(0))
	if c.Node.Parent != e.Node {
		e.d.s.throwTypeError("Failed to execute 'removeChild' on 'Node': The node to be removed is not a child of this node.")
	}
	e.Node.RemoveChild(c.Node)
	return call.Argument(0)
}

func (e *Element) replaceChild(call goja.FunctionCall) goja.Value {
	old := e.d.mustUnwrap("replaceChild", call.Argument(1))
	if old.Node.Parent != e.Node {
		e.d.s.throwTypeError("Failed to execute 'replaceChild' on 'Node': The node to be replaced is not a child of this node.")
	}
	next := old.Node.NextSibling
	e.Node.RemoveChild(old.Node)
	e.insert("replaceChild", call.Argument(0), next)
	return call.Argument(1)
}

func (e *Element) cloneNode(call goja.FunctionCall) goja.Value {
	return e.d.Wrap(cloneNode(e.Node, call.Argument(0).ToBoolean()))
}

func (e *Element) remove(goja.FunctionCall) goja.Value {
	detach(e.Node)
	return goja.Undefined()
}

func (e *Element) contains(call goja.FunctionCall) goja.Value {
	other, err := e.d.unwrap(call.Argument(0))
	if err != nil {
		return e.d.s.vm.ToValue(false)
	}
	for n := other.Node; n != nil; n = n.Parent {
		if n == e.Node {
			return e.d.s.vm.ToValue(true)
		}
	}
	return e.d.s.vm.ToValue(false)
}

func (e *Element) classList() *goja.Object {
	s, node := e.d.s, e.Node
	list := s.hostObject("DOMTokenList")
	classes := func() []string {
		v, _ := attr(node, "class")
		return strings.Fields(v)
	}
	has := func(c string) bool {
		for _, x := range classes() {
			if x == c {
				return true
			}
		}
		return false
	}
	list.Set("contains", func(call goja.FunctionCall) goja.Value { return s.vm.ToValue(has(argString(call, 0))) })
	list.Set("add", func(call goja.FunctionCall) goja.Value {
		cs := classes()
		for _, a := range call.Arguments {
			if !has(a.String()) {
				cs = append(cs, a.String())
			}
		}
		setAttr(node, "class", strings.Join(cs, " "))
		return goja.Undefined()
	})
	list.Set("remove", func(call goja.FunctionCall) goja.Value {
		drop := make(map[string]bool)
		for _, a := range call.Arguments {
			drop[a.String()] = true
		}
		var keep []string
		for _, c := range classes() {
			if !drop[c] {
				keep = append(keep, c)
			}
		}
		setAttr(node, "class", strings.Join(keep, " "))
		return goja.Undefined()
	})
	list.Set("toggle", func(call goja.FunctionCall) goja.Value {
		c := argString(call, 0)
		if has(c) {
			list.Get("remove").Export().(func(goja.FunctionCall) goja.Value)(call)
			return s.vm.ToValue(false)
		}
		list.Get("add").Export().(func(goja.FunctionCall) goja.Value)(call)
		return s.vm.ToValue(true)
	})
	return list
}

// --- Events ---

func (e *Element) addEventListener(call goja.FunctionCall) goja.Value {
	typ := strings.ToLower(argString(call, 0))
	fn := call.Argument(1)
	if _, ok := goja.AssertFunction(fn); !ok {
		return goja.Undefined()
	}
	e.listeners[typ] = append(e.listeners[typ], fn)
	e.d.s.listenerAdded("element.addEventListener", typ, e.Node.Data)
	return goja.Undefined()
}

func (e *Element) removeEventListener(call goja.FunctionCall) goja.Value {
	typ := strings.ToLower(argString(call, 0))
	fn := call.Argument(1)
	kept := e.listeners[typ][:0]
	for _, l := range e.listeners[typ] {
		if !l.SameAs(fn) {
			kept = append(kept, l)
		}
	}
	e.listeners[typ] = kept
	return goja.Undefined()
}

func (e *Element) dispatchEvent(call goja.FunctionCall) goja.Value {
	evt := call.Argument(0)
	typ := strings.ToLower(e.d.s.optString(evt, "type"))
	e.fire(typ, evt)
	return e.d.s.vm.ToValue(true)
}

// fire runs the listeners and the on<type> property for an event.
func (e *Element) fire(typ string, evt goja.Value) {
	s := e.d.s
	if evt == nil || goja.IsUndefined(evt) {
		evt = s.newEvent(typ, e.Object)
	}
	for _, l := range append([]goja.Value(nil), e.listeners[typ]...) {
		s.invoke(core.FamilyEvent, l, e.Object, evt)
	}
	if h := e.Object.Get("on" + typ); h != nil {
		s.invoke(core.FamilyEvent, h, e.Object, evt)
	}
}

func (e *Element) click() {
	s := e.d.s
	e.fire("click", nil)
	if e.Node.Data != "a" {
		return
	}
	href, _ := attr(e.Node, "href")
	if href == "" || !s.allow("element.click") {
		return
	}
	_, download := attr(e.Node, "download")
	sev := 3
	if download {
		sev = 5
	}
	if core.IsSuspiciousExtension(core.Extension(href)) {
		sev += 2
	}
	s.collectURL(href, "element.click")
	s.record(dynamic.EventLocationChange, "element.click", []jsvalue.Value{jsvalue.String(href)}, jsvalue.Undefined(), sev,
		jsvalue.MapOf("download", download, "href", href))
	if download && sev >= 7 {
		s.finding(schemas.NewDetection("forced_download", sev, "Script triggered a download of an executable file").
			WithSnippet(href).WithFeature("href", href))
	}
}

func (e *Element) submit() {
	s := e.d.s
	action, _ := attr(e.Node, "action")
	if !s.allow("form.submit") {
		return
	}
	fields := s.formFields(e.Node)
	n := scoreNetwork(action, fields, s.ac.Dynamic.FunctionCallCount(), s.ac.Chains.Tracker.Len())
	s.collectURL(action, "form.submit")
	s.record(dynamic.EventDataExfiltration, "form.submit", []jsvalue.Value{jsvalue.String(action)}, jsvalue.Undefined(),
		clamp(n.Severity+2, 0, 10), n.metadata(action))
}

// formFields renders a form's named inputs as a query string.
func (s *Sandbox) formFields(form *html.Node) string {
	var parts []string
	for _, in := range htmlquery.Find(form, ".//input | .//textarea | .//select") {
		name, _ := attr(in, "name")
		val, _ := attr(in, "value")
		if name != "" {
			parts = append(parts, name+"="+val)
		}
	}
	return strings.Join(parts, "&")
}

// listenerAdded records a listener registration rated by its event type.
func (s *Sandbox) listenerAdded(name, typ, target string) {
	if !s.allow(name) {
		return
	}
	sev := listenerSeverity[typ]
	s.record(dynamic.EventEventListener, name, []jsvalue.Value{jsvalue.String(typ)}, jsvalue.Undefined(), sev,
		jsvalue.MapOf("event", typ, "target", target))
}

// newEvent builds a minimal Event object.
func (s *Sandbox) newEvent(typ string, target goja.Value) *goja.Object {
	evt := s.hostObject("Event")
	evt.Set("type", typ)
	evt.Set("target", target)
	evt.Set("currentTarget", target)
	evt.Set("bubbles", false)
	evt.Set("isTrusted", true)
	evt.Set("timeStamp", 0)
	for _, m := range []string{"preventDefault", "stopPropagation", "stopImmediatePropagation"} {
		evt.Set(m, s.noop(nil))
	}
	clip := s.hostObject("DataTransfer")
	clip.Set("getData", s.noop(func() goja.Value { return s.vm.ToValue("") }))
	clip.Set("setData", func(call goja.FunctionCall) goja.Value {
		s.clipboardWrite("clipboardData.setData", argString(call, 1))
		return goja.Undefined()
	})
	evt.Set("clipboardData", clip)
	return evt
}

// --- Canvas ---

// installCanvas exposes the fingerprinting surface of <canvas>.
func (e *Element) installCanvas() {
	s, obj := e.d.s, e.Object
	obj.Set("getContext", func(call goja.FunctionCall) goja.Value {
		kind := argString(call, 0)
		if s.allow("canvas.getContext") {
			s.record(dynamic.EventEnvironmentDetection, "canvas.getContext", s.values(call.Arguments), jsvalue.Undefined(), 2,
				jsvalue.MapOf("context", kind))
		}
		return s.fallback("CanvasRenderingContext", 1)
	})
	obj.Set("toDataURL", func(call goja.FunctionCall) goja.Value {
		if s.allow("canvas.toDataURL") {
			s.record(dynamic.EventEnvironmentDetection, "canvas.toDataURL", s.values(call.Arguments), jsvalue.Undefined(), 4,
				jsvalue.MapOf("fingerprinting", true))
		}
		return s.vm.ToValue("data:image/png;base64,iVBORw0KGgo=")
	})
}
