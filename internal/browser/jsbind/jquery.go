package jsbind

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const jqueryVersion = "3.7.1"

// jqueryEvents are the shorthand binders ($(x).click(fn) and friends).
var jqueryEvents = []string{
	"click", "dblclick", "submit", "change", "input", "keydown", "keyup",
	"keypress", "focus", "blur", "mouseover", "mouseout", "mouseenter",
	"mouseleave", "load", "resize", "scroll", "copy", "paste",
}

// installJQuery provides a small jQuery over the mock DOM. Collections are
// proxies: any method not implemented here is a chainable no-op, so plugin
// calls do not break the script.
func installJQuery(s *Sandbox) error {
	jq := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.jquery(call.Argument(0))
	}).(*goja.Object)

	jq.Set("fn", s.vm.NewObject())
	jq.Set("ajax", func(call goja.FunctionCall) goja.Value {
		opts := call.Argument(0)
		target := s.optString(opts, "url")
		if _, isString := opts.Export().(string); isString {
			target = opts.String()
			opts = call.Argument(1)
		}
		return s.ajax("jQuery.ajax", strings.ToUpper(s.optString(opts, "type")), target, opts)
	})
	for _, m := range []string{"get", "post", "getJSON", "getScript"} {
		m := m
		jq.Set(m, func(call goja.FunctionCall) goja.Value {
			method := "GET"
			if m == "post" {
				method = "POST"
			}
			opts := s.vm.NewObject()
			data := call.Argument(1)
			success := call.Argument(2)
			if _, ok := goja.AssertFunction(data); ok {
				success, data = data, goja.Undefined()
			}
			opts.Set("data", data)
			opts.Set("success", success)
			return s.ajax("jQuery."+m, method, argString(call, 0), opts)
		})
	}
	jq.Set("each", func(call goja.FunctionCall) goja.Value {
		s.jqEach(call.Argument(0), call.Argument(1))
		return call.Argument(0)
	})
	jq.Set("extend", func(call goja.FunctionCall) goja.Value {
		target, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return call.Argument(0)
		}
		for _, a := range call.Arguments[1:] {
			if src, ok := a.(*goja.Object); ok {
				for _, k := range src.Keys() {
					target.Set(k, src.Get(k))
				}
			}
		}
		return target
	})
	jq.Set("trim", func(call goja.FunctionCall) goja.Value { return s.vm.ToValue(strings.TrimSpace(argString(call, 0))) })
	jq.Set("isFunction", func(call goja.FunctionCall) goja.Value {
		_, ok := goja.AssertFunction(call.Argument(0))
		return s.vm.ToValue(ok)
	})
	jq.Set("isArray", func(call goja.FunctionCall) goja.Value {
		obj, ok := call.Argument(0).(*goja.Object)
		return s.vm.ToValue(ok && obj.ClassName() == "Array")
	})
	jq.Set("parseJSON", func(call goja.FunctionCall) goja.Value {
		parse, _ := goja.AssertFunction(s.vm.Get("JSON").(*goja.Object).Get("parse"))
		v, err := parse(goja.Undefined(), call.Argument(0))
		if err != nil {
			s.rethrow(err)
		}
		return v
	})
	jq.Set("noConflict", func(goja.FunctionCall) goja.Value { return jq })
	jq.Set("Deferred", func(goja.FunctionCall) goja.Value { return s.resolved(goja.Undefined()) })
	jq.Set("when", func(call goja.FunctionCall) goja.Value { return s.resolved(call.Argument(0)) })
	jq.Set("support", s.vm.NewObject())

	if err := s.setGlobal("jQuery", jq); err != nil {
		return err
	}
	return s.setGlobal("$", jq)
}

// jquery builds a collection from a selector, markup, node, or ready
// callback.
func (s *Sandbox) jquery(arg goja.Value) goja.Value {
	d := s.dom
	if _, ok := goja.AssertFunction(arg); ok {
		s.jqReady(arg)
		return s.jqCollection(nil)
	}
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return s.jqCollection(nil)
	}
	if el, err := d.unwrap(arg); err == nil {
		return s.jqCollection([]*html.Node{el.Node})
	}
	if obj, ok := arg.(*goja.Object); ok && obj.Get(hostMarker) != nil {
		// window, document and other host objects.
		if obj.Get(hostMarker).String() == "HTMLDocument" {
			return s.jqCollection([]*html.Node{d.Root()})
		}
		return s.jqCollection(nil)
	}

	sel := strings.TrimSpace(arg.String())
	if strings.HasPrefix(sel, "<") {
		s.writeHTML("jQuery.html", sel, []jsvalue.Value{jsvalue.String(sel)})
		nodes, err := d.parseFragment(d.Body(), sel)
		if err != nil {
			return s.jqCollection(nil)
		}
		return s.jqCollection(nodes)
	}
	nodes, err := d.QueryAll(d.Root(), sel)
	if err != nil {
		s.logger.Debug("jQuery selector failed.", zap.String("selector", sel), zap.Error(err))
		return s.jqCollection(nil)
	}
	return s.jqCollection(nodes)
}

func (s *Sandbox) jqReady(fn goja.Value) {
	s.jobs.Enqueue("jQuery.ready", func() error {
		_, err := s.callback(core.FamilyJQuery, fn, s.vm.Get("document"), s.vm.Get("jQuery"))
		return err
	})
}

// jqCollection wraps nodes in a chainable proxy.
func (s *Sandbox) jqCollection(nodes []*html.Node) goja.Value {
	d := s.dom
	c := s.hostObject("jQuery")
	var proxy goja.Value

	c.Set("length", len(nodes))
	c.Set("jquery", jqueryVersion)
	for i, n := range nodes {
		c.Set(strconv.Itoa(i), d.Wrap(n))
	}
	self := func() goja.Value { return proxy }
	each := func(fn func(*Element)) {
		for _, n := range nodes {
			if el, err := d.unwrap(d.Wrap(n)); err == nil {
				fn(el)
			}
		}
	}

	c.Set("each", func(call goja.FunctionCall) goja.Value {
		for i, n := range nodes {
			s.invoke(core.FamilyJQuery, call.Argument(0), d.Wrap(n), s.vm.ToValue(i), d.Wrap(n))
		}
		return self()
	})
	c.Set("ready", func(call goja.FunctionCall) goja.Value {
		s.jqReady(call.Argument(0))
		return self()
	})
	on := func(typ string, fn goja.Value) {
		if _, ok := goja.AssertFunction(fn); !ok {
			return
		}
		for _, n := range nodes {
			el, err := d.unwrap(d.Wrap(n))
			if err != nil {
				continue
			}
			el.listeners[typ] = append(el.listeners[typ], s.jqHandler(fn))
		}
		s.listenerAdded("jQuery.on", typ, "jQuery")
	}
	c.Set("on", func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(len(call.Arguments) - 1)
		for _, typ := range strings.Fields(strings.ToLower(argString(call, 0))) {
			on(typ, fn)
		}
		return self()
	})
	c.Set("bind", c.Get("on"))
	c.Set("off", func(goja.FunctionCall) goja.Value { return self() })
	for _, typ := range jqueryEvents {
		typ := typ
		c.Set(typ, func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				each(func(el *Element) {
					if typ == "click" {
						el.click()
						return
					}
					el.fire(typ, nil)
				})
				return self()
			}
			on(typ, call.Argument(len(call.Arguments)-1))
			return self()
		})
	}
	c.Set("trigger", func(call goja.FunctionCall) goja.Value {
		typ := strings.ToLower(argString(call, 0))
		each(func(el *Element) { el.fire(typ, nil) })
		return self()
	})

	c.Set("html", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			if len(nodes) == 0 {
				return goja.Undefined()
			}
			return s.vm.ToValue(renderInner(nodes[0]))
		}
		each(func(el *Element) { el.setInnerHTML(call.Argument(0)) })
		return self()
	})
	c.Set("text", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			var sb strings.Builder
			for _, n := range nodes {
				sb.WriteString(d.Wrap(n).(*goja.Object).Get("textContent").String())
			}
			return s.vm.ToValue(sb.String())
		}
		each(func(el *Element) { el.setTextContent(call.Argument(0)) })
		return self()
	})
	attrFn := func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(argString(call, 0))
		if len(call.Arguments) < 2 {
			if len(nodes) == 0 {
				return goja.Undefined()
			}
			if v, ok := attr(nodes[0], name); ok {
				return s.vm.ToValue(v)
			}
			return goja.Undefined()
		}
		each(func(el *Element) { el.setAttribute(name, argString(call, 1)) })
		return self()
	}
	c.Set("attr", attrFn)
	c.Set("prop", attrFn)
	c.Set("val", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			if len(nodes) == 0 {
				return goja.Undefined()
			}
			v, _ := attr(nodes[0], "value")
			return s.vm.ToValue(v)
		}
		each(func(el *Element) { setAttr(el.Node, "value", argString(call, 0)) })
		return self()
	})
	insert := func(prepend bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			each(func(el *Element) {
				var before *html.Node
				if prepend {
					before = el.Node.FirstChild
				}
				if _, err := d.unwrap(arg); err == nil {
					el.insert("append", arg, before)
					return
				}
				markup := arg.String()
				s.writeHTML("jQuery.append", markup, []jsvalue.Value{jsvalue.String(markup)})
				frag, err := d.parseFragment(el.Node, markup)
				if err != nil {
					return
				}
				for _, n := range frag {
					el.Node.InsertBefore(n, before)
					s.onInsert(n)
				}
			})
			return self()
		}
	}
	c.Set("append", insert(false))
	c.Set("prepend", insert(true))
	c.Set("appendTo", func(call goja.FunctionCall) goja.Value {
		target := s.jquery(call.Argument(0)).(*goja.Object)
		for _, n := range nodes {
			appendFn, _ := goja.AssertFunction(target.Get("append"))
			if appendFn != nil {
				if _, err := appendFn(target, d.Wrap(n)); err != nil {
					s.rethrow(err)
				}
			}
		}
		return self()
	})
	c.Set("remove", func(goja.FunctionCall) goja.Value {
		for _, n := range nodes {
			detach(n)
		}
		return self()
	})
	c.Set("find", func(call goja.FunctionCall) goja.Value {
		var found []*html.Node
		for _, n := range nodes {
			if res, err := d.QueryAll(n, argString(call, 0)); err == nil {
				found = append(found, res...)
			}
		}
		return s.jqCollection(found)
	})
	c.Set("first", func(goja.FunctionCall) goja.Value {
		if len(nodes) == 0 {
			return s.jqCollection(nil)
		}
		return s.jqCollection(nodes[:1])
	})
	c.Set("eq", func(call goja.FunctionCall) goja.Value {
		i := int(call.Argument(0).ToInteger())
		if i < 0 {
			i += len(nodes)
		}
		if i < 0 || i >= len(nodes) {
			return s.jqCollection(nil)
		}
		return s.jqCollection(nodes[i : i+1])
	})
	c.Set("get", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return d.WrapList(nodes)
		}
		i := int(call.Argument(0).ToInteger())
		if i < 0 || i >= len(nodes) {
			return goja.Undefined()
		}
		return d.Wrap(nodes[i])
	})
	c.Set("parent", func(goja.FunctionCall) goja.Value {
		var parents []*html.Node
		for _, n := range nodes {
			if n.Parent != nil {
				parents = append(parents, n.Parent)
			}
		}
		return s.jqCollection(parents)
	})
	c.Set("children", func(goja.FunctionCall) goja.Value {
		var kids []*html.Node
		for _, n := range nodes {
			kids = append(kids, children(n, true)...)
		}
		return s.jqCollection(kids)
	})

	proxy = s.vm.ToValue(s.vm.NewProxy(c, &goja.ProxyTrapConfig{
		Get: func(target *goja.Object, prop string, receiver goja.Value) goja.Value {
			if v := target.Get(prop); v != nil {
				return v
			}
			if _, err := strconv.Atoi(prop); err == nil || prop == "then" || prop == "toJSON" {
				return goja.Undefined()
			}
			return s.vm.ToValue(func(goja.FunctionCall) goja.Value { return proxy })
		},
	}))
	return proxy
}

// jqHandler adapts a jQuery handler so it runs under the jquery family and
// sees the element as this.
func (s *Sandbox) jqHandler(fn goja.Value) goja.Value {
	return s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.invoke(core.FamilyJQuery, fn, call.This, call.Arguments...)
	})
}

// jqEach iterates an array or object for $.each.
func (s *Sandbox) jqEach(coll, fn goja.Value) {
	obj, ok := coll.(*goja.Object)
	if !ok {
		return
	}
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		key := s.vm.ToValue(k)
		if i, err := strconv.Atoi(k); err == nil {
			key = s.vm.ToValue(i)
		}
		res := s.invoke(core.FamilyJQuery, fn, v, key, v)
		if res != nil && res.StrictEquals(s.vm.ToValue(false)) {
			return
		}
	}
}

// ajax records a jQuery request and delivers an empty success response from
// the job queue.
func (s *Sandbox) ajax(api, method, target string, opts goja.Value) goja.Value {
	if method == "" {
		method = "GET"
	}
	body := ""
	if o, ok := opts.(*goja.Object); ok {
		if data := o.Get("data"); data != nil && !goja.IsUndefined(data) && !goja.IsNull(data) {
			body = s.value(data).String()
		}
	}
	if s.allow(api) {
		s.request(dynamic.EventNetworkRequest, api, method, target, body,
			[]jsvalue.Value{jsvalue.String(target), jsvalue.String(body)})
		if api == "jQuery.getScript" {
			s.record(dynamic.EventDOMManipulation, "jQuery.getScript", []jsvalue.Value{jsvalue.String(target)}, jsvalue.Undefined(), 6,
				jsvalue.MapOf("src", target))
		}
	}
	if o, ok := opts.(*goja.Object); ok {
		for _, cb := range []string{"success", "complete"} {
			if fn := o.Get(cb); fn != nil {
				name := api + "." + cb
				s.jobs.Enqueue(name, func() error {
					_, err := s.callback(core.FamilyJQuery, fn, goja.Undefined(), s.vm.ToValue(""), s.vm.ToValue("success"))
					return err
				})
			}
		}
	}
	return s.resolved(s.vm.ToValue(""))
}
