package jsbind

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// No request ever leaves the sandbox. Each API records the attempt, scores
// it and answers with an empty 200 response.

func installNetwork(s *Sandbox) error {
	if err := s.setGlobal("fetch", s.fetch); err != nil {
		return err
	}
	ctors := map[string]func(goja.ConstructorCall) *goja.Object{
		"XMLHttpRequest": s.newXHR,
		"WebSocket":      s.newWebSocket,
		"EventSource":    s.newEventSource,
	}
	for name, ctor := range ctors {
		if err := s.setGlobal(name, ctor); err != nil {
			return err
		}
	}
	return nil
}

// request records one outbound request. The prior call count and the number
// of live taints feed the score; a request carrying sensitive data is
// recorded as exfiltration.
func (s *Sandbox) request(typ dynamic.EventType, api, method, target, body string, args []jsvalue.Value) networkScore {
	prior := s.tick()
	n := scoreNetwork(target, body, prior, s.ac.Chains.Tracker.Len())
	s.collectURL(target, api)

	if n.Sensitive {
		typ = dynamic.EventDataExfiltration
	}
	meta := n.metadata(target).Set("method", jsvalue.String(method)).Set("prior_calls", jsvalue.Int(prior))
	if body != "" {
		meta.Set("body_length", jsvalue.Int(len(body)))
	}
	if n.flagged() {
		s.recordFlagged(typ, api, args, jsvalue.Undefined(), n.Severity, meta)
	} else {
		s.record(typ, api, args, jsvalue.Undefined(), n.Severity, meta)
	}
	s.chain(api, args, jsvalue.Undefined())
	s.track(body, api)

	if n.Sensitive {
		s.finding(schemas.NewDetection("sensitive_data_exfiltration", clamp(n.Severity, 7, 10), api+" sent sensitive data to "+target).
			WithSnippet(jsvalue.Truncate(body, snippetLength)).
			WithFeature("url", target))
	}
	return n
}

// beacon is a GET with no body, such as an image pixel.
func (s *Sandbox) beacon(api, target string) {
	if !s.allow(api) {
		return
	}
	s.request(dynamic.EventNetworkRequest, api, "GET", target, "", []jsvalue.Value{jsvalue.String(target)})
}

// --- fetch ---

func (s *Sandbox) fetch(call goja.FunctionCall) goja.Value {
	target := s.requestTarget(call.Argument(0))
	opts := call.Argument(1)
	method := strings.ToUpper(s.optString(opts, "method"))
	if method == "" {
		method = "GET"
	}
	body := s.optString(opts, "body")
	if s.allow("fetch") {
		s.request(dynamic.EventFetchRequest, "fetch", method, target, body, s.values(call.Arguments))
	}
	return s.resolved(s.response(target, ""))
}

// requestTarget accepts a URL string, a URL object or a Request-like object.
func (s *Sandbox) requestTarget(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if href := s.optString(obj, "href"); href != "" {
			return href
		}
		if u := s.optString(obj, "url"); u != "" {
			return u
		}
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (s *Sandbox) response(target, body string) *goja.Object {
	res := s.hostObject("Response")
	res.Set("ok", true)
	res.Set("status", 200)
	res.Set("statusText", "OK")
	res.Set("url", target)
	res.Set("redirected", false)
	res.Set("type", "basic")
	headers := s.hostObject("Headers")
	headers.Set("get", s.noop(goja.Null))
	headers.Set("has", s.noop(func() goja.Value { return s.vm.ToValue(false) }))
	headers.Set("forEach", s.noop(nil))
	res.Set("headers", headers)

	text := func() goja.Value {
		if s.allow("fetch.response") {
			s.chain("fetch.response", []jsvalue.Value{jsvalue.String(target)}, jsvalue.String(body))
		}
		return s.vm.ToValue(body)
	}
	res.Set("text", func(goja.FunctionCall) goja.Value { return s.resolved(text()) })
	res.Set("json", func(goja.FunctionCall) goja.Value {
		text()
		return s.resolved(s.vm.NewObject())
	})
	res.Set("blob", func(goja.FunctionCall) goja.Value { return s.resolved(s.newBlobObject(body, "")) })
	res.Set("arrayBuffer", func(goja.FunctionCall) goja.Value { return s.resolved(s.vm.ToValue(s.vm.NewArrayBuffer(nil))) })
	res.Set("clone", func(goja.FunctionCall) goja.Value { return s.response(target, body) })
	return res
}

// --- XMLHttpRequest ---

func (s *Sandbox) newXHR(goja.ConstructorCall) *goja.Object {
	xhr := s.hostObject("XMLHttpRequest")
	listeners := make(map[string][]goja.Value)
	var method, target string

	xhr.Set("readyState", 0)
	xhr.Set("status", 0)
	xhr.Set("statusText", "")
	xhr.Set("responseType", "")
	xhr.Set("response", "")
	xhr.Set("responseURL", "")
	xhr.Set("timeout", 0)
	xhr.Set("withCredentials", false)
	s.accessor(xhr, "responseText", func() goja.Value {
		if s.allow("XMLHttpRequest.responseText") {
			s.chain("XMLHttpRequest.responseText", []jsvalue.Value{jsvalue.String(target)}, jsvalue.String(""))
		}
		return s.vm.ToValue("")
	}, nil)

	xhr.Set("open", func(call goja.FunctionCall) goja.Value {
		method = strings.ToUpper(argString(call, 0))
		target = s.requestTarget(call.Argument(1))
		xhr.Set("readyState", 1)
		if s.allow("XMLHttpRequest.open") {
			args := s.values(call.Arguments)
			s.collectURL(target, "XMLHttpRequest.open")
			sev := 1
			if suspiciousDomain(target) {
				sev = 3
			}
			s.record(dynamic.EventNetworkRequest, "XMLHttpRequest.open", args, jsvalue.Undefined(), sev,
				jsvalue.MapOf("method", method, "url", target))
			s.chain("XMLHttpRequest.open", args, jsvalue.Undefined())
		}
		return goja.Undefined()
	})
	xhr.Set("setRequestHeader", func(call goja.FunctionCall) goja.Value {
		name := argString(call, 0)
		if _, ok := sensitiveKeyword(strings.ToLower(name)); ok && s.allow("XMLHttpRequest.setRequestHeader") {
			s.record(dynamic.EventNetworkRequest, "XMLHttpRequest.setRequestHeader", s.values(call.Arguments), jsvalue.Undefined(), 3,
				jsvalue.MapOf("header", name))
		}
		return goja.Undefined()
	})
	xhr.Set("send", func(call goja.FunctionCall) goja.Value {
		body := argString(call, 0)
		if s.allow("XMLHttpRequest.send") {
			s.request(dynamic.EventNetworkRequest, "XMLHttpRequest.send", method, target, body,
				[]jsvalue.Value{jsvalue.String(target), jsvalue.String(body)})
		}
		s.jobs.Enqueue("XMLHttpRequest.load", func() error {
			xhr.Set("readyState", 4)
			xhr.Set("status", 200)
			xhr.Set("statusText", "OK")
			xhr.Set("responseURL", target)
			for _, typ := range []string{"readystatechange", "load", "loadend"} {
				handlers := append([]goja.Value{xhr.Get("on" + typ)}, listeners[typ]...)
				for _, h := range handlers {
					if h == nil {
						continue
					}
					if _, err := s.callback(core.FamilyEvent, h, xhr, s.newEvent(typ, xhr)); err != nil {
						return err
					}
				}
			}
			return nil
		})
		return goja.Undefined()
	})
	xhr.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := strings.ToLower(argString(call, 0))
		listeners[typ] = append(listeners[typ], call.Argument(1))
		return goja.Undefined()
	})
	xhr.Set("removeEventListener", s.noop(nil))
	xhr.Set("abort", s.noop(nil))
	xhr.Set("overrideMimeType", s.noop(nil))
	xhr.Set("getAllResponseHeaders", s.noop(func() goja.Value { return s.vm.ToValue("") }))
	xhr.Set("getResponseHeader", s.noop(goja.Null))
	return xhr
}

// --- WebSocket / EventSource ---

func (s *Sandbox) newWebSocket(call goja.ConstructorCall) *goja.Object {
	target := s.requestTarget(call.Argument(0))
	ws := s.hostObject("WebSocket")
	ws.Set("url", target)
	ws.Set("readyState", 0)
	ws.Set("binaryType", "blob")
	ws.Set("bufferedAmount", 0)

	if s.allow("WebSocket") {
		s.collectURL(target, "WebSocket")
		sev := 3
		if suspiciousDomain(target) || strings.HasPrefix(strings.ToLower(target), "ws:") {
			sev = 5
		}
		s.record(dynamic.EventNetworkRequest, "WebSocket", []jsvalue.Value{jsvalue.String(target)}, jsvalue.Undefined(), sev,
			jsvalue.MapOf("url", target))
	}

	ws.Set("send", func(c goja.FunctionCall) goja.Value {
		data := argString(c, 0)
		if s.allow("WebSocket.send") {
			s.request(dynamic.EventNetworkRequest, "WebSocket.send", "SEND", target, data,
				[]jsvalue.Value{jsvalue.String(data)})
		}
		return goja.Undefined()
	})
	ws.Set("close", func(goja.FunctionCall) goja.Value {
		ws.Set("readyState", 3)
		return goja.Undefined()
	})
	ws.Set("addEventListener", func(c goja.FunctionCall) goja.Value {
		typ := strings.ToLower(argString(c, 0))
		if typ == "open" {
			fn := c.Argument(1)
			s.jobs.Enqueue("WebSocket.open", func() error {
				_, err := s.callback(core.FamilyEvent, fn, ws, s.newEvent("open", ws))
				return err
			})
		}
		return goja.Undefined()
	})
	ws.Set("removeEventListener", s.noop(nil))

	s.jobs.Enqueue("WebSocket.open", func() error {
		ws.Set("readyState", 1)
		if h := ws.Get("onopen"); h != nil {
			_, err := s.callback(core.FamilyEvent, h, ws, s.newEvent("open", ws))
			return err
		}
		return nil
	})
	return ws
}

func (s *Sandbox) newEventSource(call goja.ConstructorCall) *goja.Object {
	target := s.requestTarget(call.Argument(0))
	es := s.hostObject("EventSource")
	es.Set("url", target)
	es.Set("readyState", 0)
	if s.allow("EventSource") {
		s.collectURL(target, "EventSource")
		sev := 2
		if suspiciousDomain(target) {
			sev = 4
		}
		s.record(dynamic.EventNetworkRequest, "EventSource", []jsvalue.Value{jsvalue.String(target)}, jsvalue.Undefined(), sev,
			jsvalue.MapOf("url", target))
	}
	es.Set("close", s.noop(nil))
	es.Set("addEventListener", s.noop(nil))
	es.Set("removeEventListener", s.noop(nil))
	return es
}
