package jsbind

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// installWindow makes the global object behave as window: aliases,
// location, history, screen and the window-level event surface.
func installWindow(s *Sandbox) error {
	g := s.vm.GlobalObject()
	s.markHost(g, "Window")
	for _, alias := range []string{"window", "self", "top", "parent", "globalThis", "frames"} {
		if err := s.setGlobal(alias, g); err != nil {
			return err
		}
	}
	if err := s.setGlobal("opener", goja.Null()); err != nil {
		return err
	}

	page, err := url.Parse(s.browser.PageURL)
	if err != nil || page.Host == "" {
		page, _ = url.Parse("https://localhost/")
	}
	loc := s.location(page)
	s.accessor(g, "location", func() goja.Value { return loc }, func(v goja.Value) {
		s.navigate("location", v.String())
	})
	if doc, ok := s.vm.Get("document").(*goja.Object); ok {
		s.accessor(doc, "location", func() goja.Value { return loc }, func(v goja.Value) {
			s.navigate("document.location", v.String())
		})
	}

	name := ""
	s.accessor(g, "name", func() goja.Value {
		if s.allow("window.name") {
			s.record(dynamic.EventEnvironmentDetection, "window.name", nil, jsvalue.String(name), 1, nil)
			s.chain("window.name", nil, jsvalue.String(name))
		}
		return s.vm.ToValue(name)
	}, func(v goja.Value) {
		name = v.String()
		s.track(name, "window.name")
	})

	g.Set("open", s.windowOpen)
	g.Set("close", s.noop(nil))
	g.Set("focus", s.noop(nil))
	g.Set("blur", s.noop(nil))
	g.Set("stop", s.noop(nil))
	g.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		msg := s.value(call.Argument(0))
		origin := argString(call, 1)
		if s.allow("window.postMessage") {
			sev := 2
			if origin == "*" {
				sev = 3
			}
			s.record(dynamic.EventFunctionCall, "window.postMessage", s.values(call.Arguments), jsvalue.Undefined(), sev,
				jsvalue.MapOf("target_origin", origin))
			s.track(msg.String(), "window.postMessage")
		}
		evt := s.newEvent("message", g)
		evt.Set("data", call.Argument(0))
		evt.Set("origin", pageOrigin(s.browser.PageURL))
		s.jobs.Enqueue("window.message", func() error { return s.fireWindow("message", evt) })
		return goja.Undefined()
	})

	g.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := strings.ToLower(argString(call, 0))
		fn := call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}
		s.winListeners[typ] = append(s.winListeners[typ], fn)
		s.listenerAdded("window.addEventListener", typ, "window")
		switch typ {
		case "load", "domcontentloaded", "pageshow":
			s.jobs.Enqueue("window."+typ, func() error {
				_, err := s.callback(core.FamilyEvent, fn, g, s.newEvent(typ, g))
				return err
			})
		}
		return goja.Undefined()
	})
	g.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := strings.ToLower(argString(call, 0))
		fn := call.Argument(1)
		kept := s.winListeners[typ][:0]
		for _, l := range s.winListeners[typ] {
			if !l.SameAs(fn) {
				kept = append(kept, l)
			}
		}
		s.winListeners[typ] = kept
		return goja.Undefined()
	})
	g.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		evt := call.Argument(0)
		typ := strings.ToLower(s.optString(evt, "type"))
		for _, l := range append([]goja.Value(nil), s.winListeners[typ]...) {
			s.invoke(core.FamilyEvent, l, g, evt)
		}
		return s.vm.ToValue(true)
	})

	g.Set("history", s.history())
	g.Set("screen", s.screen())
	g.Set("performance", s.performance())
	g.Set("innerWidth", s.browser.InnerWidth)
	g.Set("innerHeight", s.browser.InnerHeight)
	g.Set("outerWidth", s.browser.ScreenWidth)
	g.Set("outerHeight", s.browser.ScreenHeight)
	g.Set("devicePixelRatio", 1)
	g.Set("scrollX", 0)
	g.Set("scrollY", 0)
	g.Set("pageXOffset", 0)
	g.Set("pageYOffset", 0)
	g.Set("screenX", 0)
	g.Set("screenY", 0)
	g.Set("isSecureContext", page.Scheme == "https")
	g.Set("origin", pageOrigin(s.browser.PageURL))
	for _, m := range []string{"scrollTo", "scrollBy", "scroll", "moveTo", "resizeTo"} {
		g.Set(m, s.noop(nil))
	}
	g.Set("matchMedia", func(call goja.FunctionCall) goja.Value {
		mq := s.hostObject("MediaQueryList")
		mq.Set("media", argString(call, 0))
		mq.Set("matches", false)
		mq.Set("addListener", s.noop(nil))
		mq.Set("removeListener", s.noop(nil))
		mq.Set("addEventListener", s.noop(nil))
		return mq
	})
	g.Set("getComputedStyle", func(call goja.FunctionCall) goja.Value {
		style := s.hostObject("CSSStyleDeclaration")
		style.Set("display", "block")
		style.Set("visibility", "visible")
		style.Set("getPropertyValue", s.noop(func() goja.Value { return s.vm.ToValue("") }))
		return style
	})
	g.Set("getSelection", s.noop(func() goja.Value {
		sel := s.hostObject("Selection")
		sel.Set("toString", s.noop(func() goja.Value { return s.vm.ToValue("") }))
		sel.Set("removeAllRanges", s.noop(nil))
		sel.Set("addRange", s.noop(nil))
		return sel
	}))
	return nil
}

// fireWindow delivers an event to window listeners and the on<type>
// handler. Used from the job queue.
func (s *Sandbox) fireWindow(typ string, evt *goja.Object) error {
	g := s.vm.GlobalObject()
	for _, l := range append([]goja.Value(nil), s.winListeners[typ]...) {
		if _, err := s.callback(core.FamilyEvent, l, g, evt); err != nil {
			return err
		}
	}
	if h := g.Get("on" + typ); h != nil {
		if _, err := s.callback(core.FamilyEvent, h, g, evt); err != nil {
			return err
		}
	}
	return nil
}

// --- Location ---

func (s *Sandbox) location(page *url.URL) *goja.Object {
	loc := s.hostObject("Location")
	fields := map[string]func() string{
		"protocol": func() string { return page.Scheme + ":" },
		"host":     func() string { return page.Host },
		"hostname": func() string { return page.Hostname() },
		"port":     page.Port,
		"pathname": func() string {
			if page.Path == "" {
				return "/"
			}
			return page.EscapedPath()
		},
		"origin": func() string { return page.Scheme + "://" + page.Host },
	}
	for name, get := range fields {
		get := get
		s.accessor(loc, name, func() goja.Value { return s.vm.ToValue(get()) }, nil)
	}

	// hash and search carry attacker-controlled input.
	source := func(name string, get func() string) {
		api := "location." + name
		s.accessor(loc, name, func() goja.Value {
			v := get()
			if s.allow(api) {
				s.record(dynamic.EventEnvironmentDetection, api, nil, jsvalue.String(v), 1, nil)
				s.chain(api, nil, jsvalue.String(v))
			}
			return s.vm.ToValue(v)
		}, nil)
	}
	source("hash", func() string {
		if page.Fragment == "" {
			return ""
		}
		return "#" + page.Fragment
	})
	source("search", func() string {
		if page.RawQuery == "" {
			return ""
		}
		return "?" + page.RawQuery
	})

	s.accessor(loc, "href", func() goja.Value { return s.vm.ToValue(page.String()) }, func(v goja.Value) {
		s.navigate("location.href", v.String())
	})
	for _, m := range []string{"assign", "replace"} {
		api := "location." + m
		loc.Set(m, func(call goja.FunctionCall) goja.Value {
			s.navigate(api, argString(call, 0))
			return goja.Undefined()
		})
	}
	loc.Set("reload", func(goja.FunctionCall) goja.Value {
		if s.allow("location.reload") {
			s.record(dynamic.EventLocationChange, "location.reload", nil, jsvalue.Undefined(), 1, nil)
		}
		return goja.Undefined()
	})
	loc.Set("toString", func(goja.FunctionCall) goja.Value { return s.vm.ToValue(page.String()) })
	return loc
}

// navigate records a redirect. The page never actually changes.
func (s *Sandbox) navigate(api, target string) {
	if !s.allow(api) {
		return
	}
	sev := navigationSeverity(target)
	meta := jsvalue.MapOf("url", target)
	if js, ok := strings.CutPrefix(strings.TrimSpace(target), "javascript:"); ok {
		meta.Set("javascript_url", jsvalue.Bool(true))
		s.track(js, api)
	} else {
		s.collectURL(target, api)
	}
	args := []jsvalue.Value{jsvalue.String(target)}
	s.record(dynamic.EventLocationChange, api, args, jsvalue.Undefined(), sev, meta)

	// location.assign, replace and assignment to location all sink into one
	// catalog entry; href keeps its own.
	sink := "location.assign"
	if api == "location.href" {
		sink = api
	}
	s.chain(sink, args, jsvalue.Undefined())
	if sev >= 7 {
		s.finding(schemas.NewDetection("malicious_redirect", sev, "Script redirected the page to a dangerous target").
			WithSnippet(jsvalue.Truncate(target, snippetLength)).
			WithFeature("api", api))
	}
}

func navigationSeverity(target string) int {
	lower := strings.ToLower(strings.TrimSpace(target))
	sev := 4
	switch {
	case strings.HasPrefix(lower, "javascript:"):
		sev = 7
	case strings.HasPrefix(lower, "data:text/html"):
		sev = 6
	}
	if suspiciousDomain(target) {
		sev += 2
	}
	if core.IsSuspiciousExtension(core.Extension(target)) {
		sev += 3
	}
	return clamp(sev, 0, 10)
}

func (s *Sandbox) windowOpen(call goja.FunctionCall) goja.Value {
	target := argString(call, 0)
	if s.allow("window.open") {
		sev := navigationSeverity(target)
		args := s.values(call.Arguments)
		s.collectURL(target, "window.open")
		s.record(dynamic.EventLocationChange, "window.open", args, jsvalue.Undefined(), sev,
			jsvalue.MapOf("url", target, "target", argString(call, 1), "features", argString(call, 2)))
		s.chain("window.open", args, jsvalue.Undefined())
	}
	popup := s.hostObject("Window")
	popup.Set("closed", false)
	popup.Set("opener", s.vm.GlobalObject())
	popup.Set("document", s.vm.Get("document"))
	popup.Set("close", s.noop(nil))
	popup.Set("focus", s.noop(nil))
	popup.Set("postMessage", s.noop(nil))
	popupLoc := s.hostObject("Location")
	s.accessor(popupLoc, "href", func() goja.Value { return s.vm.ToValue(target) }, func(v goja.Value) {
		target = v.String()
		s.navigate("window.open", target)
	})
	s.accessor(popup, "location", func() goja.Value { return popupLoc }, func(v goja.Value) {
		target = v.String()
		s.navigate("window.open", target)
	})
	return popup
}

// --- History, screen, performance ---

func (s *Sandbox) history() *goja.Object {
	h := s.hostObject("History")
	h.Set("length", 1)
	h.Set("state", goja.Null())
	for _, m := range []string{"pushState", "replaceState"} {
		api := "history." + m
		h.Set(m, func(call goja.FunctionCall) goja.Value {
			target := argString(call, 2)
			if target != "" && s.allow(api) {
				s.collectURL(target, api)
				s.record(dynamic.EventLocationChange, api, s.values(call.Arguments), jsvalue.Undefined(), 2,
					jsvalue.MapOf("url", target))
			}
			h.Set("state", call.Argument(0))
			return goja.Undefined()
		})
	}
	for _, m := range []string{"back", "forward", "go"} {
		h.Set(m, s.noop(nil))
	}
	return h
}

func (s *Sandbox) screen() *goja.Object {
	b := s.browser
	sc := s.hostObject("Screen")
	values := map[string]int{
		"width":       b.ScreenWidth,
		"height":      b.ScreenHeight,
		"availWidth":  b.ScreenWidth,
		"availHeight": b.ScreenHeight - 40,
		"colorDepth":  b.ColorDepth,
		"pixelDepth":  b.ColorDepth,
	}
	for name, v := range values {
		name, v := name, v
		s.accessor(sc, name, func() goja.Value {
			if s.allow("screen." + name) {
				s.record(dynamic.EventEnvironmentDetection, "screen."+name, nil, jsvalue.Int(v), 1,
					jsvalue.MapOf("property", name))
			}
			return s.vm.ToValue(v)
		}, nil)
	}
	orientation := s.hostObject("ScreenOrientation")
	orientation.Set("type", "landscape-primary")
	orientation.Set("angle", 0)
	sc.Set("orientation", orientation)
	return sc
}

// performance reports a clock that advances one millisecond per read, so
// timing checks see monotonic but unremarkable deltas.
func (s *Sandbox) performance() *goja.Object {
	p := s.hostObject("Performance")
	var clock float64
	p.Set("now", func(goja.FunctionCall) goja.Value {
		clock++
		return s.vm.ToValue(clock)
	})
	p.Set("timeOrigin", 0)
	timing := s.vm.NewObject()
	timing.Set("navigationStart", 0)
	timing.Set("loadEventEnd", 1)
	p.Set("timing", timing)
	for _, m := range []string{"mark", "measure", "clearMarks", "clearMeasures"} {
		p.Set(m, s.noop(nil))
	}
	p.Set("getEntriesByType", s.noop(func() goja.Value { return s.vm.NewArray() }))
	p.Set("getEntries", s.noop(func() goja.Value { return s.vm.NewArray() }))
	return p
}
