package jsbind

import (
	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// probeSeverity rates reads of fingerprinting properties. Properties not
// listed are answered without an event.
var probeSeverity = map[string]int{
	"webdriver":           4,
	"plugins":             2,
	"mimeTypes":           2,
	"hardwareConcurrency": 1,
	"deviceMemory":        1,
	"languages":           1,
	"platform":            1,
}

func installNavigator(s *Sandbox) error {
	b := s.browser
	nav := s.hostObject("Navigator")

	props := map[string]func() goja.Value{
		"userAgent":           func() goja.Value { return s.vm.ToValue(b.UserAgent) },
		"appVersion":          func() goja.Value { return s.vm.ToValue(b.AppVersion) },
		"appName":             func() goja.Value { return s.vm.ToValue("Netscape") },
		"appCodeName":         func() goja.Value { return s.vm.ToValue("Mozilla") },
		"product":             func() goja.Value { return s.vm.ToValue("Gecko") },
		"platform":            func() goja.Value { return s.vm.ToValue(b.Platform) },
		"vendor":              func() goja.Value { return s.vm.ToValue(b.Vendor) },
		"language":            func() goja.Value { return s.vm.ToValue(b.Language) },
		"languages":           func() goja.Value { return s.stringArray(b.Languages) },
		"hardwareConcurrency": func() goja.Value { return s.vm.ToValue(b.HardwareConcurrency) },
		"deviceMemory":        func() goja.Value { return s.vm.ToValue(b.DeviceMemory) },
		"cookieEnabled":       func() goja.Value { return s.vm.ToValue(b.CookieEnabled) },
		"onLine":              func() goja.Value { return s.vm.ToValue(true) },
		"doNotTrack":          goja.Null,
		"maxTouchPoints":      func() goja.Value { return s.vm.ToValue(0) },
		"webdriver":           func() goja.Value { return s.vm.ToValue(false) },
		"plugins":             func() goja.Value { return s.pluginArray() },
		"mimeTypes":           func() goja.Value { return s.vm.NewArray() },
	}
	for name, get := range props {
		name, get := name, get
		s.accessor(nav, name, func() goja.Value {
			if sev, probed := probeSeverity[name]; probed && s.allow("navigator."+name) {
				s.record(dynamic.EventEnvironmentDetection, "navigator."+name, nil, jsvalue.Undefined(), sev,
					jsvalue.MapOf("property", name))
			}
			return get()
		}, nil)
	}

	nav.Set("javaEnabled", s.noop(func() goja.Value { return s.vm.ToValue(false) }))
	nav.Set("sendBeacon", func(call goja.FunctionCall) goja.Value {
		target := s.requestTarget(call.Argument(0))
		data := argString(call, 1)
		if content, _ := s.blobContent(call.Argument(1)); content != "" {
			data = content
		}
		if s.allow("navigator.sendBeacon") {
			s.request(dynamic.EventNetworkRequest, "navigator.sendBeacon", "POST", target, data,
				[]jsvalue.Value{jsvalue.String(target), jsvalue.String(data)})
		}
		return s.vm.ToValue(true)
	})
	nav.Set("clipboard", s.clipboard())
	nav.Set("geolocation", s.geolocation())
	nav.Set("permissions", s.permissions())
	nav.Set("serviceWorker", s.serviceWorker())
	nav.Set("connection", s.connection())
	nav.Set("getBattery", func(goja.FunctionCall) goja.Value {
		if s.allow("navigator.getBattery") {
			s.record(dynamic.EventEnvironmentDetection, "navigator.getBattery", nil, jsvalue.Undefined(), 2, nil)
		}
		battery := s.hostObject("BatteryManager")
		battery.Set("charging", true)
		battery.Set("level", 1)
		battery.Set("chargingTime", 0)
		battery.Set("dischargingTime", goja.PositiveInf())
		return s.resolved(battery)
	})
	nav.Set("registerProtocolHandler", func(call goja.FunctionCall) goja.Value {
		if s.allow("navigator.registerProtocolHandler") {
			s.record(dynamic.EventEnvironmentDetection, "navigator.registerProtocolHandler", s.values(call.Arguments), jsvalue.Undefined(), 5, nil)
		}
		return goja.Undefined()
	})
	nav.Set("vibrate", s.noop(func() goja.Value { return s.vm.ToValue(true) }))
	return s.setGlobal("navigator", nav)
}

func (s *Sandbox) stringArray(items []string) goja.Value {
	vals := make([]interface{}, len(items))
	for i, v := range items {
		vals[i] = v
	}
	return s.vm.NewArray(vals...)
}

// pluginArray reports the PDF viewers a current desktop Chrome exposes. An
// empty plugin list is a headless tell some scripts check for.
func (s *Sandbox) pluginArray() goja.Value {
	names := []string{"PDF Viewer", "Chrome PDF Viewer", "Chromium PDF Viewer", "Microsoft Edge PDF Viewer", "WebKit built-in PDF"}
	items := make([]interface{}, len(names))
	for i, n := range names {
		p := s.hostObject("Plugin")
		p.Set("name", n)
		p.Set("filename", "internal-pdf-viewer")
		p.Set("description", "Portable Document Format")
		items[i] = p
	}
	arr := s.vm.NewArray(items...)
	arr.Set("item", func(call goja.FunctionCall) goja.Value { return arr.Get(itoa(int(call.Argument(0).ToInteger()))) })
	arr.Set("namedItem", s.noop(goja.Null))
	arr.Set("refresh", s.noop(nil))
	return arr
}

// --- Clipboard ---

func (s *Sandbox) clipboard() *goja.Object {
	clip := s.hostObject("Clipboard")
	clip.Set("readText", func(goja.FunctionCall) goja.Value {
		if s.allow("navigator.clipboard.readText") {
			s.record(dynamic.EventClipboardAccess, "navigator.clipboard.readText", nil, jsvalue.String(""), 5,
				jsvalue.MapOf("operation", "read"))
			s.chain("navigator.clipboard.readText", nil, jsvalue.String(""))
		}
		return s.resolved(s.vm.ToValue(""))
	})
	clip.Set("writeText", func(call goja.FunctionCall) goja.Value {
		s.clipboardWrite("navigator.clipboard.writeText", argString(call, 0))
		return s.resolved(goja.Undefined())
	})
	clip.Set("read", s.noop(func() goja.Value { return s.resolved(s.vm.NewArray()) }))
	clip.Set("write", s.noop(func() goja.Value { return s.resolved(goja.Undefined()) }))
	return clip
}

// clipboardWrite scores text placed on the clipboard. A shell command
// written there is the paste-and-run lure.
func (s *Sandbox) clipboardWrite(api, text string) {
	if !s.allow(api) {
		return
	}
	sev := 3
	meta := jsvalue.MapOf("operation", "write", "length", len(text))
	hijack := strtrack.IsClipboardHijack(text) || strtrack.IsMaliciousCommand(text)
	if hijack {
		sev = 9
		meta.Set("hijack", jsvalue.Bool(true))
	}
	args := []jsvalue.Value{jsvalue.String(text)}
	s.record(dynamic.EventClipboardAccess, api, args, jsvalue.Undefined(), sev, meta)
	s.chain("navigator.clipboard.writeText", args, jsvalue.Undefined())
	s.track(text, api)
	if hijack {
		s.finding(schemas.NewDetection("clipboard_hijack", 9, "Script placed a shell command on the clipboard").
			WithSnippet(jsvalue.Truncate(text, snippetLength)).
			WithFeature("api", api))
	}
}

// --- Device APIs ---

func (s *Sandbox) geolocation() *goja.Object {
	geo := s.hostObject("Geolocation")
	position := func() *goja.Object {
		coords := s.vm.NewObject()
		coords.Set("latitude", 0)
		coords.Set("longitude", 0)
		coords.Set("accuracy", 100)
		pos := s.hostObject("GeolocationPosition")
		pos.Set("coords", coords)
		pos.Set("timestamp", 0)
		return pos
	}
	get := func(name string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if s.allow(name) {
				s.record(dynamic.EventEnvironmentDetection, name, nil, jsvalue.Undefined(), 3, nil)
			}
			fn := call.Argument(0)
			s.jobs.Enqueue(name, func() error {
				_, err := s.callback(core.FamilyEvent, fn, goja.Undefined(), position())
				return err
			})
			return s.vm.ToValue(0)
		}
	}
	geo.Set("getCurrentPosition", get("navigator.geolocation.getCurrentPosition"))
	geo.Set("watchPosition", get("navigator.geolocation.watchPosition"))
	geo.Set("clearWatch", s.noop(nil))
	return geo
}

func (s *Sandbox) permissions() *goja.Object {
	p := s.hostObject("Permissions")
	p.Set("query", func(call goja.FunctionCall) goja.Value {
		name := s.optString(call.Argument(0), "name")
		if s.allow("navigator.permissions.query") {
			s.record(dynamic.EventEnvironmentDetection, "navigator.permissions.query", s.values(call.Arguments), jsvalue.Undefined(), 2,
				jsvalue.MapOf("permission", name))
		}
		status := s.hostObject("PermissionStatus")
		status.Set("name", name)
		status.Set("state", "prompt")
		return s.resolved(status)
	})
	return p
}

func (s *Sandbox) serviceWorker() *goja.Object {
	sw := s.hostObject("ServiceWorkerContainer")
	sw.Set("controller", goja.Null())
	sw.Set("register", func(call goja.FunctionCall) goja.Value {
		target := argString(call, 0)
		if s.allow("navigator.serviceWorker.register") {
			s.collectURL(target, "navigator.serviceWorker.register")
			s.record(dynamic.EventWorkerCreate, "navigator.serviceWorker.register", s.values(call.Arguments), jsvalue.Undefined(), 6,
				jsvalue.MapOf("url", target))
		}
		reg := s.hostObject("ServiceWorkerRegistration")
		reg.Set("scope", "/")
		reg.Set("unregister", s.noop(func() goja.Value { return s.resolved(s.vm.ToValue(true)) }))
		return s.resolved(reg)
	})
	sw.Set("getRegistrations", s.noop(func() goja.Value { return s.resolved(s.vm.NewArray()) }))
	sw.Set("ready", s.resolved(goja.Undefined()))
	return sw
}

func (s *Sandbox) connection() *goja.Object {
	c := s.hostObject("NetworkInformation")
	c.Set("effectiveType", "4g")
	c.Set("downlink", 10)
	c.Set("rtt", 50)
	c.Set("saveData", false)
	return c
}
