package jsbind

import (
	"errors"
	"regexp"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// fallbackDepth bounds how deep a chain of property reads on a fallback
// object keeps producing new fallbacks.
const fallbackDepth = 8

// maxFreeIdentifiers caps fallbacks installed per script block.
const maxFreeIdentifiers = 64

// unemulatedGlobals get a catch-all object before any script runs.
var unemulatedGlobals = []string{
	"chrome", "opera", "safari", "Components", "external", "netscape",
	"InstallTrigger", "visualViewport", "speechSynthesis", "caches",
	"trustedTypes", "Intl", "Notification", "RTCPeerConnection",
	"webkitRTCPeerConnection", "MutationObserver", "IntersectionObserver",
	"ResizeObserver", "PerformanceObserver", "BroadcastChannel",
	"MessageChannel", "AudioContext", "webkitAudioContext", "Audio",
	"OffscreenCanvas", "grecaptcha", "ga", "gtag", "_gaq", "dataLayer",
}

// neverFallback are free identifiers that must stay undefined. Module
// loaders are probed with typeof, and a fallback would send UMD wrappers
// down a branch that never runs their factory.
var neverFallback = map[string]bool{
	"define": true, "require": true, "module": true, "exports": true,
	"process": true, "global": true,
}

// keywords never name a global.
var keywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"function": true, "return": true, "typeof": true, "new": true,
	"delete": true, "void": true, "in": true, "instanceof": true, "do": true,
	"else": true, "case": true, "throw": true, "try": true, "finally": true,
	"with": true, "yield": true, "await": true, "async": true, "this": true,
	"super": true, "null": true, "true": true, "false": true, "var": true,
	"let": true, "const": true, "class": true, "import": true, "export": true,
	"default": true, "break": true, "continue": true, "debugger": true,
	"of": true, "arguments": true,
}

var (
	capitalIdentifierPattern = regexp.MustCompile(`(?:^|[^.\w$])([A-Z][A-Za-z0-9_$]*)`)
	// usedIdentifierPattern matches a free identifier that is called or
	// dereferenced: fbq(...), _paq.push(...), ym[...].
	usedIdentifierPattern = regexp.MustCompile(`(?:^|[^.\w$])([A-Za-z_$][\w$]*)\s*[(.\[]`)
	declarationPattern       = regexp.MustCompile(`\b(?:var|let|const|function|class)\s+([A-Za-z_$][\w$]*)`)
	referenceErrorPattern    = regexp.MustCompile(`ReferenceError: ([A-Za-z_$][\w$]*) is not defined`)
)

func installFallbacks(s *Sandbox) error {
	for _, name := range unemulatedGlobals {
		s.installFallback(name)
	}
	return nil
}

// installFallback defines name as a catch-all global unless the engine
// already has it.
func (s *Sandbox) installFallback(name string) bool {
	if v := s.vm.GlobalObject().Get(name); v != nil {
		return false
	}
	if err := s.vm.Set(name, s.fallback(name, 0)); err != nil {
		s.logger.Debug("Failed to install fallback.", zap.String("name", name), zap.Error(err))
		return false
	}
	s.fallbacks[name] = true
	return true
}

// Fallbacks returns the names that were given a catch-all object.
func (s *Sandbox) Fallbacks() []string {
	out := make([]string, 0, len(s.fallbacks))
	for name := range s.fallbacks {
		out = append(out, name)
	}
	return out
}

// PrepareFallbacks installs catch-alls for free identifiers in code that
// are neither declared in it nor defined in the engine: every capitalised
// name, and any name that is called or dereferenced. Returns the names
// installed.
func (s *Sandbox) PrepareFallbacks(code string) []string {
	declared := make(map[string]bool)
	for _, m := range declarationPattern.FindAllStringSubmatch(code, -1) {
		declared[m[1]] = true
	}
	var installed []string
	seen := make(map[string]bool)
	for _, pattern := range []*regexp.Regexp{capitalIdentifierPattern, usedIdentifierPattern} {
		for _, m := range pattern.FindAllStringSubmatch(code, -1) {
			if len(installed) >= maxFreeIdentifiers {
				return installed
			}
			name := m[1]
			if seen[name] || declared[name] || keywords[name] || neverFallback[name] {
				continue
			}
			seen[name] = true
			if s.installFallback(name) {
				installed = append(installed, name)
			}
		}
	}
	return installed
}

// RecoverReferenceError installs a fallback for the global named in a
// "X is not defined" error so later blocks can reference it.
func (s *Sandbox) RecoverReferenceError(err error) (string, bool) {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return "", false
	}
	m := referenceErrorPattern.FindStringSubmatch(ex.Value().String())
	if m == nil || neverFallback[m[1]] {
		return "", false
	}
	return m[1], s.installFallback(m[1])
}

// fallback builds a callable, constructible proxy whose every property is
// another fallback. It stringifies to "" and is not a thenable.
func (s *Sandbox) fallback(name string, depth int) goja.Value {
	target := s.vm.ToValue(func(goja.ConstructorCall) *goja.Object { return nil }).(*goja.Object)

	proxy := s.vm.NewProxy(target, &goja.ProxyTrapConfig{
		Get: func(t *goja.Object, prop string, receiver goja.Value) goja.Value {
			switch prop {
			case "then", hostMarker, thenableMarker:
				return goja.Undefined()
			case "toString", "valueOf", "toJSON":
				return s.vm.ToValue(func(goja.FunctionCall) goja.Value { return s.vm.ToValue("") })
			case "length":
				return s.vm.ToValue(0)
			case "name":
				return s.vm.ToValue(name)
			}
			if depth >= fallbackDepth {
				return goja.Undefined()
			}
			return s.fallback(name+"."+prop, depth+1)
		},
		Set: func(t *goja.Object, prop string, value goja.Value, receiver goja.Value) bool {
			return true
		},
		Has: func(t *goja.Object, prop string) bool {
			return true
		},
		Apply: func(t *goja.Object, this goja.Value, args []goja.Value) goja.Value {
			if depth >= fallbackDepth {
				return goja.Undefined()
			}
			return s.fallback(name+"()", depth+1)
		},
		Construct: func(t *goja.Object, args []goja.Value, newTarget *goja.Object) *goja.Object {
			if depth >= fallbackDepth {
				return s.vm.NewObject()
			}
			return s.fallback("new "+name, depth+1).(*goja.Object)
		},
	})
	return s.vm.ToValue(proxy)
}
