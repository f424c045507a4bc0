package jsbind

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// fromCharCodeBurst is the argument count at which String.fromCharCode is
// treated as string assembly rather than ordinary use.
const fromCharCodeBurst = 20

// minSourceLength is the shortest decoded string worth tainting.
const minSourceLength = 4

// nativeWrap describes an engine builtin re-exposed with chain tracking.
type nativeWrap struct {
	holder string // global path of the object holding the method
	prop   string
	name   string // hostcall name reported to the chain detector
	inputs func(call goja.FunctionCall) []goja.Value
}

func argsOnly(call goja.FunctionCall) []goja.Value { return call.Arguments }

func thisOnly(call goja.FunctionCall) []goja.Value { return []goja.Value{call.This} }

func thisAndArgs(call goja.FunctionCall) []goja.Value {
	return append([]goja.Value{call.This}, call.Arguments...)
}

func installNatives(s *Sandbox) error {
	wraps := []nativeWrap{
		{holder: "String.prototype", prop: "concat", name: "String.concat", inputs: thisAndArgs},
		{holder: "String.prototype", prop: "replace", name: "String.replace", inputs: thisOnly},
		{holder: "JSON", prop: "parse", name: "JSON.parse", inputs: argsOnly},
		{holder: "JSON", prop: "stringify", name: "JSON.stringify", inputs: argsOnly},
		{holder: "", prop: "escape", name: "escape", inputs: argsOnly},
		{holder: "", prop: "encodeURIComponent", name: "encodeURIComponent", inputs: argsOnly},
		{holder: "", prop: "decodeURIComponent", name: "decodeURIComponent", inputs: argsOnly},
		{holder: "", prop: "encodeURI", name: "encodeURI", inputs: argsOnly},
		{holder: "", prop: "decodeURI", name: "decodeURI", inputs: argsOnly},
	}
	for _, w := range wraps {
		if err := s.wrapNative(w); err != nil {
			return err
		}
	}
	if err := s.wrapNative(nativeWrap{holder: "Array.prototype", prop: "join", name: "Array.join", inputs: s.arrayItems}); err != nil {
		return err
	}
	if err := s.wrapUnescape(); err != nil {
		return err
	}
	return s.wrapFromCharCode()
}

func (s *Sandbox) holderObject(path string) (*goja.Object, error) {
	if path == "" {
		return s.vm.GlobalObject(), nil
	}
	v, err := s.vm.RunString(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("resolve %s: not an object", path)
	}
	return obj, nil
}

// tainting reports whether any taint exists yet; transforms cannot extend
// a chain before a source has fired.
func (s *Sandbox) tainting() bool { return s.ac.Chains.Tracker.Len() > 0 }

// wrapNative replaces a builtin with a pass-through that reports the call
// to the chain detector. The wrapper is non-enumerable like the original.
func (s *Sandbox) wrapNative(w nativeWrap) error {
	holder, err := s.holderObject(w.holder)
	if err != nil {
		return err
	}
	orig, ok := goja.AssertFunction(holder.Get(w.prop))
	if !ok {
		return fmt.Errorf("%s is not a function", w.name)
	}
	wrapped := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		res, err := orig(call.This, call.Arguments...)
		if err != nil {
			s.rethrow(err)
		}
		if s.tainting() {
			s.chain(w.name, s.values(w.inputs(call)), s.value(res))
		}
		return res
	})
	return holder.DefineDataProperty(w.prop, wrapped, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

// arrayItems exposes the elements of the receiver as chain inputs.
func (s *Sandbox) arrayItems(call goja.FunctionCall) []goja.Value {
	obj, ok := call.This.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil
	}
	n := int(obj.Get("length").ToInteger())
	if n > maxExportItems {
		n = maxExportItems
	}
	items := make([]goja.Value, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, obj.Get(itoa(i)))
	}
	return items
}

// wrapUnescape reports unescape as a transform and flags %u-encoded
// payloads, the usual shape of sprayed shellcode.
func (s *Sandbox) wrapUnescape() error {
	global := s.vm.GlobalObject()
	orig, ok := goja.AssertFunction(global.Get("unescape"))
	if !ok {
		return fmt.Errorf("unescape is not a function")
	}
	return global.DefineDataProperty("unescape", s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		res, err := orig(goja.Undefined(), call.Arguments...)
		if err != nil {
			s.rethrow(err)
		}
		in := argString(call, 0)
		if unicodeEscapes := countUnicodeEscapes(in); unicodeEscapes > 0 && s.allow("unescape") {
			sev := 2
			if unicodeEscapes > 100 {
				sev = 6
			}
			args := s.values(call.Arguments)
			s.record(dynamic.EventFunctionCall, "unescape", args, jsvalue.String(jsvalue.Truncate(res.String(), 200)), sev,
				jsvalue.MapOf("unicode_escapes", unicodeEscapes, "length", len(in)))
			s.track(res.String(), "unescape")
		}
		if s.tainting() {
			s.chain("unescape", s.values(call.Arguments), s.value(res))
		}
		return res
	}), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func countUnicodeEscapes(s string) int {
	n := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '%' && (s[i+1] == 'u' || s[i+1] == 'U') {
			n++
		}
	}
	return n
}

// wrapFromCharCode makes String.fromCharCode a taint source.
func (s *Sandbox) wrapFromCharCode() error {
	str, ok := s.vm.Get("String").(*goja.Object)
	if !ok {
		return fmt.Errorf("String is not an object")
	}
	orig, ok := goja.AssertFunction(str.Get("fromCharCode"))
	if !ok {
		return fmt.Errorf("String.fromCharCode is not a function")
	}
	return str.DefineDataProperty("fromCharCode", s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		res, err := orig(goja.Undefined(), call.Arguments...)
		if err != nil {
			s.rethrow(err)
		}
		out := res.String()
		if len(call.Arguments) >= fromCharCodeBurst && s.allow("String.fromCharCode") {
			s.tick()
			s.record(dynamic.EventFunctionCall, "String.fromCharCode", nil, jsvalue.String(jsvalue.Truncate(out, 200)), 3,
				jsvalue.MapOf("arg_count", len(call.Arguments)))
			s.track(out, "String.fromCharCode")
			s.chain("String.fromCharCode", nil, jsvalue.String(out))
		} else if len(out) >= minSourceLength {
			s.chain("String.fromCharCode", nil, jsvalue.String(out))
		}
		return res
	}), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}
