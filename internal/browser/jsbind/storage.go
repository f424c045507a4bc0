package jsbind

import (
	"sort"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// storageArea is the in-memory backing of localStorage or sessionStorage.
type storageArea struct {
	name  string
	items map[string]string
}

func newStorageArea(name string) *storageArea {
	return &storageArea{name: name, items: make(map[string]string)}
}

func (a *storageArea) keys() []string {
	keys := make([]string, 0, len(a.items))
	for k := range a.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func installStorage(s *Sandbox) error {
	if err := s.setGlobal("localStorage", s.storageObject(s.local)); err != nil {
		return err
	}
	return s.setGlobal("sessionStorage", s.storageObject(s.session))
}

func (s *Sandbox) storageObject(area *storageArea) *goja.Object {
	obj := s.hostObject("Storage")
	name := area.name

	obj.Set("getItem", func(call goja.FunctionCall) goja.Value {
		key := argString(call, 0)
		value, ok := area.items[key]
		if !s.allow(name + ".getItem") {
			if !ok {
				return goja.Null()
			}
			return s.vm.ToValue(value)
		}
		result := jsvalue.Null()
		if ok {
			result = jsvalue.String(value)
		}
		sev, meta := storageScore(key, value)
		meta.Set("key", jsvalue.String(key))
		meta.Set("found", jsvalue.Bool(ok))
		args := []jsvalue.Value{jsvalue.String(key)}
		s.record(dynamic.EventStorageAccess, name+".getItem", args, result, clamp(sev-1, 0, 10), meta)
		s.chain(name+".getItem", args, result)
		if !ok {
			return goja.Null()
		}
		return s.vm.ToValue(value)
	})

	obj.Set("setItem", func(call goja.FunctionCall) goja.Value {
		key := argString(call, 0)
		value := call.Argument(1).String()
		area.items[key] = value
		if !s.allow(name + ".setItem") {
			return goja.Undefined()
		}
		sev, meta := storageScore(key, value)
		meta.Set("key", jsvalue.String(key))
		meta.Set("length", jsvalue.Int(len(value)))
		if jwtEvidence(value, meta) {
			sev = clamp(sev+2, 0, 10)
			s.reportJWT(name+".setItem", key, meta)
		}
		args := []jsvalue.Value{jsvalue.String(key), jsvalue.String(value)}
		s.record(dynamic.EventStorageAccess, name+".setItem", args, jsvalue.Undefined(), sev, meta)
		s.track(value, name+".setItem")
		if sev >= 7 {
			s.finding(schemas.NewDetection("sensitive_data_storage", sev, name+" stored sensitive data").
				WithSnippet(key).WithFeature("key", key))
		}
		return goja.Undefined()
	})

	obj.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		key := argString(call, 0)
		delete(area.items, key)
		if s.allow(name + ".removeItem") {
			s.record(dynamic.EventStorageAccess, name+".removeItem", s.values(call.Arguments), jsvalue.Undefined(), 0, nil)
		}
		return goja.Undefined()
	})

	obj.Set("clear", func(goja.FunctionCall) goja.Value {
		area.items = make(map[string]string)
		if s.allow(name + ".clear") {
			s.record(dynamic.EventStorageAccess, name+".clear", nil, jsvalue.Undefined(), 1, nil)
		}
		return goja.Undefined()
	})

	obj.Set("key", func(call goja.FunctionCall) goja.Value {
		i := int(call.Argument(0).ToInteger())
		keys := area.keys()
		if i < 0 || i >= len(keys) {
			return goja.Null()
		}
		return s.vm.ToValue(keys[i])
	})
	s.accessor(obj, "length", func() goja.Value { return s.vm.ToValue(len(area.items)) }, nil)
	return obj
}
