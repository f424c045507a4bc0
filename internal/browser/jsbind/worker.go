package jsbind

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

func installWorker(s *Sandbox) error {
	for _, name := range []string{"Worker", "SharedWorker"} {
		if err := s.setGlobal(name, s.newWorker(name)); err != nil {
			return err
		}
	}
	return s.setGlobal("importScripts", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			s.collectURL(a.String(), "importScripts")
		}
		if s.allow("importScripts") {
			s.record(dynamic.EventWorkerCreate, "importScripts", s.values(call.Arguments), jsvalue.Undefined(), 4, nil)
		}
		return goja.Undefined()
	})
}

// newWorker returns a Worker constructor. Workers never run in a separate
// global: a worker built from a blob URL has its code scheduled as a
// discovered script so its behaviour is still observed.
func (s *Sandbox) newWorker(name string) func(goja.ConstructorCall) *goja.Object {
	return func(call goja.ConstructorCall) *goja.Object {
		target := s.requestTarget(call.Argument(0))
		w := s.hostObject(name)

		if s.allow(name) {
			args := []jsvalue.Value{jsvalue.String(target)}
			meta := jsvalue.MapOf("url", target)
			sev := 3
			switch lower := strings.ToLower(target); {
			case strings.HasPrefix(lower, "blob:"):
				sev = 6
				meta.Set("blob", jsvalue.Bool(true))
				if code, ok := s.blobs[target]; ok {
					s.track(code, name)
					s.scheduleScript(code, name)
				}
			case strings.HasPrefix(lower, "data:"):
				sev = 6
				meta.Set("data_url", jsvalue.Bool(true))
			default:
				s.collectURL(target, name)
			}
			s.record(dynamic.EventWorkerCreate, name, args, jsvalue.Undefined(), sev, meta)
			s.chain("Worker", args, jsvalue.Undefined())
		}

		w.Set("postMessage", func(c goja.FunctionCall) goja.Value {
			if s.allow(name + ".postMessage") {
				s.record(dynamic.EventWorkerCreate, name+".postMessage", s.values(c.Arguments), jsvalue.Undefined(), 1, nil)
			}
			return goja.Undefined()
		})
		w.Set("terminate", s.noop(nil))
		w.Set("addEventListener", s.noop(nil))
		w.Set("removeEventListener", s.noop(nil))
		if name == "SharedWorker" {
			port := s.hostObject("MessagePort")
			port.Set("postMessage", w.Get("postMessage"))
			port.Set("start", s.noop(nil))
			port.Set("close", s.noop(nil))
			w.Set("port", port)
		}
		return w
	}
}
