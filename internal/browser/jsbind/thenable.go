package jsbind

import (
	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/internal/analysis/core"
)

const thenableMarker = "__jsbox_thenable__"

// resolved returns a synchronous thenable settled with v. Callbacks passed
// to then/catch/finally run immediately under the promise reentrancy
// guard, so `.then` chains and `await` behave deterministically without an
// event loop.
func (s *Sandbox) resolved(v goja.Value) *goja.Object { return s.thenable(v, false) }

// rejected returns a synchronous thenable rejected with reason.
func (s *Sandbox) rejected(reason goja.Value) *goja.Object { return s.thenable(reason, true) }

func (s *Sandbox) thenable(v goja.Value, rejected bool) *goja.Object {
	if v == nil {
		v = goja.Undefined()
	}
	obj := s.hostObject("Promise")
	_ = obj.DefineDataProperty(thenableMarker, s.vm.ToValue(true), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	settle := func(handler goja.Value) goja.Value {
		if _, ok := goja.AssertFunction(handler); !ok {
			return obj
		}
		return s.chainResult(s.invoke(core.FamilyPromise, handler, goja.Undefined(), v))
	}

	obj.Set("then", func(call goja.FunctionCall) goja.Value {
		if rejected {
			return settle(call.Argument(1))
		}
		return settle(call.Argument(0))
	})
	obj.Set("catch", func(call goja.FunctionCall) goja.Value {
		if !rejected {
			return obj
		}
		return settle(call.Argument(0))
	})
	obj.Set("finally", func(call goja.FunctionCall) goja.Value {
		s.invoke(core.FamilyPromise, call.Argument(0), goja.Undefined())
		return obj
	})
	return obj
}

// chainResult flattens a callback result that is already one of our
// thenables.
func (s *Sandbox) chainResult(res goja.Value) goja.Value {
	if obj, ok := res.(*goja.Object); ok {
		if m := obj.Get(thenableMarker); m != nil && m.ToBoolean() {
			return obj
		}
	}
	return s.resolved(res)
}
