package jsbind

import (
	"math"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const (
	maxExportDepth = 3
	maxExportKeys  = 64
	maxExportItems = 256
)

// value converts an engine value into the analysis value model.
func (s *Sandbox) value(v goja.Value) jsvalue.Value {
	return toValue(v, 0)
}

// values converts a call's arguments.
func (s *Sandbox) values(args []goja.Value) []jsvalue.Value {
	out := make([]jsvalue.Value, len(args))
	for i, a := range args {
		out[i] = toValue(a, 0)
	}
	return out
}

func toValue(v goja.Value, depth int) jsvalue.Value {
	if v == nil || goja.IsUndefined(v) {
		return jsvalue.Undefined()
	}
	if goja.IsNull(v) {
		return jsvalue.Null()
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		switch x := v.Export().(type) {
		case bool:
			return jsvalue.Bool(x)
		case int64:
			return jsvalue.Number(float64(x))
		case float64:
			return jsvalue.Number(x)
		case string:
			return jsvalue.String(x)
		default:
			return jsvalue.String(v.String())
		}
	}

	if name := obj.Get(hostMarker); name != nil && !goja.IsUndefined(name) {
		return jsvalue.String("[object " + name.String() + "]")
	}

	switch obj.ClassName() {
	case "Function":
		return jsvalue.String("[function]")
	case "Array":
		if depth >= maxExportDepth {
			return jsvalue.String("[array]")
		}
		n := int(obj.Get("length").ToInteger())
		if n > maxExportItems {
			n = maxExportItems
		}
		items := make([]jsvalue.Value, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, toValue(obj.Get(itoa(i)), depth+1))
		}
		return jsvalue.Array(items...)
	case "Error":
		return jsvalue.String(obj.String())
	case "Object":
		if depth >= maxExportDepth {
			return jsvalue.String("[object]")
		}
		m := jsvalue.NewMap()
		for i, k := range obj.Keys() {
			if i >= maxExportKeys {
				break
			}
			m.Set(k, toValue(obj.Get(k), depth+1))
		}
		return jsvalue.Object(m)
	default:
		return jsvalue.String(obj.String())
	}
}

// jsValue converts the analysis value model back into the engine.
func (s *Sandbox) jsValue(v jsvalue.Value) goja.Value {
	switch v.Kind() {
	case jsvalue.KindUndefined:
		return goja.Undefined()
	case jsvalue.KindNull:
		return goja.Null()
	case jsvalue.KindNumber:
		n := v.AsNumber()
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return s.vm.ToValue(int64(n))
		}
		return s.vm.ToValue(n)
	default:
		return s.vm.ToValue(v.Export())
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
