// internal/jsvalue/value.go
package jsvalue

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an engine-independent snapshot of a script value. It is the
// argument, result and metadata currency of the whole analysis layer, so
// nothing outside the interception boundary handles engine-native types.
//
// A Value is treated as immutable once it has been handed to a recorder.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  *Map
}

// Undefined returns the undefined value. The zero Value is also undefined.
func Undefined() Value { return Value{} }

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a double.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int is a convenience wrapper for integral numbers.
func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered list. The slice is copied.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// Object wraps an ordered map. A nil map produces an empty object.
func Object(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindObject, obj: m}
}

// Strings is a helper building an array of string values.
func Strings(items ...string) Value {
	arr := make([]Value, len(items))
	for i, s := range items {
		arr[i] = String(s)
	}
	return Value{kind: KindArray, arr: arr}
}

func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsUndefined() bool  { return v.kind == KindUndefined }
func (v Value) IsNull() bool       { return v.kind == KindNull }
func (v Value) IsNullish() bool    { return v.kind == KindUndefined || v.kind == KindNull }
func (v Value) IsString() bool     { return v.kind == KindString }
func (v Value) IsObject() bool     { return v.kind == KindObject }
func (v Value) IsArray() bool      { return v.kind == KindArray }
func (v Value) AsBool() bool       { return v.kind == KindBool && v.b }
func (v Value) AsNumber() float64  { return v.n }
func (v Value) AsString() string   { return v.s }
func (v Value) Len() int           { return len(v.arr) }
func (v Value) Index(i int) Value  { return v.arr[i] }
func (v Value) Items() []Value     { return v.arr }
func (v Value) Map() *Map          { return v.obj }

// Get returns a property of an object value, or undefined.
func (v Value) Get(key string) Value {
	if v.kind != KindObject || v.obj == nil {
		return Undefined()
	}
	val, _ := v.obj.Get(key)
	return val
}

// String renders the value the way the engine's ToString would for
// primitives. Composite values render as compact JSON. This is the
// representation used for taint matching.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	default:
		data, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("[%s]", v.kind)
		}
		return string(data)
	}
}

// Display returns String() truncated to max bytes for log output.
func (v Value) Display(max int) string {
	return Truncate(v.String(), max)
}

// Equal reports deep equality. Object key order is significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

// Truncate shortens s to at most max bytes, appending an ellipsis marker.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	case n == math.Trunc(n) && math.Abs(n) < 1e21:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return strings.TrimSuffix(strconv.FormatFloat(n, 'g', -1, 64), ".0")
	}
}
