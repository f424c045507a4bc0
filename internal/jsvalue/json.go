package jsvalue

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON encodes the value. Undefined encodes as null, as do
// non-finite numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	v.write(stream)
	if stream.Error != nil {
		return nil, stream.Error
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

func (v Value) write(stream *jsoniter.Stream) {
	switch v.kind {
	case KindUndefined, KindNull:
		stream.WriteNil()
	case KindBool:
		stream.WriteBool(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			stream.WriteNil()
			return
		}
		stream.WriteFloat64(v.n)
	case KindString:
		stream.WriteString(v.s)
	case KindArray:
		stream.WriteArrayStart()
		for i, item := range v.arr {
			if i > 0 {
				stream.WriteMore()
			}
			item.write(stream)
		}
		stream.WriteArrayEnd()
	case KindObject:
		stream.WriteObjectStart()
		if v.obj != nil {
			for i, k := range v.obj.keys {
				if i > 0 {
					stream.WriteMore()
				}
				stream.WriteObjectField(k)
				v.obj.values[k].write(stream)
			}
		}
		stream.WriteObjectEnd()
	}
}

// UnmarshalJSON decodes any JSON document, preserving object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	parsed, err := read(iter, 0)
	if err != nil {
		return err
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return iter.Error
	}
	*v = parsed
	return nil
}

// maxDepth bounds decoder recursion on hostile input.
const maxDepth = 512

func read(iter *jsoniter.Iterator, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("jsvalue: nesting exceeds %d", maxDepth)
	}
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return Null(), nil
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool()), iter.Error
	case jsoniter.NumberValue:
		return Number(iter.ReadFloat64()), iter.Error
	case jsoniter.StringValue:
		return String(iter.ReadString()), iter.Error
	case jsoniter.ArrayValue:
		var items []Value
		var inner error
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			item, err := read(it, depth+1)
			if err != nil {
				inner = err
				return false
			}
			items = append(items, item)
			return true
		})
		if inner != nil {
			return Value{}, inner
		}
		return Value{kind: KindArray, arr: items}, iter.Error
	case jsoniter.ObjectValue:
		m := NewMap()
		var inner error
		iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
			item, err := read(it, depth+1)
			if err != nil {
				inner = err
				return false
			}
			m.Set(field, item)
			return true
		})
		if inner != nil {
			return Value{}, inner
		}
		return Object(m), iter.Error
	default:
		if iter.Error != nil {
			return Value{}, iter.Error
		}
		return Value{}, errors.New("jsvalue: invalid JSON value")
	}
}

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	err := v.UnmarshalJSON(data)
	return v, err
}

// Export converts the value into plain Go types suitable for generic
// encoders (nil, bool, float64, string, []interface{}, map[string]interface{}).
func (v Value) Export() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Export()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, v.obj.Len())
		for _, k := range v.obj.Keys() {
			out[k] = v.obj.values[k].Export()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	return Object(m).MarshalJSON()
}

// UnmarshalJSON decodes a JSON object into the map.
func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	if v.kind == KindNull {
		*m = *NewMap()
		return nil
	}
	if v.kind != KindObject {
		return fmt.Errorf("jsvalue: expected object, got %s", v.kind)
	}
	*m = *v.obj
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fmtAny(x interface{}) string {
	return fmt.Sprintf("%v", x)
}
