package jsvalue

// Map is an insertion-ordered string keyed map of Values.
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// MapOf builds a Map from alternating key/value pairs.
func MapOf(pairs ...interface{}) *Map {
	m := NewMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		m.Set(key, From(pairs[i+1]))
	}
	return m
}

// Set inserts or replaces a key. Replacing keeps the original position.
func (m *Map) Set(key string, v Value) *Map {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
	return m
}

// Get returns the value for key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Undefined(), false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Equal compares two maps including key order.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k {
			return false
		}
		if !m.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

// From converts plain Go values into a Value. Unsupported types become
// their fmt representation as a string.
func From(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []string:
		return Strings(t...)
	case []Value:
		return Array(t...)
	case *Map:
		return Object(t)
	case map[string]interface{}:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			m.Set(k, From(t[k]))
		}
		return Object(m)
	case []interface{}:
		arr := make([]Value, len(t))
		for i, item := range t {
			arr[i] = From(item)
		}
		return Value{kind: KindArray, arr: arr}
	default:
		return String(fmtAny(t))
	}
}
