package jsvalue_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

func TestValue_String(t *testing.T) {
	tests := []struct {
		name string
		in   jsvalue.Value
		want string
	}{
		{"undefined", jsvalue.Undefined(), "undefined"},
		{"null", jsvalue.Null(), "null"},
		{"bool", jsvalue.Bool(true), "true"},
		{"integral number", jsvalue.Number(42), "42"},
		{"fraction", jsvalue.Number(1.5), "1.5"},
		{"nan", jsvalue.Number(math.NaN()), "NaN"},
		{"string", jsvalue.String("abc"), "abc"},
		{"array", jsvalue.Array(jsvalue.Int(1), jsvalue.String("x")), `[1,"x"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.String())
		})
	}
}

func TestValue_JSONPreservesKeyOrder(t *testing.T) {
	m := jsvalue.NewMap().
		Set("zeta", jsvalue.Int(1)).
		Set("alpha", jsvalue.Array(jsvalue.Bool(false), jsvalue.Null())).
		Set("mid", jsvalue.Object(jsvalue.NewMap().Set("k", jsvalue.String("v"))))
	original := jsvalue.Object(m)

	data, err := original.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":[false,null],"mid":{"k":"v"}}`, string(data))

	decoded, err := jsvalue.Parse(data)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded), "decoded value should equal the original")
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, decoded.Map().Keys())
}

func TestValue_UndefinedEncodesAsNull(t *testing.T) {
	data, err := jsvalue.Undefined().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	data, err = jsvalue.Number(math.Inf(1)).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestParse_RejectsGarbage(t *testing.T) {
	_, err := jsvalue.Parse([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestDisplay_Truncates(t *testing.T) {
	v := jsvalue.String("abcdefghij")
	assert.Equal(t, "abcd...", v.Display(4))
	assert.Equal(t, "abcdefghij", v.Display(0))
}

func TestFrom(t *testing.T) {
	v := jsvalue.From(map[string]interface{}{"b": 2, "a": []interface{}{"x", true}})
	require.True(t, v.IsObject())
	assert.Equal(t, []string{"a", "b"}, v.Map().Keys(), "plain maps are imported in sorted key order")
	assert.Equal(t, float64(2), v.Get("b").AsNumber())
	assert.Equal(t, "x", v.Get("a").Index(0).AsString())

	m := jsvalue.MapOf("sensitive", true, "count", 3)
	assert.True(t, m.Has("sensitive"))
	got, _ := m.Get("count")
	assert.Equal(t, float64(3), got.AsNumber())
}

func TestExport(t *testing.T) {
	v := jsvalue.Object(jsvalue.MapOf("n", 1, "s", "x", "l", []string{"a"}))
	exported, ok := v.Export().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), exported["n"])
	assert.Equal(t, "x", exported["s"])
	assert.Equal(t, []interface{}{"a"}, exported["l"])
}
