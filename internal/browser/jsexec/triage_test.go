package jsexec_test

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/jsbox/internal/analysis/static"
	"github.com/xkilldash9x/jsbox/internal/browser/jsexec"
	"github.com/xkilldash9x/jsbox/internal/config"
)

func defaultThresholds() jsexec.Thresholds {
	return jsexec.ThresholdsFrom(config.NewDefaultConfig().Sandbox())
}

func TestTriage(t *testing.T) {
	th := defaultThresholds()

	tests := []struct {
		name  string
		code  string
		depth int
		path  jsexec.Path
		want  string
	}{
		{"plain script runs", `var a = 1; document.title = "x";`, 0, jsexec.PathDynamic, ""},
		{"recursion ceiling aborts", `var a = 1;`, 3, jsexec.PathAbort, jsexec.CodeRecursionLimit},
		{"library banner", "/*! jQuery v3.7.1 | (c) OpenJS Foundation */\n(function(){})();", 0, jsexec.PathStatic, jsexec.CodeKnownLibrary},
		{"webpack chunk", `(self.webpackChunkapp = self.webpackChunkapp || []).push([[1], {}]);`, 0, jsexec.PathStatic, jsexec.CodeKnownLibrary},
		{"oversized", "var a = 1;\n" + strings.Repeat("x = 1;\n", 8000), 0, jsexec.PathStatic, jsexec.CodeLargeCode},
		{"with statement", `with (document) { write("x"); }`, 0, jsexec.PathStatic, jsexec.CodeDangerousMarker},
		{"proto access", `var o = {}; o.__proto__.polluted = 1;`, 0, jsexec.PathStatic, jsexec.CodeDangerousMarker},
		{"eval storm", strings.Repeat(`eval("1");`, 21), 0, jsexec.PathStatic, jsexec.CodeDangerousMarker},
		{"eval at the limit", strings.Repeat(`eval("1");`, 20), 0, jsexec.PathDynamic, ""},
		{"proxy storm", strings.Repeat(`new Proxy({}, {});`, 6), 0, jsexec.PathStatic, jsexec.CodeDangerousMarker},
		{"deep nesting", strings.Repeat("(", 301) + strings.Repeat(")", 301), 0, jsexec.PathStatic, jsexec.CodeComplexCode},
		{"many functions", strings.Repeat("function f(){}", 501), 0, jsexec.PathStatic, jsexec.CodeComplexCode},
		{"many arrays", strings.Repeat("x=[];", 1001), 0, jsexec.PathStatic, jsexec.CodeComplexCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := jsexec.Triage(tt.code, tt.depth, th)
			assert.Equal(t, tt.path, d.Path)
			assert.Equal(t, tt.want, d.Code)
		})
	}
}

func TestTriage_GateOrder(t *testing.T) {
	th := defaultThresholds()

	t.Run("should check recursion before anything else", func(t *testing.T) {
		d := jsexec.Triage("/*! jQuery v3.7.1 */ with(x){}", 5, th)
		assert.Equal(t, jsexec.CodeRecursionLimit, d.Code)
	})

	t.Run("should only look for banners in the scan window", func(t *testing.T) {
		code := strings.Repeat(" ", 2100) + "/*! jQuery v3.7.1 */ var a = 1;"
		d := jsexec.Triage(code, 0, th)
		assert.Equal(t, jsexec.PathDynamic, d.Path)
	})

	t.Run("should name every dangerous trigger", func(t *testing.T) {
		d := jsexec.Triage(`with(a){} b.__proto__ = c; __webpack_require__(1);`, 0, th)
		require.Equal(t, jsexec.CodeDangerousMarker, d.Code)
		assert.Equal(t, []string{"with_statement", "__proto__", "webpack_internals"}, d.Triggers)
	})

	t.Run("should render a finding with the snippet", func(t *testing.T) {
		code := `with (document) { write("x"); }`
		det := jsexec.Triage(code, 0, th).Detection(code)
		assert.Equal(t, "JSScanner.DANGEROUS_PATTERN_STATIC_ONLY", det.Name)
		assert.Equal(t, code, det.Snippet)
		assert.Equal(t, len(code), det.Features["size"])
	})
}

func TestTriage_Idempotent(t *testing.T) {
	th := defaultThresholds()
	inputs := []string{
		"",
		`var a = 1;`,
		strings.Repeat("[", 400),
		"/*! Bootstrap v5.3.0 */",
		strings.Repeat(`eval("x");`, 30),
	}
	for _, in := range inputs {
		for depth := 0; depth < 4; depth++ {
			assert.Equal(t, jsexec.Triage(in, depth, th), jsexec.Triage(in, depth, th))
		}
	}
}

func TestMeasure(t *testing.T) {
	t.Run("should ignore brackets inside strings and comments", func(t *testing.T) {
		m := jsexec.Measure(`var s = "((((["; // [[[[
		/* {{{{ */ var a = [1, [2]];`)
		assert.Equal(t, 2, m.Nesting)
		assert.Equal(t, 2, m.ArrayLiterals)
	})

	t.Run("should not count index expressions as literals", func(t *testing.T) {
		m := jsexec.Measure(`a[0] = b[1] + c()[2];`)
		assert.Zero(t, m.ArrayLiterals)
	})

	t.Run("should count function keywords", func(t *testing.T) {
		m := jsexec.Measure(`function a() {} var b = function () {}; var functional = 1;`)
		assert.Equal(t, 2, m.Functions)
	})

	t.Run("should survive an unterminated comment", func(t *testing.T) {
		m := jsexec.Measure(`({ /* never closed`)
		assert.Equal(t, 2, m.Nesting)
	})
}

func FuzzTriageAndStatic(f *testing.F) {
	f.Add([]byte(`var a = "powershell -enc SQBFAFgAUABvAHcA"; eval(a);`))
	f.Add([]byte("with(x){`unterminated"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		code, err := c.GetString()
		if err != nil {
			return
		}
		depth, err := c.GetInt()
		if err != nil {
			depth = 0
		}
		depth %= 5
		if depth < 0 {
			depth = -depth
		}

		th := defaultThresholds()
		first := jsexec.Triage(code, depth, th)
		assert.Equal(t, first, jsexec.Triage(code, depth, th))
		static.Analyze(code)
	})
}
