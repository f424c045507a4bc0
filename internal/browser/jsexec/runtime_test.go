package jsexec_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/browser/jsexec"
	"github.com/xkilldash9x/jsbox/internal/browser/parser"
	"github.com/xkilldash9x/jsbox/internal/config"
)

type testGovernor struct {
	*jsexec.Governor
	AC   *core.AnalyzerContext
	Logs *observer.ObservedLogs
}

// newTestGovernor is a helper to set up a governor over a fresh task for
// each test.
func newTestGovernor(t *testing.T, cfg *config.Config, opts ...jsexec.Option) *testGovernor {
	t.Helper()
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(obs)

	sb := cfg.Sandbox()
	ac := core.NewAnalyzerContext("test-task", logger, cfg.Browser(), core.Options{
		CallLimit:         sb.CallLimit,
		ReentrancyCeiling: sb.ReentrancyCeiling,
		Tags:              parser.NewTagExtractor(),
	})
	g, err := jsexec.NewGovernor(ac, sb, logger, opts...)
	require.NoError(t, err)
	return &testGovernor{Governor: g, AC: ac, Logs: logs}
}

func (tg *testGovernor) findings(code string) []schemas.Detection {
	var out []schemas.Detection
	for _, d := range tg.AC.Findings() {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

func (tg *testGovernor) global(name string) goja.Value {
	return tg.Sandbox().VM().Get(name)
}

func TestRun_Completed(t *testing.T) {
	tg := newTestGovernor(t, nil)
	res := tg.Run(context.Background(), `document.cookie = "sessionid=abc123"; var answer = 6 * 7;`)

	assert.Equal(t, jsexec.Completed, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, jsexec.PathDynamic, res.Decision.Path)
	assert.Len(t, tg.AC.Dynamic.EventsNamed("document.cookie.write"), 1)
	assert.Equal(t, int64(42), tg.global("answer").ToInteger())
	assert.Zero(t, tg.AC.Exec.Depth())
}

func TestRun_LargeCodeGoesStatic(t *testing.T) {
	tg := newTestGovernor(t, nil)
	code := "var shell = new ActiveXObject('WScript.Shell'); CreateObject('x');\n" + strings.Repeat("var x = 1;\n", 6000)
	require.Greater(t, len(code), 50*1024)

	res := tg.Run(context.Background(), code)

	assert.Equal(t, jsexec.GovernorSkip, res.Outcome)
	assert.Equal(t, jsexec.CodeLargeCode, res.Decision.Code)
	assert.Len(t, tg.findings(jsexec.CodeLargeCode), 1)
	assert.NotEmpty(t, tg.findings("static_windows_script_host"))
	assert.Zero(t, tg.AC.Dynamic.Len(), "the engine never ran")
}

func TestRun_ScriptException(t *testing.T) {
	t.Run("should record the error and keep static coverage", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `var c = "powershell -enc SQBFAFgAUABvAHcA"; throw new Error("boom");`)

		assert.Equal(t, jsexec.ScriptException, res.Outcome)
		assert.Error(t, res.Err)
		require.Len(t, tg.findings(jsexec.CodeScriptError), 1)
		assert.Contains(t, tg.findings(jsexec.CodeScriptError)[0].Reason, "boom")
		assert.NotEmpty(t, tg.findings("static_malicious_command"))
	})

	t.Run("should leave the engine usable", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `throw 1;`)
		require.Equal(t, jsexec.ScriptException, res.Outcome)
		assert.False(t, tg.AC.RuntimeCorrupted())

		res = tg.Run(context.Background(), `var after = "ok"; document.cookie = "after=1";`)
		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Equal(t, jsexec.PathDynamic, res.Decision.Path, "later blocks still run in the engine")
		assert.Equal(t, "ok", tg.global("after").String())
		assert.Len(t, tg.AC.Dynamic.EventsNamed("document.cookie.write"), 1)
		assert.Empty(t, tg.findings(jsexec.CodeCorruptedStatic))
	})

	t.Run("should keep running past calls into unknown libraries", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `fbq('init', '123'); _paq.push(['trackPageView']); document.cookie = "sessionid=abc123";`)

		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Len(t, tg.AC.Dynamic.EventsNamed("document.cookie.write"), 1)
		assert.Subset(t, tg.Sandbox().Fallbacks(), []string{"fbq", "_paq"})
	})

	t.Run("should re-run a block after reading an unknown global", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `var settings = trackerConfig; document.cookie = "token=1";`)

		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Len(t, tg.AC.Dynamic.EventsNamed("document.cookie.write"), 1)
		assert.Contains(t, tg.Sandbox().Fallbacks(), "trackerConfig")
		assert.NotEmpty(t, tg.Logs.FilterMessage("Re-running block with a fallback global.").All())
		assert.Empty(t, tg.findings(jsexec.CodeScriptError))
	})
}

func TestRun_Timeout(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetSandboxExecutionTimeout(100 * time.Millisecond)
	tg := newTestGovernor(t, cfg)

	res := tg.Run(context.Background(), `for (;;) {}`)
	assert.Equal(t, jsexec.ScriptException, res.Outcome)
	assert.Equal(t, "timeout", res.Reason)
	assert.Len(t, tg.findings(jsexec.CodeScriptTimeout), 1)
	assert.NotEmpty(t, tg.Logs.FilterMessage("Script execution timed out.").All())

	res = tg.Run(context.Background(), `var recovered = true;`)
	assert.Equal(t, jsexec.Completed, res.Outcome, "the interrupt is cleared between blocks")
}

func TestRun_TimeoutBoundsNestedStages(t *testing.T) {
	runWithin := func(t *testing.T, tg *testGovernor, code string, limit time.Duration) jsexec.Result {
		t.Helper()
		done := make(chan jsexec.Result, 1)
		go func() { done <- tg.Run(context.Background(), code) }()
		select {
		case res := <-done:
			return res
		case <-time.After(limit):
			t.Fatalf("Run still executing %s after a short timeout", limit)
			return jsexec.Result{}
		}
	}

	t.Run("should not start re-submitted stages after the deadline", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.SetSandboxExecutionTimeout(200 * time.Millisecond)
		tg := newTestGovernor(t, cfg)

		res := runWithin(t, tg, `var stage = "document.title = 'x'; while (true) {}"; while (true) {}`, 5*time.Second)
		assert.Equal(t, jsexec.ScriptException, res.Outcome)
		assert.Equal(t, "timeout", res.Reason)
		assert.Len(t, tg.findings(jsexec.CodeScriptTimeout), 1)
		require.Len(t, tg.findings(jsexec.CodeSuspiciousVariable), 1, "the stage is still classified")
	})

	t.Run("should interrupt a re-submitted stage that never ends", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.SetSandboxExecutionTimeout(200 * time.Millisecond)
		tg := newTestGovernor(t, cfg)

		res := runWithin(t, tg, `var stage = "document.title = 'x'; while (true) {}";`, 5*time.Second)
		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Len(t, tg.findings(jsexec.CodeScriptTimeout), 1)

		res = tg.Run(context.Background(), `var recovered = true;`)
		assert.Equal(t, jsexec.Completed, res.Outcome)
	})
}

func TestRun_Cancellation(t *testing.T) {
	t.Run("should interrupt a running block", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		res := tg.Run(ctx, `while (true) {}`)
		assert.Equal(t, jsexec.ScriptException, res.Outcome)
		assert.Equal(t, "cancelled", res.Reason)
		assert.Empty(t, tg.findings(jsexec.CodeScriptTimeout))
	})

	t.Run("should not start a block on a done context", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := tg.Run(ctx, `document.cookie = "a=1"`)
		assert.Equal(t, jsexec.GovernorSkip, res.Outcome)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Zero(t, tg.AC.Dynamic.Len())
	})
}

func TestRun_StackOverflow(t *testing.T) {
	tg := newTestGovernor(t, nil)
	res := tg.Run(context.Background(), `function f() { return f() + 1; } f();`)

	assert.Equal(t, jsexec.ScriptException, res.Outcome)
	assert.Len(t, tg.findings(jsexec.CodeStackOverflow), 1)
	assert.False(t, tg.AC.RuntimeCorrupted())
}

func TestRun_MemoryCeiling(t *testing.T) {
	tg := newTestGovernor(t, nil, jsexec.WithMemoryProbe(func() uint64 { return 200 << 20 }))
	res := tg.Run(context.Background(), `document.cookie = "a=1"`)

	assert.Equal(t, jsexec.GovernorSkip, res.Outcome)
	assert.Len(t, tg.findings(jsexec.CodeMemoryCeiling), 1)
	assert.Zero(t, tg.AC.Dynamic.Len())
	assert.False(t, tg.AC.RuntimeCorrupted())
}

func TestRun_EngineFatal(t *testing.T) {
	tg := newTestGovernor(t, nil)
	require.NoError(t, tg.Sandbox().VM().Set("explode", func(goja.FunctionCall) goja.Value {
		panic("kaboom")
	}))

	res := tg.Run(context.Background(), `explode();`)
	assert.Equal(t, jsexec.EngineFatal, res.Outcome)
	assert.ErrorIs(t, res.Err, jsexec.ErrRuntimeCorrupted)
	assert.True(t, tg.AC.RuntimeCorrupted())
	assert.Len(t, tg.findings(jsexec.CodeInternalError), 1)

	t.Run("should route later blocks to static analysis", func(t *testing.T) {
		res := tg.Run(context.Background(), `var s = "powershell -enc SQBFAFgAUABvAHcA"; document.cookie = "x=1";`)
		assert.Equal(t, jsexec.GovernorSkip, res.Outcome)
		assert.ErrorIs(t, res.Err, jsexec.ErrRuntimeCorrupted)
		assert.Empty(t, tg.AC.Dynamic.EventsNamed("document.cookie.write"))
		assert.NotEmpty(t, tg.findings("static_malicious_command"))
	})
}

func TestExecute_RecursionCeiling(t *testing.T) {
	t.Run("should abort without static fallback", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Execute(context.Background(), `CreateObject("WScript.Shell")`, 3)

		assert.Equal(t, jsexec.GovernorSkip, res.Outcome)
		assert.Equal(t, jsexec.PathAbort, res.Decision.Path)
		assert.Len(t, tg.findings(jsexec.CodeRecursionLimit), 1)
		assert.Empty(t, tg.findings("static_windows_script_host"))
	})

	t.Run("should bound self-resubmitting globals", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `var code = 'document.title = "a"; code = code + ";";';`)

		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Len(t, tg.findings(jsexec.CodeRecursionLimit), 1)
		assert.Equal(t, 3, len(tg.findings(jsexec.CodeSuspiciousVariable)))
		assert.Zero(t, tg.AC.Exec.Depth())
	})
}

func TestRun_MultiStage(t *testing.T) {
	t.Run("should execute decoded code left in a global", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		// document.cookie = "token=1";
		res := tg.Run(context.Background(), `var stage2 = atob("ZG9jdW1lbnQuY29va2llID0gInRva2VuPTEiOw==");`)

		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Len(t, tg.AC.Dynamic.EventsNamed("document.cookie.write"), 1)
		found := tg.findings(jsexec.CodeSuspiciousVariable)
		require.Len(t, found, 1)
		assert.Equal(t, "stage2", found[0].Features["variable"])
	})

	t.Run("should run scripts written into the document", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `document.write("<script>window.nested = 'loaded';<\/script>");`)

		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.Equal(t, "loaded", tg.global("nested").String())
	})

	t.Run("should drain deferred jobs after a top-level block", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		tg.Run(context.Background(), `var fired = false; setTimeout(function () { fired = true; }, 1000);`)
		assert.True(t, tg.global("fired").ToBoolean())
	})

	t.Run("should drain jobs queued by re-submitted stages", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		res := tg.Run(context.Background(), `var stage = "document.title = 'x'; setTimeout(function () { window.late = true; }, 10);";`)

		assert.Equal(t, jsexec.Completed, res.Outcome)
		assert.True(t, tg.global("late").ToBoolean())
		assert.Zero(t, tg.Sandbox().Jobs().Len())
	})

	t.Run("should report job exceptions without stopping the drain", func(t *testing.T) {
		tg := newTestGovernor(t, nil)
		tg.Run(context.Background(), `
			var second = false;
			setTimeout(function () { throw new Error("job failed"); }, 0);
			setTimeout(function () { second = true; }, 0);
		`)
		assert.True(t, tg.global("second").ToBoolean())
		assert.Len(t, tg.findings(jsexec.CodeJobError), 1)
	})
}

func TestLoadDocument(t *testing.T) {
	tg := newTestGovernor(t, nil)
	require.NoError(t, tg.LoadDocument(`<html><body><div id="target">x</div></body></html>`))

	res := tg.Run(context.Background(), `var text = document.getElementById("target").textContent;`)
	assert.Equal(t, jsexec.Completed, res.Outcome)
	assert.Equal(t, "x", tg.global("text").String())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", jsexec.Completed.String())
	assert.Equal(t, "script_exception", jsexec.ScriptException.String())
	assert.Equal(t, "governor_skip", jsexec.GovernorSkip.String())
	assert.Equal(t, "engine_fatal", jsexec.EngineFatal.String())
}
