package results

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/results/providers"
)

// Test Helpers and Fixtures

func newTestContext(t *testing.T) *core.AnalyzerContext {
	t.Helper()
	cfg := config.NewDefaultConfig()
	return core.NewAnalyzerContext("task-1", zaptest.NewLogger(t), cfg.Browser(), core.Options{
		CallLimit: cfg.Sandbox().CallLimit,
	})
}

func TestDedupDetections(t *testing.T) {
	t.Run("should merge disjoint features and keep the max severity", func(t *testing.T) {
		a := schemas.NewDetection("eval_call_detected", 6, "first").WithFeature("x", 1)
		b := schemas.NewDetection("eval_call_detected", 10, "second").WithFeature("y", 2)

		out := DedupDetections([]schemas.Detection{a, b})
		require.Len(t, out, 1)
		assert.Equal(t, 10, out[0].Severity)
		assert.Equal(t, "second", out[0].Reason)
		assert.Equal(t, map[string]interface{}{"x": 1, "y": 2}, out[0].Features)
	})

	t.Run("should keep distinct name and code pairs apart", func(t *testing.T) {
		a := schemas.NewDetection("url_in_string", 2, "a")
		b := schemas.NewDetection("iife_wrapper", 3, "b")
		c := a
		c.Name = "JSScanner.OTHER"

		out := DedupDetections([]schemas.Detection{a, b, c, a})
		require.Len(t, out, 3)
		assert.Equal(t, []string{"url_in_string", "iife_wrapper", "url_in_string"},
			[]string{out[0].Code, out[1].Code, out[2].Code}, "first-seen order")
	})

	t.Run("should let the stronger occurrence win a feature collision", func(t *testing.T) {
		weak := schemas.NewDetection("c", 3, "weak").WithFeature("k", "weak").WithSnippet("weak snippet")
		strong := schemas.NewDetection("c", 7, "strong").WithFeature("k", "strong")

		out := DedupDetections([]schemas.Detection{weak, strong})
		require.Len(t, out, 1)
		assert.Equal(t, "strong", out[0].Features["k"])
		assert.Equal(t, "weak snippet", out[0].Snippet, "snippet falls back to the weaker occurrence")
	})

	t.Run("should not alias the input feature maps", func(t *testing.T) {
		a := schemas.NewDetection("c", 3, "a").WithFeature("k", 1)
		b := schemas.NewDetection("c", 3, "b").WithFeature("j", 2)
		DedupDetections([]schemas.Detection{a, b})
		assert.Len(t, a.Features, 1)
	})
}

func TestEnricher(t *testing.T) {
	e := NewEnricher(providers.NewInMemoryCWEProvider(), zap.NewNop())

	t.Run("should attach the CWE for a known code", func(t *testing.T) {
		d := schemas.NewDetection("eval_call_detected", 10, "eval")
		e.EnrichDetection(&d)
		assert.Equal(t, "CWE-95", d.Features["cwe"])
		assert.Contains(t, d.Features["cwe_name"], "Eval Injection")
	})

	t.Run("should leave unknown codes alone", func(t *testing.T) {
		d := schemas.NewDetection("iife_wrapper", 3, "iife")
		e.EnrichDetection(&d)
		assert.Nil(t, d.Features)
	})

	t.Run("should not override an explicit CWE", func(t *testing.T) {
		d := schemas.NewDetection("eval_call_detected", 10, "eval").WithFeature("cwe", "CWE-1")
		e.EnrichDetection(&d)
		assert.Equal(t, "CWE-1", d.Features["cwe"])
	})

	t.Run("should tolerate a missing provider", func(t *testing.T) {
		d := schemas.NewDetection("eval_call_detected", 10, "eval")
		NewEnricher(nil, nil).EnrichDetection(&d)
		assert.Nil(t, d.Features)
	})
}

func TestPipeline_Assemble(t *testing.T) {
	t.Run("should dedup, sort and grade the findings", func(t *testing.T) {
		ac := newTestContext(t)
		ac.AddFinding(schemas.NewDetection("url_in_string", 2, "url"))
		ac.AddFinding(schemas.NewDetection("eval_call_detected", 10, "eval").WithFeature("count", 1))
		ac.AddFinding(schemas.NewDetection("eval_call_detected", 10, "eval").WithFeature("count", 2))
		ac.URLs.Add("https://evil.example/payload.exe", "fetch")

		report := NewPipeline(zaptest.NewLogger(t)).Assemble(ac, Meta{
			ScanID:   "scan-1",
			Target:   "sample.html",
			Files:    []string{"sample.html"},
			Version:  "test",
			Duration: 1500 * time.Millisecond,
			Blocks:   2,
			Outcomes: map[string]int{"completed": 2},
		})

		assert.Equal(t, "task-1", report.TaskID)
		assert.Equal(t, schemas.VerdictMalicious, report.Verdict)
		assert.Equal(t, 10, report.MaxSeverity)
		assert.Equal(t, map[string]int{"total": 2, "critical": 1, "info": 1}, report.Summary)
		assert.Equal(t, int64(1500), report.Execution.DurationMS)
		assert.Equal(t, RulesVersion, report.Rules)

		got := make([]string, 0, len(report.Detections))
		for _, d := range report.Detections {
			got = append(got, d.Code)
		}
		if diff := cmp.Diff([]string{"eval_call_detected", "url_in_string"}, got); diff != "" {
			t.Errorf("detection order mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "CWE-95", report.Detections[0].Features["cwe"])

		require.Len(t, report.URLMetadata, 1)
		assert.Equal(t, "exe", report.URLMetadata[0].Extension)
		assert.True(t, report.URLMetadata[0].SuspiciousExtension)
	})

	t.Run("should report a clean sample", func(t *testing.T) {
		report := NewPipeline(nil).Assemble(newTestContext(t), Meta{Target: "clean.js"})
		assert.Equal(t, schemas.VerdictClean, report.Verdict)
		assert.Empty(t, report.Detections)
		assert.NotNil(t, report.Detections)
		assert.Equal(t, 0, report.Summary["total"])
	})

	t.Run("should produce a report without a context", func(t *testing.T) {
		report := NewPipeline(nil).Assemble(nil, Meta{Target: "unreadable.js", Skipped: []string{"unreadable.js"}})
		assert.Equal(t, schemas.VerdictClean, report.Verdict)
		assert.Equal(t, []string{"unreadable.js"}, report.Skipped)
	})

	t.Run("should surface runtime corruption", func(t *testing.T) {
		ac := newTestContext(t)
		ac.MarkCorrupted("engine panic: boom")
		report := NewPipeline(nil).Assemble(ac, Meta{})
		assert.True(t, report.RuntimeCorrupted)
		assert.Equal(t, "engine panic: boom", report.CorruptionReason)
	})
}

func TestVerdictBands(t *testing.T) {
	cases := map[int]schemas.Verdict{
		0: schemas.VerdictClean, 2: schemas.VerdictClean,
		3: schemas.VerdictLow, 4: schemas.VerdictLow,
		5: schemas.VerdictSuspicious, 7: schemas.VerdictSuspicious,
		8: schemas.VerdictMalicious, 10: schemas.VerdictMalicious,
	}
	for sev, want := range cases {
		ac := newTestContext(t)
		ac.AddFinding(schemas.NewDetection("probe", sev, "probe"))
		report := NewPipeline(nil).Assemble(ac, Meta{})
		assert.Equal(t, want, report.Verdict, "severity %d", sev)
	}
}

func TestParseReport(t *testing.T) {
	ac := newTestContext(t)
	ac.AddFinding(schemas.NewDetection("eval_call_detected", 10, "eval"))
	report := NewPipeline(nil).Assemble(ac, Meta{Target: "a.js"})

	data, err := report.ToJSON()
	require.NoError(t, err)
	decoded, err := ParseReport(data)
	require.NoError(t, err)
	assert.Equal(t, report.Verdict, decoded.Verdict)
	require.Len(t, decoded.Detections, 1)
	assert.Equal(t, "CWE-95", decoded.Detections[0].Features["cwe"])

	_, err = ParseReport([]byte("{"))
	assert.Error(t, err)
}
