// internal/worker/worker_test.go
package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/cache"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/observability"
	"github.com/xkilldash9x/jsbox/internal/worker"
)

const samplePage = `<html><head><title>t</title></head><body>
<a href="https://evil.example/payload.exe">download</a>
<script src="https://cdn.example/lib.js"></script>
<script>var greeting = "hello";</script>
</body></html>`

func newTestWorker(t *testing.T, opts ...worker.Option) *worker.Worker {
	t.Helper()
	w, err := worker.New(config.NewDefaultConfig(), zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return w
}

func detectionCodes(ds []schemas.Detection) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Code)
	}
	return out
}

func TestProcessTask_Script(t *testing.T) {
	w := newTestWorker(t, worker.WithVersion("test"))

	report, err := w.ProcessTask(context.Background(), schemas.Task{
		TaskID:  "task-1",
		ScanID:  "scan-1",
		Type:    schemas.TaskAnalyzeScript,
		Target:  "snippet.js",
		Content: `var x = eval("1 + 1");`,
	})
	require.NoError(t, err)

	assert.Equal(t, "task-1", report.TaskID)
	assert.Equal(t, "scan-1", report.ScanID)
	assert.Equal(t, "test", report.Version)
	assert.Equal(t, schemas.VerdictMalicious, report.Verdict)
	assert.Contains(t, detectionCodes(report.Detections), "eval_call_detected")
	assert.Equal(t, 1, report.Execution.Blocks)
	assert.Equal(t, map[string]int{"completed": 1}, report.Execution.Outcomes)
	assert.Equal(t, map[string]int{"dynamic": 1}, report.Execution.Triage)
	assert.False(t, report.Cached)
}

func TestProcessTask_Directory(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(page, []byte(samplePage), 0o644))
	bundle := filepath.Join(dir, "app.bundle.js")
	require.NoError(t, os.WriteFile(bundle, []byte("eval('x')"), 0o644))

	w := newTestWorker(t)
	report, err := w.ProcessTask(context.Background(), schemas.Task{
		TaskID: "task-2",
		Type:   schemas.TaskAnalyzeDirectory,
		Target: dir,
	})
	require.NoError(t, err)

	t.Run("should analyse collected documents", func(t *testing.T) {
		assert.Equal(t, []string{page}, report.Files)
		assert.Equal(t, 1, report.Execution.Blocks)
	})

	t.Run("should report refused files", func(t *testing.T) {
		assert.Equal(t, []string{bundle}, report.Skipped)
	})

	t.Run("should collect attribute and script source urls", func(t *testing.T) {
		assert.Contains(t, report.URLs, "https://evil.example/payload.exe")
		assert.Contains(t, report.URLs, "https://cdn.example/lib.js")
		sources := make(map[string]string)
		for _, r := range report.URLMetadata {
			sources[r.URL] = r.Source
		}
		assert.Equal(t, "attribute", sources["https://evil.example/payload.exe"])
		assert.Equal(t, "script_src", sources["https://cdn.example/lib.js"])
	})
}

func TestProcessTask_EmptyDirectory(t *testing.T) {
	report, err := newTestWorker(t).ProcessTask(context.Background(), schemas.Task{
		Type:   schemas.TaskAnalyzeDirectory,
		Target: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.VerdictClean, report.Verdict)
	assert.Empty(t, report.Files)
}

func TestProcessTask_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestWorker(t).ProcessTask(ctx, schemas.Task{
		Type:    schemas.TaskAnalyzeScript,
		Content: `var u = "https://evil.example/drop.exe";`,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"governor_skip": 1}, report.Execution.Outcomes)
	assert.Contains(t, report.URLs, "https://evil.example/drop.exe", "static fallback still runs")
}

func TestProcessTask_Cache(t *testing.T) {
	store, err := cache.Open(config.CacheConfig{Enabled: true, InMemory: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	metrics := observability.NewMetrics()

	w := newTestWorker(t, worker.WithCache(store), worker.WithMetrics(metrics))
	task := schemas.Task{Type: schemas.TaskAnalyzeScript, Content: `eval("2")`}

	task.TaskID = "first"
	first, err := w.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	task.TaskID = "second"
	second, err := w.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "second", second.TaskID)
	assert.Equal(t, first.Verdict, second.Verdict)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues(string(schemas.VerdictMalicious))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Outcomes.WithLabelValues("completed")))
}

func TestProcessTask_UnknownType(t *testing.T) {
	w := newTestWorker(t, worker.WithSources(map[schemas.TaskType]worker.SampleSource{}))
	_, err := w.ProcessTask(context.Background(), schemas.Task{Type: "NON_EXISTENT_TASK"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sample source registered for task type 'NON_EXISTENT_TASK'")
}

func TestProcessTask_SourceFailurePropagation(t *testing.T) {
	expected := errors.New("disk on fire")
	w := newTestWorker(t, worker.WithSources(map[schemas.TaskType]worker.SampleSource{
		schemas.TaskAnalyzeFile: func(context.Context, schemas.Task) ([]worker.Sample, []string, error) {
			return nil, nil, expected
		},
	}))
	_, err := w.ProcessTask(context.Background(), schemas.Task{TaskID: "t", Type: schemas.TaskAnalyzeFile})
	require.Error(t, err)
	assert.ErrorIs(t, err, expected)
}

func TestNew(t *testing.T) {
	_, err := worker.New(nil, nil)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		path string
		data string
		want worker.Kind
	}{
		{"a.js", "var a;", worker.KindScript},
		{"a.HTML", "", worker.KindDocument},
		{"a.hta", "", worker.KindDocument},
		{"a.svg", "<svg/>", worker.KindDocument},
		{"a.html.br", "", worker.KindDocument},
		{"a.js.br", "", worker.KindScript},
		{"note.txt", "<!DOCTYPE html><html></html>", worker.KindDocument},
		{"note.txt", "alert(1)", worker.KindScript},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, worker.KindOf(tc.path, []byte(tc.data)))
		})
	}
}
