package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/collector"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/mocks"
	"github.com/xkilldash9x/jsbox/internal/results"
)

func TestWatcher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	worker := new(mocks.MockWorker)
	worker.On("ProcessTask", mock.Anything, mock.Anything).
		Return(func(_ context.Context, task schemas.Task) *results.Report {
			return reportFor(task, schemas.VerdictClean)
		}, nil)

	seen := make(chan string, 64)
	handler := func(task schemas.Task, _ *results.Report) {
		select {
		case seen <- task.Target:
		default:
		}
	}

	e, err := New(newMockConfig(2, time.Second), zaptest.NewLogger(t), worker, WithReportHandler(handler))
	require.NoError(t, err)
	filter := collector.New(config.NewDefaultConfig().Collector(), nil)
	w := NewWatcher(e, filter, zaptest.NewLogger(t), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, root) }()

	waitFor := func(t *testing.T, path string, touch func()) {
		t.Helper()
		require.Eventually(t, func() bool {
			touch()
			for {
				select {
				case got := <-seen:
					if got == path {
						return true
					}
				default:
					return false
				}
			}
		}, 5*time.Second, 50*time.Millisecond)
	}

	t.Run("should analyse a new sample", func(t *testing.T) {
		sample := filepath.Join(root, "dropper.js")
		waitFor(t, sample, func() {
			require.NoError(t, os.WriteFile(sample, []byte("eval('1')"), 0o644))
		})
	})

	t.Run("should follow new subdirectories", func(t *testing.T) {
		sub := filepath.Join(root, "nested")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		sample := filepath.Join(sub, "inner.js")
		waitFor(t, sample, func() {
			require.NoError(t, os.WriteFile(sample, []byte("var a = 1;"), 0o644))
		})
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	for _, call := range worker.Calls {
		task := call.Arguments.Get(1).(schemas.Task)
		assert.False(t, strings.HasSuffix(task.Target, ReportSuffix))
		assert.Equal(t, schemas.TaskAnalyzeFile, task.Type)
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	e, err := New(newMockConfig(1, time.Second), zap.NewNop(), new(mocks.MockWorker))
	require.NoError(t, err)
	w := NewWatcher(e, collector.New(config.NewDefaultConfig().Collector(), nil), nil, 0)
	assert.Equal(t, DefaultDebounce, w.debounce)

	err = w.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestReportFileWriter(t *testing.T) {
	target := filepath.Join(t.TempDir(), "sample.js")
	task := newTask("t1")
	task.Target = target

	ReportFileWriter(nil)(task, reportFor(task, schemas.VerdictMalicious))

	data, err := os.ReadFile(target + ReportSuffix)
	require.NoError(t, err)
	report, err := results.ParseReport(data)
	require.NoError(t, err)
	assert.Equal(t, schemas.VerdictMalicious, report.Verdict)
	assert.Equal(t, target, report.Target)
}
