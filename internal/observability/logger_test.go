// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/jsbox/internal/config"
)

// syncBuffer is a goroutine-safe WriteSyncer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func initForTest(t *testing.T, cfg config.LoggerConfig) *syncBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	buf := &syncBuffer{}
	Initialize(cfg, buf)
	return buf
}

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "jsbox",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("jsexec").Info("Script completed.")

		out := buf.String()
		assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "jsbox.jsexec.")
		assert.Contains(t, out, "Script completed.")
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "jsbox"})
		GetLogger().Warn("Triage skipped dynamic execution.", zap.String("code", "large_code_static_only"))

		var entry map[string]interface{}
		require.NoError(t, jsoniter.Unmarshal([]byte(buf.String()), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "jsbox", entry["logger"])
		assert.Equal(t, "large_code_static_only", entry["code"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "loud", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should write to a rotated log file if configured", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jsbox.log")
		initForTest(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		GetLogger().Error("Engine fatal.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"Engine fatal."`)
	})

	t.Run("should only initialize once", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, first, GetLogger())

		GetLogger().Info("test")
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})
}

func TestTaskLogger(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "info", Format: "json"})
	TaskLogger(GetLogger(), "scan-1", "task-1").Info("Task started.")
	assert.Contains(t, buf.String(), `"scan_id":"scan-1"`)
	assert.Contains(t, buf.String(), `"task_id":"task-1"`)
}
