package collector

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jsbox/internal/config"
)

func defaultCollectorConfig() config.CollectorConfig {
	return config.NewDefaultConfig().Collector()
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.js"), []byte("var a = 1;"))
	b := writeFile(t, filepath.Join(dir, "sub", "b.html"), []byte("<script>var b;</script>"))
	writeFile(t, filepath.Join(dir, "vendor.webpack.js"), []byte("var w;"))
	writeFile(t, filepath.Join(dir, "app.BUNDLE.js"), []byte("var w;"))
	writeFile(t, filepath.Join(dir, "big.js"), bytes.Repeat([]byte("a"), 31*1024))
	writeFile(t, filepath.Join(dir, "image.png"), []byte{0x89, 'P', 'N', 'G'})

	c := New(defaultCollectorConfig(), zaptest.NewLogger(t))

	t.Run("should return a sorted list of eligible files", func(t *testing.T) {
		res, err := c.Collect(context.Background(), []string{dir})
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, res.Files)
	})

	t.Run("should record skip reasons", func(t *testing.T) {
		res, err := c.Collect(context.Background(), []string{dir})
		require.NoError(t, err)
		reasons := make(map[string]string)
		for _, s := range res.Skipped {
			reasons[filepath.Base(s.Path)] = s.Reason
		}
		assert.Equal(t, "skip_pattern:*webpack*", reasons["vendor.webpack.js"])
		assert.Equal(t, "skip_pattern:*bundle*", reasons["app.BUNDLE.js"])
		assert.Equal(t, "too_large", reasons["big.js"])
		assert.Equal(t, "extension", reasons["image.png"])
		assert.Len(t, res.SkippedPaths(), 4)
	})

	t.Run("should deduplicate overlapping targets", func(t *testing.T) {
		res, err := c.Collect(context.Background(), []string{a, dir, a})
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, res.Files)
	})

	t.Run("should fail on a missing target", func(t *testing.T) {
		_, err := c.Collect(context.Background(), []string{filepath.Join(dir, "nope")})
		assert.Error(t, err)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Collect(ctx, []string{dir})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should accept any extension when none are configured", func(t *testing.T) {
		cfg := defaultCollectorConfig()
		cfg.Extensions = nil
		res, err := New(cfg, nil).Collect(context.Background(), []string{dir})
		require.NoError(t, err)
		assert.Len(t, res.Files, 3)
	})
}

func TestCollect_Symlinks(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	target := writeFile(t, filepath.Join(outside, "real.js"), []byte("var r;"))
	link := filepath.Join(dir, "link.js")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	t.Run("should ignore symlinks by default", func(t *testing.T) {
		res, err := New(defaultCollectorConfig(), nil).Collect(context.Background(), []string{dir})
		require.NoError(t, err)
		assert.Empty(t, res.Files)
	})

	t.Run("should follow symlinks when enabled", func(t *testing.T) {
		cfg := defaultCollectorConfig()
		cfg.FollowSymlinks = true
		res, err := New(cfg, nil).Collect(context.Background(), []string{dir})
		require.NoError(t, err)
		assert.Equal(t, []string{link}, res.Files)
	})
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	c := New(defaultCollectorConfig(), zaptest.NewLogger(t))

	t.Run("should read a plain script", func(t *testing.T) {
		p := writeFile(t, filepath.Join(dir, "plain.js"), []byte("alert(1);"))
		data, err := c.Read(p)
		require.NoError(t, err)
		assert.Equal(t, "alert(1);", string(data))
	})

	t.Run("should decompress brotli samples", func(t *testing.T) {
		p := writeFile(t, filepath.Join(dir, "packed.js.br"), brotliBytes(t, []byte("eval('x');")))
		data, err := c.Read(p)
		require.NoError(t, err)
		assert.Equal(t, "eval('x');", string(data))
	})

	t.Run("should apply the size ceiling after decompression", func(t *testing.T) {
		payload := []byte(strings.Repeat("var a = 1;\n", 4000))
		p := writeFile(t, filepath.Join(dir, "bomb.js.br"), brotliBytes(t, payload))
		_, err := c.Read(p)
		assert.True(t, errors.Is(err, ErrSkipped))
	})

	t.Run("should refuse binary content", func(t *testing.T) {
		p := writeFile(t, filepath.Join(dir, "fake.js"), []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x10})
		_, err := c.Read(p)
		assert.ErrorIs(t, err, ErrSkipped)
	})

	t.Run("should report a missing file", func(t *testing.T) {
		_, err := c.Read(filepath.Join(dir, "missing.js"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSkipped)
	})
}

func TestIsText(t *testing.T) {
	assert.True(t, IsText(nil))
	assert.True(t, IsText([]byte("<html><body></body></html>")))
	assert.True(t, IsText([]byte("function f() { return 1; }")))
	assert.False(t, IsText([]byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0x00, 0x00}))
}

func TestEligible(t *testing.T) {
	dir := t.TempDir()
	c := New(defaultCollectorConfig(), nil)

	ok, _ := c.Eligible(writeFile(t, filepath.Join(dir, "a.js"), []byte("x")))
	assert.True(t, ok)

	ok, reason := c.Eligible(writeFile(t, filepath.Join(dir, "a.report.json"), []byte("{}")))
	assert.False(t, ok)
	assert.Equal(t, "extension", reason)

	ok, reason = c.Eligible(dir)
	assert.False(t, ok)
	assert.Equal(t, "not_regular", reason)

	ok, reason = c.Eligible(filepath.Join(dir, "gone.js"))
	assert.False(t, ok)
	assert.Equal(t, "stat", reason)
}
