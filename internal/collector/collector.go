// internal/collector/collector.go
package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/config"
)

// ErrSkipped is returned by Read for a file that must not be analyzed.
var ErrSkipped = errors.New("file skipped")

// Skip records why a file was left out.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the outcome of a collection pass.
type Result struct {
	Files   []string
	Skipped []Skip
}

// SkippedPaths flattens the skip list into paths.
func (r Result) SkippedPaths() []string {
	out := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, s.Path)
	}
	return out
}

// Collector resolves scan targets into the set of files worth analyzing.
type Collector struct {
	cfg        config.CollectorConfig
	extensions map[string]struct{}
	logger     *zap.Logger
}

// New builds a collector. An empty extension list accepts every file.
func New(cfg config.CollectorConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Collector{cfg: cfg, extensions: exts, logger: logger.Named("collector")}
}

// Collect walks every target and returns a deduplicated, sorted file list.
// A target may be a file or a directory. A missing target is an error.
func (c *Collector) Collect(ctx context.Context, targets []string) (Result, error) {
	seen := make(map[string]struct{})
	skipped := make(map[string]string)

	add := func(path string, size int64) {
		if reason := c.check(path, size); reason != "" {
			skipped[path] = reason
			return
		}
		seen[path] = struct{}{}
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		abs, err := filepath.Abs(target)
		if err != nil {
			return Result{}, fmt.Errorf("failed to resolve target %q: %w", target, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return Result{}, fmt.Errorf("failed to stat target %q: %w", target, err)
		}
		if !info.IsDir() {
			add(abs, info.Size())
			continue
		}
		if err := c.walk(ctx, abs, add); err != nil {
			return Result{}, err
		}
	}

	res := Result{Files: make([]string, 0, len(seen))}
	for p := range seen {
		res.Files = append(res.Files, p)
	}
	sort.Strings(res.Files)
	for p, reason := range skipped {
		res.Skipped = append(res.Skipped, Skip{Path: p, Reason: reason})
	}
	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].Path < res.Skipped[j].Path })

	c.logger.Debug("Collection complete.",
		zap.Int("files", len(res.Files)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (c *Collector) walk(ctx context.Context, root string, add func(string, int64)) error {
	// fastwalk invokes the callback from several goroutines.
	type entry struct {
		path string
		size int64
	}
	found := make(chan entry, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range found {
			add(e.path, e.size)
		}
	}()

	conf := fastwalk.Config{Follow: c.cfg.FollowSymlinks}
	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			c.logger.Debug("Walk error.", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.Mode().IsRegular() {
			// A followed symlink reports the link's mode here.
			if d.Type()&os.ModeSymlink == 0 || !c.cfg.FollowSymlinks {
				return nil
			}
			if info, err = os.Stat(path); err != nil || !info.Mode().IsRegular() {
				return nil
			}
		}
		found <- entry{path: path, size: info.Size()}
		return nil
	})
	close(found)
	<-done
	if err != nil {
		return fmt.Errorf("failed to walk %q: %w", root, err)
	}
	return nil
}

// Eligible reports whether a single regular file passes the skip rules,
// and the reason when it does not.
func (c *Collector) Eligible(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, "stat"
	}
	if !info.Mode().IsRegular() {
		return false, "not_regular"
	}
	if reason := c.check(path, info.Size()); reason != "" {
		return false, reason
	}
	return true, ""
}

// check returns a non-empty reason when a file must be skipped. It never
// opens the file.
func (c *Collector) check(path string, size int64) string {
	base := strings.ToLower(filepath.Base(path))
	for _, pattern := range c.cfg.SkipPatterns {
		if ok, _ := doublestar.Match(strings.ToLower(pattern), base); ok {
			return "skip_pattern:" + pattern
		}
	}
	if len(c.extensions) > 0 {
		if _, ok := c.extensions[strings.ToLower(filepath.Ext(base))]; !ok {
			return "extension"
		}
	}
	if c.cfg.MaxFileSize > 0 && size > c.cfg.MaxFileSize {
		return "too_large"
	}
	return ""
}

// Read loads a collected file. Brotli-compressed samples (".br") are
// decompressed and the size ceiling applies to the decompressed bytes.
// Binary content is refused with ErrSkipped.
func (c *Collector) Read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".br") {
		r = brotli.NewReader(f)
	}
	limit := c.cfg.MaxFileSize
	if limit <= 0 {
		limit = 1 << 30
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrSkipped, path, limit)
	}
	if !IsText(data) {
		return nil, fmt.Errorf("%w: %q is not text", ErrSkipped, path)
	}
	return data, nil
}

// IsText reports whether data sniffs as a text document. Empty input counts
// as text.
func IsText(data []byte) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true
		}
		switch m.Extension() {
		case ".js", ".json", ".svg", ".xml", ".html", ".xhtml":
			return true
		}
	}
	return false
}
