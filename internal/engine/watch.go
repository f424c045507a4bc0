package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// ReportSuffix is appended to a sample path to name its report file.
const ReportSuffix = ".report.json"

// DefaultDebounce is how long a file must stay quiet before it is analysed.
const DefaultDebounce = 300 * time.Millisecond

// Filter decides whether a changed file should be analysed.
type Filter interface {
	Eligible(path string) (bool, string)
}

// Watcher turns file system events under a directory into analysis tasks.
type Watcher struct {
	engine   *TaskEngine
	filter   Filter
	logger   *zap.Logger
	debounce time.Duration
	scanID   string
	seq      atomic.Int64
}

// NewWatcher builds a watcher that feeds e. A zero debounce uses DefaultDebounce.
func NewWatcher(e *TaskEngine, filter Filter, logger *zap.Logger, debounce time.Duration) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		engine:   e,
		filter:   filter,
		logger:   logger.Named("watcher"),
		debounce: debounce,
		scanID:   uuid.NewString(),
	}
}

// Watch blocks until ctx is done, analysing every eligible file created or
// written under root. Bursts of writes to one file produce one task.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	if info, err := os.Stat(root); err != nil {
		return fmt.Errorf("cannot watch %s: %w", root, err)
	} else if !info.IsDir() {
		return fmt.Errorf("cannot watch %s: not a directory", root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, root); err != nil {
		return err
	}

	tasks := make(chan schemas.Task, w.engine.concurrency())
	w.engine.Start(ctx, tasks)
	defer w.engine.Stop()
	defer close(tasks)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	w.logger.Info("Watching for samples.", zap.String("root", root), zap.String("scan_id", w.scanID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error.", zap.Error(err))
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev, pending)
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				if !w.submit(ctx, tasks, path) {
					return nil
				}
			}
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]time.Time) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if strings.HasSuffix(ev.Name, ReportSuffix) {
		return
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory.", zap.String("path", ev.Name), zap.Error(err))
			}
		}
		return
	}
	pending[ev.Name] = time.Now()
}

func (w *Watcher) submit(ctx context.Context, tasks chan<- schemas.Task, path string) bool {
	if ok, reason := w.filter.Eligible(path); !ok {
		w.logger.Debug("Ignoring file.", zap.String("path", path), zap.String("reason", reason))
		return true
	}
	task := schemas.Task{
		TaskID: fmt.Sprintf("%s-%d", w.scanID[:8], w.seq.Add(1)),
		ScanID: w.scanID,
		Type:   schemas.TaskAnalyzeFile,
		Target: path,
		Paths:  []string{path},
	}
	select {
	case tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch tree %s: %w", root, err)
	}
	return nil
}

// ReportFileWriter returns a handler that writes each report next to its
// sample as <file>.report.json.
func ReportFileWriter(logger *zap.Logger) ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(task schemas.Task, report *results.Report) {
		data, err := report.ToJSON()
		if err != nil {
			logger.Error("Failed to encode report.", zap.String("target", task.Target), zap.Error(err))
			return
		}
		path := task.Target + ReportSuffix
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Error("Failed to write report.", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Info("Report written.", zap.String("path", path), zap.String("verdict", string(report.Verdict)))
	}
}
