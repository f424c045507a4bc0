package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/static"
	"github.com/xkilldash9x/jsbox/internal/browser/jsexec"
	"github.com/xkilldash9x/jsbox/internal/browser/parser"
	"github.com/xkilldash9x/jsbox/internal/cache"
	"github.com/xkilldash9x/jsbox/internal/collector"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/observability"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// Kind is how a sample is fed to the sandbox.
type Kind int

const (
	// KindScript is bare JavaScript, run as one block.
	KindScript Kind = iota
	// KindDocument is markup: the DOM is loaded and its scripts run in order.
	KindDocument
)

// Sample is one input of a task.
type Sample struct {
	Path string
	Data []byte
	Kind Kind
}

// SampleSource resolves a task into its samples and the paths it refused.
type SampleSource func(ctx context.Context, task schemas.Task) ([]Sample, []string, error)

var documentExtensions = map[string]bool{
	".html": true, ".htm": true, ".hta": true, ".xhtml": true, ".svg": true,
}

// Worker runs analysis tasks in-process. Each task gets its own engine.
type Worker struct {
	cfg       config.Interface
	logger    *zap.Logger
	collector *collector.Collector
	extractor core.TagExtractor
	pipeline  *results.Pipeline
	cache     cache.Store
	metrics   *observability.Metrics
	version   string
	sources   map[schemas.TaskType]SampleSource
}

// Option is a function that configures a Worker.
type Option func(*Worker)

// WithCache enables verdict caching.
func WithCache(c cache.Store) Option { return func(w *Worker) { w.cache = c } }

// WithMetrics records per-task metrics.
func WithMetrics(m *observability.Metrics) Option { return func(w *Worker) { w.metrics = m } }

// WithVersion stamps reports with the build version.
func WithVersion(v string) Option { return func(w *Worker) { w.version = v } }

// WithSources replaces the task type registry. Used by tests.
func WithSources(sources map[schemas.TaskType]SampleSource) Option {
	return func(w *Worker) { w.sources = sources }
}

// New builds a worker.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		cfg:       cfg,
		logger:    logger.Named("worker"),
		collector: collector.New(cfg.Collector(), logger),
		extractor: parser.NewTagExtractor(),
		pipeline:  results.NewPipeline(logger),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sources == nil {
		w.sources = map[schemas.TaskType]SampleSource{
			schemas.TaskAnalyzeFile:      w.collectFiles,
			schemas.TaskAnalyzeDirectory: w.collectFiles,
			schemas.TaskAnalyzeScript:    inlineScript,
		}
	}
	return w, nil
}

// blockStats counts how the blocks of a task were handled.
type blockStats struct {
	blocks   int
	outcomes map[string]int
	triage   map[string]int
}

func (b *blockStats) record(res jsexec.Result) {
	b.blocks++
	b.outcomes[res.Outcome.String()]++
	if res.Outcome != jsexec.GovernorSkip || res.Decision.Code != "" {
		b.triage[res.Decision.Path.String()]++
	}
}

// ProcessTask analyses every sample of a task and returns the assembled
// report. A cancelled context still yields a report: remaining blocks go
// through static analysis only.
func (w *Worker) ProcessTask(ctx context.Context, task schemas.Task) (*results.Report, error) {
	source, ok := w.sources[task.Type]
	if !ok {
		return nil, fmt.Errorf("no sample source registered for task type '%s'", task.Type)
	}
	logger := observability.TaskLogger(w.logger, task.ScanID, task.TaskID)
	start := time.Now()

	samples, skipped, err := source(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve samples for task %s: %w", task.TaskID, err)
	}
	if w.metrics != nil {
		w.metrics.FilesSkipped.Add(float64(len(skipped)))
	}

	meta := results.Meta{
		ScanID:  task.ScanID,
		Target:  task.Target,
		Files:   samplePaths(samples),
		Version: w.version,
		Started: start,
		Skipped: skipped,
	}

	key := ""
	if w.cache != nil && len(samples) > 0 {
		key = cache.Key(sampleData(samples))
		report, err := w.cache.Get(ctx, key)
		switch {
		case err == nil:
			logger.Debug("Verdict cache hit.", zap.String("key", key))
			w.observeCache("hit")
			report.ScanID, report.TaskID, report.Target = task.ScanID, task.TaskID, task.Target
			report.Files, report.Skipped = meta.Files, skipped
			return report, nil
		case errors.Is(err, cache.ErrMiss):
			w.observeCache("miss")
		default:
			logger.Warn("Verdict cache lookup failed.", zap.Error(err))
			w.observeCache("error")
		}
	}

	if len(samples) == 0 {
		meta.Duration = time.Since(start)
		return w.pipeline.Assemble(nil, meta), nil
	}

	sandboxCfg := w.cfg.Sandbox()
	ac := core.NewAnalyzerContext(task.TaskID, logger, w.cfg.Browser(), core.Options{
		CallLimit:         sandboxCfg.CallLimit,
		ReentrancyCeiling: sandboxCfg.ReentrancyCeiling,
		Tags:              w.extractor,
	})
	gov, err := jsexec.NewGovernor(ac, sandboxCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create governor for task %s: %w", task.TaskID, err)
	}

	stats := &blockStats{outcomes: make(map[string]int), triage: make(map[string]int)}
	for _, s := range samples {
		w.analyzeSample(ctx, gov, ac, s, stats, logger)
	}

	meta.Duration = time.Since(start)
	meta.Blocks = stats.blocks
	meta.Outcomes = stats.outcomes
	meta.Triage = stats.triage
	report := w.pipeline.Assemble(ac, meta)

	if key != "" && ctx.Err() == nil && !report.RuntimeCorrupted {
		if err := w.cache.Put(ctx, key, report); err != nil {
			logger.Warn("Failed to cache verdict.", zap.Error(err))
		}
	}
	w.observe(report, ac, stats)

	logger.Info("Task analysed.",
		zap.String("verdict", string(report.Verdict)),
		zap.Int("detections", len(report.Detections)),
		zap.Int("blocks", stats.blocks),
		zap.Duration("duration", meta.Duration))
	return report, nil
}

func (w *Worker) analyzeSample(ctx context.Context, gov *jsexec.Governor, ac *core.AnalyzerContext, s Sample, stats *blockStats, logger *zap.Logger) {
	code := string(s.Data)
	if s.Kind == KindScript {
		stats.record(gov.Run(ctx, code))
		return
	}

	if err := gov.LoadDocument(code); err != nil {
		logger.Warn("Failed to load document.", zap.String("path", s.Path), zap.Error(err))
	}
	ex, err := w.extractor.Extract(code)
	if err != nil {
		// Unparseable markup is still worth a static pass.
		logger.Warn("Failed to extract scripts.", zap.String("path", s.Path), zap.Error(err))
		w.staticOnly(ac, code)
		stats.triage["static"]++
		return
	}
	ac.URLs.AddAll(ex.URLs, "attribute")
	ac.URLs.AddAll(ex.ExternalScripts, "script_src")

	limit := w.cfg.Sandbox().MaxBlocksPerFile
	for i, block := range ex.InlineScripts {
		if limit > 0 && i >= limit {
			w.staticOnly(ac, block)
			stats.triage["block_limit"]++
			continue
		}
		stats.record(gov.Run(ctx, block))
	}
}

func (w *Worker) staticOnly(ac *core.AnalyzerContext, code string) {
	r := static.Analyze(code)
	ac.AddFindings(r.Detections)
	ac.URLs.AddAll(r.URLs, "static")
}

func (w *Worker) observeCache(result string) {
	if w.metrics != nil {
		w.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (w *Worker) observe(report *results.Report, ac *core.AnalyzerContext, stats *blockStats) {
	m := w.metrics
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(string(report.Verdict)).Inc()
	m.TaskDuration.Observe(float64(report.Execution.DurationMS) / 1000)
	m.Hostcalls.Add(float64(ac.Dynamic.FunctionCallCount()))
	for path, n := range stats.triage {
		m.TriageDecisions.WithLabelValues(path).Add(float64(n))
	}
	for outcome, n := range stats.outcomes {
		m.Outcomes.WithLabelValues(outcome).Add(float64(n))
	}
	for _, d := range report.Detections {
		m.Detections.WithLabelValues(string(d.Label())).Inc()
	}
	for _, fn := range report.LimitedCalls {
		m.LimitedCalls.WithLabelValues(fn).Inc()
	}
}

// collectFiles resolves file and directory tasks through the collector.
func (w *Worker) collectFiles(ctx context.Context, task schemas.Task) ([]Sample, []string, error) {
	targets := task.Paths
	if len(targets) == 0 {
		targets = []string{task.Target}
	}
	res, err := w.collector.Collect(ctx, targets)
	if err != nil {
		return nil, nil, err
	}
	skipped := res.SkippedPaths()
	samples := make([]Sample, 0, len(res.Files))
	for _, path := range res.Files {
		data, err := w.collector.Read(path)
		if err != nil {
			if !errors.Is(err, collector.ErrSkipped) {
				w.logger.Warn("Failed to read sample.", zap.String("path", path), zap.Error(err))
			}
			skipped = append(skipped, path)
			continue
		}
		samples = append(samples, Sample{Path: path, Data: data, Kind: KindOf(path, data)})
	}
	return samples, skipped, nil
}

func inlineScript(_ context.Context, task schemas.Task) ([]Sample, []string, error) {
	if task.Content == "" {
		return nil, nil, nil
	}
	name := task.Target
	if name == "" {
		name = "inline"
	}
	return []Sample{{Path: name, Data: []byte(task.Content), Kind: KindScript}}, nil, nil
}

// KindOf decides whether a file is markup or a bare script. Compressed
// samples are judged by their inner extension; ".txt" files are sniffed.
func KindOf(path string, data []byte) Kind {
	name := strings.ToLower(path)
	name = strings.TrimSuffix(name, ".br")
	ext := filepath.Ext(name)
	if documentExtensions[ext] {
		return KindDocument
	}
	if ext == ".txt" || ext == "" {
		head := strings.ToLower(string(data[:min(len(data), 512)]))
		if strings.Contains(head, "<script") || strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") {
			return KindDocument
		}
	}
	return KindScript
}

func samplePaths(samples []Sample) []string {
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Path)
	}
	return out
}

func sampleData(samples []Sample) [][]byte {
	out := make([][]byte, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Data)
	}
	return out
}
