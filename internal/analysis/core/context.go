// internal/analysis/core/context.go
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/chain"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// AnalyzerContext is the per-task analysis state. Every collaborator it
// holds is owned by the task and discarded when the task ends.
type AnalyzerContext struct {
	TaskID  string
	Logger  *zap.Logger
	Browser config.BrowserConfig

	Dynamic *dynamic.Analyzer
	Strings *strtrack.Tracker
	Chains  *chain.Manager
	URLs    *URLCollector
	Tags    TagExtractor
	Limiter *CallLimiter
	Exec    *ExecState

	mu        sync.Mutex
	findings  []schemas.Detection
	corrupted atomic.Bool
	reason    string
}

// Options configures a new AnalyzerContext.
type Options struct {
	CallLimit         int
	ReentrancyCeiling int
	Tags              TagExtractor
}

// NewAnalyzerContext wires a fresh set of collaborators for one task.
func NewAnalyzerContext(taskID string, logger *zap.Logger, browser config.BrowserConfig, opts Options) *AnalyzerContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("task_id", taskID))
	return &AnalyzerContext{
		TaskID:  taskID,
		Logger:  logger,
		Browser: browser,
		Dynamic: dynamic.NewAnalyzer(logger),
		Strings: strtrack.NewTracker(logger),
		Chains:  chain.NewManager(logger),
		URLs:    NewURLCollector(),
		Tags:    opts.Tags,
		Limiter: NewCallLimiter(opts.CallLimit),
		Exec:    NewExecState(opts.ReentrancyCeiling),
	}
}

// AddFinding appends a detection to the task's findings.
func (ac *AnalyzerContext) AddFinding(d schemas.Detection) {
	if d.Name == "" {
		d.Name = schemas.DetectionPrefix + d.Code
	}
	ac.mu.Lock()
	ac.findings = append(ac.findings, d)
	ac.mu.Unlock()
}

// AddFindings appends several detections.
func (ac *AnalyzerContext) AddFindings(ds []schemas.Detection) {
	for _, d := range ds {
		ac.AddFinding(d)
	}
}

// Findings returns a copy of the findings in insertion order.
func (ac *AnalyzerContext) Findings() []schemas.Detection {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return append([]schemas.Detection(nil), ac.findings...)
}

// RecordEvent appends a hook event to the dynamic analyzer.
func (ac *AnalyzerContext) RecordEvent(e dynamic.Event) {
	ac.Dynamic.RecordEvent(e)
}

// RecordCall forwards a hostcall to the attack-chain detector.
func (ac *AnalyzerContext) RecordCall(fn string, args []jsvalue.Value, result jsvalue.Value) {
	ac.Chains.Record(fn, args, result, ac.TaskID)
}

// TrackString runs the string pattern library and keeps every hit as a
// finding.
func (ac *AnalyzerContext) TrackString(s, origin string) {
	ac.AddFindings(ac.Strings.Track(s, origin))
}

// AllowCall applies the per-name DoS ceiling. The first refused call of a
// name is logged and recorded as a finding; later ones are silent.
func (ac *AnalyzerContext) AllowCall(name string) bool {
	allowed, first := ac.Limiter.Allow(name)
	if allowed {
		return true
	}
	if first {
		limit := ac.Limiter.Limit()
		ac.Logger.Warn("Hostcall limit exceeded; further calls are ignored.",
			zap.String("hostcall", name), zap.Int("limit", limit))
		ac.RecordEvent(dynamic.NewEvent(dynamic.EventDoSLimit, name, nil, jsvalue.Undefined(), 8).
			WithMetadata(jsvalue.MapOf("limit_exceeded", true, "limit", limit)).
			Flagged())
		ac.AddFinding(schemas.NewDetection("dos_limit_exceeded", 8,
			fmt.Sprintf("%s called more than %d times (limit exceeded)", name, limit)).
			WithFeature("hostcall", name).
			WithFeature("limit_exceeded", true).
			WithFeature("limit", limit))
	}
	return false
}

// MarkCorrupted disables dynamic execution for the rest of the task.
func (ac *AnalyzerContext) MarkCorrupted(reason string) {
	if ac.corrupted.CompareAndSwap(false, true) {
		ac.mu.Lock()
		ac.reason = reason
		ac.mu.Unlock()
		ac.Logger.Error("Runtime marked corrupted; remaining blocks use static analysis.", zap.String("reason", reason))
	}
}

// RuntimeCorrupted reports whether dynamic execution is disabled.
func (ac *AnalyzerContext) RuntimeCorrupted() bool { return ac.corrupted.Load() }

// CorruptionReason returns why the runtime was marked corrupted.
func (ac *AnalyzerContext) CorruptionReason() string {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.reason
}
