// File: internal/results/pipeline.go
package results

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/results/providers"
)

// Pipeline turns a finished task's analyzer context into a report.
type Pipeline struct {
	enricher *Enricher
	logger   *zap.Logger
}

// NewPipeline creates a new report assembly pipeline.
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	cweProvider := providers.NewInMemoryCWEProvider()
	return &Pipeline{
		enricher: NewEnricher(cweProvider, logger),
		logger:   logger.Named("results_pipeline"),
	}
}

// Assemble builds the report for one task. It never fails: a nil context
// yields an empty Clean report.
func (p *Pipeline) Assemble(ac *core.AnalyzerContext, meta Meta) *Report {
	report := &Report{
		ScanID:      meta.ScanID,
		Target:      meta.Target,
		Files:       nonNil(meta.Files),
		Skipped:     meta.Skipped,
		Timestamp:   time.Now().UTC(),
		Version:     meta.Version,
		Rules:       RulesVersion,
		Detections:  []schemas.Detection{},
		URLs:        []string{},
		URLMetadata: []schemas.URLRecord{},
		Execution: ExecutionStats{
			DurationMS: meta.Duration.Milliseconds(),
			Blocks:     meta.Blocks,
			Outcomes:   meta.Outcomes,
			Triage:     meta.Triage,
		},
	}
	if ac == nil {
		report.Verdict = schemas.VerdictClean
		report.Summary = p.generateSummary(nil)
		return report
	}
	report.TaskID = ac.TaskID

	// 1. Normalization & Deduplication
	raw := ac.Findings()
	detections := DedupDetections(raw)

	// 2. Enrichment
	for i := range detections {
		p.enricher.EnrichDetection(&detections[i])
	}

	// 3. Prioritization
	schemas.SortDetections(detections)
	report.Detections = detections
	report.MaxSeverity = maxSeverity(detections)
	report.Verdict = schemas.VerdictFor(report.MaxSeverity)

	// 4. Aggregation
	report.Summary = p.generateSummary(detections)
	report.URLs = ac.URLs.URLs()
	report.URLMetadata = ac.URLs.Records()

	chains := ac.Chains.GenerateReport()
	report.Chains = chains.Chains
	report.TaintStatistics = chains.Statistics
	report.TaintedValues = ac.Chains.Tracker.Values()

	report.Events = EventSummary{
		Recorded:      ac.Dynamic.Len(),
		Evicted:       ac.Dynamic.Evicted(),
		FunctionCalls: ac.Dynamic.FunctionCallCount(),
		Notable:       ac.Dynamic.GetEventsBySeverity(NotableSeverity),
	}

	report.RuntimeCorrupted = ac.RuntimeCorrupted()
	report.CorruptionReason = ac.CorruptionReason()
	limited := ac.Limiter.Exceeded()
	sort.Strings(limited)
	report.LimitedCalls = limited

	p.logger.Debug("Report assembled.",
		zap.String("task_id", ac.TaskID),
		zap.Int("raw_findings", len(raw)),
		zap.Int("detections", len(detections)),
		zap.String("verdict", string(report.Verdict)))
	return report
}

func maxSeverity(ds []schemas.Detection) int {
	m := 0
	for _, d := range ds {
		if d.Severity > m {
			m = d.Severity
		}
	}
	return m
}

func (p *Pipeline) generateSummary(ds []schemas.Detection) map[string]int {
	summary := map[string]int{"total": len(ds)}
	for _, d := range ds {
		summary[string(d.Label())]++
	}
	return summary
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
