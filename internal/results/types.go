package results

import (
	"time"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/chain"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/analysis/taint"
)

// RulesVersion tags the detection rule set a report was produced with.
const RulesVersion = "jsbox-rules-2026.10"

// NotableSeverity is the event severity at which events are copied into
// the report verbatim.
const NotableSeverity = 5

// Meta is what the caller knows about a task that the analyzer context
// does not.
type Meta struct {
	ScanID   string
	Target   string
	Files    []string
	Version  string
	Started  time.Time
	Duration time.Duration

	// Blocks counts the script blocks handed to the governor.
	Blocks int
	// Outcomes counts execution outcomes by name.
	Outcomes map[string]int
	// Triage counts triage paths by name.
	Triage map[string]int
	// Skipped lists files the collector refused.
	Skipped []string
}

// EventSummary describes the hostcall event log.
type EventSummary struct {
	Recorded      int             `json:"recorded"`
	Evicted       int             `json:"evicted"`
	FunctionCalls int             `json:"function_calls"`
	Notable       []dynamic.Event `json:"notable"`
}

// ExecutionStats describes how the task's script blocks were handled.
type ExecutionStats struct {
	DurationMS int64          `json:"duration_ms"`
	Blocks     int            `json:"blocks"`
	Outcomes   map[string]int `json:"outcomes,omitempty"`
	Triage     map[string]int `json:"triage,omitempty"`
}

// Report is the assembled result of one analysis task.
type Report struct {
	ScanID    string    `json:"scan_id"`
	TaskID    string    `json:"task_id"`
	Target    string    `json:"target"`
	Files     []string  `json:"files"`
	Skipped   []string  `json:"skipped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Rules     string    `json:"rules"`

	Verdict     schemas.Verdict     `json:"verdict"`
	MaxSeverity int                 `json:"max_severity"`
	Summary     map[string]int      `json:"summary"`
	Detections  []schemas.Detection `json:"detections"`

	URLs        []string            `json:"urls"`
	URLMetadata []schemas.URLRecord `json:"url_metadata"`

	TaintStatistics taint.Statistics `json:"taint_statistics"`
	TaintedValues   []taint.Value    `json:"tainted_values"`
	Chains          []chain.Summary  `json:"chains"`

	Events    EventSummary   `json:"events"`
	Execution ExecutionStats `json:"execution"`

	RuntimeCorrupted bool     `json:"runtime_corrupted"`
	CorruptionReason string   `json:"corruption_reason,omitempty"`
	LimitedCalls     []string `json:"limited_calls,omitempty"`

	// Cached is set when the report came from the verdict cache.
	Cached bool `json:"cached"`
}

// Envelope returns the compact record persisted by the report sink.
func (r *Report) Envelope() schemas.ResultEnvelope {
	return schemas.ResultEnvelope{
		ScanID:     r.ScanID,
		TaskID:     r.TaskID,
		Timestamp:  r.Timestamp,
		Target:     r.Target,
		Verdict:    r.Verdict,
		Detections: r.Detections,
	}
}
