package schemas

import (
	"time"
)

// -- URL Schemas --

// URLRecord is an extracted URL along with where it was seen.
type URLRecord struct {
	URL                 string `json:"url"`
	Source              string `json:"source"`              // Hostcall or extractor that produced it.
	Extension           string `json:"extension,omitempty"` // Lower-cased path extension, without the dot.
	SuspiciousExtension bool   `json:"suspicious_extension"`
}

// -- Result Schemas --

// ResultEnvelope is the top level wrapper persisted for a single task.
type ResultEnvelope struct {
	ScanID     string      `json:"scan_id"`
	TaskID     string      `json:"task_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Target     string      `json:"target"`
	Verdict    Verdict     `json:"verdict"`
	Detections []Detection `json:"detections"`
}
