package schemas

import (
	"sort"
	"strings"
)

// -- Detection Schemas --

// Severity is the coarse label for a numeric 0-10 severity. The values are
// lowercase to align with database ENUMs.
type Severity string

// Constants defining the standard severity labels.
const (
	SeverityCritical Severity = "critical" // 9 and above.
	SeverityHigh     Severity = "high"     // 7 to 8.
	SeverityMedium   Severity = "medium"   // 5 to 6.
	SeverityLow      Severity = "low"      // 3 to 4.
	SeverityInfo     Severity = "info"     // Below 3.
)

// SeverityLabel maps a numeric severity onto its label.
func SeverityLabel(severity int) Severity {
	switch {
	case severity >= 9:
		return SeverityCritical
	case severity >= 7:
		return SeverityHigh
	case severity >= 5:
		return SeverityMedium
	case severity >= 3:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// DetectionPrefix is prepended to the upper-cased category code to form a
// detection name, e.g. JSScanner.EVAL_CALL_DETECTED.
const DetectionPrefix = "JSScanner."

// Detection is a single reportable finding produced while analysing a
// sample. Two detections with the same (Name, Code) are the same finding
// and are merged during report assembly.
type Detection struct {
	Name     string `json:"name"`     // Stable identifier, e.g. "JSScanner.EVAL_CALL_DETECTED".
	Code     string `json:"code"`     // Category code, e.g. "eval_call_detected".
	Severity int    `json:"severity"` // 0 (benign) to 10 (critical).
	Reason   string `json:"reason"`   // Human readable explanation.

	// Snippet is a truncated excerpt of the code or value that triggered it.
	Snippet string `json:"snippet,omitempty"`

	// Features carry structured evidence (risk scores, keywords, thresholds).
	Features map[string]interface{} `json:"features,omitempty"`
}

// NewDetection builds a detection whose name is derived from its code.
func NewDetection(code string, severity int, reason string) Detection {
	return Detection{
		Name:     DetectionPrefix + strings.ToUpper(code),
		Code:     code,
		Severity: severity,
		Reason:   reason,
	}
}

// WithSnippet returns a copy carrying the given snippet.
func (d Detection) WithSnippet(snippet string) Detection {
	d.Snippet = snippet
	return d
}

// WithFeature returns a copy carrying an additional feature.
func (d Detection) WithFeature(key string, value interface{}) Detection {
	features := make(map[string]interface{}, len(d.Features)+1)
	for k, v := range d.Features {
		features[k] = v
	}
	features[key] = value
	d.Features = features
	return d
}

// Label returns the severity label of the detection.
func (d Detection) Label() Severity { return SeverityLabel(d.Severity) }

// SortDetections orders detections by descending severity, then name and
// code, so reports are stable across runs.
func SortDetections(ds []Detection) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Severity != ds[j].Severity {
			return ds[i].Severity > ds[j].Severity
		}
		if ds[i].Name != ds[j].Name {
			return ds[i].Name < ds[j].Name
		}
		return ds[i].Code < ds[j].Code
	})
}

// -- Verdict --

// Verdict is the overall classification of a sample.
type Verdict string

const (
	VerdictClean      Verdict = "Clean"
	VerdictLow        Verdict = "Low"
	VerdictSuspicious Verdict = "Suspicious"
	VerdictMalicious  Verdict = "Malicious"
)

// VerdictFor derives the verdict from the highest detection severity.
func VerdictFor(maxSeverity int) Verdict {
	switch {
	case maxSeverity >= 8:
		return VerdictMalicious
	case maxSeverity >= 5:
		return VerdictSuspicious
	case maxSeverity >= 3:
		return VerdictLow
	default:
		return VerdictClean
	}
}
