// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/reporting/sarif"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "jsbox"
	ToolInfoURI  = "https://github.com/xkilldash9x/jsbox"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer collapses anything outside [A-Za-z0-9_.] into one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

type ruleKey struct {
	name string
	code string
}

// SARIFReporter converts reports into a single SARIF 2.1.0 log.
// It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects log and the rule maps.
	mu sync.Mutex
	// rules maps a detector (name, code) pair to its rule ID.
	rules       map[ruleKey]string
	ruleIDUsage map[string]int
	artifacts   map[string]struct{}
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, logger *zap.Logger, toolVersion string) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}
	return &SARIFReporter{
		writer:      writer,
		logger:      logger.Named("sarif_reporter"),
		log:         log,
		rules:       make(map[ruleKey]string),
		ruleIDUsage: make(map[string]int),
		artifacts:   make(map[string]struct{}),
	}
}

// Write turns every detection of report into a SARIF result located at
// the report's target.
func (r *SARIFReporter) Write(report *results.Report) error {
	if report == nil {
		return nil
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.addArtifact(run, report)
	for _, d := range report.Detections {
		ruleID := r.ensureRule(d)
		props := sarif.PropertyBag{
			"severity": d.Severity,
			"verdict":  string(report.Verdict),
		}
		for k, v := range d.Features {
			props[k] = v
		}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:     ruleID,
			Message:    &sarif.Message{Text: pString(d.Reason)},
			Level:      levelFor(d.Label()),
			Locations:  createLocations(report.Target, d.Snippet),
			Properties: &props,
		})
	}

	if len(report.Detections) > 0 {
		r.logger.Debug("Wrote detections to SARIF buffer",
			zap.String("target", report.Target),
			zap.Int("detections", len(report.Detections)),
			zap.Duration("duration", time.Since(startTime)),
		)
	}
	return nil
}

// Close encodes the SARIF log and closes the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	data, encodeErr := json.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		data = append(data, '\n')
		_, encodeErr = r.writer.Write(data)
	}
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func (r *SARIFReporter) addArtifact(run *sarif.Run, report *results.Report) {
	if report.Target == "" {
		return
	}
	if _, seen := r.artifacts[report.Target]; seen {
		return
	}
	r.artifacts[report.Target] = struct{}{}
	run.Artifacts = append(run.Artifacts, &sarif.Artifact{
		Location: &sarif.ArtifactLocation{URI: pString(report.Target)},
		Properties: &sarif.PropertyBag{
			"verdict":      string(report.Verdict),
			"max_severity": report.MaxSeverity,
			"cached":       report.Cached,
		},
	})
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN"
	}
	return sanitized
}

// ensureRule returns the rule ID for d's detector, registering it on first
// use. Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(d schemas.Detection) string {
	key := ruleKey{d.Name, d.Code}
	if ruleID, exists := r.rules[key]; exists {
		return ruleID
	}

	// Two detectors may emit the same code; suffix the later one.
	baseRuleID := "JSBOX-" + sanitizeRuleName(d.Code)
	usage := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usage + 1
	ruleID := baseRuleID
	if usage > 0 {
		ruleID = fmt.Sprintf("%s-%d", baseRuleID, usage)
	}

	props := sarif.PropertyBag{
		"tags":     []string{"javascript", "malware", d.Name},
		"detector": d.Name,
	}
	if cwe, ok := d.Features["cwe"]; ok {
		props["cwe"] = cwe
	}
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:                   ruleID,
		Name:                 pString(d.Code),
		ShortDescription:     &sarif.MultiformatMessageString{Text: pString(d.Code)},
		FullDescription:      &sarif.MultiformatMessageString{Text: pString(d.Reason)},
		DefaultConfiguration: &sarif.Configuration{Level: levelFor(d.Label())},
		Properties:           &props,
	})
	r.rules[key] = ruleID
	return ruleID
}

func createLocations(target, snippet string) []*sarif.Location {
	physical := &sarif.PhysicalLocation{
		ArtifactLocation: &sarif.ArtifactLocation{URI: pString(target)},
	}
	if snippet != "" {
		physical.Region = &sarif.Region{Snippet: &sarif.ArtifactContent{Text: pString(snippet)}}
	}
	return []*sarif.Location{{PhysicalLocation: physical}}
}

// levelFor maps a severity label onto a SARIF level.
func levelFor(label schemas.Severity) sarif.Level {
	switch label {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value.
func pString(s string) *string {
	return &s
}
