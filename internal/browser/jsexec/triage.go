// internal/browser/jsexec/triage.go
package jsexec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// Path is where triage routes a script block.
type Path int

const (
	PathDynamic Path = iota
	PathStatic
	PathAbort
)

func (p Path) String() string {
	switch p {
	case PathStatic:
		return "static"
	case PathAbort:
		return "abort"
	default:
		return "dynamic"
	}
}

// Triage finding codes.
const (
	CodeRecursionLimit  = "recursion_limit_exceeded"
	CodeKnownLibrary    = "known_library_static_only"
	CodeLargeCode       = "large_code_static_only"
	CodeDangerousMarker = "dangerous_pattern_static_only"
	CodeComplexCode     = "complex_code_static_only"
)

// Thresholds are the triage gates, taken from the sandbox config.
type Thresholds struct {
	MaxRecursionDepth     int
	LibraryScanWindow     int
	MaxCodeSize           int
	MaxEvalCalls          int
	MaxProxyConstructions int
	MaxNestingDepth       int
	MaxFunctionKeywords   int
	MaxArrayLiterals      int
}

// ThresholdsFrom copies the triage gates out of cfg.
func ThresholdsFrom(cfg config.SandboxConfig) Thresholds {
	return Thresholds{
		MaxRecursionDepth:     cfg.MaxRecursionDepth,
		LibraryScanWindow:     cfg.LibraryScanWindow,
		MaxCodeSize:           cfg.MaxCodeSize,
		MaxEvalCalls:          cfg.MaxEvalCalls,
		MaxProxyConstructions: cfg.MaxProxyConstructions,
		MaxNestingDepth:       cfg.MaxNestingDepth,
		MaxFunctionKeywords:   cfg.MaxFunctionKeywords,
		MaxArrayLiterals:      cfg.MaxArrayLiterals,
	}
}

// Decision is the result of triaging one block. The zero value routes to
// the engine.
type Decision struct {
	Path     Path
	Code     string
	Severity int
	Reason   string
	Triggers []string
}

// Detection renders a static or abort decision as a finding.
func (d Decision) Detection(code string) schemas.Detection {
	det := schemas.NewDetection(d.Code, d.Severity, d.Reason).
		WithSnippet(jsvalue.Truncate(code, 150)).
		WithFeature("size", len(code))
	if len(d.Triggers) > 0 {
		det = det.WithFeature("triggers", d.Triggers)
	}
	return det
}

// Metrics are the structural counts the complexity gate looks at.
type Metrics struct {
	Nesting       int
	Functions     int
	ArrayLiterals int
}

var (
	librarySignatures = []struct {
		name    string
		pattern *regexp.Regexp
	}{
		{"bootstrap", regexp.MustCompile(`(?i)Bootstrap v\d|getbootstrap\.com`)},
		{"vue", regexp.MustCompile(`Vue\.js v\d|vuejs\.org`)},
		{"react", regexp.MustCompile(`@license React|React v\d|react\.production\.min`)},
		{"angular", regexp.MustCompile(`@license Angular|AngularJS v\d`)},
		{"jquery", regexp.MustCompile(`jQuery (?:UI )?v\d|jquery\.org/license|jQuery Plugin`)},
		{"webpack", regexp.MustCompile(`webpackJsonp|webpackChunk`)},
		{"lodash", regexp.MustCompile(`(?i)lodash\.com|@license\s+Lodash`)},
		{"moment", regexp.MustCompile(`moment\.js|momentjs\.com`)},
		{"modernizr", regexp.MustCompile(`Modernizr v?\d|modernizr\.com`)},
		{"popper", regexp.MustCompile(`Popper\.js v?\d|popper\.js\.org`)},
		{"core-js", regexp.MustCompile(`core-js|zloirock`)},
	}

	withStatement   = regexp.MustCompile(`\bwith\s*\(`)
	evalCall        = regexp.MustCompile(`\beval\s*\(`)
	proxyCall       = regexp.MustCompile(`\bProxy\s*\(`)
	functionKeyword = regexp.MustCompile(`\bfunction\b`)
)

// Triage routes a block before any engine involvement. It is a pure
// function of its inputs; the first matching gate wins.
func Triage(code string, depth int, th Thresholds) Decision {
	if th.MaxRecursionDepth > 0 && depth >= th.MaxRecursionDepth {
		return Decision{
			Path:     PathAbort,
			Code:     CodeRecursionLimit,
			Severity: 6,
			Reason:   fmt.Sprintf("Recursion limit exceeded at execution depth %d", depth),
		}
	}

	head := code
	if th.LibraryScanWindow > 0 && len(head) > th.LibraryScanWindow {
		head = head[:th.LibraryScanWindow]
	}
	for _, sig := range librarySignatures {
		if sig.pattern.MatchString(head) {
			return Decision{
				Path:     PathStatic,
				Code:     CodeKnownLibrary,
				Severity: 1,
				Reason:   fmt.Sprintf("Known library signature (%s); static analysis only", sig.name),
				Triggers: []string{sig.name},
			}
		}
	}

	if th.MaxCodeSize > 0 && len(code) > th.MaxCodeSize {
		return Decision{
			Path:     PathStatic,
			Code:     CodeLargeCode,
			Severity: 3,
			Reason:   fmt.Sprintf("Script of %d bytes exceeds the %d byte execution ceiling", len(code), th.MaxCodeSize),
		}
	}

	if triggers := dangerousMarkers(code, th); len(triggers) > 0 {
		return Decision{
			Path:     PathStatic,
			Code:     CodeDangerousMarker,
			Severity: 5,
			Reason:   "Dangerous construct prevents execution: " + strings.Join(triggers, ", "),
			Triggers: triggers,
		}
	}

	m := Measure(code)
	var over []string
	if th.MaxNestingDepth > 0 && m.Nesting > th.MaxNestingDepth {
		over = append(over, fmt.Sprintf("nesting_depth=%d", m.Nesting))
	}
	if th.MaxFunctionKeywords > 0 && m.Functions > th.MaxFunctionKeywords {
		over = append(over, fmt.Sprintf("function_keywords=%d", m.Functions))
	}
	if th.MaxArrayLiterals > 0 && m.ArrayLiterals > th.MaxArrayLiterals {
		over = append(over, fmt.Sprintf("array_literals=%d", m.ArrayLiterals))
	}
	if len(over) > 0 {
		return Decision{
			Path:     PathStatic,
			Code:     CodeComplexCode,
			Severity: 4,
			Reason:   "Structural complexity ceiling exceeded: " + strings.Join(over, ", "),
			Triggers: over,
		}
	}
	return Decision{Path: PathDynamic}
}

func dangerousMarkers(code string, th Thresholds) []string {
	var triggers []string
	if withStatement.MatchString(code) {
		triggers = append(triggers, "with_statement")
	}
	if strings.Contains(code, "__proto__") {
		triggers = append(triggers, "__proto__")
	}
	if strings.Contains(code, "__webpack_require__") || strings.Contains(code, "__webpack_modules__") {
		triggers = append(triggers, "webpack_internals")
	}
	if n := len(evalCall.FindAllStringIndex(code, -1)); th.MaxEvalCalls > 0 && n > th.MaxEvalCalls {
		triggers = append(triggers, fmt.Sprintf("eval_calls=%d", n))
	}
	if n := len(proxyCall.FindAllStringIndex(code, -1)); th.MaxProxyConstructions > 0 && n > th.MaxProxyConstructions {
		triggers = append(triggers, fmt.Sprintf("proxy_constructions=%d", n))
	}
	return triggers
}

// Measure makes one pass over code counting the maximum bracket nesting and
// array literals. String and comment contents are skipped; regex literals
// are not recognised.
func Measure(code string) Metrics {
	var m Metrics
	m.Functions = len(functionKeyword.FindAllStringIndex(code, -1))

	depth := 0
	var prev byte // last significant byte outside strings and comments
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			i = skipString(code, i)
			prev = c
			continue
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			for i < len(code) && code[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			end := strings.Index(code[i+2:], "*/")
			if end < 0 {
				return m
			}
			i += end + 3
			continue
		}

		switch c {
		case '{', '(', '[':
			if c == '[' && opensArray(prev) {
				m.ArrayLiterals++
			}
			depth++
			if depth > m.Nesting {
				m.Nesting = depth
			}
		case '}', ')', ']':
			if depth > 0 {
				depth--
			}
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			prev = c
		}
	}
	return m
}

// skipString returns the index of the closing quote of the literal opening
// at i, or the last index when it is unterminated.
func skipString(code string, i int) int {
	quote := code[i]
	for j := i + 1; j < len(code); j++ {
		switch code[j] {
		case '\\':
			j++
		case quote:
			return j
		case '\n':
			if quote != '`' {
				return j
			}
		}
	}
	return len(code) - 1
}

// opensArray reports whether a '[' following prev starts a literal rather
// than an index expression.
func opensArray(prev byte) bool {
	switch prev {
	case 0, '=', '(', ',', ':', '[', ';', '{', '}', '?', '!', '&', '|', '+', '-', '*', '<', '>':
		return true
	}
	return false
}
