// internal/analysis/strtrack/tracker.go
package strtrack

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const (
	// maxTrackedStrings caps the number of distinct strings analysed per task.
	maxTrackedStrings = 10000
	snippetLength     = 120
	longStringLength  = 200
)

type rule struct {
	code     string
	severity int
	reason   string
	match    func(s string) bool
}

// rules is the pattern library applied to every tracked string. Each hit
// becomes its own detection.
var rules = []rule{
	{"sensitive_function_in_string", 4, "String references a code execution or decoding function",
		sensitiveFunctionPattern.MatchString},
	{"url_in_string", 2, "String contains a URL",
		urlPattern.MatchString},
	{"array_shuffle_obfuscation", 7, "Rotated string-array access typical of obfuscators",
		arrayShufflePattern.MatchString},
	{"hex_variable_obfuscation", 6, "Three or more distinct _0x-style identifiers",
		func(s string) bool { return CountHexIdentifiers(s) >= 3 }},
	{"large_base64_blob", 6, "Base64 blob longer than 1000 characters",
		largeBase64Pattern.MatchString},
	{"iife_wrapper", 3, "Immediately invoked function wrapper",
		iifePattern.MatchString},
	{"three_stage_decode_chain", 9, "atob, TextDecoder and document.write used together",
		func(s string) bool {
			return strings.Contains(s, "atob") && strings.Contains(s, "TextDecoder") && strings.Contains(s, "document.write")
		}},
	{"embedded_javascript", 5, "Long string with several co-occurring JavaScript keywords",
		func(s string) bool { return len(s) >= longStringLength && CountJSKeywords(s) >= 3 }},
	{"dangerous_html_in_string", 6, "String embeds dangerous HTML tags",
		dangerousTagPattern.MatchString},
	{"mobile_fingerprinting", 5, "User agent sniffing for mobile devices",
		func(s string) bool { return strings.Contains(s, "userAgent") && mobileDevicePattern.MatchString(s) }},
	{"malicious_tool_reference", 8, "References Windows scripting hosts or shells",
		maliciousToolPattern.MatchString},
	{"clipboard_hijack", 10, "Clipboard access combined with a command payload",
		IsClipboardHijack},
	{"malicious_command", 9, "Command launcher combined with a download or encoded payload",
		IsMaliciousCommand},
	{"script_injection", 8, "Dynamic script element injection",
		IsScriptInjection},
}

// Tracker applies the string pattern library to strings observed during
// execution: hostcall arguments, decoded payloads and leftover globals.
type Tracker struct {
	logger *zap.Logger

	mu      sync.Mutex
	seen    map[string]bool
	tracked int
	hits    map[string]int
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger: logger.Named("strtrack"),
		seen:   make(map[string]bool),
		hits:   make(map[string]int),
	}
}

// Track analyses s and returns one detection per matching rule. Strings
// already analysed, and strings beyond the per-task cap, yield nothing.
func (t *Tracker) Track(s, origin string) []schemas.Detection {
	if s == "" {
		return nil
	}
	t.mu.Lock()
	if t.seen[s] || t.tracked >= maxTrackedStrings {
		t.mu.Unlock()
		return nil
	}
	t.seen[s] = true
	t.tracked++
	t.mu.Unlock()

	var out []schemas.Detection
	for _, r := range rules {
		if !r.match(s) {
			continue
		}
		d := schemas.NewDetection(r.code, r.severity, fmt.Sprintf("%s (%s)", r.reason, origin)).
			WithSnippet(jsvalue.Truncate(s, snippetLength)).
			WithFeature("origin", origin).
			WithFeature("length", len(s))
		out = append(out, d)
	}

	if len(out) > 0 {
		t.mu.Lock()
		for _, d := range out {
			t.hits[d.Code]++
		}
		t.mu.Unlock()
		t.logger.Debug("String pattern hits.", zap.String("origin", origin), zap.Int("hits", len(out)))
	}
	return out
}

// Stats returns the per-rule hit counts and the number of strings tracked.
func (t *Tracker) Stats() (map[string]int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hits := make(map[string]int, len(t.hits))
	for k, v := range t.hits {
		hits[k] = v
	}
	return hits, t.tracked
}
