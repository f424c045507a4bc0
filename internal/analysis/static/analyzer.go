// internal/analysis/static/analyzer.go
package static

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// MinLiteralLength is the shortest string literal the literal scans look at.
const MinLiteralLength = 20

const snippetLength = 150

var (
	doubleQuoted = regexp.MustCompile(`"(?:[^"\\\n]|\\.)*"`)
	singleQuoted = regexp.MustCompile(`'(?:[^'\\\n]|\\.)*'`)
	templated    = regexp.MustCompile("`(?:[^`\\\\]|\\\\.)*`")

	windowsHostPattern = regexp.MustCompile(`CreateObject|WScript|CScript`)
)

// Result is the outcome of a static pass.
type Result struct {
	Detections []schemas.Detection
	URLs       []string
	Literals   int
}

// Analyze runs the static pattern pass over source. It has no engine
// dependency and always returns a result.
func Analyze(source string) Result {
	var res Result
	res.URLs = strtrack.ExtractURLs(source)

	literals := ExtractStringLiterals(source, MinLiteralLength)
	res.Literals = len(literals)
	seen := make(map[string]bool)
	add := func(d schemas.Detection) {
		key := d.Code + "\x00" + d.Snippet
		if seen[key] {
			return
		}
		seen[key] = true
		res.Detections = append(res.Detections, d)
	}

	for _, lit := range literals {
		snippet := jsvalue.Truncate(lit, snippetLength)
		if strtrack.IsMaliciousCommand(lit) {
			add(schemas.NewDetection("static_malicious_command", 8,
				"String literal combines a command launcher with a payload").WithSnippet(snippet))
		}
		if strtrack.IsScriptInjection(lit) {
			add(schemas.NewDetection("static_script_injection", 7,
				"String literal injects a script element").WithSnippet(snippet))
		}
		if u, ok := strtrack.RemoteMaliciousFile(lit); ok {
			add(schemas.NewDetection("static_remote_malicious_file", 8,
				fmt.Sprintf("String literal references a remote executable: %s", u)).
				WithSnippet(snippet).WithFeature("url", u))
		}
		if strtrack.IsClipboardHijack(lit) {
			add(schemas.NewDetection("static_clipboard_hijack", 10,
				"String literal writes a command payload to the clipboard").WithSnippet(snippet))
		}
	}

	if loc := windowsHostPattern.FindStringIndex(source); loc != nil {
		hits := windowsHostPattern.FindAllString(source, -1)
		add(schemas.NewDetection("static_windows_script_host", 7,
			"Source references Windows Script Host objects").
			WithSnippet(context(source, loc[0], loc[1])).
			WithFeature("occurrences", len(hits)))
	}
	return res
}

// ExtractStringLiterals returns the bodies (without quotes) of every
// quoted or template literal in source at least minLen long.
func ExtractStringLiterals(source string, minLen int) []string {
	var out []string
	for _, re := range []*regexp.Regexp{doubleQuoted, singleQuoted, templated} {
		for _, m := range re.FindAllString(source, -1) {
			body := m[1 : len(m)-1]
			if len(body) >= minLen {
				out = append(out, body)
			}
		}
	}
	return out
}

func context(source string, start, end int) string {
	from := start - 40
	if from < 0 {
		from = 0
	}
	to := end + 60
	if to > len(source) {
		to = len(source)
	}
	return strings.TrimSpace(source[from:to])
}
