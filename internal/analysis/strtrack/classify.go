package strtrack

import (
	"regexp"
	"strings"
)

// Class is the variable scanner's classification of a string value.
type Class int

const (
	ClassNone Class = iota
	ClassPotentialJS
	ClassBase64
	ClassSuspicious
)

func (c Class) String() string {
	switch c {
	case ClassPotentialJS:
		return "potential_js"
	case ClassBase64:
		return "base64"
	case ClassSuspicious:
		return "suspicious"
	default:
		return "none"
	}
}

var (
	callShapePattern       = regexp.MustCompile(`[A-Za-z_$][\w$]*\s*\([^()]*\)`)
	dangerousAccessPattern = regexp.MustCompile(`\b(?:document|window|location|navigator|localStorage)\s*\.\s*[A-Za-z_$]|\beval\s*\(|\bnew\s+Function\s*\(`)
	base64CharsetPattern   = regexp.MustCompile(`^[A-Za-z0-9+/\r\n]+={0,2}$`)
	statementPattern       = regexp.MustCompile(`[;{}]`)
)

var suspiciousWeights = map[string]int{
	"eval":           3,
	"unescape":       2,
	"atob":           2,
	"document.write": 3,
	"fromCharCode":   2,
	"ActiveXObject":  4,
	"WScript":        4,
	"powershell":     4,
	"cmd.exe":        4,
	"iframe":         2,
	"password":       2,
	"cookie":         2,
}

// SuspicionScore weighs keyword and URL hits in s.
func SuspicionScore(s string) int {
	lower := strings.ToLower(s)
	score := 0
	for kw, w := range suspiciousWeights {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += w
		}
	}
	if urlPattern.MatchString(s) {
		score += 3
	}
	return score
}

// LooksLikeJS applies the potential-JS heuristics: keyword density with
// call shapes, dangerous dotted access, or embedded HTML tags.
func LooksLikeJS(s string) bool {
	if dangerousAccessPattern.MatchString(s) || dangerousTagPattern.MatchString(s) {
		return true
	}
	keywords := CountJSKeywords(s)
	calls := len(callShapePattern.FindAllStringIndex(s, 8))
	statements := len(statementPattern.FindAllStringIndex(s, 4))
	return keywords >= 2 && calls >= 1 && statements >= 1
}

// LooksLikeBase64 reports strings longer than 100 characters that fit the
// Base64 alphabet.
func LooksLikeBase64(s string) bool {
	if len(s) <= 100 {
		return false
	}
	return base64CharsetPattern.MatchString(strings.TrimSpace(s))
}

// Classify returns the class of a leftover string value. Potential JS takes
// precedence over Base64, which takes precedence over keyword suspicion.
func Classify(s string) Class {
	switch {
	case LooksLikeJS(s):
		return ClassPotentialJS
	case LooksLikeBase64(s):
		return ClassBase64
	case SuspicionScore(s) >= 7:
		return ClassSuspicious
	default:
		return ClassNone
	}
}
