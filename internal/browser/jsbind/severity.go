package jsbind

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// Heuristics shared by several API families. Each family still owns its
// own formula; these are the signals they add up.

var sensitiveKeywords = []string{
	"password", "passwd", "token", "session", "auth", "secret", "credential",
	"apikey", "api_key", "jwt", "ssn", "private_key", "credit", "card", "cvv",
}

var criticalKeywords = []string{
	"password", "passwd", "ssn", "private_key", "privatekey", "credit_card",
	"card_number", "cvv", "secret",
}

var (
	obfuscationMarkerPattern = regexp.MustCompile(`fromCharCode|atob\s*\(|eval\s*\(`)
	base64BlobPattern        = regexp.MustCompile(`[A-Za-z0-9+/]{100,}={0,2}`)
	externalURLPattern       = regexp.MustCompile(`(?i)(?:https?:)?//[a-z0-9.-]+\.[a-z]{2,}`)
	formTagPattern           = regexp.MustCompile(`(?i)<\s*form\b`)
	encodingMarkerPattern    = regexp.MustCompile(`(?i)btoa|atob|base64`)
)

func findKeyword(s string, keywords []string) (string, bool) {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

func sensitiveKeyword(s string) (string, bool) { return findKeyword(s, sensitiveKeywords) }
func criticalKeyword(s string) (string, bool)  { return findKeyword(s, criticalKeywords) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// --- HTML content (document.write, innerHTML) ---

// htmlScore is the additive severity of HTML written into the page.
type htmlScore struct {
	Severity      int
	DangerousTags bool
	Obfuscation   bool
	Base64        bool
	Form          bool
	ExternalURL   bool
}

func scoreHTML(content string) htmlScore {
	var h htmlScore
	if strtrack.HasDangerousTag(content) {
		h.DangerousTags = true
		h.Severity += 3
	}
	if obfuscationMarkerPattern.MatchString(content) {
		h.Obfuscation = true
		h.Severity += 2
	}
	if base64BlobPattern.MatchString(content) {
		h.Base64 = true
		h.Severity += 2
	}
	if formTagPattern.MatchString(content) {
		h.Form = true
		h.Severity += 2
	}
	if externalURLPattern.MatchString(content) {
		h.ExternalURL = true
		h.Severity += 1
	}
	h.Severity = clamp(h.Severity, 0, 13)
	if h.Severity < 1 {
		h.Severity = 1
	}
	return h
}

func (h htmlScore) metadata(length int) *jsvalue.Map {
	return jsvalue.MapOf(
		"dangerous_tags", h.DangerousTags,
		"obfuscation", h.Obfuscation,
		"base64_blob", h.Base64,
		"form", h.Form,
		"external_url", h.ExternalURL,
		"length", length,
	)
}

// --- Storage and cookies ---

// storageScore rates a key/value pair written to or read from client-side
// storage.
func storageScore(key, value string) (int, *jsvalue.Map) {
	sev := 0
	meta := jsvalue.NewMap()
	if k, ok := sensitiveKeyword(key); ok {
		sev += 3
		meta.Set("sensitive_key", jsvalue.String(k))
	}
	if k, ok := sensitiveKeyword(value); ok {
		sev += 3
		meta.Set("sensitive_value", jsvalue.String(k))
	}
	critical, ok := criticalKeyword(key)
	if !ok {
		critical, ok = criticalKeyword(value)
	}
	if ok {
		sev += 4
		meta.Set("critical_keyword", jsvalue.String(critical))
	}
	return clamp(sev, 0, 10), meta
}

// --- Network ---

const (
	excessiveCallThreshold  = 1000
	excessiveTaintThreshold = 100
)

// networkScore rates an outbound request.
type networkScore struct {
	Severity         int
	Sensitive        bool
	ExcessiveCalls   bool
	ExcessiveTaint   bool
	SuspiciousDomain bool
	Encoding         bool
}

func (n networkScore) flagged() bool { return n.ExcessiveCalls || n.ExcessiveTaint }

func (n networkScore) metadata(target string) *jsvalue.Map {
	return jsvalue.MapOf(
		"url", target,
		"sensitive", n.Sensitive,
		"excessive_function_calls", n.ExcessiveCalls,
		"excessive_taint", n.ExcessiveTaint,
		"suspicious_domain", n.SuspiciousDomain,
		"encoding", n.Encoding,
	)
}

func scoreNetwork(target, body string, priorCalls, taintCount int) networkScore {
	var n networkScore
	if _, ok := sensitiveKeyword(body); ok {
		n.Sensitive = true
	} else if u, err := url.Parse(target); err == nil {
		if _, ok := sensitiveKeyword(u.RawQuery); ok {
			n.Sensitive = true
		}
	}
	if n.Sensitive {
		n.Severity += 3
	}
	if priorCalls >= excessiveCallThreshold {
		n.ExcessiveCalls = true
		n.Severity += 2
	}
	if taintCount >= excessiveTaintThreshold {
		n.ExcessiveTaint = true
		n.Severity += 2
	}
	if suspiciousDomain(target) {
		n.SuspiciousDomain = true
		n.Severity += 2
	}
	if encodingMarkerPattern.MatchString(body) {
		n.Encoding = true
		n.Severity += 1
	}
	n.Severity = clamp(n.Severity, 0, 10)
	if n.ExcessiveCalls {
		n.Severity = 10
	}
	return n
}

// suspiciousDomain flags plain HTTP, .ru/.cn hosts and hosts with more than
// three dots.
func suspiciousDomain(target string) bool {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Scheme, "http") {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasSuffix(host, ".ru") || strings.HasSuffix(host, ".cn") {
		return true
	}
	return strings.Count(host, ".") > 3
}
