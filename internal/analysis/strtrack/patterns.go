package strtrack

import (
	"regexp"
	"strings"
)

var (
	// Function names whose appearance inside a string value is suspicious.
	sensitiveFunctionPattern = regexp.MustCompile(`\b(?:eval|Function|setTimeout|setInterval|document\.write|atob|unescape|fromCharCode|execScript)\s*\(`)

	urlPattern = regexp.MustCompile(`(?i)\b(?:https?|ftp|wss?)://[^\s"'<>()\\]+`)

	// _0x1a2b[_0x3c4d % 12] style rotated string arrays.
	arrayShufflePattern = regexp.MustCompile(`_0x[0-9a-fA-F]+\s*\[\s*(?:_0x[0-9a-fA-F]+|\w+)\s*(?:%|-\s*0x[0-9a-fA-F]+)`)

	hexIdentifierPattern = regexp.MustCompile(`\b_0x[0-9a-fA-F]{4,}\b`)

	largeBase64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{1000,}={0,2}`)

	iifePattern = regexp.MustCompile(`\(\s*(?:function\s*\w*\s*\([^)]*\)\s*\{|\([^)]*\)\s*=>)`)

	jsKeywordPattern = regexp.MustCompile(`\b(?:function|var|let|const|return|if|else|for|while|new|this|document|window|typeof|try|catch)\b`)

	dangerousTagPattern = regexp.MustCompile(`(?i)<\s*(?:script|iframe|object|embed|applet|form|meta\s+http-equiv|base)\b`)

	mobileDevicePattern = regexp.MustCompile(`(?i)android|webos|iphone|ipad|ipod|blackberry|iemobile|opera\s*mini`)

	maliciousToolPattern = regexp.MustCompile(`(?i)ActiveXObject|WScript\.Shell|cmd\.exe|powershell|CreateObject`)

	clipboardAPIPattern = regexp.MustCompile(`(?i)navigator\.clipboard|clipboardData|execCommand\s*\(\s*['"]copy['"]|writeText\s*\(`)

	commandLauncherPattern = regexp.MustCompile(`(?i)\b(?:powershell(?:\.exe)?|pwsh|cmd(?:\.exe)?\s*/[ck]|mshta|rundll32|regsvr32|certutil|bitsadmin|wscript|cscript|curl|wget)\b`)

	commandPayloadPattern = regexp.MustCompile(`(?i)-e(?:nc(?:odedcommand)?)?\s+[A-Za-z0-9+/=]{8,}|DownloadString|DownloadFile|Invoke-Expression|\bIEX\b|-w(?:indowstyle)?\s+hidden|https?://|-urlcache|\|\s*(?:bash|sh|iex)`)

	scriptInjectionPattern = regexp.MustCompile(`(?i)createElement\s*\(\s*['"]script['"]\s*\)|document\.write(?:ln)?\s*\(\s*['"]?\s*<\s*script|\.innerHTML\s*=\s*['"]?\s*<\s*script|\.src\s*=\s*['"]https?://`)

	scriptInjectionTriggerPattern = regexp.MustCompile(`(?i)appendChild|insertBefore|\.src\s*=|<\s*script`)

	// The extension must end the URL path.
	remoteFilePattern = regexp.MustCompile(`(?i)((?:https?|ftp)://[^\s"'<>?#]+\.(?:exe|dll|scr|bat|cmd|ps1|vbs|vbe|jse|hta|msi|jar|lnk|wsf|pif|cpl|apk|dmg|iso))(?:[?#"'\s<>),;]|$)`)
)

// IsMaliciousCommand reports whether s combines a command launcher with a
// payload marker.
func IsMaliciousCommand(s string) bool {
	return commandLauncherPattern.MatchString(s) && commandPayloadPattern.MatchString(s)
}

// IsScriptInjection reports whether s builds and injects a script element.
func IsScriptInjection(s string) bool {
	return scriptInjectionPattern.MatchString(s) && scriptInjectionTriggerPattern.MatchString(s)
}

// IsClipboardHijack reports whether s touches the clipboard and carries a
// command payload in the same string.
func IsClipboardHijack(s string) bool {
	return clipboardAPIPattern.MatchString(s) && (commandLauncherPattern.MatchString(s) || commandPayloadPattern.MatchString(s))
}

// RemoteMaliciousFile returns the first URL in s that points at a file with
// a dangerous extension.
func RemoteMaliciousFile(s string) (string, bool) {
	m := remoteFilePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HasMaliciousTool reports references to Windows scripting hosts and shells.
func HasMaliciousTool(s string) bool { return maliciousToolPattern.MatchString(s) }

// HasDangerousTag reports embedded executable or phishing HTML tags.
func HasDangerousTag(s string) bool { return dangerousTagPattern.MatchString(s) }

// ExtractURLs returns every URL-shaped substring of s, in order, deduplicated.
func ExtractURLs(s string) []string {
	matches := urlPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?`")
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// CountJSKeywords returns the number of distinct JS keywords in s.
func CountJSKeywords(s string) int {
	distinct := make(map[string]bool)
	for _, m := range jsKeywordPattern.FindAllString(s, -1) {
		distinct[m] = true
	}
	return len(distinct)
}

// CountHexIdentifiers returns the number of distinct _0x-style identifiers.
func CountHexIdentifiers(s string) int {
	distinct := make(map[string]bool)
	for _, m := range hexIdentifierPattern.FindAllString(s, -1) {
		distinct[m] = true
	}
	return len(distinct)
}
