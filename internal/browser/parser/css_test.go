// internal/browser/parser/css_test.go
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to build expected declarations concisely.
func d(prop, val string, important bool) Declaration {
	return Declaration{Property: prop, Value: val, Important: important}
}

func TestParseInline(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Declaration
	}{
		{"Single", "display:none", []Declaration{d("display", "none", false)}},
		{"Trailing semicolon", "width: 0px;", []Declaration{d("width", "0px", false)}},
		{"Important", "visibility: hidden !important", []Declaration{d("visibility", "hidden", true)}},
		{"Upper-case property", "DISPLAY: none", []Declaration{d("display", "none", false)}},
		{"URL with semicolon", `background: url("a;b.png"); color: red`, []Declaration{
			d("background", `url("a;b.png")`, false),
			d("color", "red", false),
		}},
		{"Garbage skipped", "::; width: 1px", []Declaration{d("width", "1px", false)}},
		{"Comment", "/* x */ opacity: 0", []Declaration{d("opacity", "0", false)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseInline(tt.input))
		})
	}
}

func TestParseStyleSheet(t *testing.T) {
	css := `
		@import url("https://cdn.evil.example/kit.css");
		@import 'second.css' screen;
		/* comment */
		@media (max-width: 600px) { body { display: none; } }
		iframe.tracker, .ad { display: none; width: 0 }
		body { background: url(https://evil.example/bg.png) no-repeat; }
		broken {
	`
	sheet := NewParser(css).Parse()

	require.Len(t, sheet.Rules, 2)
	assert.Equal(t, "iframe.tracker, .ad", sheet.Rules[0].Selector)
	assert.Equal(t, []Declaration{d("display", "none", false), d("width", "0", false)}, sheet.Rules[0].Declarations)
	assert.Equal(t, []string{"https://cdn.evil.example/kit.css", "second.css"}, sheet.Imports)
	assert.Equal(t, []string{"https://evil.example/bg.png"}, URLs(sheet.Rules[1].Declarations))
}

func TestHidden(t *testing.T) {
	hidden := []string{
		"display:none",
		"visibility: hidden",
		"opacity:0",
		"width:0;height:0",
		"height: 1px",
		"position:absolute; left:-9999px",
	}
	for _, style := range hidden {
		t.Run("should hide "+style, func(t *testing.T) {
			assert.True(t, HiddenStyle(style))
		})
	}

	visible := []string{"", "display:block", "width:300px", "left:-5px", "opacity: 0.5"}
	for _, style := range visible {
		t.Run("should not hide "+style, func(t *testing.T) {
			assert.False(t, HiddenStyle(style))
		})
	}
}
