// internal/browser/parser/extractor_test.go
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagExtractor_Extract(t *testing.T) {
	markup := `<html><head>
		<meta http-equiv="refresh" content="5; url=https://redirect.example/next">
		<script src="https://cdn.example/lib.js"></script>
		<script>var a = 1;</script>
		<script type="text/template"><div>{{x}}</div></script>
		<script type="application/json">{"a":1}</script>
		<style>@import "https://evil.example/kit.css"; .x { background: url(/img/bg.png) }</style>
	</head><body onload="init()">
		<a href="https://example.com/page">link</a>
		<a href="javascript:steal()">js</a>
		<form action="/collect.php"></form>
		<div style="background-image: url('https://track.example/p.gif')"></div>
		<iframe src="https://frame.example/" width="0"></iframe>
	</body></html>`

	ex, err := NewTagExtractor().Extract(markup)
	require.NoError(t, err)

	t.Run("should collect external scripts", func(t *testing.T) {
		assert.Equal(t, []string{"https://cdn.example/lib.js"}, ex.ExternalScripts)
	})

	t.Run("should collect executable inline scripts and handlers", func(t *testing.T) {
		assert.Contains(t, ex.InlineScripts, "var a = 1;")
		assert.Contains(t, ex.InlineScripts, "init()")
		assert.Contains(t, ex.InlineScripts, "steal()")
		for _, s := range ex.InlineScripts {
			assert.NotContains(t, s, "{{x}}")
			assert.NotContains(t, s, `{"a":1}`)
		}
	})

	t.Run("should collect attribute, style and refresh URLs", func(t *testing.T) {
		for _, u := range []string{
			"https://example.com/page",
			"/collect.php",
			"https://track.example/p.gif",
			"https://frame.example/",
			"https://redirect.example/next",
			"https://evil.example/kit.css",
			"/img/bg.png",
		} {
			assert.Contains(t, ex.URLs, u)
		}
		assert.NotContains(t, ex.URLs, "https://cdn.example/lib.js")
	})
}

func TestTagExtractor_Fragment(t *testing.T) {
	ex, err := NewTagExtractor().Extract(`<img src="x.png" onerror="alert(1)">`)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.png"}, ex.URLs)
	assert.Equal(t, []string{"alert(1)"}, ex.InlineScripts)
	assert.Empty(t, ex.ExternalScripts)
}

func TestRefreshTarget(t *testing.T) {
	assert.Equal(t, "https://a.example/", refreshTarget("0; URL='https://a.example/'"))
	assert.Equal(t, "", refreshTarget("30"))
	assert.Equal(t, "", refreshTarget("0; foo"))
}
