package jsbind

import (
	"net/url"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// cookie is one stored name/value pair plus the attributes that matter for
// severity.
type cookie struct {
	Value    string
	HTTPOnly bool
	Secure   bool
}

type cookieJar struct {
	order   []string
	entries map[string]cookie
}

func newCookieJar() *cookieJar {
	return &cookieJar{entries: make(map[string]cookie)}
}

// Set parses a Set-Cookie style string. It returns the cookie name and the
// parsed cookie; an expired or Max-Age<=0 cookie is removed.
func (j *cookieJar) Set(raw string) (string, cookie) {
	parts := strings.Split(raw, ";")
	name, value, _ := strings.Cut(parts[0], "=")
	name = strings.TrimSpace(name)
	c := cookie{Value: strings.TrimSpace(value)}
	remove := false
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "httponly":
			c.HTTPOnly = true
		case "secure":
			c.Secure = true
		case "max-age":
			if strings.HasPrefix(strings.TrimSpace(v), "-") || strings.TrimSpace(v) == "0" {
				remove = true
			}
		}
	}
	if name == "" {
		return name, c
	}
	if remove {
		delete(j.entries, name)
		for i, n := range j.order {
			if n == name {
				j.order = append(j.order[:i], j.order[i+1:]...)
				break
			}
		}
		return name, c
	}
	// HttpOnly cookies are never visible to document.cookie.
	if c.HTTPOnly {
		return name, c
	}
	if _, ok := j.entries[name]; !ok {
		j.order = append(j.order, name)
	}
	j.entries[name] = c
	return name, c
}

// String renders the jar the way document.cookie reads.
func (j *cookieJar) String() string {
	parts := make([]string, 0, len(j.order))
	for _, n := range j.order {
		parts = append(parts, n+"="+j.entries[n].Value)
	}
	return strings.Join(parts, "; ")
}

// jwtEvidence adds the claims of a JWT-shaped value to meta. The token is
// parsed without verification; only its shape and claim names matter.
func jwtEvidence(value string, meta *jsvalue.Map) bool {
	if strings.Count(value, ".") != 2 || len(value) < 20 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return false
	}
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	meta.Set("jwt", jsvalue.Bool(true))
	meta.Set("jwt_claims", jsvalue.Strings(keys...))
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		meta.Set("jwt_subject", jsvalue.String(sub))
	}
	return true
}

func installDocument(s *Sandbox) error {
	d := s.dom
	doc := s.hostObject("HTMLDocument")
	listeners := make(map[string][]goja.Value)

	doc.Set("nodeType", 9)
	doc.Set("nodeName", "#document")
	doc.Set("readyState", "complete")
	doc.Set("characterSet", "UTF-8")
	doc.Set("contentType", "text/html")
	doc.Set("compatMode", "CSS1Compat")
	doc.Set("visibilityState", "visible")
	doc.Set("hidden", false)

	s.accessor(doc, "cookie", s.readCookie, s.writeCookie)
	s.accessor(doc, "referrer", func() goja.Value {
		ref := s.browser.Referrer
		if s.allow("document.referrer") {
			s.record(dynamic.EventEnvironmentDetection, "document.referrer", nil, jsvalue.String(ref), 1, nil)
			s.chain("document.referrer", nil, jsvalue.String(ref))
		}
		return s.vm.ToValue(ref)
	}, nil)
	s.accessor(doc, "domain", func() goja.Value { return s.vm.ToValue(pageHost(s.browser.PageURL)) }, nil)
	s.accessor(doc, "URL", func() goja.Value { return s.vm.ToValue(s.browser.PageURL) }, nil)
	s.accessor(doc, "documentURI", func() goja.Value { return s.vm.ToValue(s.browser.PageURL) }, nil)
	s.accessor(doc, "title", func() goja.Value {
		if t := d.byTag("title"); t != nil {
			return s.vm.ToValue(textOf(t))
		}
		return s.vm.ToValue("")
	}, func(v goja.Value) {
		if t := d.byTag("title"); t != nil {
			removeChildren(t)
			t.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
		}
	})

	s.accessor(doc, "body", func() goja.Value { return d.Wrap(d.Body()) }, nil)
	s.accessor(doc, "head", func() goja.Value { return d.Wrap(d.Head()) }, nil)
	s.accessor(doc, "documentElement", func() goja.Value { return d.Wrap(d.DocumentElement()) }, nil)
	s.accessor(doc, "currentScript", func() goja.Value {
		if n := d.byTag("script"); n != nil {
			return d.Wrap(n)
		}
		return goja.Null()
	}, nil)
	for prop, tag := range map[string]string{"forms": "form", "scripts": "script", "images": "img", "links": "a", "embeds": "embed"} {
		tag := tag
		s.accessor(doc, prop, func() goja.Value { return d.WrapList(d.ByTagName(d.Root(), tag)) }, nil)
	}

	doc.Set("write", s.documentWrite("document.write", false))
	doc.Set("writeln", s.documentWrite("document.writeln", true))
	doc.Set("open", s.noop(func() goja.Value { return doc }))
	doc.Set("close", s.noop(nil))

	doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(argString(call, 0))
		if tag == "" || strings.ContainsAny(tag, "<> ") {
			s.throwTypeError("Failed to execute 'createElement' on 'Document': The tag name provided ('%s') is not a valid name.", tag)
		}
		if tag == "script" || tag == "iframe" {
			if s.allow("document.createElement") {
				s.record(dynamic.EventDOMManipulation, "document.createElement", s.values(call.Arguments), jsvalue.Undefined(), 2,
					jsvalue.MapOf("tag", tag))
			}
		}
		return d.Wrap(d.CreateElement(tag))
	})
	doc.Set("createElementNS", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(d.CreateElement(argString(call, 1)))
	})
	doc.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(&html.Node{Type: html.TextNode, Data: argString(call, 0)})
	})
	doc.Set("createComment", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(&html.Node{Type: html.CommentNode, Data: argString(call, 0)})
	})
	doc.Set("createDocumentFragment", func(goja.FunctionCall) goja.Value {
		return d.Wrap(&html.Node{Type: html.DocumentNode})
	})
	doc.Set("createEvent", func(call goja.FunctionCall) goja.Value {
		evt := s.newEvent("", goja.Null())
		evt.Set("initEvent", func(c goja.FunctionCall) goja.Value {
			evt.Set("type", argString(c, 0))
			return goja.Undefined()
		})
		return evt
	})

	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(d.ByID(argString(call, 0)))
	})
	doc.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.WrapList(d.ByTagName(d.Root(), argString(call, 0)))
	})
	doc.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		return d.WrapList(d.ByClassName(d.Root(), argString(call, 0)))
	})
	doc.Set("getElementsByName", func(call goja.FunctionCall) goja.Value {
		nodes, _ := d.QueryAll(d.Root(), "[name='"+argString(call, 0)+"']")
		return d.WrapList(nodes)
	})
	doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		n, err := d.Query(d.Root(), argString(call, 0))
		if err != nil {
			s.throwTypeError("%v", err)
		}
		return d.Wrap(n)
	})
	doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		nodes, err := d.QueryAll(d.Root(), argString(call, 0))
		if err != nil {
			s.throwTypeError("%v", err)
		}
		return d.WrapList(nodes)
	})

	doc.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := strings.ToLower(argString(call, 0))
		fn := call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}
		listeners[typ] = append(listeners[typ], fn)
		s.listenerAdded("document.addEventListener", typ, "document")
		// The page is already loaded, so load-time listeners run from the
		// job queue right away.
		if typ == "domcontentloaded" || typ == "readystatechange" || typ == "load" {
			s.jobs.Enqueue("document."+typ, func() error {
				_, err := s.callback(core.FamilyEvent, fn, doc, s.newEvent(typ, doc))
				return err
			})
		}
		return goja.Undefined()
	})
	doc.Set("removeEventListener", s.noop(nil))
	doc.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		typ := strings.ToLower(s.optString(call.Argument(0), "type"))
		for _, fn := range append([]goja.Value(nil), listeners[typ]...) {
			s.invoke(core.FamilyEvent, fn, doc, call.Argument(0))
		}
		return s.vm.ToValue(true)
	})

	doc.Set("execCommand", func(call goja.FunctionCall) goja.Value {
		cmd := strings.ToLower(argString(call, 0))
		if cmd == "copy" || cmd == "cut" || cmd == "paste" {
			if s.allow("document.execCommand") {
				s.record(dynamic.EventClipboardAccess, "document.execCommand", s.values(call.Arguments), jsvalue.Bool(true), 4,
					jsvalue.MapOf("command", cmd))
			}
		}
		return s.vm.ToValue(true)
	})
	doc.Set("hasFocus", s.noop(func() goja.Value { return s.vm.ToValue(true) }))
	doc.Set("getSelection", s.noop(func() goja.Value {
		sel := s.hostObject("Selection")
		sel.Set("toString", s.noop(func() goja.Value { return s.vm.ToValue("") }))
		sel.Set("removeAllRanges", s.noop(nil))
		sel.Set("addRange", s.noop(nil))
		return sel
	}))
	doc.Set("createRange", s.noop(func() goja.Value { return s.fallback("Range", 1) }))

	return s.setGlobal("document", doc)
}

// --- Cookies ---

func (s *Sandbox) readCookie() goja.Value {
	jar := s.cookies.String()
	if s.allow("document.cookie.read") {
		s.record(dynamic.EventCookieAccess, "document.cookie.read", nil, jsvalue.String(jar), 2,
			jsvalue.MapOf("cookies", len(s.cookies.order)))
		s.chain("document.cookie.read", nil, jsvalue.String(jar))
	}
	return s.vm.ToValue(jar)
}

// writeCookie scores a cookie assignment: the storage heuristics on its
// name and value, plus one point each for missing HttpOnly and Secure.
func (s *Sandbox) writeCookie(v goja.Value) {
	raw := v.String()
	name, c := s.cookies.Set(raw)
	if !s.allow("document.cookie.write") {
		return
	}
	sev, meta := storageScore(name, c.Value)
	if !c.HTTPOnly {
		sev++
	}
	if !c.Secure {
		sev++
	}
	sev = clamp(sev, 0, 10)
	meta.Set("name", jsvalue.String(name))
	meta.Set("http_only", jsvalue.Bool(c.HTTPOnly))
	meta.Set("secure", jsvalue.Bool(c.Secure))
	if jwtEvidence(c.Value, meta) {
		s.reportJWT("document.cookie", name, meta)
	}

	args := []jsvalue.Value{jsvalue.String(raw)}
	s.record(dynamic.EventCookieAccess, "document.cookie.write", args, jsvalue.Undefined(), sev, meta)
	s.track(raw, "document.cookie.write")
}

// --- document.write ---

func (s *Sandbox) documentWrite(name string, newline bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		markup := strings.Join(parts, "")
		if newline {
			markup += "\n"
		}
		s.writeHTML(name, markup, s.values(call.Arguments))

		body := s.dom.Body()
		if body == nil {
			return goja.Undefined()
		}
		nodes, err := s.dom.parseFragment(body, markup)
		if err != nil {
			return goja.Undefined()
		}
		for _, n := range nodes {
			body.AppendChild(n)
		}
		return goja.Undefined()
	}
}

// --- Helpers ---

func (d *DOM) byTag(tag string) *html.Node {
	nodes := d.ByTagName(d.Root(), tag)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func pageHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// reportJWT records a finding when a JWT-shaped value moves through a
// storage API.
func (s *Sandbox) reportJWT(api, key string, meta *jsvalue.Map) {
	if v, _ := meta.Get("jwt"); !v.AsBool() {
		return
	}
	s.finding(schemas.NewDetection("jwt_in_client_storage", 5, api+" handled a JSON Web Token").
		WithSnippet(key).WithFeature("key", key))
}
