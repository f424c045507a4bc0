// internal/browser/parser/extractor.go
package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/jsbox/internal/analysis/core"
)

// urlAttributes are the attributes whose values are harvested as URLs.
var urlAttributes = []string{"src", "href", "action", "data", "formaction", "poster", "background", "codebase"}

// scriptTypes are the <script type> values that hold executable JScript or
// JavaScript. Templates, JSON blobs and VBScript are skipped.
var scriptTypes = map[string]bool{
	"":                         true,
	"text/javascript":          true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"text/ecmascript":          true,
	"application/ecmascript":   true,
	"module":                   true,
	"text/jscript":             true,
	"jscript":                  true,
	"javascript":               true,
}

// TagExtractor implements core.TagExtractor with goquery.
type TagExtractor struct{}

var _ core.TagExtractor = TagExtractor{}

func NewTagExtractor() TagExtractor { return TagExtractor{} }

// Extract returns inline script bodies, external script sources and every
// URL-bearing attribute of the markup. Inline event handlers and
// javascript: links count as inline scripts.
func (TagExtractor) Extract(markup string) (core.Extraction, error) {
	var ex core.Extraction
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ex, fmt.Errorf("parse markup: %w", err)
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", s.AttrOr("language", ""))))
		if !scriptTypes[typ] {
			return
		}
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			ex.ExternalScripts = append(ex.ExternalScripts, strings.TrimSpace(src))
			return
		}
		if body := s.Text(); strings.TrimSpace(body) != "" {
			ex.InlineScripts = append(ex.InlineScripts, body)
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		for _, a := range node.Attr {
			key := strings.ToLower(a.Key)
			val := strings.TrimSpace(a.Val)
			switch {
			case val == "":
			case strings.HasPrefix(key, "on"):
				ex.InlineScripts = append(ex.InlineScripts, val)
			case key == "style":
				ex.URLs = append(ex.URLs, URLs(ParseInline(val))...)
			case isURLAttribute(key) && node.Data != "script":
				if js, ok := cutScheme(val, "javascript:"); ok {
					ex.InlineScripts = append(ex.InlineScripts, js)
					continue
				}
				ex.URLs = append(ex.URLs, val)
			}
		}
	})

	doc.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		if !strings.EqualFold(s.AttrOr("http-equiv", ""), "refresh") {
			return
		}
		if target := refreshTarget(s.AttrOr("content", "")); target != "" {
			ex.URLs = append(ex.URLs, target)
		}
	})

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		sheet := NewParser(s.Text()).Parse()
		ex.URLs = append(ex.URLs, sheet.Imports...)
		for _, r := range sheet.Rules {
			ex.URLs = append(ex.URLs, URLs(r.Declarations)...)
		}
	})
	return ex, nil
}

// HiddenStyle reports whether an inline style attribute hides its element.
func HiddenStyle(style string) bool {
	return Hidden(ParseInline(style))
}

func isURLAttribute(key string) bool {
	for _, a := range urlAttributes {
		if a == key {
			return true
		}
	}
	return false
}

func cutScheme(val, scheme string) (string, bool) {
	if len(val) < len(scheme) || !strings.EqualFold(val[:len(scheme)], scheme) {
		return "", false
	}
	return val[len(scheme):], true
}

// refreshTarget pulls the URL out of a meta refresh content value such as
// "0; url=https://example.com/".
func refreshTarget(content string) string {
	_, rest, ok := strings.Cut(content, ";")
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 4 || !strings.EqualFold(rest[:4], "url=") {
		return ""
	}
	return strings.Trim(strings.TrimSpace(rest[4:]), `'"`)
}
