// internal/browser/jsbind/dom.go
package jsbind

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const blankPage = `<html><head><title></title></head><body></body></html>`

// DOM is the mock document tree scripts manipulate. It is a plain
// x/net/html tree queried through htmlquery; there is no layout or style.
type DOM struct {
	s      *Sandbox
	logger *zap.Logger
	root   *html.Node

	// wrappers keeps one JS object per node so identity comparisons in
	// scripts (a === b) behave.
	wrappers map[*html.Node]*Element
}

// NewDOM creates a DOM holding an empty page.
func NewDOM(s *Sandbox) *DOM {
	d := &DOM{
		s:        s,
		logger:   s.logger.Named("dom"),
		wrappers: make(map[*html.Node]*Element),
	}
	if err := d.Load(blankPage); err != nil {
		d.logger.Error("Failed to parse blank page", zap.Error(err))
	}
	return d
}

// Load replaces the tree with a parsed document, typically the sample's
// own HTML so scripts find the elements they expect.
func (d *DOM) Load(src string) error {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	d.root = doc
	d.wrappers = make(map[*html.Node]*Element)
	return nil
}

// Root returns the document node.
func (d *DOM) Root() *html.Node { return d.root }

// Body returns the <body> element, creating nothing if it is missing.
func (d *DOM) Body() *html.Node { return htmlquery.FindOne(d.root, "//body") }

// Head returns the <head> element.
func (d *DOM) Head() *html.Node { return htmlquery.FindOne(d.root, "//head") }

// DocumentElement returns the <html> element.
func (d *DOM) DocumentElement() *html.Node { return htmlquery.FindOne(d.root, "/html") }

// Render serialises the whole document.
func (d *DOM) Render() string {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return ""
	}
	return sb.String()
}

// --- Queries ---

// Query returns the first node under scope matching a CSS selector.
func (d *DOM) Query(scope *html.Node, selector string) (*html.Node, error) {
	xpath, err := d.scopedXPath(scope, selector)
	if err != nil {
		return nil, err
	}
	node, err := htmlquery.Query(scope, xpath)
	if err != nil {
		return nil, NewSelectorError(selector, err)
	}
	return node, nil
}

// QueryAll returns every node under scope matching a CSS selector.
func (d *DOM) QueryAll(scope *html.Node, selector string) ([]*html.Node, error) {
	xpath, err := d.scopedXPath(scope, selector)
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(scope, xpath)
	if err != nil {
		return nil, NewSelectorError(selector, err)
	}
	return nodes, nil
}

func (d *DOM) scopedXPath(scope *html.Node, selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		return "", NewSelectorError(selector, fmt.Errorf("empty selector"))
	}
	xpath := translateCSSToXPath(selector)
	if scope == d.root {
		return xpath, nil
	}
	parts := strings.Split(xpath, " | ")
	for i, p := range parts {
		if !strings.HasPrefix(p, ".") {
			parts[i] = "." + p
		}
	}
	return strings.Join(parts, " | "), nil
}

// ByID returns the element with the given id attribute.
func (d *DOM) ByID(id string) *html.Node {
	if strings.Contains(id, "'") {
		return nil
	}
	return htmlquery.FindOne(d.root, fmt.Sprintf("//*[@id='%s']", id))
}

// ByTagName returns elements under scope with the given tag name.
func (d *DOM) ByTagName(scope *html.Node, tag string) []*html.Node {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || strings.ContainsAny(tag, "'[]/() ") {
		return nil
	}
	nodes, _ := htmlquery.QueryAll(scope, ".//"+tag)
	return nodes
}

// ByClassName returns elements under scope carrying a class.
func (d *DOM) ByClassName(scope *html.Node, class string) []*html.Node {
	if strings.Contains(class, "'") {
		return nil
	}
	xpath := fmt.Sprintf(".//*[contains(concat(' ', normalize-space(@class), ' '), ' %s ')]", strings.TrimSpace(class))
	nodes, _ := htmlquery.QueryAll(scope, xpath)
	return nodes
}

// --- Wrapping ---

// Wrap converts a node into its JS object, reusing the existing wrapper.
func (d *DOM) Wrap(node *html.Node) goja.Value {
	if node == nil {
		return goja.Null()
	}
	if e, ok := d.wrappers[node]; ok {
		return e.Object
	}
	e := newElement(d, node)
	d.wrappers[node] = e
	return e.Object
}

// WrapList converts nodes into a JS array (NodeList equivalent).
func (d *DOM) WrapList(nodes []*html.Node) goja.Value {
	wrapped := make([]interface{}, len(nodes))
	for i, n := range nodes {
		wrapped[i] = d.Wrap(n)
	}
	return d.s.vm.NewArray(wrapped...)
}

// unwrap recovers the Go element behind a JS node object.
func (d *DOM) unwrap(v goja.Value) (*Element, error) {
	if v == nil || goja.IsNull(v) || goja.IsUndefined(v) {
		return nil, fmt.Errorf("node is null or undefined")
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("value is not an object")
	}
	if w := obj.Get(nodeWrapperKey); w != nil {
		if el, ok := w.Export().(*Element); ok {
			return el, nil
		}
	}
	return nil, fmt.Errorf("value is not a recognized DOM Node wrapper")
}

func (d *DOM) mustUnwrap(method string, v goja.Value) *Element {
	el, err := d.unwrap(v)
	if err != nil {
		d.s.throwTypeError("Failed to execute '%s' on 'Node': %v", method, err)
	}
	return el
}

// CreateElement creates a new detached element.
func (d *DOM) CreateElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
}

// --- Helpers ---

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func renderInner(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}

func renderOuter(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func cloneNode(n *html.Node, deep bool) *html.Node {
	if n == nil {
		return nil
	}
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			clone.AppendChild(cloneNode(c, true))
		}
	}
	return clone
}

// parseFragment parses markup in the context of n. The html parser cannot
// use a context node that is not an element, so the body stands in.
func (d *DOM) parseFragment(n *html.Node, markup string) ([]*html.Node, error) {
	ctx := n
	if ctx == nil || ctx.Type != html.ElementNode {
		ctx = d.Body()
	}
	if ctx == nil {
		ctx = &html.Node{Type: html.ElementNode, Data: "body"}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return nodes, nil
}

// translateCSSToXPath provides a rudimentary translation of simple CSS
// selectors: tag, #id, .class, [attr], [attr=value], descendant and child
// combinators, and comma-separated groups.
func translateCSSToXPath(css string) string {
	css = strings.TrimSpace(css)
	if css == "*" {
		return "//*"
	}
	// If it looks like XPath, use it directly.
	if strings.HasPrefix(css, "/") || strings.HasPrefix(css, "./") || strings.HasPrefix(css, "(") {
		return css
	}
	if strings.Contains(css, ",") {
		groups := strings.Split(css, ",")
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			if g = strings.TrimSpace(g); g != "" {
				parts = append(parts, translateCSSToXPath(g))
			}
		}
		return strings.Join(parts, " | ")
	}

	var xpath strings.Builder
	xpath.WriteString("//")
	css = strings.ReplaceAll(css, ">", " > ")
	child := false
	first := true
	for _, part := range strings.Fields(css) {
		if part == ">" {
			child = true
			continue
		}
		if !first {
			if child {
				xpath.WriteString("/")
			} else {
				xpath.WriteString("//")
			}
		}
		first = false
		child = false
		xpath.WriteString(compoundToXPath(part))
	}
	return xpath.String()
}

// compoundToXPath translates one compound selector such as a.link#main[href].
func compoundToXPath(token string) string {
	tagName := "*"
	var predicates []string
	hasExplicitTag := false

	for len(token) > 0 {
		switch token[0] {
		case '#', '.':
			end := strings.IndexAny(token[1:], ".#[")
			if end == -1 {
				end = len(token)
			} else {
				end++
			}
			val := token[1:end]
			if !strings.Contains(val, "'") {
				if token[0] == '#' {
					predicates = append(predicates, fmt.Sprintf("@id='%s'", val))
				} else {
					predicates = append(predicates, fmt.Sprintf("contains(concat(' ', normalize-space(@class), ' '), ' %s ')", val))
				}
			}
			token = token[end:]
		case '[':
			end := strings.IndexByte(token, ']')
			if end == -1 {
				return tagName
			}
			body := token[1:end]
			if k, v, ok := strings.Cut(body, "="); ok {
				v = strings.Trim(v, `"'`)
				if !strings.Contains(v, "'") {
					predicates = append(predicates, fmt.Sprintf("@%s='%s'", strings.TrimSpace(k), v))
				}
			} else if body = strings.TrimSpace(body); body != "" {
				predicates = append(predicates, "@"+body)
			}
			token = token[end+1:]
		default:
			if hasExplicitTag {
				// Pseudo-classes and anything else unsupported end the token.
				token = ""
				continue
			}
			end := strings.IndexAny(token, ".#[:")
			if end == -1 {
				end = len(token)
			}
			if end > 0 {
				tagName = strings.ToLower(token[:end])
			}
			hasExplicitTag = true
			token = token[end:]
			if strings.HasPrefix(token, ":") {
				token = ""
			}
		}
	}

	if len(predicates) == 0 {
		return tagName
	}
	return tagName + "[" + strings.Join(predicates, " and ") + "]"
}
