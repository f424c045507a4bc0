// internal/browser/parser/css.go
package parser

import (
	"regexp"
	"strings"
)

// Declaration is a key-value pair (e.g., display: none).
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// Rule is one rule set. Selectors are kept as written; the sandbox only
// needs to know what a rule declares, not which nodes it matches.
type Rule struct {
	Selector     string
	Declarations []Declaration
}

// StyleSheet is what Parse yields for a <style> block.
type StyleSheet struct {
	Rules   []Rule
	Imports []string
}

var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// Parser holds the state of the CSS parser.
type Parser struct {
	input string
	pos   int
	sheet StyleSheet
}

func NewParser(input string) *Parser {
	return &Parser{input: input}
}

// Parse reads a style sheet. Malformed rules are skipped, never fatal.
func (p *Parser) Parse() StyleSheet {
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		if p.currentChar() == '@' {
			p.parseAtRule()
			continue
		}

		start := p.pos
		p.skipTo('{')
		if p.eof() {
			break
		}
		selector := strings.TrimSpace(p.input[start:p.pos])
		p.consumeChar()
		decls := p.parseDeclarations('}')
		if selector != "" && len(decls) > 0 {
			p.sheet.Rules = append(p.sheet.Rules, Rule{Selector: selector, Declarations: decls})
		}
	}
	return p.sheet
}

// ParseInline reads the value of a style attribute.
func ParseInline(style string) []Declaration {
	p := NewParser(style)
	return p.parseDeclarations(0)
}

// parseDeclarations reads declarations until the closing byte (or EOF
// when closing is 0) and consumes it.
func (p *Parser) parseDeclarations(closing byte) []Declaration {
	var decls []Declaration
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if closing != 0 && p.currentChar() == closing {
			p.consumeChar()
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		if d, ok := p.parseDeclaration(); ok {
			decls = append(decls, d)
		}
	}
	return decls
}

// parseDeclaration parses a single 'property: value;' pair.
func (p *Parser) parseDeclaration() (Declaration, bool) {
	if !isIdentStart(p.currentChar()) {
		p.skipTo(';', '}')
		if p.currentChar() == ';' {
			p.consumeChar()
		}
		return Declaration{}, false
	}
	prop := strings.ToLower(p.parseIdentifier())
	p.consumeWhitespace()
	if p.currentChar() != ':' {
		p.skipTo(';', '}')
		if p.currentChar() == ';' {
			p.consumeChar()
		}
		return Declaration{}, false
	}
	p.consumeChar()
	p.consumeWhitespace()

	val := p.parseValue()
	important := false
	if strings.HasSuffix(strings.ToLower(val), "!important") {
		important = true
		val = strings.TrimSpace(val[:len(val)-len("!important")])
	}
	if p.currentChar() == ';' {
		p.consumeChar()
	}
	return Declaration{Property: prop, Value: val, Important: important}, val != ""
}

// parseValue reads a CSS value until a delimiter. Quoted strings and
// parenthesised groups (url(...), calc(...)) are taken whole.
func (p *Parser) parseValue() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == ';' || ch == '}' {
			break
		}
		switch ch {
		case '"', '\'':
			p.skipQuotedString(ch)
		case '(':
			p.consumeChar()
			p.skipBlock('(', ')')
		default:
			p.pos++
		}
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

// parseAtRule records @import targets and skips everything else,
// including the bodies of @media and @keyframes.
func (p *Parser) parseAtRule() {
	p.consumeChar()
	name := strings.ToLower(p.parseIdentifier())
	start := p.pos
	for !p.eof() {
		switch p.currentChar() {
		case '{':
			p.consumeChar()
			p.skipBlock('{', '}')
			return
		case ';':
			if name == "import" {
				p.sheet.Imports = append(p.sheet.Imports, importTarget(p.input[start:p.pos]))
			}
			p.consumeChar()
			return
		}
		p.pos++
	}
}

func importTarget(prelude string) string {
	if m := cssURLPattern.FindStringSubmatch(prelude); m != nil {
		return m[1]
	}
	fields := strings.Fields(prelude)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], `'"`)
}

// --- Queries ---

// Hidden reports whether the declarations take an element out of view.
func Hidden(decls []Declaration) bool {
	for _, d := range decls {
		v := strings.ToLower(strings.ReplaceAll(d.Value, " ", ""))
		switch d.Property {
		case "display":
			if v == "none" {
				return true
			}
		case "visibility":
			if v == "hidden" || v == "collapse" {
				return true
			}
		case "opacity":
			if v == "0" || v == "0.0" {
				return true
			}
		case "width", "height":
			if v == "0" || v == "0px" || v == "1px" {
				return true
			}
		case "left", "top":
			if strings.HasPrefix(v, "-") && len(v) > 4 {
				// Off-screen positioning such as left:-9999px.
				return true
			}
		}
	}
	return false
}

// URLs returns every url(...) referenced by the declarations.
func URLs(decls []Declaration) []string {
	var out []string
	for _, d := range decls {
		for _, m := range cssURLPattern.FindAllStringSubmatch(d.Value, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

// --- Lexer-like Helpers ---

func (p *Parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *Parser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) consumeChar() byte {
	ch := p.currentChar()
	if !p.eof() {
		p.pos++
	}
	return ch
}

func (p *Parser) consumeWhitespace() {
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
}

func (p *Parser) startsWith(s string) bool {
	return strings.HasPrefix(p.input[p.pos:], s)
}

func (p *Parser) skipComment() {
	p.pos += 2
	if end := strings.Index(p.input[p.pos:], "*/"); end >= 0 {
		p.pos += end + 2
		return
	}
	p.pos = len(p.input)
}

func (p *Parser) skipTo(targets ...byte) {
	for !p.eof() {
		if strings.IndexByte(string(targets), p.currentChar()) >= 0 {
			return
		}
		p.pos++
	}
}

// skipBlock consumes up to and including the byte that closes an already
// opened block.
func (p *Parser) skipBlock(open, close byte) {
	depth := 1
	for !p.eof() {
		switch p.consumeChar() {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *Parser) skipQuotedString(quote byte) {
	p.consumeChar()
	for !p.eof() {
		ch := p.consumeChar()
		if ch == '\\' {
			p.consumeChar()
		} else if ch == quote {
			return
		}
	}
}

func (p *Parser) parseIdentifier() string {
	start := p.pos
	for !p.eof() && isIdentChar(p.currentChar()) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
