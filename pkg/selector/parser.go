package selector

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokCompound tokenKind = iota
	tokChild
	tokComma
	tokLParen
	tokRParen
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens. Whitespace is not a token: two
// adjacent compounds imply the descendant combinator.
func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		case c == '>':
			toks = append(toks, token{kind: tokChild, text: ">", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			end, err := scanCompound(expr, i)
			if err != nil {
				return nil, err
			}
			text := expr[i:end]
			switch {
			case text == "and" && keywordBoundary(expr, end):
				toks = append(toks, token{kind: tokAnd, text: text, pos: i})
			case text == "or" && keywordBoundary(expr, end):
				toks = append(toks, token{kind: tokOr, text: text, pos: i})
			default:
				toks = append(toks, token{kind: tokCompound, text: text, pos: i})
			}
			i = end
		}
	}
	return toks, nil
}

func keywordBoundary(expr string, end int) bool {
	return end == len(expr) || unicode.IsSpace(rune(expr[end])) || expr[end] == '('
}

// scanCompound returns the end offset of the compound starting at i. Brackets,
// parentheses and quotes nest inside a compound.
func scanCompound(expr string, i int) (int, error) {
	depth := 0
	var quote byte
	start := i
	for i < len(expr) {
		c := expr[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(expr) {
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[', '(':
			depth++
		case ']', ')':
			if depth == 0 {
				if c == ')' {
					return i, nil
				}
				return 0, fmt.Errorf("unbalanced %q at offset %d", c, i)
			}
			depth--
		case ' ', '\t', '\n', '\r', '\f', '>', ',':
			if depth == 0 {
				return i, nil
			}
		}
		i++
	}
	if quote != 0 {
		return 0, fmt.Errorf("unterminated string starting near offset %d", start)
	}
	if depth != 0 {
		return 0, fmt.Errorf("unterminated bracket in %q", expr[start:])
	}
	return i, nil
}

// expr is a node of the parsed selector.
type expr interface {
	eval(ev *evaluation) []*item
}

type groupExpr struct{ parts []expr }

type andExpr struct{ parts []expr }

type orExpr struct{ parts []expr }

type step struct {
	child    bool
	compound *compound
}

type pathExpr struct {
	rooted bool
	steps  []step
}

type parser struct {
	toks []token
	pos  int
	src  string
}

func parse(src string) (expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	p := &parser{toks: toks, src: src}
	e, err := p.group()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		t := p.toks[p.pos]
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	return e, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) group() (expr, error) {
	first, err := p.or()
	if err != nil {
		return nil, err
	}
	parts := []expr{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokComma {
			break
		}
		p.pos++
		next, err := p.or()
		if err != nil {
			return nil, err
		}
		parts = append(parts, next)
	}
	if len(parts) == 1 {
		return first, nil
	}
	return &groupExpr{parts: parts}, nil
}

func (p *parser) or() (expr, error) {
	first, err := p.and()
	if err != nil {
		return nil, err
	}
	parts := []expr{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.and()
		if err != nil {
			return nil, err
		}
		parts = append(parts, next)
	}
	if len(parts) == 1 {
		return first, nil
	}
	return &orExpr{parts: parts}, nil
}

func (p *parser) and() (expr, error) {
	first, err := p.primary()
	if err != nil {
		return nil, err
	}
	parts := []expr{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		next, err := p.primary()
		if err != nil {
			return nil, err
		}
		parts = append(parts, next)
	}
	if len(parts) == 1 {
		return first, nil
	}
	return &andExpr{parts: parts}, nil
}

func (p *parser) primary() (expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of selector %q", p.src)
	}
	if t.kind == tokLParen {
		p.pos++
		e, err := p.group()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("missing ')' in %q", p.src)
		}
		p.pos++
		return e, nil
	}
	return p.path()
}

func (p *parser) path() (expr, error) {
	path := &pathExpr{}
	child := false
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		if t.kind == tokChild {
			if child {
				return nil, fmt.Errorf("repeated '>' at offset %d", t.pos)
			}
			child = true
			p.pos++
			continue
		}
		if t.kind != tokCompound {
			break
		}
		p.pos++
		if len(path.steps) == 0 && !child && !path.rooted && t.text == ":root" {
			path.rooted = true
			continue
		}
		c, err := newCompound(t.text)
		if err != nil {
			return nil, err
		}
		path.steps = append(path.steps, step{child: child, compound: c})
		child = false
	}
	if child {
		return nil, fmt.Errorf("dangling '>' in %q", p.src)
	}
	if len(path.steps) == 0 && !path.rooted {
		t, ok := p.peek()
		if ok {
			return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
		}
		return nil, fmt.Errorf("unexpected end of selector %q", p.src)
	}
	return path, nil
}

// unquote strips matching single or double quotes and resolves backslash
// escapes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	} else {
		return s
	}
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
