package selector

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// compound is one simple-selector sequence such as `.name`, `li.item` or
// `string:contains('x')`. It is compiled for each backend on first use, so a
// selector that only ever meets object data never has to be valid CSS.
type compound struct {
	raw string

	treeOnce sync.Once
	tree     cascadia.Selector
	treeErr  error

	objOnce sync.Once
	obj     []objTest
	objErr  error
}

func newCompound(raw string) (*compound, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty compound selector")
	}
	return &compound{raw: raw}, nil
}

func (c *compound) matchNode(n *html.Node) (bool, error) {
	c.treeOnce.Do(func() {
		c.tree, c.treeErr = cascadia.Compile(c.raw)
	})
	if c.treeErr != nil {
		return false, c.treeErr
	}
	return c.tree.Match(n), nil
}

func (c *compound) matchObject(it *item) (bool, error) {
	c.objOnce.Do(func() {
		c.obj, c.objErr = parseObjectCompound(c.raw)
	})
	if c.objErr != nil {
		return false, c.objErr
	}
	for _, t := range c.obj {
		if !t(it) {
			return false, nil
		}
	}
	return true, nil
}

type objTest func(it *item) bool

var typeNames = map[string]valueKind{
	"string":  kindString,
	"number":  kindNumber,
	"boolean": kindBool,
	"object":  kindObject,
}

func parseObjectCompound(raw string) ([]objTest, error) {
	var tests []objTest
	s := raw
	for s != "" {
		switch {
		case s[0] == '*':
			s = s[1:]
		case s[0] == '.':
			key, rest, err := readName(s[1:])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", raw, err)
			}
			tests = append(tests, func(it *item) bool { return it.hasKey && it.key == key })
			s = rest
		case s[0] == '[':
			end := closingBracket(s)
			if end < 0 {
				return nil, fmt.Errorf("%s: unterminated attribute test", raw)
			}
			t, err := parseAttrTest(s[1:end])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", raw, err)
			}
			tests = append(tests, t)
			s = s[end+1:]
		case s[0] == ':':
			t, rest, err := parsePseudo(s[1:])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", raw, err)
			}
			tests = append(tests, t)
			s = rest
		default:
			name, rest, err := readName(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", raw, err)
			}
			kind, ok := typeNames[name]
			if !ok {
				return nil, fmt.Errorf("%s: unknown type %q", raw, name)
			}
			tests = append(tests, func(it *item) bool { return it.kind == kind })
			s = rest
		}
	}
	return tests, nil
}

// readName reads an identifier or a quoted string from the front of s.
func readName(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("missing name")
	}
	if s[0] == '"' || s[0] == '\'' {
		q := s[0]
		for i := 1; i < len(s); i++ {
			if s[i] == '\\' {
				i++
				continue
			}
			if s[i] == q {
				return unquote(s[:i+1]), s[i+1:], nil
			}
		}
		return "", "", fmt.Errorf("unterminated string")
	}
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '$') {
			break
		}
		i += size
	}
	if i == 0 {
		return "", "", fmt.Errorf("expected name at %q", s)
	}
	return s[:i], s[i:], nil
}

func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func parseAttrTest(body string) (objTest, error) {
	body = strings.TrimSpace(body)
	prop, rest, err := readName(body)
	if err != nil {
		return nil, err
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return func(it *item) bool { return it.child(prop) != nil }, nil
	}

	negate := false
	switch {
	case strings.HasPrefix(rest, "!="):
		negate = true
		rest = rest[2:]
	case strings.HasPrefix(rest, "="):
		rest = rest[1:]
	default:
		return nil, fmt.Errorf("unsupported attribute operator in [%s]", body)
	}
	want := unquote(strings.TrimSpace(rest))

	return func(it *item) bool {
		c := it.child(prop)
		equal := c != nil && c.kind != kindObject && c.text() == want
		if negate {
			return it.kind == kindObject && !equal
		}
		return equal
	}, nil
}

func parsePseudo(s string) (objTest, string, error) {
	name, rest, err := readName(s)
	if err != nil {
		return nil, "", err
	}
	var arg string
	hasArg := false
	if rest != "" && rest[0] == '(' {
		depth := 0
		end := -1
		var quote byte
		for i := 0; i < len(rest) && end < 0; i++ {
			c := rest[i]
			switch {
			case quote != 0:
				if c == '\\' {
					i++
				} else if c == quote {
					quote = 0
				}
			case c == '"' || c == '\'':
				quote = c
			case c == '(':
				depth++
			case c == ')':
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end < 0 {
			return nil, "", fmt.Errorf("unterminated :%s(", name)
		}
		arg = unquote(strings.TrimSpace(rest[1:end]))
		hasArg = true
		rest = rest[end+1:]
	}

	needArg := func() error {
		if !hasArg {
			return fmt.Errorf(":%s needs an argument", name)
		}
		return nil
	}

	switch name {
	case "first-child":
		return func(it *item) bool { return it.inArray && it.index == 0 }, rest, nil
	case "last-child":
		return func(it *item) bool { return it.inArray && it.index == it.arrayLen-1 }, rest, nil
	case "only-child":
		return func(it *item) bool { return it.inArray && it.arrayLen == 1 }, rest, nil
	case "empty":
		return func(it *item) bool { return it.kind == kindObject && len(it.children) == 0 }, rest, nil
	case "root":
		return func(it *item) bool { return it.parent == nil }, rest, nil
	case "contains":
		if err := needArg(); err != nil {
			return nil, "", err
		}
		return func(it *item) bool { return it.kind == kindString && strings.Contains(it.text(), arg) }, rest, nil
	case "val":
		if err := needArg(); err != nil {
			return nil, "", err
		}
		return func(it *item) bool { return it.kind != kindObject && it.text() == arg }, rest, nil
	default:
		return nil, "", fmt.Errorf("unsupported pseudo-class :%s", name)
	}
}
