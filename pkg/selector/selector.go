// Package selector evaluates CSS-like selector expressions against either an
// object graph (maps, slices, structs and primitives) or a golang.org/x/net/html
// tree. It is the query collaborator of the template engine: the engine hands
// it a data value and an expression and gets back the ordered matches.
//
// Object data is addressed by key: `.name` matches every value stored under
// the key "name" below the context, `.a > .b` requires b to be a direct child
// of a. Lists are transparent, so `.items` matches each element of an items
// list rather than the list itself. Markup data is addressed with ordinary
// CSS compounds, matched by cascadia.
//
// Expressions may be grouped with commas and combined with the keywords `and`
// and `or`; parentheses override precedence. A leading `:root` anchors the
// path at Options.Root instead of the context value.
package selector

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/net/html"
)

// Match is one value found by a selector.
type Match struct {
	// Value is the matched value: a primitive, an object, or an *html.Node.
	Value any
	// Key is the name the value was found under. Elements of a list carry
	// the list's key; markup nodes carry their tag name.
	Key string
	// Index is the position inside the enclosing list, or -1.
	Index int
}

// Node returns the match as a markup node when it is one.
func (m Match) Node() (*html.Node, bool) {
	n, ok := m.Value.(*html.Node)
	return n, ok && n != nil
}

// Options tune a single evaluation.
type Options struct {
	// Root is what a leading :root refers to. When nil the context is used.
	Root any
	// Self makes the context value itself a candidate, not only its
	// descendants.
	Self bool
	// Key is the name the context value was bound under. It lets `.name`
	// match the context itself when Self is set.
	Key string
}

// Selector is a compiled expression. It is safe for concurrent use.
type Selector struct {
	src  string
	expr expr
}

var cache sync.Map

// Compile parses an expression. Compiled selectors are cached by their
// source text.
func Compile(src string) (*Selector, error) {
	if s, ok := cache.Load(src); ok {
		return s.(*Selector), nil
	}
	e, err := parse(src)
	if err != nil {
		return nil, &SyntaxError{Selector: src, Reason: err.Error()}
	}
	s, _ := cache.LoadOrStore(src, &Selector{src: src, expr: e})
	return s.(*Selector), nil
}

// MustCompile is like Compile but panics on a syntax error.
func MustCompile(src string) *Selector {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Select compiles src and evaluates it against context.
func Select(context any, src string, opts Options) ([]Match, error) {
	s, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return s.Select(context, opts)
}

// String returns the source text.
func (s *Selector) String() string { return s.src }

// Select evaluates the selector against context. Matches are returned in
// document order without duplicates.
func (s *Selector) Select(context any, opts Options) ([]Match, error) {
	ev := &evaluation{context: context, opts: opts}
	items := s.expr.eval(ev)
	if ev.err != nil {
		return nil, &SyntaxError{Selector: s.src, Reason: ev.err.Error()}
	}
	out := make([]Match, len(items))
	for i, it := range items {
		out[i] = it.match()
	}
	return out, nil
}

// SyntaxError reports an expression that cannot be parsed or whose compound
// is not valid for the data it met.
type SyntaxError struct {
	Selector string
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("selector %q: %s", e.Selector, e.Reason)
}

type evaluation struct {
	context any
	opts    Options
	seq     int
	err     error

	contextStart *item
	rootStart    *item
}

func (ev *evaluation) build(v any, key string, self bool) *item {
	b := &builder{seq: &ev.seq}
	if n, ok := v.(*html.Node); ok && n != nil {
		return b.treeRoot(n, self)
	}
	return b.objectRoot(v, key, self)
}

func (ev *evaluation) contextItem() *item {
	if ev.contextStart == nil {
		ev.contextStart = ev.build(ev.context, ev.opts.Key, ev.opts.Self)
	}
	return ev.contextStart
}

func (ev *evaluation) rootItem() *item {
	if ev.rootStart == nil {
		root := ev.opts.Root
		if root == nil {
			root = ev.context
		}
		ev.rootStart = ev.build(root, "", false)
	}
	return ev.rootStart
}

func (ev *evaluation) test(c *compound, it *item) bool {
	var (
		ok  bool
		err error
	)
	if it.node != nil {
		ok, err = c.matchNode(it.node)
	} else {
		ok, err = c.matchObject(it)
	}
	if err != nil && ev.err == nil {
		ev.err = err
	}
	return ok
}

func (p *pathExpr) eval(ev *evaluation) []*item {
	var current []*item
	if p.rooted {
		current = []*item{ev.rootItem()}
	} else {
		current = []*item{ev.contextItem()}
	}
	for _, st := range p.steps {
		var next []*item
		for _, it := range current {
			if st.child {
				for _, c := range it.children {
					if ev.test(st.compound, c) {
						next = append(next, c)
					}
				}
				continue
			}
			walkDescendants(it, func(d *item) {
				if ev.test(st.compound, d) {
					next = append(next, d)
				}
			})
		}
		current = union(next)
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

func walkDescendants(it *item, fn func(*item)) {
	for _, c := range it.children {
		fn(c)
		walkDescendants(c, fn)
	}
}

func (g *groupExpr) eval(ev *evaluation) []*item {
	var all []*item
	for _, part := range g.parts {
		all = append(all, part.eval(ev)...)
	}
	return union(all)
}

func (o *orExpr) eval(ev *evaluation) []*item {
	var all []*item
	for _, part := range o.parts {
		all = append(all, part.eval(ev)...)
	}
	return union(all)
}

// eval yields the union of all operands when every operand matched, and
// nothing otherwise.
func (a *andExpr) eval(ev *evaluation) []*item {
	var all []*item
	for _, part := range a.parts {
		got := part.eval(ev)
		if len(got) == 0 {
			return nil
		}
		all = append(all, got...)
	}
	return union(all)
}

func union(items []*item) []*item {
	if len(items) < 2 {
		return items
	}
	seen := make(map[any]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		id := it.identity()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}
