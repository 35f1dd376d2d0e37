// Package scope implements data binding levels and selector resolution for
// the template engine.
//
// A Scope binds one data value. Scopes are created only when a repetition
// produces a value, and they chain to their parent for variable lookup.
// Selector results are memoized per scope by their literal text, so the same
// expression evaluated twice in one scope yields the same *Set.
package scope

import (
	"sort"
	"sync"

	"github.com/conneroisu/domplate/pkg/selector"
)

// Scope is one level of data binding.
type Scope struct {
	// Object is the bound value and the key it was found under.
	Object selector.Match
	// Context is the scope the value was found in. Only used for paths in
	// diagnostics.
	Context *Scope
	// Parent is where variable lookup continues.
	Parent *Scope

	mu   sync.Mutex
	vars map[string]*Set
	memo map[memoKey]*memoEntry
}

type memoKey struct {
	expr string
	self bool
}

type memoEntry struct {
	once sync.Once
	set  *Set
}

// New creates the outermost scope bound to data.
func New(data any) *Scope {
	return &Scope{Object: selector.Match{Value: data, Index: -1}}
}

// Child creates the scope for a value produced by a repetition. found is the
// scope the value was selected in; parent is the scope of the element that
// repeated.
func (s *Scope) Child(m selector.Match, found *Scope) *Scope {
	return &Scope{Object: m, Context: found, Parent: s}
}

// Depth returns how many parents the scope has.
func (s *Scope) Depth() int {
	d := 0
	for p := s.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// Path describes where the scope's value came from, outermost first.
func (s *Scope) Path() string {
	var keys []string
	for c := s; c != nil; c = c.Context {
		if c.Object.Key != "" {
			keys = append(keys, c.Object.Key)
		}
	}
	if len(keys) == 0 {
		return "."
	}
	path := ""
	for i := len(keys) - 1; i >= 0; i-- {
		path += "." + keys[i]
	}
	return path
}

// Vars returns the names of the variables assigned in this scope.
func (s *Scope) Vars() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scope) memoEntry(expr string, self bool) *memoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memo == nil {
		s.memo = make(map[memoKey]*memoEntry)
	}
	k := memoKey{expr: expr, self: self}
	e, ok := s.memo[k]
	if !ok {
		e = &memoEntry{}
		s.memo[k] = e
	}
	return e
}

// assign stores set under name and reports whether the name was already
// assigned in this scope.
func (s *Scope) assign(name string, set *Set) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vars == nil {
		s.vars = make(map[string]*Set)
	}
	_, existed := s.vars[name]
	s.vars[name] = set
	return existed
}

func (s *Scope) variable(name string) (*Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.vars[name]
	return set, ok
}

// Lookup finds a variable in this scope or the nearest parent that has it.
func (s *Scope) Lookup(name string) (*Set, bool) {
	for c := s; c != nil; c = c.Parent {
		if set, ok := c.variable(name); ok {
			return set, true
		}
	}
	return nil, false
}
