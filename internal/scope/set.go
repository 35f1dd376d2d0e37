package scope

import "github.com/conneroisu/domplate/pkg/selector"

// Entry is one resolved value and the scope it was found in.
type Entry struct {
	Match selector.Match
	Scope *Scope
}

// Set is the ordered result of resolving an expression. A nil *Set behaves
// as an empty one.
type Set struct {
	entries []Entry
}

// NewSet builds a set from matches found in s.
func NewSet(s *Scope, matches []selector.Match) *Set {
	set := &Set{entries: make([]Entry, len(matches))}
	for i, m := range matches {
		set.entries[i] = Entry{Match: m, Scope: s}
	}
	return set
}

// Empty is the shared empty result.
var Empty = &Set{}

// Len returns the number of entries.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// IsEmpty reports whether nothing matched.
func (s *Set) IsEmpty() bool { return s.Len() == 0 }

// Entries returns the entries in order. The slice must not be modified.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// First returns the first value, if any.
func (s *Set) First() (any, bool) {
	if s.Len() == 0 {
		return nil, false
	}
	return s.entries[0].Match.Value, true
}

// Values returns the matched values in order.
func (s *Set) Values() []any {
	out := make([]any, s.Len())
	for i, e := range s.Entries() {
		out[i] = e.Match.Value
	}
	return out
}
