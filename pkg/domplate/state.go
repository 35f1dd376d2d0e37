package domplate

import (
	"sync"

	"golang.org/x/net/html"
)

// nodeState is the per-render side table of node bookkeeping. Nodes stay
// plain html.Node values; everything the engine needs to remember about
// them is keyed by identity here and dropped with the render.
type nodeState struct {
	mu sync.Mutex
	// placeholders maps a template element to the marker holding its slot.
	placeholders map[*html.Node]*html.Node
	// templates are elements consumed as clone sources.
	templates map[*html.Node]struct{}
	// wrapped are data nodes already visited by the texts option.
	wrapped map[*html.Node]struct{}
}

func newNodeState() *nodeState {
	return &nodeState{
		placeholders: make(map[*html.Node]*html.Node),
		templates:    make(map[*html.Node]struct{}),
		wrapped:      make(map[*html.Node]struct{}),
	}
}

func (s *nodeState) placeholder(n *html.Node) *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placeholders[n]
}

func (s *nodeState) setPlaceholder(n, ph *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeholders[n] = ph
}

// retire marks n as a used template and forgets its placeholder.
func (s *nodeState) retire(n *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.placeholders, n)
	s.templates[n] = struct{}{}
}

func (s *nodeState) isTemplate(n *html.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.templates[n]
	return ok
}

// markWrapped records n and reports whether it was new.
func (s *nodeState) markWrapped(n *html.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wrapped[n]; ok {
		return false
	}
	s.wrapped[n] = struct{}{}
	return true
}
