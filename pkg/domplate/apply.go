package domplate

import (
	"bytes"
	"context"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/scope"
	"github.com/conneroisu/domplate/pkg/selector"
)

// workingCopy is the unrendered copy of a document that data-apply selects
// fragments from.
type workingCopy struct {
	once sync.Once
	doc  *html.Node
	err  error
}

// workingCopy returns the cached copy of the document containing root,
// building it on first use.
func (e *Engine) workingCopy(root *html.Node) (*html.Node, error) {
	top := dom.Document(root)

	e.mu.Lock()
	wc, ok := e.copies[top]
	if !ok {
		wc = &workingCopy{}
		e.copies[top] = wc
	}
	e.mu.Unlock()

	wc.once.Do(func() {
		wc.doc, wc.err = copyDocument(top)
		if wc.err != nil {
			e.mu.Lock()
			delete(e.copies, top)
			e.mu.Unlock()
		}
	})
	return wc.doc, wc.err
}

// copyDocument serializes and reparses a document. Trees that are not rooted
// at a document are cloned under a fresh one.
func copyDocument(top *html.Node) (*html.Node, error) {
	if top.Type != html.DocumentNode {
		doc := &html.Node{Type: html.DocumentNode}
		doc.AppendChild(dom.Clone(top))
		return doc, nil
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, top); err != nil {
		return nil, errors.NewSetupError(errors.ErrCodeDocumentClone, "cannot serialize document", err)
	}
	doc, err := html.Parse(&buf)
	if err != nil {
		return nil, errors.NewSetupError(errors.ErrCodeDocumentClone, "cannot reparse document", err)
	}
	return doc, nil
}

// apply imports the fragments selected by data-apply as children of el. The
// selector runs over the working copy, so fragments are taken as they were
// before rendering started.
func (r *render) apply(ctx context.Context, el *html.Node, s *scope.Scope) {
	expr, ok := directive(el, AttrApply)
	if !ok || r.copy == nil {
		return
	}
	matches, err := selector.Select(r.copy, expr, selector.Options{Root: r.copy})
	if err != nil {
		r.report(ctx, errors.NewSelectorError(errors.ErrCodeSelectorSyntax, "cannot evaluate data-apply", err).
			WithComponent("apply").
			WithContext("selector", expr).
			WithContext("scope", scopePath(s)))
		return
	}

	imported := make([]*html.Node, 0, len(matches))
	for _, m := range matches {
		n, ok := m.Node()
		if !ok {
			continue
		}
		imported = append(imported, dom.Clone(n))
	}

	r.tree.Lock()
	for _, n := range imported {
		el.AppendChild(n)
	}
	r.tree.Unlock()

	if len(imported) == 0 {
		r.logger.Debug(ctx, "data-apply matched nothing", "selector", expr)
	}
}

func scopePath(s *scope.Scope) string {
	if s == nil {
		return ""
	}
	return s.Path()
}

// wrapTexts wraps the text nodes below n in <span class="text"> so that
// selectors can address them. Every node is visited once per render.
func (r *render) wrapTexts(n *html.Node) {
	r.data.Lock()
	defer r.data.Unlock()
	r.wrapTextsLocked(n)
}

func (r *render) wrapTextsLocked(n *html.Node) {
	if !r.state.markWrapped(n) {
		return
	}
	if n.Type != html.TextNode {
		for _, c := range dom.Children(n) {
			r.wrapTextsLocked(c)
		}
		return
	}

	parent := n.Parent
	if parent == nil {
		return
	}
	if parent.DataAtom == atom.Span &&
		(dom.HasToken(parent, "class", "text") || (n.PrevSibling == nil && n.NextSibling == nil)) {
		return
	}
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: "text"},
			{Key: "data-tmp", Val: "added-text-span"},
		},
	}
	parent.InsertBefore(span, n)
	parent.RemoveChild(n)
	span.AppendChild(n)
	r.state.markWrapped(span)
}
