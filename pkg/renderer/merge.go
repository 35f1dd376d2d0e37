package renderer

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/dom"
)

// Attributes read from the target that steer the merge.
const (
	AttrInclude      = "data-attributes"
	AttrExclude      = "data-exclude-attributes"
	AttrIncludeClass = "data-class"
	AttrExcludeClass = "data-exclude-class"
	AttrExcludeTexts = "data-exclude-texts"
	AttrOption       = "data-option"
)

// TreeMerge merges a markup node value into the target. Attributes are
// copied (classes are concatenated), then either the whole inner content is
// copied (option inner) or the direct text children are replaced
// positionally. The value is always forwarded so the node becomes the child
// scope.
type TreeMerge struct{}

func (TreeMerge) Name() string { return "dom2dom" }

func (TreeMerge) Render(_ context.Context, in Input, cfg *Config) (Result, error) {
	src, ok := in.Value.(*html.Node)
	if !ok || src == nil {
		return Decline(in.Value)
	}
	el := in.Node
	debug := cfg != nil && cfg.Debug

	var comment strings.Builder
	if debug {
		comment.WriteString("dom2dom:")
		comment.WriteString(sourcePath(src))
	}

	if src.Type == html.ElementNode {
		mergeAttributes(el, src, &comment, debug)
	}

	excludeTexts := parseBool(dom.AttrValue(el, AttrExcludeTexts))

	switch {
	case dom.HasToken(el, AttrOption, "inner"):
		if err := copyInner(el, src, cfg); err != nil {
			return Result{}, err
		}
	case !excludeTexts:
		mergeTexts(el, src, debug)
	}

	if debug {
		comment.WriteString(" >")
		dom.PrependChild(el, &html.Node{Type: html.CommentNode, Data: comment.String()})
	}
	return Decline(src)
}

func sourcePath(src *html.Node) string {
	parts := []string{"<" + src.Data}
	for p := src.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			parts = append([]string{p.Data}, parts...)
		}
	}
	return strings.Join(parts, "/")
}

type filter struct {
	set map[string]bool
	all bool
}

func newFilter(n *html.Node, attr string) *filter {
	v, ok := dom.Attr(n, attr)
	if !ok {
		return nil
	}
	f := &filter{set: map[string]bool{}}
	for _, t := range strings.Fields(v) {
		if t == "*" {
			f.all = true
		}
		f.set[t] = true
	}
	return f
}

func (f *filter) has(name string) bool {
	return f != nil && (f.all || f.set[name])
}

// allowed applies an include and an exclude list. A missing include list lets
// everything through; a missing exclude list blocks nothing.
func allowed(include, exclude *filter, name string) bool {
	return (include == nil || include.has(name)) && !exclude.has(name)
}

func mergeAttributes(el, src *html.Node, comment *strings.Builder, debug bool) {
	include := newFilter(el, AttrInclude)
	exclude := newFilter(el, AttrExclude)
	includeClass := newFilter(el, AttrIncludeClass)
	excludeClass := newFilter(el, AttrExcludeClass)

	for _, a := range src.Attr {
		if debug {
			fmt.Fprintf(comment, " %s=%q", a.Key, a.Val)
		}
		if !allowed(include, exclude, a.Key) {
			continue
		}
		name, val := a.Key, a.Val
		if name == "class" {
			var picked []string
			for _, c := range strings.Fields(val) {
				if allowed(includeClass, excludeClass, c) {
					picked = append(picked, c)
				}
			}
			picked = append(picked, strings.Fields(dom.AttrValue(el, "class"))...)
			val = strings.Join(picked, " ")
		}
		if strings.HasPrefix(name, "data-") {
			name = "data-" + name
		}
		dom.SetAttr(el, name, val)
	}
}

// mergeTexts replaces the direct text children of el with those of src in
// order. Surplus target texts are removed; surplus source texts are added
// after the last replaced one.
func mergeTexts(el, src *html.Node, debug bool) {
	var sources []string
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sources = append(sources, c.Data)
		}
	}
	newText := func(s string) *html.Node {
		if !debug {
			s = dom.CompressWhitespace(s)
		}
		return &html.Node{Type: html.TextNode, Data: s}
	}

	var last *html.Node
	next := 0
	for _, c := range dom.Children(el) {
		if c.Type != html.TextNode {
			continue
		}
		if next < len(sources) {
			t := newText(sources[next])
			el.InsertBefore(t, c)
			last = t
			next++
		}
		el.RemoveChild(c)
	}
	for ; next < len(sources); next++ {
		t := newText(sources[next])
		if last != nil {
			dom.InsertAfter(t, last)
		} else {
			el.AppendChild(t)
		}
		last = t
	}
}

// copyInner replaces the content of el with a copy of the content of src.
// Copied data-* attributes are escaped so they survive directive stripping.
func copyInner(el, src *html.Node, cfg *Config) error {
	if cfg != nil && cfg.Sanitizer != nil {
		markup, err := dom.InnerHTML(src)
		if err != nil {
			return err
		}
		if err := dom.SetInnerHTML(el, cfg.Sanitizer.Sanitize(markup)); err != nil {
			return err
		}
		for c := el.FirstChild; c != nil; c = c.NextSibling {
			escapeData(c)
		}
		return nil
	}
	dom.RemoveChildren(el)
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		copied := dom.Clone(c)
		escapeData(copied)
		el.AppendChild(copied)
	}
	return nil
}

func escapeData(n *html.Node) {
	for i, a := range n.Attr {
		if strings.HasPrefix(a.Key, "data-") {
			n.Attr[i].Key = "data-" + a.Key
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		escapeData(c)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
