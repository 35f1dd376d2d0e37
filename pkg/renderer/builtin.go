package renderer

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/pkg/selector"
)

func isNode(v any) bool {
	n, ok := v.(*html.Node)
	return ok && n != nil
}

// URL writes a value found under the key "url" into the first non-empty
// href, action or src attribute of the target.
type URL struct{}

func (URL) Name() string { return "url" }

func (URL) Render(_ context.Context, in Input, _ *Config) (Result, error) {
	s, ok := in.Value.(string)
	if !ok || s == "" || in.Key != "url" {
		return Decline(in.Value)
	}
	for _, attr := range []string{"href", "action", "src"} {
		if dom.AttrValue(in.Node, attr) != "" {
			dom.SetAttr(in.Node, attr, s)
			return Handle()
		}
	}
	return Decline(in.Value)
}

// FormControl sets the value of input-like elements. Textareas get the value
// as content; checkboxes are left untouched but the value is still consumed.
type FormControl struct{}

func (FormControl) Name() string { return "input" }

func (FormControl) Render(_ context.Context, in Input, _ *Config) (Result, error) {
	if !dom.IsElement(in.Node, atom.Input, atom.Select, atom.Textarea, atom.Option, atom.Button) ||
		!selector.IsPrimitive(in.Value) {
		return Decline(in.Value)
	}
	text := selector.FormatValue(in.Value)
	if in.Node.DataAtom == atom.Textarea {
		dom.SetText(in.Node, text)
		return Handle()
	}
	if !strings.EqualFold(dom.AttrValue(in.Node, "type"), "checkbox") {
		dom.SetAttr(in.Node, "value", text)
	}
	return Handle()
}

// Image sets the src of an img element from a primitive value.
type Image struct{}

func (Image) Name() string { return "img" }

func (Image) Render(_ context.Context, in Input, _ *Config) (Result, error) {
	if !dom.IsElement(in.Node, atom.Img) || isNode(in.Value) || !selector.IsPrimitive(in.Value) {
		return Decline(in.Value)
	}
	dom.SetAttr(in.Node, "src", selector.FormatValue(in.Value))
	return Handle()
}

// Text replaces the content of the target with a primitive value.
type Text struct{}

func (Text) Name() string { return "text" }

func (Text) Render(_ context.Context, in Input, _ *Config) (Result, error) {
	if !selector.IsPrimitive(in.Value) {
		return Decline(in.Value)
	}
	dom.SetText(in.Node, selector.FormatValue(in.Value))
	return Handle()
}

// Passthrough forwards the value unchanged. It terminates every chain.
type Passthrough struct{}

func (Passthrough) Name() string { return "last" }

func (Passthrough) Render(_ context.Context, in Input, _ *Config) (Result, error) {
	return Decline(in.Value)
}
