package domplate

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/internal/queue"
	"github.com/conneroisu/domplate/internal/scope"
	"github.com/conneroisu/domplate/pkg/renderer"
	"github.com/conneroisu/domplate/pkg/selector"
)

// Directive attributes.
const (
	AttrIs     = "data-is"
	AttrIf     = "data-if"
	AttrNot    = "data-not"
	AttrApply  = "data-apply"
	AttrOption = "data-option"

	prefixVar    = "data-$"
	prefixTo     = "data-to-"
	prefixEscape = "data-data-"
)

// Options of data-option.
const (
	OptionInvisible = "invisible"
	OptionPass      = "pass"
	OptionSelf      = "self"
	OptionInner     = "inner"
	OptionTexts     = "texts"
)

// directiveNames are removed from every element before its children are
// scheduled, together with data-$* and data-to-*.
var directiveNames = map[string]bool{
	AttrIs:                    true,
	AttrIf:                    true,
	AttrNot:                   true,
	AttrOption:                true,
	AttrApply:                 true,
	renderer.AttrExclude:      true,
	renderer.AttrExcludeTexts: true,
	renderer.AttrInclude:      true,
	renderer.AttrIncludeClass: true,
	renderer.AttrExcludeClass: true,
}

// render is the state of one Render call.
type render struct {
	logger   logging.Logger
	errs     *errors.ErrorHandler
	chain    *renderer.Chain
	rcfg     *renderer.Config
	resolver *scope.Resolver
	debug    bool
	// copy is the working copy data-apply selects from.
	copy  *html.Node
	state *nodeState

	// tree serializes changes to sibling lists of the template.
	tree sync.Mutex
	// data guards the data tree; the texts option writes to it.
	data sync.RWMutex
}

// instance is an element produced for one value, bound to scope.
type instance struct {
	el      *html.Node
	scope   *scope.Scope
	handled bool
}

// process is the task handler. It evaluates the directives of one element and
// pushes the tasks for the resulting children.
func (r *render) process(ctx context.Context, q *queue.TaskQueue, t queue.Task) {
	el, s := t.Element, t.Scope
	if el == nil || r.state.isTemplate(el) {
		return
	}
	if !r.debug {
		r.tree.Lock()
		el = dom.Compress(el)
		r.tree.Unlock()
		if el == nil {
			return
		}
	}
	if el.Type != html.ElementNode {
		r.schedule(ctx, q, []instance{{el: el, scope: s}})
		return
	}

	self := dom.HasToken(el, AttrOption, OptionSelf)
	r.bindAttributes(ctx, el, s, self)

	if expr, ok := directive(el, AttrNot); ok && !r.resolver.Resolve(ctx, s, expr, self).IsEmpty() {
		r.remove(el)
		return
	}
	if expr, ok := directive(el, AttrIf); ok && r.resolver.Resolve(ctx, s, expr, self).IsEmpty() {
		r.remove(el)
		return
	}
	if expr, ok := directive(el, AttrIs); ok {
		set := r.resolver.Resolve(ctx, s, expr, self)
		if set.IsEmpty() {
			r.remove(el)
			return
		}
		r.schedule(ctx, q, r.expand(ctx, el, s, set))
		return
	}
	r.schedule(ctx, q, []instance{{el: el, scope: s}})
}

// directive returns the trimmed value of a directive attribute. Missing and
// empty attributes are both absent.
func directive(el *html.Node, name string) (string, bool) {
	v := strings.TrimSpace(dom.AttrValue(el, name))
	return v, v != ""
}

// bindAttributes runs the variable assignments and the attribute bindings.
func (r *render) bindAttributes(ctx context.Context, el *html.Node, s *scope.Scope, self bool) {
	attrs := append([]html.Attribute(nil), el.Attr...)
	for _, a := range attrs {
		switch {
		case strings.HasPrefix(a.Key, prefixVar):
			r.resolver.Resolve(ctx, s, a.Key[len(prefixVar)-1:]+"="+a.Val, self)
		case strings.HasPrefix(a.Key, prefixTo):
			target := a.Key[len(prefixTo):]
			if target == "" {
				continue
			}
			v, ok := r.resolver.Resolve(ctx, s, a.Val, self).First()
			if !ok || !truthy(v) {
				continue
			}
			r.data.RLock()
			text := attrText(v)
			r.data.RUnlock()
			dom.SetAttr(el, target, text)
		}
	}
}

// expand instantiates el once per value of set. The template element is
// replaced by the instances in set order.
func (r *render) expand(ctx context.Context, el *html.Node, s *scope.Scope, set *scope.Set) []instance {
	pass := dom.HasToken(el, AttrOption, OptionPass)

	r.tree.Lock()
	ph := r.hold(el)
	where := dom.Path(el)
	if ph != nil {
		where = dom.Path(ph.Parent) + "/" + el.Data
	}
	r.tree.Unlock()
	if ph == nil {
		r.report(ctx, errors.NewStructureError(errors.ErrCodeDetachedNode, "cannot clone a detached element").
			WithContext("path", where).
			WithContext("scope", s.Path()))
		return nil
	}

	var out []instance
	for _, entry := range set.Entries() {
		inst := r.cloneBefore(el, ph)

		outcome, value, err := r.renderValue(ctx, inst, entry.Match)
		if err != nil {
			r.report(ctx, err)
			out = append(out, instance{el: inst, handled: true})
			continue
		}
		if outcome == renderer.Handled {
			out = append(out, instance{el: inst, handled: true})
			continue
		}

		values := fanOut(value)
		prev := inst
		for i, v := range values {
			target := inst
			if i > 0 {
				target = r.cloneAfter(el, prev)
				prev = target
			}
			if v == nil || selector.IsPrimitive(v) {
				out = append(out, instance{el: target, handled: true})
				continue
			}
			child := s
			if !pass {
				m := selector.Match{Value: v, Key: entry.Match.Key, Index: entry.Match.Index}
				if len(values) > 1 {
					m.Index = i
				}
				child = s.Child(m, entry.Scope)
			}
			out = append(out, instance{el: target, scope: child})
		}
	}

	r.tree.Lock()
	dom.Detach(el)
	dom.Detach(ph)
	r.tree.Unlock()
	r.state.retire(el)

	r.logger.Debug(ctx, "expanded template",
		"path", where,
		"scope", s.Path(),
		"values", set.Len(),
		"instances", len(out))
	return out
}

// renderValue runs the renderer chain for one value.
func (r *render) renderValue(ctx context.Context, el *html.Node, m selector.Match) (renderer.Outcome, any, error) {
	r.data.RLock()
	defer r.data.RUnlock()
	return r.chain.Run(ctx, renderer.Input{Node: el, Value: m.Value, Key: m.Key, Index: m.Index}, r.rcfg)
}

// hold swaps el for a placeholder marker so clones can be inserted at its
// position. It returns nil when el is detached. Callers hold the tree lock.
func (r *render) hold(el *html.Node) *html.Node {
	if ph := r.state.placeholder(el); ph != nil {
		return ph
	}
	parent := el.Parent
	if parent == nil {
		return nil
	}
	ph := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr:     []html.Attribute{{Key: "data-tmp", Val: "template-placeholder"}},
	}
	parent.InsertBefore(ph, el)
	parent.RemoveChild(el)
	r.state.setPlaceholder(el, ph)
	return ph
}

func (r *render) cloneBefore(el, ph *html.Node) *html.Node {
	c := dom.Clone(el)
	r.tree.Lock()
	defer r.tree.Unlock()
	ph.Parent.InsertBefore(c, ph)
	return c
}

func (r *render) cloneAfter(el, prev *html.Node) *html.Node {
	c := dom.Clone(el)
	r.tree.Lock()
	defer r.tree.Unlock()
	dom.InsertAfter(c, prev)
	return c
}

// remove drops el and its placeholder, if any, from the tree.
func (r *render) remove(el *html.Node) {
	ph := r.state.placeholder(el)
	r.tree.Lock()
	defer r.tree.Unlock()
	dom.Detach(ph)
	dom.Detach(el)
}

// schedule finishes the produced instances and pushes their children. The
// children are pushed before the current task returns so the queue cannot
// drain early.
func (r *render) schedule(ctx context.Context, q *queue.TaskQueue, instances []instance) {
	for _, in := range instances {
		el := in.el
		invisible := dom.HasToken(el, AttrOption, OptionInvisible)
		texts := dom.HasToken(el, AttrOption, OptionTexts)

		if in.handled {
			r.tree.Lock()
			stripDirectives(el)
			if invisible {
				dom.Unwrap(el)
			}
			r.tree.Unlock()
			continue
		}

		r.apply(ctx, el, in.scope)

		r.tree.Lock()
		stripDirectives(el)
		children := dom.Children(el)
		if invisible {
			dom.Unwrap(el)
		}
		r.tree.Unlock()

		if texts && in.scope != nil {
			if n, ok := in.scope.Object.Node(); ok {
				r.wrapTexts(n)
			}
		}

		for _, c := range children {
			q.Push(queue.Task{Element: c, Scope: in.scope})
		}
	}
}

// stripDirectives removes the directive attributes of el and restores the
// escaped data-data-* attributes. Callers hold the tree lock.
func stripDirectives(el *html.Node) {
	if el.Type != html.ElementNode || len(el.Attr) == 0 {
		return
	}
	var kept, escaped []html.Attribute
	for _, a := range el.Attr {
		switch {
		case strings.HasPrefix(a.Key, prefixEscape):
			escaped = append(escaped, a)
		case directiveNames[a.Key],
			strings.HasPrefix(a.Key, prefixVar),
			strings.HasPrefix(a.Key, prefixTo):
		default:
			kept = append(kept, a)
		}
	}
	el.Attr = kept
	for _, a := range escaped {
		dom.SetAttr(el, a.Key[len("data-"):], a.Val)
	}
}

func (r *render) report(ctx context.Context, err error) {
	r.errs.Handle(ctx, err, "render degraded")
}

// fanOut splits a list value into its elements.
func fanOut(v any) []any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) ||
		rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// truthy follows the usual scripting notion of an attribute-worthy value:
// nil, false, zero numbers and empty strings are not.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case json.Number:
		if x == "" {
			return false
		}
		f, err := x.Float64()
		return err != nil || f != 0
	case *html.Node:
		return x != nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func attrText(v any) string {
	if n, ok := v.(*html.Node); ok {
		return dom.Text(n)
	}
	return selector.FormatValue(v)
}
