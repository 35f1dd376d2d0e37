package scope

import (
	"context"
	"strings"
	"sync"

	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/pkg/selector"
)

// Resolver evaluates directive expressions against scopes.
type Resolver struct {
	// Root is what :root refers to in data selectors.
	Root any
	// Lock is held while data is read. It may be nil.
	Lock sync.Locker
	// Errors receives recoverable failures. It may be nil.
	Errors *errors.ErrorHandler
}

// Resolve evaluates expression in s. The expression is a bare selector, a
// variable reference `$name`, or an assignment `$name=<selector>`. Failures
// are reported and resolve to an empty set.
func (r *Resolver) Resolve(ctx context.Context, s *Scope, expression string, self bool) *Set {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return Empty
	}
	if !strings.HasPrefix(expression, "$") {
		return r.memoized(ctx, s, expression, self)
	}

	name, sel, assign := strings.Cut(expression[1:], "=")
	name = "$" + strings.TrimSpace(name)
	if name == "$" {
		r.report(ctx, errors.NewVariableError(errors.ErrCodeVariableUndefined,
			"variable name missing").WithContext("expression", expression), "invalid variable expression")
		return Empty
	}

	if assign {
		set := r.memoized(ctx, s, strings.TrimSpace(strings.TrimLeft(sel, "=")), self)
		if s.assign(name, set) {
			r.report(ctx, errors.NewVariableError(errors.ErrCodeVariableReassign,
				"double assignment of variable within the same scope, last wins").
				WithContext("name", name).
				WithContext("path", s.Path()), "variable reassigned")
		}
		return set
	}

	if set, ok := s.Lookup(name); ok {
		return set
	}

	r.report(ctx, errors.NewVariableError(errors.ErrCodeVariableUndefined, "no value found for variable").
		WithContext("name", name).
		WithContext("path", s.Path()).
		WithContext("scopes", visibleVars(s)), "variable lookup failed")
	return Empty
}

func (r *Resolver) memoized(ctx context.Context, s *Scope, expr string, self bool) *Set {
	if expr == "" {
		return Empty
	}
	e := s.memoEntry(expr, self)
	e.once.Do(func() {
		e.set = r.evaluate(ctx, s, expr, self)
	})
	return e.set
}

func (r *Resolver) evaluate(ctx context.Context, s *Scope, expr string, self bool) *Set {
	if r.Lock != nil {
		r.Lock.Lock()
		defer r.Lock.Unlock()
	}
	matches, err := selector.Select(s.Object.Value, expr, selector.Options{
		Root: r.Root,
		Self: self,
		Key:  s.Object.Key,
	})
	if err != nil {
		r.report(ctx, errors.NewSelectorError(errors.ErrCodeSelectorSyntax, "cannot evaluate selector", err).
			WithContext("selector", expr).
			WithContext("path", s.Path()), "selector failed")
		return Empty
	}
	if len(matches) == 0 {
		return Empty
	}
	return NewSet(s, matches)
}

func (r *Resolver) report(ctx context.Context, err *errors.DomplateError, msg string) {
	if r.Errors != nil {
		r.Errors.Handle(ctx, err.WithComponent("scope"), msg)
	}
}

// visibleVars lists the variable names of each scope on the parent chain,
// innermost first.
func visibleVars(s *Scope) [][]string {
	var out [][]string
	for c := s; c != nil; c = c.Parent {
		out = append(out, c.Vars())
	}
	return out
}
