// Package renderer turns resolved values into mutations of template nodes.
//
// A Chain runs an ordered list of renderers for each value produced by a
// repetition. Every renderer either handles the value, which stops the chain,
// or declines and forwards a value (possibly a new one) to the next renderer.
// A renderer that returns an error has failed: the failure is reported and
// the chain carries on as if it had declined. The terminal passthrough is the
// exception; a failure there is a contract violation and is escalated.
package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
)

// Outcome is what a renderer did with a value.
type Outcome int

const (
	// Declined forwards the value to the next renderer.
	Declined Outcome = iota
	// Handled stops the chain; the value produces no child scope.
	Handled
)

func (o Outcome) String() string {
	switch o {
	case Declined:
		return "declined"
	case Handled:
		return "handled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Input is the value to render and where it goes.
type Input struct {
	// Node is the template instance being rendered into.
	Node *html.Node
	// Value is the current value. Earlier renderers may have replaced it.
	Value any
	// Key is the name the value was found under.
	Key string
	// Index is the position in the enclosing list, or -1.
	Index int
}

// Result is returned by a renderer. A nil Value on a declined result keeps
// the current value.
type Result struct {
	Outcome Outcome
	Value   any
}

// Decline forwards v unchanged to the next renderer.
func Decline(v any) (Result, error) { return Result{Outcome: Declined, Value: v}, nil }

// Handle stops the chain.
func Handle() (Result, error) { return Result{Outcome: Handled}, nil }

// Renderer converts one value into node mutations.
type Renderer interface {
	Name() string
	Render(ctx context.Context, in Input, cfg *Config) (Result, error)
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, in Input, cfg *Config) (Result, error)

type namedFunc struct {
	name string
	fn   Func
}

// Named wraps fn as a Renderer called name.
func Named(name string, fn Func) Renderer {
	return namedFunc{name: name, fn: fn}
}

func (n namedFunc) Name() string { return n.name }

func (n namedFunc) Render(ctx context.Context, in Input, cfg *Config) (Result, error) {
	return n.fn(ctx, in, cfg)
}

// Config is shared by every renderer of one render call.
type Config struct {
	// Debug keeps whitespace and emits diagnostic comments.
	Debug bool
	// DefaultLocale is used when no lang attribute is found.
	DefaultLocale string
	// Location is the zone epoch timestamps are shown in.
	Location *time.Location
	// Sanitizer, when set, filters markup copied by the inner option.
	Sanitizer *bluemonday.Policy
}

// NewSanitizer returns the policy used for copied inner markup. It keeps
// data attributes so they can still be escaped and restored.
func NewSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataAttributes()
	return p
}

func (c *Config) location() *time.Location {
	if c == nil || c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c *Config) locale() string {
	if c == nil || c.DefaultLocale == "" {
		return "en"
	}
	return c.DefaultLocale
}

// Defaults returns the built-in renderers in their fixed order. The terminal
// passthrough is not part of the list; a Chain always ends with it.
func Defaults() []Renderer {
	return []Renderer{
		Date{},
		URL{},
		FormControl{},
		Image{},
		Text{},
		TreeMerge{},
	}
}

// Chain is an ordered renderer list ending in the terminal passthrough.
type Chain struct {
	renderers []Renderer
	terminal  Renderer
	errs      *errors.ErrorHandler
}

// NewChain builds a chain that runs custom renderers before the built-ins.
// errs receives renderer failures and may be nil.
func NewChain(custom []Renderer, builtins []Renderer, errs *errors.ErrorHandler) *Chain {
	list := make([]Renderer, 0, len(custom)+len(builtins))
	for _, r := range custom {
		if r != nil {
			list = append(list, r)
		}
	}
	list = append(list, builtins...)
	return &Chain{renderers: list, terminal: Passthrough{}, errs: errs}
}

// Names lists the renderers in the order they run.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.renderers)+1)
	for _, r := range c.renderers {
		names = append(names, r.Name())
	}
	return append(names, c.terminal.Name())
}

// Run passes in through the chain. It returns whether a renderer handled the
// value and, if not, the value forwarded by the last renderer. An error is
// only returned when the terminal renderer fails.
func (c *Chain) Run(ctx context.Context, in Input, cfg *Config) (Outcome, any, error) {
	value := in.Value
	for _, r := range c.renderers {
		step := in
		step.Value = value
		res, err := invoke(ctx, r, step, cfg)
		if err != nil {
			c.report(ctx, errors.NewRendererError(errors.ErrCodeRendererFailed, "renderer failed, treated as declined", err).
				WithContext("renderer", r.Name()).
				WithContext("key", in.Key).
				WithContext("path", dom.Path(in.Node)))
			continue
		}
		if res.Outcome == Handled {
			return Handled, nil, nil
		}
		if res.Value != nil {
			value = res.Value
		}
	}

	step := in
	step.Value = value
	res, err := invoke(ctx, c.terminal, step, cfg)
	if err != nil {
		return Handled, nil, errors.NewRendererError(errors.ErrCodeRendererContract,
			"terminal renderer failed; an earlier renderer broke the chain contract", err).
			WithComponent("renderer").
			WithContext("path", dom.Path(in.Node))
	}
	if res.Value != nil {
		value = res.Value
	}
	return res.Outcome, value, nil
}

// invoke calls r and turns a panic into a failure.
func invoke(ctx context.Context, r Renderer, in Input, cfg *Config) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("renderer %s panicked: %v", r.Name(), p)
		}
	}()
	return r.Render(ctx, in, cfg)
}

func (c *Chain) report(ctx context.Context, err *errors.DomplateError) {
	if c.errs != nil {
		c.errs.Handle(ctx, err.WithComponent("renderer"), "renderer failed")
	}
}

// WithTerminal replaces the terminal renderer. It is meant for
// instrumentation; the terminal must forward the value it receives.
func (c *Chain) WithTerminal(r Renderer) *Chain {
	if r != nil {
		c.terminal = r
	}
	return c
}
