// Package domplate merges data into HTML templates.
//
// A template is ordinary markup annotated with data-* directives:
//
//	data-is="<selector>"        repeat the element once per selected value
//	data-if="<selector>"        keep the element when the selector matches
//	data-not="<selector>"       keep the element when it does not
//	data-to-<attr>="<selector>" write the first selected value into <attr>
//	data-$<name>="<selector>"   assign a scoped variable
//	data-apply="<selector>"     import template fragments as children
//	data-option="<tokens>"      invisible, pass, self, inner, texts
//
// The data is either an object graph (maps, slices, structs, primitives) or
// a second markup tree. Selectors are evaluated by package selector; values
// are written into the template by the renderer chain of package renderer.
//
// Rendering mutates the template in place. Elements are processed by a
// bounded worker pool and the order in which siblings are visited is not
// defined; the output does not depend on it.
package domplate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/internal/queue"
	"github.com/conneroisu/domplate/internal/scope"
	"github.com/conneroisu/domplate/pkg/renderer"
)

// Logger is the structured logger the engine reports through.
type Logger = logging.Logger

// Collector gathers the recoverable failures of one or more renders.
type Collector = errors.Collector

// NewCollector returns an empty failure collector.
func NewCollector() *Collector { return errors.NewCollector() }

// Config controls an Engine.
type Config struct {
	// Root is what a leading :root refers to in data selectors. Nil means
	// the data passed to Render.
	Root any
	// Renderers run before the built-in renderers and may override them.
	Renderers []renderer.Renderer
	// Debug keeps whitespace and comments and makes the tree merge emit
	// diagnostic comments.
	Debug bool
	// Logger receives diagnostics. Nil discards them.
	Logger Logger
	// Concurrency caps the number of elements processed at once.
	Concurrency int
	// DefaultLocale is used for dates when no lang attribute is found.
	DefaultLocale string
	// Location is the zone epoch timestamps are shown in.
	Location *time.Location
	// Sanitize filters markup copied by the inner option.
	Sanitize bool
	// Errors, when set, records every recoverable failure.
	Errors *Collector
}

// Option configures a render.
type Option func(*Config)

// WithRoot sets the value :root refers to.
func WithRoot(root any) Option { return func(c *Config) { c.Root = root } }

// WithRenderers prepends custom renderers to the chain.
func WithRenderers(r ...renderer.Renderer) Option {
	return func(c *Config) { c.Renderers = append(c.Renderers, r...) }
}

// WithDebug toggles debug output.
func WithDebug(debug bool) Option { return func(c *Config) { c.Debug = debug } }

// WithLogger sets the logger.
func WithLogger(l Logger) Option { return func(c *Config) { c.Logger = l } }

// WithConcurrency sets the worker count.
func WithConcurrency(n int) Option { return func(c *Config) { c.Concurrency = n } }

// WithLocale sets the fallback locale for dates.
func WithLocale(locale string) Option { return func(c *Config) { c.DefaultLocale = locale } }

// WithLocation sets the zone for epoch timestamps.
func WithLocation(loc *time.Location) Option { return func(c *Config) { c.Location = loc } }

// WithSanitize enables sanitizing of copied inner markup.
func WithSanitize(on bool) Option { return func(c *Config) { c.Sanitize = on } }

// WithCollector records recoverable failures in col.
func WithCollector(col *Collector) Option { return func(c *Config) { c.Errors = col } }

// Engine renders templates. It is safe for concurrent use and caches the
// working copy of every document it has rendered, so reuse one Engine for
// repeated renders of the same document.
type Engine struct {
	cfg    Config
	logger logging.Logger
	rcfg   *renderer.Config

	mu     sync.Mutex
	copies map[*html.Node]*workingCopy
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	rcfg := &renderer.Config{
		Debug:         cfg.Debug,
		DefaultLocale: cfg.DefaultLocale,
		Location:      cfg.Location,
	}
	if cfg.Sanitize {
		rcfg.Sanitizer = renderer.NewSanitizer()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.WithComponent("domplate"),
		rcfg:   rcfg,
		copies: make(map[*html.Node]*workingCopy),
	}
}

// Render merges data into the tree rooted at root and returns root. The
// only error returned is a failure to prepare the document, or the context
// error when ctx ends first; every other failure is logged and degrades the
// affected fragment.
func Render(ctx context.Context, root *html.Node, data any, opts ...Option) (*html.Node, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg).Render(ctx, root, data)
}

// Render merges data into the tree rooted at root. See the package level
// Render.
func (e *Engine) Render(ctx context.Context, root *html.Node, data any) (*html.Node, error) {
	if root == nil {
		return nil, nil
	}
	start := time.Now()

	doc, err := e.workingCopy(root)
	if err != nil {
		e.logger.Error(ctx, err, "could not get document for data-apply evaluation")
		return root, err
	}

	r := e.newRender(doc, data)
	wm := queue.NewWorkerManager(e.cfg.Concurrency, r.process, e.logger, r.errs)
	if err := wm.Run(ctx, queue.NewTaskQueue(), queue.Task{Element: root, Scope: scope.New(data)}); err != nil {
		return root, err
	}

	m := wm.Metrics().Snapshot()
	e.logger.Debug(ctx, "render finished",
		"elements", m.Processed,
		"failed", m.Failed,
		"duration", time.Since(start))
	return root, nil
}

// Release drops the cached working copy of the document containing n.
func (e *Engine) Release(n *html.Node) {
	top := dom.Document(n)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.copies, top)
}

// Chain returns the renderer names in the order they run.
func (e *Engine) Chain() []string {
	return renderer.NewChain(e.cfg.Renderers, renderer.Defaults(), nil).Names()
}

func (e *Engine) newRender(doc *html.Node, data any) *render {
	root := e.cfg.Root
	if root == nil {
		root = data
	}
	errs := errors.NewErrorHandler(e.logger, e.cfg.Errors)
	r := &render{
		logger: e.logger.WithComponent("processor"),
		errs:   errs,
		chain:  renderer.NewChain(e.cfg.Renderers, renderer.Defaults(), errs),
		rcfg:   e.rcfg,
		debug:  e.cfg.Debug,
		copy:   doc,
		state:  newNodeState(),
	}
	r.resolver = &scope.Resolver{Root: root, Lock: r.data.RLocker(), Errors: errs}
	return r
}
