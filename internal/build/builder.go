// Package build renders template files with data files. It is shared by the
// render, watch and serve commands.
package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/config"
	"github.com/conneroisu/domplate/internal/datasource"
	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/pkg/domplate"
)

// StdinPath as a data path reads the data from Job.Input.
const StdinPath = "-"

// Job describes one render.
type Job struct {
	// Template is the markup file to render.
	Template string
	// Data is the data file, StdinPath, or empty for no data.
	Data string
	// Root optionally replaces what :root refers to.
	Root string
	// Format forces the data format.
	Format datasource.Format
	// Fragment returns only the children of <body>.
	Fragment bool
	// Input is read when Data is StdinPath.
	Input io.Reader
}

// BuildResult is the outcome of a Job.
type BuildResult struct {
	Job      Job
	Output   string
	Failures []errors.Failure
	// Overlay is the failure panel for the preview, empty without failures.
	Overlay  string
	Duration time.Duration
	CacheHit bool
	Error    error
}

// Builder runs jobs.
type Builder struct {
	engine  domplate.Config
	logger  logging.Logger
	cache   *DataCache
	metrics *BuildMetrics
}

// NewBuilder creates a builder rendering with the given engine settings.
// Errors and Root of engine are set per job.
func NewBuilder(engine domplate.Config, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	engine.Logger = logger
	return &Builder{
		engine:  engine,
		logger:  logger.WithComponent("build"),
		cache:   NewDataCache(),
		metrics: NewBuildMetrics(),
	}
}

// EngineConfig maps the render section of cfg onto engine settings.
func EngineConfig(cfg *config.Config) (domplate.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return domplate.Config{}, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown timezone %q", cfg.Render.Timezone))
	}
	return domplate.Config{
		Debug:         cfg.Render.Debug,
		Concurrency:   cfg.Render.Concurrency,
		DefaultLocale: cfg.Render.Locale,
		Location:      loc,
		Sanitize:      cfg.Render.Sanitize,
	}, nil
}

// Build runs job. Render failures that only degrade the output are returned
// in Failures; Error is set when nothing could be rendered.
func (b *Builder) Build(ctx context.Context, job Job) BuildResult {
	start := time.Now()
	result := b.build(ctx, job)
	result.Job = job
	result.Duration = time.Since(start)
	b.metrics.RecordBuild(result)

	if result.Error != nil {
		b.logger.Error(ctx, result.Error, "build failed", "template", job.Template)
	} else {
		b.logger.Debug(ctx, "built",
			"template", job.Template,
			"data", job.Data,
			"failures", len(result.Failures),
			"duration", result.Duration)
	}
	return result
}

func (b *Builder) build(ctx context.Context, job Job) BuildResult {
	var result BuildResult

	doc, err := parseTemplate(job.Template)
	if err != nil {
		result.Error = err
		return result
	}

	data, hit, err := b.loadData(job)
	if err != nil {
		result.Error = err
		return result
	}
	result.CacheHit = hit

	cfg := b.engine
	cfg.Errors = domplate.NewCollector()
	if job.Root != "" {
		root, _, err := b.cache.Load(job.Root, "")
		if err != nil {
			result.Error = err
			return result
		}
		cfg.Root = root
	}

	if _, err := domplate.New(cfg).Render(ctx, doc, data); err != nil {
		result.Error = err
		return result
	}
	result.Failures = cfg.Errors.Failures()
	result.Overlay = cfg.Errors.Overlay()

	if job.Fragment {
		body := dom.Body(doc)
		if body == nil {
			result.Error = errors.NewStructureError(errors.ErrCodeDetachedNode, "template has no body")
			return result
		}
		result.Output, result.Error = dom.InnerHTML(body)
	} else {
		result.Output, result.Error = dom.Render(doc)
	}
	return result
}

func parseTemplate(path string) (*html.Node, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		code := errors.ErrCodeInternalError
		if os.IsNotExist(err) {
			code = errors.ErrCodeFileNotFound
		}
		return nil, errors.NewIOError(code, "cannot read template", err).WithContext("path", path)
	}
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, errors.NewSetupError(errors.ErrCodeDocumentClone, "cannot parse template", err).
			WithContext("path", path)
	}
	return doc, nil
}

func (b *Builder) loadData(job Job) (any, bool, error) {
	switch job.Data {
	case "":
		return map[string]any{}, false, nil
	case StdinPath:
		if job.Input == nil {
			return nil, false, errors.NewValidationError(errors.ErrCodeValidationFailed, "no input to read data from")
		}
		format := job.Format
		if format == "" {
			format = datasource.FormatJSON
		}
		v, err := datasource.Parse(format, job.Input)
		return v, false, err
	}
	return b.cache.Load(job.Data, job.Format)
}

// Invalidate forgets cached data for path.
func (b *Builder) Invalidate(path string) {
	b.cache.Invalidate(path)
}

// Metrics returns a snapshot of the build metrics.
func (b *Builder) Metrics() BuildMetrics {
	return b.metrics.GetSnapshot()
}
