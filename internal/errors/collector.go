package errors

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

// Failure is one recoverable problem met while merging a template.
type Failure struct {
	Type      ErrorType
	Code      string
	Path      string
	Message   string
	Severity  Severity
	Timestamp time.Time
}

// Severity represents the severity of a failure.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Path == "" {
		return fmt.Sprintf("%s: %s", f.Severity, f.Message)
	}

	return fmt.Sprintf("%s: %s: %s", f.Path, f.Severity, f.Message)
}

// Collector gathers the failures reported during one or more renders. It is
// safe for concurrent use by the worker pool.
type Collector struct {
	failures []Failure
	mutex    sync.RWMutex
}

// NewCollector creates a new collector
func NewCollector() *Collector {
	return &Collector{failures: make([]Failure, 0)}
}

// Add records a failure.
func (c *Collector) Add(f Failure) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	c.failures = append(c.failures, f)
}

// AddError converts err into a Failure and records it.
func (c *Collector) AddError(err error) {
	if err == nil {
		return
	}

	f := Failure{Message: err.Error(), Severity: SeverityError}

	var de *DomplateError
	if errors.As(err, &de) {
		f.Type = de.Type
		f.Code = de.Code
		f.Message = de.Message
		if path, ok := de.Context["path"].(string); ok {
			f.Path = path
		}
		switch {
		case !de.Recoverable:
			f.Severity = SeverityFatal
		case de.Code == ErrCodeVariableReassign:
			f.Severity = SeverityWarning
		}
	}

	c.Add(f)
}

// Failures returns a copy of all collected failures.
func (c *Collector) Failures() []Failure {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]Failure, len(c.failures))
	copy(result, c.failures)
	return result
}

// HasErrors reports whether anything at error severity or above was seen.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, f := range c.failures {
		if f.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// Len returns the number of collected failures.
func (c *Collector) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.failures)
}

// Clear drops everything collected so far.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failures = c.failures[:0]
}

// ByType returns the failures of one category.
func (c *Collector) ByType(t ErrorType) []Failure {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var out []Failure
	for _, f := range c.failures {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// Err joins the collected failures into a single error, or returns nil.
func (c *Collector) Err() error {
	failures := c.Failures()
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, len(failures))
	for i := range failures {
		errs[i] = &failures[i]
	}
	return errors.Join(errs...)
}

// Overlay renders the collected failures as an HTML panel the preview server
// appends to the page body.
func (c *Collector) Overlay() string {
	failures := c.Failures()
	if len(failures) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div id="domplate-error-overlay" style="position:fixed;bottom:0;left:0;right:0;max-height:40%;overflow:auto;`)
	b.WriteString(`background:rgba(0,0,0,0.85);color:#fff;font:13px monospace;padding:12px;z-index:9999">`)
	fmt.Fprintf(&b, `<strong>%d render problem(s)</strong><ul style="margin:6px 0 0;padding-left:18px">`, len(failures))

	for _, f := range failures {
		color := "#ff6b6b"
		if f.Severity == SeverityWarning {
			color = "#feca57"
		}
		fmt.Fprintf(&b, `<li style="color:%s">%s <span style="color:#a0aec0">%s</span> %s</li>`,
			color, f.Severity, html.EscapeString(f.Path), html.EscapeString(f.Message))
	}

	b.WriteString(`</ul></div>`)

	return b.String()
}
