// Package logging provides the structured logger shared by the merge engine,
// the renderer chain and the command line front end. It is a thin layer over
// log/slog that carries a component name and persistent fields.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents different log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	levelOff
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger interface for structured logging
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// DomplateLogger implements Logger on top of slog.
type DomplateLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	fields    map[string]interface{}
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new structured logger
func NewLogger(config *LoggerConfig) *DomplateLogger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     slogLevel(config.Level),
		AddSource: config.AddSource,
	}

	if config.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &DomplateLogger{
		logger:    slog.New(handler),
		level:     config.Level,
		component: config.Component,
		fields:    make(map[string]interface{}),
	}
}

// NewNop returns a logger that discards everything. Library callers that do
// not pass a logger get this one.
func NewNop() *DomplateLogger {
	return &DomplateLogger{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		level:  levelOff,
		fields: make(map[string]interface{}),
	}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message
func (l *DomplateLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	l.log(ctx, slog.LevelDebug, nil, msg, fields...)
}

// Info logs an info message
func (l *DomplateLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	l.log(ctx, slog.LevelInfo, nil, msg, fields...)
}

// Warn logs a warning message
func (l *DomplateLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	if l.level > LevelWarn {
		return
	}
	l.log(ctx, slog.LevelWarn, err, msg, fields...)
}

// Error logs an error message
func (l *DomplateLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	if l.level > LevelError {
		return
	}
	l.log(ctx, slog.LevelError, err, msg, fields...)
}

// With creates a new logger with additional fields
func (l *DomplateLogger) With(fields ...interface{}) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		newFields[k] = v
	}

	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			newFields[key] = fields[i+1]
		}
	}

	return &DomplateLogger{
		logger:    l.logger,
		level:     l.level,
		component: l.component,
		fields:    newFields,
	}
}

// WithComponent creates a new logger with component context
func (l *DomplateLogger) WithComponent(component string) Logger {
	return &DomplateLogger{
		logger:    l.logger,
		level:     l.level,
		component: component,
		fields:    l.fields,
	}
}

func (l *DomplateLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields ...interface{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Handler().Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(l.fields)+len(fields)/2+2)

	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	for k, v := range l.fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			attrs = append(attrs, slog.Any(key, fields[i+1]))
		}
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(attrs...)

	_ = l.logger.Handler().Handle(ctx, record)
}

// Recorder is an in-memory Logger used by tests to assert on what the engine
// reported.
type Recorder struct {
	entries *recorderEntries
	fields  []interface{}
}

// Entry is one recorded log line.
type Entry struct {
	Level     LogLevel
	Component string
	Message   string
	Err       error
	Fields    []interface{}
}

type recorderEntries struct {
	mu   sync.Mutex
	list []Entry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{entries: &recorderEntries{}}
}

func (r *Recorder) add(e Entry) {
	r.entries.mu.Lock()
	defer r.entries.mu.Unlock()
	e.Fields = append(append([]interface{}{}, r.fields...), e.Fields...)
	r.entries.list = append(r.entries.list, e)
}

// component returns the innermost component name, as WithComponent
// replaces the outer one.
func (r *Recorder) component() string {
	name := ""
	for i := 0; i+1 < len(r.fields); i += 2 {
		if r.fields[i] == "component" {
			if s, ok := r.fields[i+1].(string); ok {
				name = s
			}
		}
	}
	return name
}

func (r *Recorder) Debug(_ context.Context, msg string, fields ...interface{}) {
	r.add(Entry{Level: LevelDebug, Component: r.component(), Message: msg, Fields: fields})
}

func (r *Recorder) Info(_ context.Context, msg string, fields ...interface{}) {
	r.add(Entry{Level: LevelInfo, Component: r.component(), Message: msg, Fields: fields})
}

func (r *Recorder) Warn(_ context.Context, err error, msg string, fields ...interface{}) {
	r.add(Entry{Level: LevelWarn, Component: r.component(), Message: msg, Err: err, Fields: fields})
}

func (r *Recorder) Error(_ context.Context, err error, msg string, fields ...interface{}) {
	r.add(Entry{Level: LevelError, Component: r.component(), Message: msg, Err: err, Fields: fields})
}

func (r *Recorder) With(fields ...interface{}) Logger {
	return &Recorder{entries: r.entries, fields: append(append([]interface{}{}, r.fields...), fields...)}
}

func (r *Recorder) WithComponent(component string) Logger {
	return r.With("component", component)
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.entries.mu.Lock()
	defer r.entries.mu.Unlock()
	out := make([]Entry, len(r.entries.list))
	copy(out, r.entries.list)
	return out
}

// Count returns how many entries were logged at the given level.
func (r *Recorder) Count(level LogLevel) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
