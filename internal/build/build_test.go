package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/domplate/internal/config"
	"github.com/conneroisu/domplate/internal/datasource"
	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/pkg/domplate"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newBuilder() *Builder {
	return NewBuilder(domplate.Config{Concurrency: 4}, nil)
}

func TestBuildFragment(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<ul><li data-is=".items"></li></ul>`)
	data := writeFile(t, dir, "data.json", `{"items":["a","b"]}`)

	result := newBuilder().Build(context.Background(), Job{Template: tpl, Data: data, Fragment: true})

	require.NoError(t, result.Error)
	assert.Equal(t, "<ul><li>a</li><li>b</li></ul>", result.Output)
	assert.Empty(t, result.Failures)
	assert.Empty(t, result.Overlay)
	assert.Equal(t, tpl, result.Job.Template)
}

func TestBuildFullDocument(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<!DOCTYPE html><html><head><title data-is=".title"></title></head><body></body></html>`)
	data := writeFile(t, dir, "data.yaml", "title: Hello\n")

	result := newBuilder().Build(context.Background(), Job{Template: tpl, Data: data})

	require.NoError(t, result.Error)
	assert.True(t, strings.HasPrefix(result.Output, "<!DOCTYPE html>"))
	assert.Contains(t, result.Output, "<title>Hello</title>")
}

func TestBuildWithoutData(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<p data-if=".x">x</p><p>y</p>`)

	result := newBuilder().Build(context.Background(), Job{Template: tpl, Fragment: true})

	require.NoError(t, result.Error)
	assert.Equal(t, "<p>y</p>", result.Output)
}

func TestBuildFromInput(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<b data-is=".name"></b>`)

	b := newBuilder()
	result := b.Build(context.Background(), Job{
		Template: tpl,
		Data:     StdinPath,
		Format:   datasource.FormatYAML,
		Fragment: true,
		Input:    strings.NewReader("name: stdin\n"),
	})
	require.NoError(t, result.Error)
	assert.Equal(t, "<b>stdin</b>", result.Output)

	result = b.Build(context.Background(), Job{Template: tpl, Data: StdinPath})
	require.Error(t, result.Error)
	var de *errors.DomplateError
	require.ErrorAs(t, result.Error, &de)
	assert.Equal(t, errors.ErrCodeValidationFailed, de.Code)
}

func TestBuildRoot(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<i data-is=":root .site"></i><b data-is=".name"></b>`)
	data := writeFile(t, dir, "data.json", `{"name":"page"}`)
	root := writeFile(t, dir, "site.json", `{"site":"Example"}`)

	result := newBuilder().Build(context.Background(), Job{Template: tpl, Data: data, Root: root, Fragment: true})

	require.NoError(t, result.Error)
	assert.Equal(t, "<i>Example</i><b>page</b>", result.Output)
}

func TestBuildDegraded(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<p data-is="$missing">keep</p>`)
	data := writeFile(t, dir, "data.json", `{}`)

	b := newBuilder()
	result := b.Build(context.Background(), Job{Template: tpl, Data: data, Fragment: true})

	require.NoError(t, result.Error)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, errors.ErrCodeVariableUndefined, result.Failures[0].Code)
	assert.Contains(t, result.Overlay, "domplate-error-overlay")

	m := b.Metrics()
	assert.Equal(t, int64(1), m.TotalBuilds)
	assert.Equal(t, int64(1), m.SuccessfulBuilds)
	assert.Equal(t, int64(1), m.DegradedBuilds)
	assert.Equal(t, map[string]int64{errors.ErrCodeVariableUndefined: 1}, m.FailuresByCode)
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<p></p>`)
	bad := writeFile(t, dir, "bad.json", `{`)

	tests := []struct {
		name string
		job  Job
		code string
	}{
		{"missing template", Job{Template: filepath.Join(dir, "nope.html")}, errors.ErrCodeFileNotFound},
		{"missing data", Job{Template: tpl, Data: filepath.Join(dir, "nope.json")}, errors.ErrCodeFileNotFound},
		{"unknown extension", Job{Template: tpl, Data: filepath.Join(dir, "data.txt")}, errors.ErrCodeUnsupportedData},
		{"missing root", Job{Template: tpl, Root: filepath.Join(dir, "nope.json")}, errors.ErrCodeFileNotFound},
	}

	b := newBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := b.Build(context.Background(), tt.job)
			require.Error(t, result.Error)
			var de *errors.DomplateError
			require.ErrorAs(t, result.Error, &de)
			assert.Equal(t, tt.code, de.Code)
		})
	}

	result := b.Build(context.Background(), Job{Template: tpl, Data: bad})
	assert.Error(t, result.Error)

	m := b.Metrics()
	assert.Equal(t, int64(len(tests)+1), m.FailedBuilds)
	assert.Zero(t, b.metrics.GetSuccessRate())
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<p data-is=".a"></p>`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newBuilder().Build(ctx, Job{Template: tpl})
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestBuildLogs(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<p></p>`)

	rec := logging.NewRecorder()
	b := NewBuilder(domplate.Config{}, rec)
	b.Build(context.Background(), Job{Template: tpl})
	b.Build(context.Background(), Job{Template: filepath.Join(dir, "nope.html")})

	var debug, failed []string
	for _, e := range rec.Entries() {
		if e.Component != "build" {
			continue
		}
		switch e.Level {
		case logging.LevelDebug:
			debug = append(debug, e.Message)
		case logging.LevelError:
			failed = append(failed, e.Message)
		}
	}
	assert.Equal(t, []string{"built"}, debug)
	assert.Len(t, failed, 1)
	assert.Greater(t, rec.Count(logging.LevelDebug), len(debug), "the engine logs through the same logger")
}

func TestDataCache(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.json", `{"a":1}`)

	c := NewDataCache()
	v, hit, err := c.Load(path, "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	_, hit, err = c.Load(path, "")
	require.NoError(t, err)
	assert.True(t, hit)

	require.NoError(t, os.WriteFile(path, []byte(`{"a":2}`), 0o644))
	v, hit, err = c.Load(path, "")
	require.NoError(t, err)
	assert.False(t, hit, "changed content must be decoded again")
	assert.Equal(t, map[string]any{"a": float64(2)}, v)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 1, c.Len())

	c.Invalidate(path)
	assert.Zero(t, c.Len())
}

func TestDataCacheSkipsMarkup(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.html", `<p>x</p>`)

	c := NewDataCache()
	for range 2 {
		_, hit, err := c.Load(path, "")
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Zero(t, c.Len())
}

func TestDataCacheDecodeError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.json", `{"a":1}`)

	c := NewDataCache()
	_, _, err := c.Load(path, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, _, err = c.Load(path, "")
	require.Error(t, err)
	assert.Zero(t, c.Len())
}

func TestBuildCacheHitMetrics(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "page.html", `<p data-is=".a"></p>`)
	data := writeFile(t, dir, "data.json", `{"a":"x"}`)

	b := newBuilder()
	first := b.Build(context.Background(), Job{Template: tpl, Data: data})
	second := b.Build(context.Background(), Job{Template: tpl, Data: data})
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Output, second.Output)

	b.Invalidate(data)
	third := b.Build(context.Background(), Job{Template: tpl, Data: data})
	assert.False(t, third.CacheHit)

	m := b.Metrics()
	assert.Equal(t, int64(3), m.TotalBuilds)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, 100.0, b.metrics.GetSuccessRate())
	assert.Equal(t, m.TotalDuration/3, m.AverageDuration)
}

func TestEngineConfig(t *testing.T) {
	cfg := &config.Config{Render: config.RenderConfig{
		Concurrency: 7,
		Debug:       true,
		Locale:      "de",
		Timezone:    "Europe/Berlin",
		Sanitize:    true,
	}}
	ec, err := EngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, ec.Concurrency)
	assert.True(t, ec.Debug)
	assert.True(t, ec.Sanitize)
	assert.Equal(t, "de", ec.DefaultLocale)
	assert.Equal(t, "Europe/Berlin", ec.Location.String())

	cfg.Render.Timezone = "Mars/Olympus"
	_, err = EngineConfig(cfg)
	require.Error(t, err)
}

func TestMetricsRecord(t *testing.T) {
	m := NewBuildMetrics()
	m.RecordBuild(BuildResult{Duration: 10 * time.Millisecond, CacheHit: true})
	m.RecordBuild(BuildResult{Duration: 30 * time.Millisecond, Error: errors.NewInternalError(errors.ErrCodeInternalError, "x", nil)})

	s := m.GetSnapshot()
	assert.Equal(t, int64(2), s.TotalBuilds)
	assert.Equal(t, int64(1), s.FailedBuilds)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, 20*time.Millisecond, s.AverageDuration)
	assert.Equal(t, 50.0, m.GetSuccessRate())
}
