package datasource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecodeObjects(t *testing.T) {
	want := map[string]any{
		"title": "Hello",
		"count": 3.0,
		"tags":  []any{"a", "b"},
		"user":  map[string]any{"name": "ann", "admin": false},
	}

	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{"json", FormatJSON, `{"title":"Hello","count":3,"tags":["a","b"],"user":{"name":"ann","admin":false}}`},
		{"jsonc", FormatJSONC, `{
			// page title
			"title": "Hello",
			"count": 3, /* items */
			"tags": ["a", "b",],
			"user": {"name": "ann", "admin": false,},
		}`},
		{"yaml", FormatYAML, "title: Hello\ncount: 3.0\ntags: [a, b]\nuser:\n  name: ann\n  admin: false\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.format, []byte(tt.input))
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeCBOR(t *testing.T) {
	want := map[string]any{
		"title": "Hello",
		"count": 3.0,
		"tags":  []any{"a", "b"},
		"user":  map[string]any{"name": "ann", "admin": false},
	}
	data, err := cbor.Marshal(want)
	require.NoError(t, err)

	got, err := Decode(FormatCBOR, data)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))

	keyed, err := cbor.Marshal(map[int]string{1: "one"})
	require.NoError(t, err)
	got, err = Decode(FormatCBOR, keyed)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"1": "one"}, got)

	_, err = Decode(FormatCBOR, []byte{0xa1})
	assert.Error(t, err)
}

func TestDecodeYAMLNormalizesKeys(t *testing.T) {
	got, err := Decode(FormatYAML, []byte("1: one\nnested:\n  - 2: two\n"))
	require.NoError(t, err)
	want := map[string]any{
		"1":      "one",
		"nested": []any{map[string]any{"2": "two"}},
	}
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeMarkup(t *testing.T) {
	got, err := Decode(FormatHTML, []byte(`<h1>Title</h1><p>text</p>`))
	require.NoError(t, err)
	doc, ok := got.(*html.Node)
	require.True(t, ok)
	assert.Equal(t, html.DocumentNode, doc.Type)
	inner, err := dom.InnerHTML(dom.Body(doc))
	require.NoError(t, err)
	assert.Equal(t, `<h1>Title</h1><p>text</p>`, inner)
}

func TestDecodeMarkdown(t *testing.T) {
	got, err := Decode(FormatMarkdown, []byte("# Title\n\nSome *text*.\n\n- one\n- two\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)
	doc, ok := got.(*html.Node)
	require.True(t, ok)
	inner, err := dom.InnerHTML(dom.Body(doc))
	require.NoError(t, err)
	assert.Contains(t, inner, `<h1>Title</h1>`)
	assert.Contains(t, inner, `<p>Some <em>text</em>.</p>`)
	assert.Contains(t, inner, `<li>one</li>`)
	assert.Contains(t, inner, `<table>`, "tables come from the GFM extension")
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{"json", FormatJSON, `{"a":`},
		{"jsonc", FormatJSONC, `{"a": // nothing`},
		{"yaml", FormatYAML, "a: [1, 2"},
		{"unknown", Format("toml"), `a = 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.format, []byte(tt.input))
			require.Error(t, err)
			var de *errors.DomplateError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, errors.ErrCodeUnsupportedData, de.Code)
		})
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"data.json":     FormatJSON,
		"data.JSONC":    FormatJSONC,
		"conf.yml":      FormatYAML,
		"conf.yaml":     FormatYAML,
		"page.html":     FormatHTML,
		"feed.xml":      FormatHTML,
		"README.md":     FormatMarkdown,
		"post.markdown": FormatMarkdown,
		"blob.cbor":     FormatCBOR,
	}
	for path, want := range tests {
		got, err := FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatOf("data.toml")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"json", "JSONC", "yml", "yaml", ".md", "markdown", "htm", "xml"} {
		_, err := ParseFormat(name)
		assert.NoError(t, err, name)
	}
	f, err := ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("ini")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "data.yml", "items:\n  - a\n  - b\n")
	got, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, got)

	forced := writeFile(t, "data.txt", `{"x": 1}`)
	got, err = Load(forced, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0}, got)

	_, err = Load(forced, "")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), "")
	require.Error(t, err)
	var de *errors.DomplateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errors.ErrCodeFileNotFound, de.Code)
	assert.Equal(t, errors.ErrorTypeIO, de.Type)

	bad := writeFile(t, "bad.json", `{`)
	_, err = Load(bad, "")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), bad))
}

func TestParse(t *testing.T) {
	got, err := Parse(FormatJSON, strings.NewReader(`[1, "two", null]`))
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, "two", nil}, got)
}
