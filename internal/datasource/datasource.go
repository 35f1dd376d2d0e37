// Package datasource loads the data a template is rendered with. Object
// formats decode into plain maps, slices and primitives; markup formats are
// parsed into a document tree that is used as DOM data.
package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/domplate/internal/errors"
)

// Format names a data encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatJSONC    Format = "jsonc"
	FormatYAML     Format = "yaml"
	FormatCBOR     Format = "cbor"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

var extensions = map[string]Format{
	".json":     FormatJSON,
	".jsonc":    FormatJSONC,
	".yaml":     FormatYAML,
	".yml":      FormatYAML,
	".cbor":     FormatCBOR,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".xhtml":    FormatHTML,
	".xml":      FormatHTML,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
}

// ParseFormat resolves a format name or an alias such as "yml" or "md".
func ParseFormat(name string) (Format, error) {
	key := strings.ToLower(strings.TrimPrefix(name, "."))
	if f, ok := extensions["."+key]; ok {
		return f, nil
	}
	switch Format(key) {
	case FormatJSON, FormatJSONC, FormatYAML, FormatCBOR, FormatHTML, FormatMarkdown:
		return Format(key), nil
	}
	return "", errors.NewValidationError(errors.ErrCodeUnsupportedData, fmt.Sprintf("unknown data format %q", name))
}

// FormatOf derives the format from a file extension.
func FormatOf(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", errors.NewValidationError(errors.ErrCodeUnsupportedData,
		fmt.Sprintf("cannot tell the data format of %q", path)).
		WithContext("path", path)
}

// Load reads and decodes the file at path. An empty format is derived from
// the extension.
func Load(path string, format Format) (any, error) {
	if format == "" {
		f, err := FormatOf(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.ErrCodeInternalError
		if os.IsNotExist(err) {
			code = errors.ErrCodeFileNotFound
		}
		return nil, errors.NewIOError(code, "cannot read data file", err).WithContext("path", path)
	}
	v, err := Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Parse decodes everything read from r.
func Parse(format Format, r io.Reader) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInternalError, "cannot read data", err)
	}
	return Decode(format, data)
}

// Decode decodes data in the given format.
func Decode(format Format, data []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch format {
	case FormatJSON:
		v, err = decodeJSON(data)
	case FormatJSONC:
		v, err = decodeJSON(jsonc.ToJSON(data))
	case FormatYAML:
		v, err = decodeYAML(data)
	case FormatCBOR:
		v, err = decodeCBOR(data)
	case FormatHTML:
		return parseMarkup(data)
	case FormatMarkdown:
		return parseMarkdown(data)
	default:
		return nil, errors.NewValidationError(errors.ErrCodeUnsupportedData, fmt.Sprintf("unknown data format %q", format))
	}
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeUnsupportedData,
			fmt.Sprintf("invalid %s data: %v", format, err))
	}
	return v, nil
}

func decodeJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeYAML(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// cborMode decodes untyped maps as map[any]any, since cbor allows any key
// type; normalize turns them into map[string]any.
var cborMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("datasource: cbor decoder: " + err.Error())
	}
	return mode
}()

func decodeCBOR(data []byte) (any, error) {
	var v any
	if err := cborMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// normalize turns maps with non-string keys into map[string]any so yaml and
// json data select alike.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	}
	return v
}

func parseMarkup(data []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeUnsupportedData, fmt.Sprintf("invalid markup: %v", err))
	}
	return doc, nil
}

// markdown is initialized once and reused; goldmark keeps per-call state
// in the parse.
var (
	markdown     goldmark.Markdown
	markdownOnce sync.Once
)

func markdownConverter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdown
}

// parseMarkdown converts markdown to markup and parses it, so headings,
// paragraphs and lists become selectable elements.
func parseMarkdown(data []byte) (*html.Node, error) {
	var buf bytes.Buffer
	if err := markdownConverter().Convert(data, &buf); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeUnsupportedData, fmt.Sprintf("invalid markdown: %v", err))
	}
	return parseMarkup(buf.Bytes())
}
