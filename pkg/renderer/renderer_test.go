package renderer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/dom"
	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
)

func body(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(`<html lang="en"><body>` + markup + `</body></html>`))
	require.NoError(t, err)
	b := dom.Body(doc)
	require.NotNil(t, b)
	return b
}

func first(t *testing.T, markup string) *html.Node {
	t.Helper()
	n := body(t, markup).FirstChild
	require.NotNil(t, n)
	return n
}

func inner(t *testing.T, n *html.Node) string {
	t.Helper()
	s, err := dom.InnerHTML(n)
	require.NoError(t, err)
	return s
}

func TestChainOrder(t *testing.T) {
	c := NewChain([]Renderer{Named("mine", func(context.Context, Input, *Config) (Result, error) {
		return Decline(nil)
	})}, Defaults(), nil)
	want := []string{"mine", "date", "url", "input", "img", "text", "dom2dom", "last"}
	if diff := cmp.Diff(want, c.Names()); diff != "" {
		t.Errorf("chain order mismatch (-want +got):\n%s", diff)
	}
}

func TestChainCustomRendererOverridesBuiltins(t *testing.T) {
	n := first(t, `<p>x</p>`)
	c := NewChain([]Renderer{Named("upper", func(_ context.Context, in Input, _ *Config) (Result, error) {
		s, ok := in.Value.(string)
		if !ok {
			return Decline(in.Value)
		}
		dom.SetText(in.Node, strings.ToUpper(s))
		return Handle()
	})}, Defaults(), nil)

	outcome, _, err := c.Run(context.Background(), Input{Node: n, Value: "hi", Index: -1}, &Config{})
	require.NoError(t, err)
	assert.Equal(t, Handled, outcome)
	assert.Equal(t, "HI", dom.Text(n))
}

func TestChainForwardsReplacedValue(t *testing.T) {
	n := first(t, `<p>x</p>`)
	c := NewChain([]Renderer{Named("wrap", func(_ context.Context, in Input, _ *Config) (Result, error) {
		return Decline(fmt.Sprintf("[%v]", in.Value))
	})}, Defaults(), nil)

	outcome, _, err := c.Run(context.Background(), Input{Node: n, Value: 3.0, Index: -1}, &Config{})
	require.NoError(t, err)
	assert.Equal(t, Handled, outcome)
	assert.Equal(t, "[3]", dom.Text(n))
}

func TestChainFailureIsDeclinedAndReported(t *testing.T) {
	rec := logging.NewRecorder()
	col := errors.NewCollector()
	n := first(t, `<p>x</p>`)
	c := NewChain([]Renderer{
		Named("broken", func(context.Context, Input, *Config) (Result, error) {
			return Result{}, fmt.Errorf("boom")
		}),
		Named("panics", func(context.Context, Input, *Config) (Result, error) {
			panic("bad renderer")
		}),
	}, Defaults(), errors.NewErrorHandler(rec, col))

	outcome, _, err := c.Run(context.Background(), Input{Node: n, Value: "ok", Index: -1}, &Config{})
	require.NoError(t, err)
	assert.Equal(t, Handled, outcome)
	assert.Equal(t, "ok", dom.Text(n))

	assert.Equal(t, 2, rec.Count(logging.LevelError))
	failures := col.ByType(errors.ErrorTypeRenderer)
	require.Len(t, failures, 2)
	assert.Equal(t, errors.ErrCodeRendererFailed, failures[0].Code)
}

func TestChainDeclinedValueIsForwarded(t *testing.T) {
	data := map[string]any{"a": 1.0}
	c := NewChain(nil, Defaults(), nil)
	outcome, v, err := c.Run(context.Background(), Input{Node: first(t, `<p></p>`), Value: data, Index: -1}, &Config{})
	require.NoError(t, err)
	assert.Equal(t, Declined, outcome)
	assert.Equal(t, data, v)
}

func TestChainTerminalFailureEscalates(t *testing.T) {
	rec := logging.NewRecorder()
	c := NewChain(nil, nil, errors.NewErrorHandler(rec, nil)).
		WithTerminal(Named("last", func(context.Context, Input, *Config) (Result, error) {
			panic("stack blown")
		}))

	_, _, err := c.Run(context.Background(), Input{Node: first(t, `<p></p>`), Value: 1.0, Index: -1}, &Config{})
	require.Error(t, err)
	assert.True(t, errors.IsRendererError(err))
	assert.False(t, errors.IsRecoverable(err))
	assert.Contains(t, err.Error(), errors.ErrCodeRendererContract)
	assert.Zero(t, rec.Count(logging.LevelError), "escalated failures are left to the caller")
}

func TestDateRenderer(t *testing.T) {
	ms := float64(time.Date(2013, 1, 8, 0, 0, 0, 0, time.UTC).UnixMilli())
	tests := []struct {
		name   string
		markup string
		key    string
		value  any
		want   string
		outcom Outcome
	}{
		{"english string", `<span>d</span>`, "date", "2013.01.08", "01/08/2013", Handled},
		{"german from lang", `<div lang="de"><span>d</span></div>`, "date", "2013-01-08", "08.01.2013", Handled},
		{"epoch millis", `<span>d</span>`, "birthDate", ms, "01/08/2013", Handled},
		{"time value", `<span>d</span>`, "date", time.Date(2013, 1, 8, 12, 0, 0, 0, time.UTC), "01/08/2013", Handled},
		{"british", `<div lang="en-GB"><span>d</span></div>`, "date", "2013/01/08", "08/01/2013", Handled},
		{"not a date key", `<span>d</span>`, "name", "2013.01.08", "d", Declined},
		{"zero is not a date", `<span>d</span>`, "date", 0.0, "d", Declined},
		{"boolean ignored", `<span>d</span>`, "date", true, "d", Declined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := first(t, tt.markup)
			if n.Data != "span" {
				n = n.FirstChild
			}
			res, err := Date{}.Render(context.Background(), Input{Node: n, Key: tt.key, Value: tt.value, Index: -1}, &Config{})
			require.NoError(t, err)
			assert.Equal(t, tt.outcom, res.Outcome)
			assert.Equal(t, tt.want, dom.Text(n))
		})
	}
}

func TestDateRendererUnparsableStringFails(t *testing.T) {
	n := first(t, `<span>d</span>`)
	_, err := Date{}.Render(context.Background(), Input{Node: n, Key: "date", Value: "soon", Index: -1}, &Config{})
	assert.Error(t, err)
	assert.Equal(t, "d", dom.Text(n))
}

func TestDateRendererDefaultLocale(t *testing.T) {
	n := &html.Node{Type: html.ElementNode, Data: "span"}
	res, err := Date{}.Render(context.Background(), Input{Node: n, Key: "date", Value: "2013.01.08", Index: -1},
		&Config{DefaultLocale: "de-DE"})
	require.NoError(t, err)
	assert.Equal(t, Handled, res.Outcome)
	assert.Equal(t, "08.01.2013", dom.Text(n))
}

func TestFormatDateUnknownLocaleFallsBack(t *testing.T) {
	d := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "12/31/2020", FormatDate(d, "xx"))
	assert.Equal(t, "31.12.2020", FormatDate(d, "de_AT"))
}

func TestURLRenderer(t *testing.T) {
	a := first(t, `<a href="#">T</a>`)
	res, err := URL{}.Render(context.Background(), Input{Node: a, Key: "url", Value: "/x", Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Handled, res.Outcome)
	assert.Equal(t, "/x", dom.AttrValue(a, "href"))
	assert.Equal(t, "T", dom.Text(a))

	form := first(t, `<form action="/old"></form>`)
	res, err = URL{}.Render(context.Background(), Input{Node: form, Key: "url", Value: "/post", Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Handled, res.Outcome)
	assert.Equal(t, "/post", dom.AttrValue(form, "action"))

	div := first(t, `<div>T</div>`)
	res, err = URL{}.Render(context.Background(), Input{Node: div, Key: "url", Value: "/x", Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)

	res, err = URL{}.Render(context.Background(), Input{Node: a, Key: "link", Value: "/y", Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)
}

func TestFormControlRenderer(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		value  any
		want   string
	}{
		{"input", `<input type="text">`, "abc", `<input type="text" value="abc"/>`},
		{"number", `<input>`, 3.5, `<input value="3.5"/>`},
		{"checkbox untouched", `<input type="checkbox" value="on">`, "x", `<input type="checkbox" value="on"/>`},
		{"textarea content", `<textarea>old</textarea>`, "line1\nline2", "<textarea>line1\nline2</textarea>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := body(t, tt.markup)
			res, err := FormControl{}.Render(context.Background(), Input{Node: b.FirstChild, Value: tt.value, Index: -1}, nil)
			require.NoError(t, err)
			assert.Equal(t, Handled, res.Outcome)
			assert.Equal(t, tt.want, inner(t, b))
		})
	}

	p := first(t, `<p></p>`)
	res, err := FormControl{}.Render(context.Background(), Input{Node: p, Value: "x", Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)
}

func TestImageRenderer(t *testing.T) {
	img := first(t, `<img src="x.png">`)
	res, err := Image{}.Render(context.Background(), Input{Node: img, Value: "y.png", Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Handled, res.Outcome)
	assert.Equal(t, "y.png", dom.AttrValue(img, "src"))

	src := first(t, `<img src="z.png">`)
	res, err = Image{}.Render(context.Background(), Input{Node: img, Value: src, Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)
	assert.Equal(t, "y.png", dom.AttrValue(img, "src"))
	obj := map[string]any{"url": "w.png"}
	res, err = Image{}.Render(context.Background(), Input{Node: img, Value: obj, Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)
	assert.Equal(t, obj, res.Value)
	assert.Equal(t, "y.png", dom.AttrValue(img, "src"))
}

func TestTextRenderer(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"<b>", "&lt;b&gt;"},
		{0.0, "0"},
		{false, "false"},
		{int64(12), "12"},
	}
	for _, tt := range tests {
		p := first(t, `<p>old<b>x</b></p>`)
		res, err := Text{}.Render(context.Background(), Input{Node: p, Value: tt.value, Index: -1}, nil)
		require.NoError(t, err)
		assert.Equal(t, Handled, res.Outcome)
		assert.Equal(t, tt.want, inner(t, p))
	}

	p := first(t, `<p>old</p>`)
	res, err := Text{}.Render(context.Background(), Input{Node: p, Value: map[string]any{}, Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)
}

func merge(t *testing.T, target, source *html.Node, cfg *Config) Result {
	t.Helper()
	res, err := TreeMerge{}.Render(context.Background(), Input{Node: target, Value: source, Index: -1}, cfg)
	require.NoError(t, err)
	require.Equal(t, Declined, res.Outcome)
	require.Same(t, source, res.Value)
	return res
}

func TestTreeMergeTextReplacement(t *testing.T) {
	tests := []struct {
		name   string
		target string
		source string
		want   string
	}{
		{"more target texts", `<p>a<b>x</b>b<i></i>c</p>`, `<p>1<b>y</b>2</p>`, `1<b>x</b>2<i></i>`},
		{"more source texts", `<p>a<b>x</b></p>`, `<p>1<i>q</i>2</p>`, `12<b>x</b>`},
		{"no target texts", `<p><b>x</b></p>`, `<p>1</p>`, `<b>x</b>1`},
		{"no source texts", `<p>a<b>x</b>b</p>`, `<p><i>q</i></p>`, `<b>x</b>`},
		{"whitespace compressed", `<p>a</p>`, "<p>1   \n\n 2</p>", "1\n2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := first(t, tt.target)
			merge(t, target, first(t, tt.source), &Config{})
			assert.Equal(t, tt.want, inner(t, target))
		})
	}
}

func TestTreeMergeDebugKeepsWhitespaceAndComments(t *testing.T) {
	target := first(t, `<p>a</p>`)
	source := first(t, `<li class="c">1   2</li>`)
	merge(t, target, source, &Config{Debug: true})

	comment := target.FirstChild
	require.Equal(t, html.CommentNode, comment.Type)
	assert.Equal(t, `dom2dom:html/body/<li class="c" >`, comment.Data)
	assert.Equal(t, "1   2", dom.Text(target))
}

func TestTreeMergeExcludeTexts(t *testing.T) {
	target := first(t, `<p data-exclude-texts="true">a</p>`)
	merge(t, target, first(t, `<p>1</p>`), &Config{})
	assert.Equal(t, "a", inner(t, target))
}

func TestTreeMergeAttributes(t *testing.T) {
	source := `<div id="s" class="a b" title="x" data-k="v"></div>`
	tests := []struct {
		name   string
		target string
		want   map[string]string
	}{
		{
			name:   "all attributes, classes merged",
			target: `<div class="t"></div>`,
			want:   map[string]string{"id": "s", "class": "a b t", "title": "x", "data-data-k": "v"},
		},
		{
			name:   "exclude list",
			target: `<div class="t" data-exclude-attributes="id title"></div>`,
			want:   map[string]string{"class": "a b t", "data-exclude-attributes": "id title", "data-data-k": "v"},
		},
		{
			name:   "include list",
			target: `<div data-attributes="title"></div>`,
			want:   map[string]string{"title": "x", "data-attributes": "title"},
		},
		{
			name:   "class filters",
			target: `<div class="t" data-class="a" data-attributes="class"></div>`,
			want:   map[string]string{"class": "a t", "data-class": "a", "data-attributes": "class"},
		},
		{
			name:   "exclude all classes",
			target: `<div data-exclude-class="*" data-exclude-attributes="*"></div>`,
			want:   map[string]string{"data-exclude-class": "*", "data-exclude-attributes": "*"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := first(t, tt.target)
			merge(t, target, first(t, source), &Config{})
			got := map[string]string{}
			for _, a := range target.Attr {
				got[a.Key] = a.Val
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("attributes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTreeMergeInner(t *testing.T) {
	target := first(t, `<div data-option="inner">old</div>`)
	merge(t, target, first(t, `<div><b data-x="1">n</b> tail</div>`), &Config{})
	assert.Equal(t, `<b data-data-x="1">n</b> tail`, inner(t, target))
}

func TestTreeMergeInnerSanitized(t *testing.T) {
	target := first(t, `<div data-option="pass inner">old</div>`)
	source := first(t, `<div><b data-x="1" onclick="evil()">n</b><script>alert(1)</script></div>`)
	merge(t, target, source, &Config{Sanitizer: NewSanitizer()})
	assert.Equal(t, `<b data-data-x="1">n</b>`, inner(t, target))
}

func TestTreeMergeIgnoresOtherValues(t *testing.T) {
	target := first(t, `<p>a</p>`)
	res, err := TreeMerge{}.Render(context.Background(), Input{Node: target, Value: map[string]any{"a": 1}, Index: -1}, &Config{})
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)
	assert.Equal(t, "a", inner(t, target))
}
