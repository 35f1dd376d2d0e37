package scope

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/pkg/selector"
)

func newResolver(root any) (*Resolver, *logging.Recorder, *errors.Collector) {
	rec := logging.NewRecorder()
	col := errors.NewCollector()
	return &Resolver{Root: root, Errors: errors.NewErrorHandler(rec, col)}, rec, col
}

func TestResolveMemoizesByLiteral(t *testing.T) {
	data := map[string]any{"persons": []any{"a", "b"}}
	r, _, _ := newResolver(data)
	s := New(data)
	ctx := context.Background()

	first := r.Resolve(ctx, s, ".persons", false)
	second := r.Resolve(ctx, s, ".persons", false)
	assert.Same(t, first, second)
	assert.Equal(t, 2, first.Len())

	spaced := r.Resolve(ctx, s, " .persons ", false)
	assert.Same(t, first, spaced, "surrounding whitespace is not part of the literal")

	other := r.Resolve(ctx, s, ".persons:first-child, .persons", false)
	assert.NotSame(t, first, other, "equivalent selectors are evaluated independently")

	self := r.Resolve(ctx, s, ".persons", true)
	assert.NotSame(t, first, self)
}

func TestResolveConcurrentSharesOneSet(t *testing.T) {
	data := map[string]any{"x": 1.0}
	r, _, _ := newResolver(data)
	s := New(data)

	var wg sync.WaitGroup
	results := make([]*Set, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), s, ".x", false)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Same(t, results[0], got)
	}
}

func TestResolveVariables(t *testing.T) {
	data := map[string]any{"img": []any{"a.png", "b.png"}, "p": map[string]any{"q": "x"}}
	r, rec, _ := newResolver(data)
	root := New(data)
	ctx := context.Background()

	assigned := r.Resolve(ctx, root, "$img=.img", false)
	require.Equal(t, 2, assigned.Len())

	child := root.Child(selector.Match{Value: data["p"], Key: "p", Index: -1}, root)
	grandchild := child.Child(selector.Match{Value: "x", Key: "q", Index: -1}, child)

	assert.Same(t, assigned, r.Resolve(ctx, grandchild, "$img", false))
	assert.Same(t, assigned, r.Resolve(ctx, grandchild, " $img ", false))
	assert.Equal(t, 0, rec.Count(logging.LevelError))
}

func TestResolveVariableNotVisibleFromSiblings(t *testing.T) {
	data := map[string]any{"a": "1", "b": "2"}
	r, rec, col := newResolver(data)
	root := New(data)
	ctx := context.Background()

	left := root.Child(selector.Match{Value: "1", Key: "a", Index: -1}, root)
	right := root.Child(selector.Match{Value: "2", Key: "b", Index: -1}, root)

	r.Resolve(ctx, left, "$v=*", true)
	got := r.Resolve(ctx, right, "$v", false)
	assert.True(t, got.IsEmpty())

	require.Equal(t, 1, rec.Count(logging.LevelError))
	entry := rec.Entries()[0]
	assert.Equal(t, "variable lookup failed", entry.Message)
	assert.Equal(t, 1, col.Len())
}

func TestResolveReassignWarns(t *testing.T) {
	data := map[string]any{"a": "1", "b": "2"}
	r, rec, _ := newResolver(data)
	s := New(data)
	ctx := context.Background()

	r.Resolve(ctx, s, "$v=.a", false)
	last := r.Resolve(ctx, s, "$v=.b", false)

	assert.Equal(t, 1, rec.Count(logging.LevelWarn))
	assert.Same(t, last, r.Resolve(ctx, s, "$v", false))
	v, ok := last.First()
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestResolveSelectorErrorIsEmpty(t *testing.T) {
	data := map[string]any{"a": "1"}
	r, rec, col := newResolver(data)
	s := New(data)

	got := r.Resolve(context.Background(), s, ".a[", false)
	assert.True(t, got.IsEmpty())
	assert.Equal(t, 1, rec.Count(logging.LevelError))
	assert.Len(t, col.ByType(errors.ErrorTypeSelector), 1)

	r.Resolve(context.Background(), s, ".a[", false)
	assert.Equal(t, 1, rec.Count(logging.LevelError), "failed results are memoized too")
}

func TestResolveEmptyExpressions(t *testing.T) {
	r, rec, _ := newResolver(nil)
	s := New(nil)
	assert.True(t, r.Resolve(context.Background(), s, "  ", false).IsEmpty())
	assert.True(t, r.Resolve(context.Background(), s, "$", false).IsEmpty())
	assert.Equal(t, 1, rec.Count(logging.LevelError))
}

func TestResolveRootAnchor(t *testing.T) {
	data := map[string]any{"title": "T", "page": map[string]any{"body": "B"}}
	r, _, _ := newResolver(data)
	root := New(data)
	page := root.Child(selector.Match{Value: data["page"], Key: "page", Index: -1}, root)

	got := r.Resolve(context.Background(), page, ":root > .title", false)
	v, ok := got.First()
	require.True(t, ok)
	assert.Equal(t, "T", v)
}

func TestSetNilSafety(t *testing.T) {
	var s *Set
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.IsEmpty())
	assert.Nil(t, s.Entries())
	_, ok := s.First()
	assert.False(t, ok)
	assert.Empty(t, s.Values())
}

func TestScopePathAndDepth(t *testing.T) {
	root := New(map[string]any{})
	a := root.Child(selector.Match{Key: "users", Index: 0}, root)
	b := a.Child(selector.Match{Key: "name", Index: -1}, a)

	assert.Equal(t, ".", root.Path())
	assert.Equal(t, ".users.name", b.Path())
	assert.Equal(t, 2, b.Depth())
}
