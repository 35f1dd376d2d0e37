package selector

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

type valueKind int

const (
	kindObject valueKind = iota
	kindString
	kindNumber
	kindBool
	kindTime
)

// maxDepth bounds how deep the object walker descends, which also stops
// self-referencing data from recursing forever.
const maxDepth = 256

// item is one selectable position in the data being queried. Object data and
// markup trees are both lowered to items so the combinator logic is shared.
type item struct {
	parent   *item
	children []*item

	value any
	node  *html.Node

	key      string
	hasKey   bool
	index    int
	arrayLen int
	inArray  bool

	kind  valueKind
	order int
}

// identity is what deduplication compares. Markup nodes can be reached from
// more than one start item, so they compare by node.
func (it *item) identity() any {
	if it.node != nil {
		return it.node
	}
	return it
}

func (it *item) child(key string) *item {
	for _, c := range it.children {
		if c.hasKey && c.key == key {
			return c
		}
	}
	return nil
}

func (it *item) text() string {
	return FormatValue(it.value)
}

func (it *item) match() Match {
	m := Match{Value: it.value, Key: it.key, Index: -1}
	if it.inArray {
		m.Index = it.index
	}
	return m
}

// FormatValue renders a primitive value the way the text renderer and the
// attribute tests see it. Non-primitive values format with fmt.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// IsPrimitive reports whether v is rendered as text rather than descended
// into: strings, numbers, booleans and times.
func IsPrimitive(v any) bool {
	if v == nil {
		return false
	}
	k, _ := classify(reflect.ValueOf(v))
	return k != kindObject
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	jsonNumberType = reflect.TypeOf(json.Number(""))
	nodeType       = reflect.TypeOf((*html.Node)(nil))
)

// classify reports the kind of a value and the dereferenced reflect value.
func classify(rv reflect.Value) (valueKind, reflect.Value) {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.Type() == nodeType {
			return kindObject, rv
		}
		if rv.IsNil() {
			return kindObject, reflect.Value{}
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return kindObject, rv
	}
	switch rv.Type() {
	case timeType:
		return kindTime, rv
	case jsonNumberType:
		return kindNumber, rv
	}
	switch rv.Kind() {
	case reflect.String:
		return kindString, rv
	case reflect.Bool:
		return kindBool, rv
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return kindNumber, rv
	}
	return kindObject, rv
}

// selectable reports whether a value may appear in a result. Nil and false
// never do.
func selectable(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		if rv.Type() == nodeType {
			return true
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Bool && !rv.Bool() {
		return false
	}
	return true
}

func isList(rv reflect.Value) bool {
	if !rv.IsValid() {
		return false
	}
	k := rv.Kind()
	if k == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return false
	}
	return k == reflect.Slice || k == reflect.Array
}

// builder lowers data into items, numbering them in document order.
type builder struct {
	seq *int
}

func (b *builder) next() int {
	n := *b.seq
	*b.seq++
	return n
}

func (b *builder) newItem(parent *item, v any, key string, hasKey bool) *item {
	it := &item{parent: parent, value: v, key: key, hasKey: hasKey, order: b.next()}
	it.kind, _ = classify(reflect.ValueOf(v))
	return it
}

// objectRoot builds the item tree rooted at v. When self is set the root is a
// virtual parent whose children are v itself, so v becomes a candidate.
func (b *builder) objectRoot(v any, key string, self bool) *item {
	if self {
		virtual := &item{order: b.next()}
		b.add(virtual, reflect.ValueOf(v), key, key != "", 0)
		return virtual
	}
	root := b.newItem(nil, v, key, key != "")
	b.populate(root, reflect.ValueOf(v), 0)
	return root
}

// add appends the value as a child of parent. Lists are transparent: their
// elements are added instead, each carrying the list's key.
func (b *builder) add(parent *item, rv reflect.Value, key string, hasKey bool, depth int) {
	if depth > maxDepth || !rv.IsValid() {
		return
	}
	_, deref := classify(rv)
	if isList(deref) {
		n := deref.Len()
		for i := 0; i < n; i++ {
			elem := deref.Index(i)
			_, inner := classify(elem)
			if isList(inner) {
				b.add(parent, elem, key, hasKey, depth+1)
				continue
			}
			v := elem.Interface()
			if !selectable(v) {
				continue
			}
			it := b.newItem(parent, v, key, hasKey)
			it.inArray, it.index, it.arrayLen = true, i, n
			parent.children = append(parent.children, it)
			b.populate(it, elem, depth+1)
		}
		return
	}
	v := rv.Interface()
	if !selectable(v) {
		return
	}
	it := b.newItem(parent, v, key, hasKey)
	parent.children = append(parent.children, it)
	b.populate(it, rv, depth+1)
}

func (b *builder) populate(it *item, rv reflect.Value, depth int) {
	if depth > maxDepth || !rv.IsValid() {
		return
	}
	kind, deref := classify(rv)
	if kind != kindObject || !deref.IsValid() || deref.Type() == nodeType {
		return
	}
	switch {
	case isList(deref):
		b.add(it, deref, it.key, it.hasKey, depth)
	case deref.Kind() == reflect.Map:
		keys := deref.MapKeys()
		names := make([]string, len(keys))
		byName := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			names[i] = mapKey(k)
			byName[names[i]] = k
		}
		sort.Strings(names)
		for _, name := range names {
			b.add(it, deref.MapIndex(byName[name]), name, true, depth)
		}
	case deref.Kind() == reflect.Struct:
		b.addStruct(it, deref, depth)
	}
}

func mapKey(k reflect.Value) string {
	for k.Kind() == reflect.Interface {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

func (b *builder) addStruct(it *item, rv reflect.Value, depth int) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		tagged := false
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
				tagged = true
			}
		}
		fv := rv.Field(i)
		if f.Anonymous && !tagged {
			_, inner := classify(fv)
			if inner.IsValid() && inner.Kind() == reflect.Struct && inner.Type() != timeType {
				b.addStruct(it, inner, depth)
				continue
			}
		}
		b.add(it, fv, name, true, depth)
	}
}

// treeRoot builds items for the element tree below n.
func (b *builder) treeRoot(n *html.Node, self bool) *item {
	if self {
		virtual := &item{order: b.next()}
		it := b.nodeItem(virtual, n)
		virtual.children = []*item{it}
		return virtual
	}
	return b.nodeItem(nil, n)
}

func (b *builder) nodeItem(parent *item, n *html.Node) *item {
	it := &item{parent: parent, value: n, node: n, kind: kindObject, order: b.next()}
	if n.Type == html.ElementNode {
		it.key = n.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			it.children = append(it.children, b.nodeItem(it, c))
		}
	}
	return it
}
