package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/conneroisu/domplate/internal/dom"
)

var dateKey = regexp.MustCompile(`[Dd]ate$`)

// inputLayouts are the string forms a date value may take.
var inputLayouts = []string{
	"2006.01.02",
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
	time.RFC3339Nano,
}

type dateFormat struct {
	tag    language.Tag
	layout string
}

// dateFormats are the short numeric date forms per locale. The first entry
// is the fallback of the matcher.
var dateFormats = []dateFormat{
	{language.AmericanEnglish, "01/02/2006"},
	{language.English, "01/02/2006"},
	{language.BritishEnglish, "02/01/2006"},
	{language.German, "02.01.2006"},
	{language.French, "02/01/2006"},
	{language.Spanish, "02/01/2006"},
	{language.Italian, "02/01/2006"},
	{language.Dutch, "02-01-2006"},
	{language.Polish, "02.01.2006"},
	{language.Russian, "02.01.2006"},
	{language.Portuguese, "02/01/2006"},
	{language.Japanese, "2006/01/02"},
	{language.Chinese, "2006/01/02"},
	{language.Korean, "2006. 01. 02."},
	{language.Swedish, "2006-01-02"},
}

var dateMatcher = func() language.Matcher {
	tags := make([]language.Tag, len(dateFormats))
	for i, f := range dateFormats {
		tags[i] = f.tag
	}
	return language.NewMatcher(tags)
}()

// Date formats values stored under keys ending in "date" or "Date". Numbers
// are epoch milliseconds; strings are parsed with the known layouts. The
// locale comes from the nearest lang attribute.
type Date struct{}

func (Date) Name() string { return "date" }

func (Date) Render(_ context.Context, in Input, cfg *Config) (Result, error) {
	if !dateKey.MatchString(in.Key) {
		return Decline(in.Value)
	}
	t, ok, err := toTime(in.Value, cfg.location())
	if !ok {
		return Decline(in.Value)
	}
	if err != nil {
		return Result{}, err
	}

	locale := dom.Lang(in.Node)
	if locale == "" {
		locale = cfg.locale()
	}
	dom.SetText(in.Node, FormatDate(t, locale))
	return Handle()
}

// FormatDate renders t in the short numeric form of locale.
func FormatDate(t time.Time, locale string) string {
	_, idx := language.MatchStrings(dateMatcher, strings.ReplaceAll(locale, "_", "-"))
	if idx < 0 || idx >= len(dateFormats) {
		idx = 0
	}
	return t.Format(dateFormats[idx].layout)
}

// toTime reports whether v is date-like and, if so, converts it. A
// date-like value that cannot be parsed yields an error.
func toTime(v any, loc *time.Location) (time.Time, bool, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false, nil
		}
		return t.In(loc), true, nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false, nil
		}
		return t.In(loc), true, nil
	case string:
		if t == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range inputLayouts {
			if parsed, err := time.ParseInLocation(layout, t, loc); err == nil {
				return parsed, true, nil
			}
		}
		return time.Time{}, true, fmt.Errorf("unrecognized date %q", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, true, err
		}
		return fromMillis(f, loc)
	case float64:
		return fromMillis(t, loc)
	case float32:
		return fromMillis(float64(t), loc)
	case int:
		return fromMillis(float64(t), loc)
	case int64:
		return fromMillis(float64(t), loc)
	case int32:
		return fromMillis(float64(t), loc)
	case uint64:
		return fromMillis(float64(t), loc)
	}
	return time.Time{}, false, nil
}

func fromMillis(ms float64, loc *time.Location) (time.Time, bool, error) {
	if ms == 0 {
		return time.Time{}, false, nil
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, true, fmt.Errorf("invalid timestamp %v", ms)
	}
	return time.UnixMilli(int64(ms)).In(loc), true, nil
}
