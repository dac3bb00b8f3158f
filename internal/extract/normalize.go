package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/yairfalse/reclaim/internal/fieldpath"
)

// Epoch values at or above this are read as milliseconds.
const epochMillisThreshold = 1e12

// fallback layouts for timestamps strfmt does not accept.
var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
}

// NormalizeTime converts a provider timestamp to UTC. It accepts
// time.Time, strfmt.DateTime, epoch seconds or milliseconds as numbers or
// numeric strings, and ISO-8601 strings. Unknown or zero values yield nil.
func NormalizeTime(v any) *time.Time {
	var t time.Time

	switch x := fieldpath.Indirect(v).(type) {
	case nil:
		return nil
	case time.Time:
		t = x
	case strfmt.DateTime:
		t = time.Time(x)
	case string:
		parsed, ok := parseTimestamp(x)
		if !ok {
			return nil
		}
		t = parsed
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		t = fromEpoch(f)
	case int:
		t = fromEpoch(float64(x))
	case int32:
		t = fromEpoch(float64(x))
	case int64:
		t = fromEpoch(float64(x))
	case uint32:
		t = fromEpoch(float64(x))
	case uint64:
		t = fromEpoch(float64(x))
	case float32:
		t = fromEpoch(float64(x))
	case float64:
		t = fromEpoch(x)
	default:
		return nil
	}

	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f), true
	}
	if dt, err := strfmt.ParseDateTime(s); err == nil {
		return time.Time(dt), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) time.Time {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	if math.Abs(f) >= epochMillisThreshold {
		return time.UnixMilli(int64(f))
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// properties copies the non-empty values named by the rule.
func properties(rule Rule, item any) map[string]any {
	props := map[string]any{}
	for _, path := range rule.PropertyPaths() {
		v, err := fieldpath.Get(item, path)
		if err != nil || fieldpath.IsEmpty(v) {
			continue
		}
		props[path] = normalizeProperty(path, v)
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func normalizeProperty(path string, v any) any {
	segments := strings.Split(path, ".")
	last := strings.ToLower(segments[len(segments)-1])
	if last == "tags" || last == "taglist" {
		if tags := normalizeTags(v); len(tags) > 0 {
			return tags
		}
	}
	return plain(v)
}

// normalizeTags turns [{Key, Value}] lists and string-keyed maps into a
// flat string map.
func normalizeTags(v any) map[string]string {
	tags := map[string]string{}

	switch x := plain(v).(type) {
	case []any:
		for _, tag := range x {
			key := scalarString(fieldpath.GetOr(tag, "Key", nil))
			if key == "" {
				continue
			}
			tags[key] = scalarString(fieldpath.GetOr(tag, "Value", nil))
		}
	case map[string]any:
		for k, val := range x {
			if fieldpath.IsScalar(val) {
				tags[k] = scalarString(val)
			}
		}
	}
	return tags
}

// plain converts v into JSON-compatible values: strings, bools, float64,
// []any and map[string]any.
func plain(v any) any {
	switch x := fieldpath.Indirect(v).(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		return x
	case float64:
		return x
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(fieldpath.Indirect(v))
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data)
	}
	return out
}

// scalarString renders a scalar identifier. Non-scalars and nil yield "".
// Floats print without exponent so decoded JSON numbers keep the
// identity of their integer or string form.
func scalarString(v any) string {
	v = fieldpath.Indirect(v)
	if v == nil || !fieldpath.IsScalar(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}
