// Package fieldpath resolves dotted paths against heterogeneous values:
// Go structs (such as AWS SDK output types) and string-keyed maps
// (such as decoded JSON).
package fieldpath

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNotFound is returned when a path segment is absent.
	ErrNotFound = errors.New("field not found")

	// ErrMalformedPath is returned for empty paths or empty segments.
	ErrMalformedPath = errors.New("malformed path")
)

// Accessor is implemented by values that expose named fields.
type Accessor interface {
	Field(name string) (any, bool)
}

// Collection is a handle whose items must be enumerated before use.
type Collection interface {
	Items() []any
}

// Accessible returns an Accessor for v when v is a struct, a map with
// string keys, a pointer to either, or already an Accessor.
func Accessible(v any) (Accessor, bool) {
	if a, ok := v.(Accessor); ok {
		return a, true
	}

	rv := indirectValue(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Struct:
		return structAccessor{v: rv}, true
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return mapAccessor{v: rv}, true
		}
	}
	return nil, false
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrMalformedPath)
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, path)
		}
	}
	return segments, nil
}

// Get descends path one segment at a time. Pointers are followed and nil
// pointers count as absent.
func Get(v any, path string) (any, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}

	cur := v
	for i, segment := range segments {
		acc, ok := Accessible(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %q (no fields at %q)", ErrNotFound, path, strings.Join(segments[:i], "."))
		}
		next, ok := acc.Field(segment)
		if !ok {
			return nil, fmt.Errorf("%w: %q (missing %q)", ErrNotFound, path, segment)
		}
		cur = next
	}
	return cur, nil
}

// GetOr is Get with a default returned on any lookup failure.
func GetOr(v any, path string, def any) any {
	got, err := Get(v, path)
	if err != nil {
		return def
	}
	return got
}

// Flatten expands nested slices, arrays and Collection handles into a
// single list. Nil values are dropped; a scalar yields a one-element list.
func Flatten(v any) []any {
	var out []any
	flatten(v, &out)
	return out
}

func flatten(v any, out *[]any) {
	if c, ok := v.(Collection); ok {
		for _, item := range c.Items() {
			flatten(item, out)
		}
		return
	}

	rv := indirectValue(reflect.ValueOf(v))
	if !rv.IsValid() {
		return
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			*out = append(*out, rv.Interface())
			return
		}
		for i := 0; i < rv.Len(); i++ {
			flatten(rv.Index(i).Interface(), out)
		}
		return
	}

	*out = append(*out, rv.Interface())
}

// Indirect follows pointers and interfaces. It returns nil for nil pointers.
func Indirect(v any) any {
	rv := indirectValue(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// IsScalar reports whether v has no fields and is not a list.
func IsScalar(v any) bool {
	if _, ok := v.(Collection); ok {
		return false
	}
	if _, ok := Accessible(v); ok {
		return false
	}
	rv := indirectValue(reflect.ValueOf(v))
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Type().Elem().Kind() == reflect.Uint8
	}
	return true
}

// IsEmpty reports nil, nil pointers, empty strings and empty
// slices or maps. False booleans and zero numbers are not empty.
func IsEmpty(v any) bool {
	rv := indirectValue(reflect.ValueOf(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func indirectValue(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// Collect resolves path like Get but maps across every list met on the
// way, returning all values reached as one flat list. Absent branches are
// skipped. "Reservations.Instances" yields every instance of every
// reservation.
func Collect(v any, path string) ([]any, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}

	cur := Flatten(v)
	for _, segment := range segments {
		var next []any
		for _, c := range cur {
			acc, ok := Accessible(c)
			if !ok {
				continue
			}
			got, ok := acc.Field(segment)
			if !ok {
				continue
			}
			next = append(next, Flatten(got)...)
		}
		cur = next
	}
	return cur, nil
}
