package fieldpath

import (
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const fieldCacheSize = 4096

type fieldKey struct {
	typ  reflect.Type
	name string
}

// fieldCache maps a struct type and requested name to the field index.
// A nil index records a miss.
var fieldCache = mustFieldCache()

func mustFieldCache() *lru.Cache[fieldKey, []int] {
	c, err := lru.New[fieldKey, []int](fieldCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

// normalize folds case and drops separators so that "instance_id",
// "instanceId" and "InstanceId" name the same field.
func normalize(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(name))
}

// structAccessor reads exported struct fields.
type structAccessor struct {
	v reflect.Value
}

func (a structAccessor) Field(name string) (any, bool) {
	index := fieldIndex(a.v.Type(), name)
	if index == nil {
		return nil, false
	}

	f, err := a.v.FieldByIndexErr(index)
	if err != nil {
		return nil, false
	}
	return unwrap(f)
}

func fieldIndex(t reflect.Type, name string) []int {
	key := fieldKey{typ: t, name: name}
	if index, ok := fieldCache.Get(key); ok {
		return index
	}

	index := lookupField(t, name)
	fieldCache.Add(key, index)
	return index
}

func lookupField(t reflect.Type, name string) []int {
	if f, ok := t.FieldByName(name); ok && f.IsExported() {
		return f.Index
	}

	want := normalize(name)
	for _, f := range reflect.VisibleFields(t) {
		if f.IsExported() && !f.Anonymous && normalize(f.Name) == want {
			return f.Index
		}
	}
	return nil
}

// mapAccessor reads string-keyed map entries.
type mapAccessor struct {
	v reflect.Value
}

func (a mapAccessor) Field(name string) (any, bool) {
	keyType := a.v.Type().Key()

	if got := a.v.MapIndex(reflect.ValueOf(name).Convert(keyType)); got.IsValid() {
		return unwrap(got)
	}

	want := normalize(name)
	iter := a.v.MapRange()
	for iter.Next() {
		if normalize(iter.Key().String()) == want {
			return unwrap(iter.Value())
		}
	}
	return nil, false
}

func unwrap(rv reflect.Value) (any, bool) {
	rv = indirectValue(rv)
	if !rv.IsValid() || !rv.CanInterface() {
		return nil, false
	}
	return rv.Interface(), true
}
