package entity

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ModuleBlock maps a module namespace to its own structured document.
// Documents hold JSON-like values only: map[string]any, []any, string,
// bool, int64, float64 and nil.
type ModuleBlock map[string]map[string]any

// Clone deep-copies the block.
func (b ModuleBlock) Clone() ModuleBlock {
	if b == nil {
		return nil
	}
	out := make(ModuleBlock, len(b))
	for ns, doc := range b {
		out[ns] = CloneValue(doc).(map[string]any)
	}
	return out
}

// Namespaces returns the attached namespaces, sorted.
func (b ModuleBlock) Namespaces() []string {
	return slices.Sorted(maps.Keys(b))
}

// CloneValue deep-copies a JSON-like value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	default:
		return v
	}
}

// SplitPath splits a dotted target path.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// GetPath reads a dotted path from a document.
func GetPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, key := range SplitPath(path) {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes v at a dotted path, creating intermediate objects. It fails
// when an intermediate segment already holds a non-object value.
func SetPath(doc map[string]any, path string, v any) error {
	keys := SplitPath(path)
	cur := doc
	for i, key := range keys[:len(keys)-1] {
		next, ok := cur[key]
		if !ok {
			child := map[string]any{}
			cur[key] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q: segment %q is not an object", path, strings.Join(keys[:i+1], "."))
		}
		cur = child
	}
	cur[keys[len(keys)-1]] = v
	return nil
}

// IsPopulated reports whether a value counts as present: not nil, not an
// empty string, not an empty array or object.
func IsPopulated(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
