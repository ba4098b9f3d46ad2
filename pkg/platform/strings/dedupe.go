// Package strings provides string manipulation utilities.
package strings

import (
	"sort"
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// SortedSet is DedupeAndTrim followed by a lexicographic sort. The result is
// never nil so it serializes as an empty array rather than null.
//
// Example:
//
//	SortedSet([]string{"tennis", " padel", "tennis"})
//	// Returns: []string{"padel", "tennis"}
func SortedSet(values []string) []string {
	result := DedupeAndTrim(values)
	if result == nil {
		return []string{}
	}
	out := make([]string, len(result))
	copy(out, result)
	sort.Strings(out)
	return out
}

// Union merges any number of slices into one SortedSet.
func Union(sets ...[]string) []string {
	var all []string
	for _, s := range sets {
		all = append(all, s...)
	}
	return SortedSet(all)
}
