package merge

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"canon/internal/entity"
)

// contribution is one member's value at a module path.
type contribution struct {
	c          *candidate
	v          any
	confidence float64
	hasConf    bool
}

type valueKind int

const (
	kindScalar valueKind = iota
	kindObject
	kindScalarArray
	kindObjectArray
)

func kindOf(v any) valueKind {
	switch t := v.(type) {
	case map[string]any:
		return kindObject
	case []any:
		for _, el := range t {
			switch el.(type) {
			case map[string]any, []any:
				return kindObjectArray
			}
		}
		return kindScalarArray
	}
	return kindScalar
}

// modules merges every namespace any member attached. Namespaces stay
// separate; nothing is flattened.
func (b *builder) modules() entity.ModuleBlock {
	out := entity.ModuleBlock{}
	namespaces := map[string]bool{}
	for _, c := range b.cands {
		for ns := range c.e.Modules {
			namespaces[ns] = true
		}
	}
	for _, ns := range slices.Sorted(maps.Keys(namespaces)) {
		var contribs []contribution
		for _, c := range b.cands {
			if doc, ok := c.e.Modules[ns]; ok {
				contribs = append(contribs, contribution{c: c, v: doc})
			}
		}
		merged, _ := b.mergeValue(ns, "", contribs)
		doc, ok := merged.(map[string]any)
		if !ok {
			doc = map[string]any{}
		}
		out[ns] = doc
	}
	return out
}

// mergeValue merges the values members hold at one path. Objects merge per
// key, scalar arrays union, object arrays and scalars go to a single
// winner, and values of different shapes go wholesale to the higher tier.
func (b *builder) mergeValue(ns, path string, contribs []contribution) (any, bool) {
	present := make([]contribution, 0, len(contribs))
	for _, ct := range contribs {
		if entity.IsPopulated(ct.v) {
			if path != "" {
				ct.confidence, ct.hasConf = ct.c.e.FieldConfidence[entity.ConfidenceKey(ns, path)]
			}
			present = append(present, ct)
		}
	}
	if len(present) == 0 {
		for _, ct := range contribs {
			if _, ok := ct.v.(map[string]any); ok {
				return map[string]any{}, true
			}
		}
		return nil, false
	}

	field := "modules." + ns
	if path != "" {
		field += "." + path
	}

	kind := kindOf(present[0].v)
	for _, ct := range present[1:] {
		if kindOf(ct.v) != kind {
			winner, _ := choose(present, []criterion[contribution]{
				{reason: ReasonTrust, score: func(ct contribution) float64 { return float64(ct.c.trust) }},
				{reason: ReasonPriority, score: func(ct contribution) float64 { return float64(ct.c.priority) }},
			})
			b.record(field, winner.c, len(present), ReasonTypeMismatch)
			return entity.CloneValue(winner.v), true
		}
	}

	switch kind {
	case kindObject:
		keys := map[string]bool{}
		for _, ct := range present {
			for k := range ct.v.(map[string]any) {
				keys[k] = true
			}
		}
		out := make(map[string]any, len(keys))
		for _, k := range slices.Sorted(maps.Keys(keys)) {
			var sub []contribution
			for _, ct := range present {
				if v, ok := ct.v.(map[string]any)[k]; ok {
					sub = append(sub, contribution{c: ct.c, v: v})
				}
			}
			child := k
			if path != "" {
				child = path + "." + k
			}
			if v, ok := b.mergeValue(ns, child, sub); ok {
				out[k] = v
			}
		}
		return out, true

	case kindScalarArray:
		byKey := map[string]any{}
		for _, ct := range present {
			for _, el := range ct.v.([]any) {
				byKey[scalarKey(el)] = el
			}
		}
		out := slices.Collect(maps.Values(byKey))
		slices.SortFunc(out, compareScalars)
		b.record(field, nil, len(present), ReasonUnion)
		return out, true

	case kindObjectArray:
		winner, _ := choose(present, leafCriteria())
		b.record(field, winner.c, len(present), ReasonObjectArray)
		return entity.CloneValue(winner.v), true

	default:
		winner, reason := choose(present, leafCriteria())
		b.record(field, winner.c, len(present), reason)
		return winner.v, true
	}
}

// leafCriteria ranks competing values at one path: trust, then rule
// confidence when every remaining value carries one, then completeness,
// then declared priority.
func leafCriteria() []criterion[contribution] {
	return []criterion[contribution]{
		{reason: ReasonTrust, score: func(ct contribution) float64 { return float64(ct.c.trust) }},
		{
			reason: ReasonConfidence,
			score:  func(ct contribution) float64 { return ct.confidence },
			applies: func(set []contribution) bool {
				for _, ct := range set {
					if !ct.hasConf {
						return false
					}
				}
				return true
			},
		},
		{reason: ReasonCompleteness, score: func(ct contribution) float64 { return float64(leafCount(ct.v)) }},
		{reason: ReasonPriority, score: func(ct contribution) float64 { return float64(ct.c.priority) }},
	}
}

func leafCount(v any) int {
	switch t := v.(type) {
	case map[string]any:
		n := 0
		for _, child := range t {
			n += leafCount(child)
		}
		return n
	case []any:
		n := 0
		for _, child := range t {
			n += leafCount(child)
		}
		return n
	}
	if entity.IsPopulated(v) {
		return 1
	}
	return 0
}

// compareScalars orders numbers numerically ahead of every other scalar,
// which fall back to their canonical JSON text.
func compareScalars(a, b any) int {
	na, aNum := numberOf(a)
	nb, bNum := numberOf(b)
	switch {
	case aNum && bNum:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(scalarKey(a), scalarKey(b))
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// scalarKey is the canonical JSON text of a scalar, used to dedupe and
// order array elements of mixed types.
func scalarKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
