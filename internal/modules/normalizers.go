package modules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"canon/internal/lens"
)

// normalize applies the rule's normalizer pipeline in order.
func normalize(kinds []lens.NormalizerKind, v any) (any, error) {
	var err error
	for _, k := range kinds {
		v, err = applyNormalizer(k, v)
		if err != nil {
			return nil, fmt.Errorf("normalizer %s: %w", k, err)
		}
	}
	return v, nil
}

func applyNormalizer(kind lens.NormalizerKind, v any) (any, error) {
	switch kind {
	case lens.NormalizerTrim:
		return mapStrings(v, strings.TrimSpace), nil
	case lens.NormalizerLowercase:
		return mapStrings(v, strings.ToLower), nil
	case lens.NormalizerListWrap:
		if list, ok := v.([]any); ok {
			return list, nil
		}
		return []any{v}, nil
	case lens.NormalizerRoundInteger:
		return roundInteger(v)
	}
	return nil, fmt.Errorf("unsupported normalizer %q", kind)
}

func mapStrings(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = mapStrings(item, fn)
		}
		return out
	default:
		return v
	}
}

// roundInteger rounds half away from zero using decimal arithmetic so that
// "2.5" and 2.5 both become 3.
func roundInteger(v any) (any, error) {
	var d apd.Decimal
	switch t := v.(type) {
	case int64:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("cannot round %v", t)
		}
		if _, err := d.SetFloat64(t); err != nil {
			return nil, err
		}
	case string:
		if _, _, err := d.SetString(strings.TrimSpace(t)); err != nil {
			return nil, fmt.Errorf("not a number: %q", t)
		}
	case bool:
		return nil, fmt.Errorf("cannot round boolean")
	default:
		return nil, fmt.Errorf("cannot round %T", v)
	}

	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfUp
	var rounded apd.Decimal
	if _, err := ctx.RoundToIntegralValue(&rounded, &d); err != nil {
		return nil, err
	}
	i, err := strconv.ParseInt(rounded.Text('f'), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("integer out of range: %w", err)
	}
	return i, nil
}
