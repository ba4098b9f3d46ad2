package modules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/tidwall/gjson"

	"canon/internal/entity"
	"canon/internal/lens"
	pkgstrings "canon/pkg/platform/strings"
)

// errNoValue means an extractor ran cleanly but found nothing to write.
var errNoValue = errors.New("no value")

var numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// sourceValues collects the rule's source field values in declaration order.
func sourceValues(rule lens.FieldRule, e entity.ExtractedEntity) []string {
	var out []string
	for _, field := range rule.Sources {
		out = append(out, e.Values(field)...)
	}
	return out
}

// extract runs the rule's extractor. It returns errNoValue when the sources
// yield nothing and a different error when the rule itself fails.
func extract(rule lens.FieldRule, e entity.ExtractedEntity) (any, error) {
	switch rule.Extractor {
	case lens.ExtractorNumericParse:
		for _, v := range sourceValues(rule, e) {
			if tok := numberPattern.FindString(v); tok != "" {
				return parseDecimal(strings.Replace(tok, ",", ".", 1))
			}
		}
		return nil, errNoValue

	case lens.ExtractorRegexCapture:
		idx := rule.Pattern.SubexpIndex(rule.Capture)
		if idx < 0 {
			return nil, fmt.Errorf("capture group %q not in pattern", rule.Capture)
		}
		for _, v := range sourceValues(rule, e) {
			if m := rule.Pattern.FindStringSubmatch(v); m != nil && m[idx] != "" {
				return m[idx], nil
			}
		}
		return nil, errNoValue

	case lens.ExtractorJSONPath:
		if len(e.Raw) == 0 {
			return nil, errNoValue
		}
		if !gjson.ValidBytes(e.Raw) {
			return nil, errors.New("raw item is not valid json")
		}
		res := gjson.GetBytes(e.Raw, rule.Path)
		if !res.Exists() || res.Type == gjson.Null {
			return nil, errNoValue
		}
		return normalizeJSON(res.Value()), nil

	case lens.ExtractorBooleanCoerce:
		for _, v := range sourceValues(rule, e) {
			if b, ok := coerceBool(v); ok {
				return b, nil
			}
		}
		return nil, errNoValue

	case lens.ExtractorCoalesce:
		for _, v := range sourceValues(rule, e) {
			if s := strings.TrimSpace(v); s != "" {
				return s, nil
			}
		}
		return nil, errNoValue

	case lens.ExtractorArrayBuilder:
		var items []string
		for _, v := range sourceValues(rule, e) {
			items = append(items, buildItems(rule, v)...)
		}
		items = pkgstrings.DedupeAndTrim(items)
		if len(items) == 0 {
			return nil, errNoValue
		}
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported extractor %q", rule.Extractor)
}

// buildItems returns every pattern match in v (the capture group when
// named), or v itself when the rule has no pattern.
func buildItems(rule lens.FieldRule, v string) []string {
	if rule.Pattern == nil {
		return []string{v}
	}
	idx := 0
	if rule.Capture != "" {
		idx = rule.Pattern.SubexpIndex(rule.Capture)
		if idx < 0 {
			return nil
		}
	}
	var out []string
	for _, m := range rule.Pattern.FindAllStringSubmatch(v, -1) {
		out = append(out, m[idx])
	}
	return out
}

var (
	trueWords  = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "available": true, "open": true, "on": true}
	falseWords = map[string]bool{"false": true, "no": true, "n": true, "0": true, "unavailable": true, "closed": true, "off": true, "none": true}
)

func coerceBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case trueWords[s]:
		return true, true
	case falseWords[s]:
		return false, true
	}
	return false, false
}

// parseDecimal parses a numeric token with apd so that integral values
// come back as int64 and everything else as float64.
func parseDecimal(tok string) (any, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(tok); err != nil {
		return nil, fmt.Errorf("parse number %q: %w", tok, err)
	}
	return decimalValue(&d)
}

func decimalValue(d *apd.Decimal) (any, error) {
	var reduced apd.Decimal
	reduced.Reduce(d)
	if reduced.Exponent >= 0 {
		i, err := reduced.Int64()
		if err == nil {
			return i, nil
		}
	}
	f, err := d.Float64()
	if err != nil {
		return nil, fmt.Errorf("number out of range: %w", err)
	}
	return f, nil
}

// normalizeJSON converts gjson values to module document types.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeJSON(val)
		}
		return out
	default:
		return v
	}
}
