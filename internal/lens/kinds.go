package lens

import "fmt"

// ExtractorKind is the closed set of deterministic field extractors.
type ExtractorKind string

const (
	ExtractorNumericParse  ExtractorKind = "numeric_parse"
	ExtractorRegexCapture  ExtractorKind = "regex_capture"
	ExtractorJSONPath      ExtractorKind = "json_path"
	ExtractorBooleanCoerce ExtractorKind = "boolean_coerce"
	ExtractorCoalesce      ExtractorKind = "coalesce"
	ExtractorArrayBuilder  ExtractorKind = "array_builder"
)

// ParseExtractorKind parses an extractor name.
func ParseExtractorKind(s string) (ExtractorKind, error) {
	switch k := ExtractorKind(s); k {
	case ExtractorNumericParse, ExtractorRegexCapture, ExtractorJSONPath,
		ExtractorBooleanCoerce, ExtractorCoalesce, ExtractorArrayBuilder:
		return k, nil
	}
	return "", fmt.Errorf("unknown extractor %q", s)
}

// NormalizerKind is the closed set of value normalizers.
type NormalizerKind string

const (
	NormalizerTrim         NormalizerKind = "trim"
	NormalizerLowercase    NormalizerKind = "lowercase"
	NormalizerListWrap     NormalizerKind = "list_wrap"
	NormalizerRoundInteger NormalizerKind = "round_integer"
)

// ParseNormalizerKind parses a normalizer name.
func ParseNormalizerKind(s string) (NormalizerKind, error) {
	switch k := NormalizerKind(s); k {
	case NormalizerTrim, NormalizerLowercase, NormalizerListWrap, NormalizerRoundInteger:
		return k, nil
	}
	return "", fmt.Errorf("unknown normalizer %q", s)
}

// ConditionKind is the closed set of field rule gates.
type ConditionKind string

const (
	// ConditionFieldNotPopulated runs the rule only while its target (or the
	// named module field) is still empty.
	ConditionFieldNotPopulated ConditionKind = "field_not_populated"
	// ConditionAnyRequiredFieldMissing runs the rule while any of the listed
	// module fields is empty.
	ConditionAnyRequiredFieldMissing ConditionKind = "any_required_field_missing"
	// ConditionSourceHasField runs the rule when the entity carries the named
	// observation field.
	ConditionSourceHasField ConditionKind = "source_has_field"
	// ConditionValuePresent runs the rule when any of its source fields (or
	// the named field) carries a value.
	ConditionValuePresent ConditionKind = "value_present"
)

// ParseConditionKind parses a condition name.
func ParseConditionKind(s string) (ConditionKind, error) {
	switch k := ConditionKind(s); k {
	case ConditionFieldNotPopulated, ConditionAnyRequiredFieldMissing, ConditionSourceHasField, ConditionValuePresent:
		return k, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}
