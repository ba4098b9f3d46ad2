package modules

import (
	"canon/internal/entity"
	"canon/internal/lens"
)

// conditionsMet reports whether every condition of the rule holds. Module
// state is this source's own document for the current pass only.
func conditionsMet(rule lens.FieldRule, e entity.ExtractedEntity, doc map[string]any) bool {
	for _, c := range rule.Conditions {
		if !conditionMet(c, rule, e, doc) {
			return false
		}
	}
	return true
}

func conditionMet(c lens.Condition, rule lens.FieldRule, e entity.ExtractedEntity, doc map[string]any) bool {
	switch c.Kind {
	case lens.ConditionFieldNotPopulated:
		path := c.Field
		if path == "" {
			path = rule.Target
		}
		return !populated(doc, path)

	case lens.ConditionAnyRequiredFieldMissing:
		for _, path := range c.Fields {
			if !populated(doc, path) {
				return true
			}
		}
		return false

	case lens.ConditionSourceHasField:
		return e.HasField(c.Field)

	case lens.ConditionValuePresent:
		if c.Field != "" {
			return e.HasField(c.Field)
		}
		for _, f := range rule.Sources {
			if e.HasField(f) {
				return true
			}
		}
		return false
	}
	return false
}

func populated(doc map[string]any, path string) bool {
	v, ok := entity.GetPath(doc, path)
	return ok && entity.IsPopulated(v)
}
