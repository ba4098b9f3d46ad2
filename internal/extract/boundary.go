package extract

import (
	"encoding/json"
	"fmt"

	"canon/internal/entity"
)

// reservedKeys are enrichment outputs that Phase-1 output may never carry.
var reservedKeys = map[string]bool{
	"canonical_activities":  true,
	"canonical_roles":       true,
	"canonical_place_types": true,
	"canonical_access":      true,
	"dimensions":            true,
	"modules":               true,
}

func reserved(name string) bool {
	return reservedKeys[name]
}

func primitive(name string) bool {
	switch name {
	case entity.FieldName, entity.FieldSummary, entity.FieldDescription, entity.FieldCategories,
		entity.FieldAddress, entity.FieldStreet, entity.FieldCity, entity.FieldPostcode, entity.FieldCountry,
		entity.FieldPhone, entity.FieldEmail, entity.FieldWebsite,
		entity.FieldGivenName, entity.FieldFamilyName, entity.FieldMembers:
		return true
	}
	return false
}

// CheckBoundary verifies that an extracted entity carries no canonical
// dimension or module data, either as a serialized key or smuggled in as
// an observation name.
func CheckBoundary(e entity.ExtractedEntity) error {
	for name := range e.Observations {
		if reserved(name) {
			return fmt.Errorf("entity %s: observation %q is a reserved enrichment key", e.ID, name)
		}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("entity %s: %w", e.ID, err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("entity %s: %w", e.ID, err)
	}
	for key := range top {
		if reserved(key) {
			return fmt.Errorf("entity %s: carries reserved key %q", e.ID, key)
		}
	}
	return nil
}
