package entity

import (
	"fmt"

	pkgstrings "canon/pkg/platform/strings"
)

// Dimension names one of the four canonical dimension arrays.
type Dimension string

const (
	DimensionActivity  Dimension = "activity"
	DimensionRole      Dimension = "role"
	DimensionPlaceType Dimension = "place_type"
	DimensionAccess    Dimension = "access"
)

// AllDimensions lists the dimensions in their fixed order.
var AllDimensions = []Dimension{DimensionActivity, DimensionRole, DimensionPlaceType, DimensionAccess}

// IsValid reports whether d is a known dimension.
func (d Dimension) IsValid() bool {
	switch d {
	case DimensionActivity, DimensionRole, DimensionPlaceType, DimensionAccess:
		return true
	}
	return false
}

// ParseDimension parses a dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if !d.IsValid() {
		return "", fmt.Errorf("unknown dimension %q", s)
	}
	return d, nil
}

// Dimensions holds the four canonical arrays. Each array is deduplicated,
// lexicographically sorted, and never nil once normalized.
type Dimensions struct {
	Activities []string `json:"canonical_activities"`
	Roles      []string `json:"canonical_roles"`
	PlaceTypes []string `json:"canonical_place_types"`
	Access     []string `json:"canonical_access"`
}

// NewDimensions builds normalized dimensions from per-dimension values.
func NewDimensions(values map[Dimension][]string) Dimensions {
	return Dimensions{
		Activities: pkgstrings.SortedSet(values[DimensionActivity]),
		Roles:      pkgstrings.SortedSet(values[DimensionRole]),
		PlaceTypes: pkgstrings.SortedSet(values[DimensionPlaceType]),
		Access:     pkgstrings.SortedSet(values[DimensionAccess]),
	}
}

// Get returns the array for a dimension.
func (d Dimensions) Get(dim Dimension) []string {
	switch dim {
	case DimensionActivity:
		return d.Activities
	case DimensionRole:
		return d.Roles
	case DimensionPlaceType:
		return d.PlaceTypes
	case DimensionAccess:
		return d.Access
	}
	return nil
}

// Contains reports whether value is present in dim.
func (d Dimensions) Contains(dim Dimension, value string) bool {
	for _, v := range d.Get(dim) {
		if v == value {
			return true
		}
	}
	return false
}

// Normalize returns a copy with every array deduplicated and sorted.
func (d Dimensions) Normalize() Dimensions {
	return NewDimensions(d.asMap())
}

// Union combines dimension sets member-wise.
func Union(sets ...Dimensions) Dimensions {
	merged := make(map[Dimension][]string, len(AllDimensions))
	for _, dim := range AllDimensions {
		lists := make([][]string, 0, len(sets))
		for _, s := range sets {
			lists = append(lists, s.Get(dim))
		}
		merged[dim] = pkgstrings.Union(lists...)
	}
	return NewDimensions(merged)
}

func (d Dimensions) asMap() map[Dimension][]string {
	return map[Dimension][]string{
		DimensionActivity:  d.Activities,
		DimensionRole:      d.Roles,
		DimensionPlaceType: d.PlaceTypes,
		DimensionAccess:    d.Access,
	}
}

// DimensionMatch records one mapping rule firing. Confidence is provenance
// only and never decides whether a rule fires.
type DimensionMatch struct {
	RuleID     string    `json:"rule_id"`
	Dimension  Dimension `json:"dimension"`
	Value      string    `json:"value"`
	Field      string    `json:"field"`
	Confidence float64   `json:"confidence"`
}
