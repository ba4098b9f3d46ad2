package entity

import (
	"slices"
	"time"

	"canon/pkg/platform/hashing"
)

// Enriched is an extracted entity after classification, canonical mapping
// and module extraction.
type Enriched struct {
	Entity     ExtractedEntity  `json:"entity"`
	Class      Class            `json:"class"`
	Dimensions Dimensions       `json:"dimensions"`
	Matches    []DimensionMatch `json:"matches,omitempty"`
	Modules    ModuleBlock      `json:"modules,omitempty"`
	// FieldConfidence is keyed by "<namespace>.<target path>".
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
}

// ConfidenceKey builds the FieldConfidence key for a module field.
func ConfidenceKey(namespace, path string) string {
	return namespace + "." + path
}

// Provenance records which sources contributed to a merged entity.
type Provenance struct {
	SourceIDs       []string `json:"source_ids"`
	EntityIDs       []string `json:"entity_ids"`
	RawIngestionIDs []string `json:"raw_ingestion_ids"`
	// ExternalIDs maps a namespace to every identifier observed under it.
	ExternalIDs   map[string][]string `json:"external_ids"`
	PrimarySource string              `json:"primary_source"`
}

// MergedEntity is the canonical record produced from one dedup group.
type MergedEntity struct {
	Class       Class        `json:"class"`
	Name        string       `json:"name"`
	Address     Address      `json:"address"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Contact     Contact      `json:"contact"`
	TimeRange   *TimeRange   `json:"time_range,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Dimensions
	Modules    ModuleBlock `json:"modules"`
	Provenance Provenance  `json:"provenance"`
}

// Hash returns the SHA-256 of the canonical JSON encoding. Two merges of the
// same inputs produce the same hash.
func (m MergedEntity) Hash() (string, error) {
	return hashing.JSON(m)
}

// Record is a persisted merged entity keyed by its derived identifier.
type Record struct {
	Slug      string       `json:"slug"`
	Entity    MergedEntity `json:"entity"`
	Hash      string       `json:"hash"`
	LensID    string       `json:"lens_id"`
	LensHash  string       `json:"lens_hash"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Clone deep-copies the entity so callers can hand it out without sharing
// slices or module documents.
func (m MergedEntity) Clone() MergedEntity {
	out := m
	if m.Coordinates != nil {
		c := *m.Coordinates
		out.Coordinates = &c
	}
	if m.TimeRange != nil {
		tr := *m.TimeRange
		out.TimeRange = &tr
	}
	out.Dimensions = m.Dimensions.Normalize()
	out.Modules = m.Modules.Clone()
	out.Provenance.SourceIDs = slices.Clone(m.Provenance.SourceIDs)
	out.Provenance.EntityIDs = slices.Clone(m.Provenance.EntityIDs)
	out.Provenance.RawIngestionIDs = slices.Clone(m.Provenance.RawIngestionIDs)
	if m.Provenance.ExternalIDs != nil {
		out.Provenance.ExternalIDs = make(map[string][]string, len(m.Provenance.ExternalIDs))
		for ns, ids := range m.Provenance.ExternalIDs {
			out.Provenance.ExternalIDs[ns] = slices.Clone(ids)
		}
	}
	return out
}
