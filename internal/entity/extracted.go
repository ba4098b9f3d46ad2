// Package entity holds the records that flow between pipeline stages:
// extracted primitives, enriched entities, and the merged canonical record.
package entity

import (
	"encoding/json"
	"strings"
	"time"
)

// Coordinates is a geographic anchor as observed by one source.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// PrecisionMeters is explicit accuracy metadata supplied by the source, if any.
	PrecisionMeters *float64 `json:"precision_meters,omitempty"`
	// Decimals is the smaller count of fractional digits in the source's
	// textual latitude and longitude.
	Decimals int `json:"decimals"`
}

// Address holds postal address parts.
type Address struct {
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// IsZero reports whether no part is set.
func (a Address) IsZero() bool {
	return a.Street == "" && a.City == "" && a.Postcode == "" && a.Country == ""
}

// Text joins the non-empty parts with ", ".
func (a Address) Text() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.Postcode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Filled counts non-empty parts.
func (a Address) Filled() int {
	n := 0
	for _, p := range []string{a.Street, a.City, a.Postcode, a.Country} {
		if p != "" {
			n++
		}
	}
	return n
}

// Contact holds contact fields.
type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// TimeRange is a start/end pair. Either end may be zero.
type TimeRange struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// IsZero reports whether neither end is set.
func (t TimeRange) IsZero() bool {
	return t.Start.IsZero() && t.End.IsZero()
}

// ExtractedEntity is the Phase-1 output of a source extractor: schema
// primitives and raw observation strings only. It never carries canonical
// dimension values or module data.
type ExtractedEntity struct {
	ID             string            `json:"id"`
	SourceID       string            `json:"source_id"`
	RawIngestionID string            `json:"raw_ingestion_id"`
	ExternalIDs    map[string]string `json:"external_ids,omitempty"`

	Name        string       `json:"name,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Address     Address      `json:"address,omitzero"`
	Contact     Contact      `json:"contact,omitzero"`
	TimeRange   *TimeRange   `json:"time_range,omitempty"`

	GivenName   string   `json:"given_name,omitempty"`
	FamilyName  string   `json:"family_name,omitempty"`
	MemberCount *int     `json:"member_count,omitempty"`
	Members     []string `json:"members,omitempty"`

	Summary      string            `json:"summary,omitempty"`
	Description  string            `json:"description,omitempty"`
	Categories   []string          `json:"raw_categories,omitempty"`
	Observations map[string]string `json:"observations,omitempty"`

	// Raw is the source item this entity was read from. It feeds JSON-path
	// field rules and is never serialized.
	Raw json.RawMessage `json:"-"`
}

// Observation field names that resolve to primitives rather than Observations.
const (
	FieldName        = "name"
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldCategories  = "raw_categories"
	FieldAddress     = "address"
	FieldStreet      = "street"
	FieldCity        = "city"
	FieldPostcode    = "postcode"
	FieldCountry     = "country"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldWebsite     = "website"
	FieldGivenName   = "given_name"
	FieldFamilyName  = "family_name"
	FieldMembers     = "members"
)

// DefaultObservationFields are inspected by mapping rules that declare none.
var DefaultObservationFields = []string{FieldName, FieldSummary, FieldDescription, FieldCategories, FieldAddress}

// Values returns the non-empty string values of a named observation field.
// Unknown names resolve against Observations.
func (e ExtractedEntity) Values(field string) []string {
	var out []string
	add := func(v string) {
		if v != "" {
			out = append(out, v)
		}
	}
	switch field {
	case FieldName:
		add(e.Name)
	case FieldSummary:
		add(e.Summary)
	case FieldDescription:
		add(e.Description)
	case FieldCategories:
		for _, c := range e.Categories {
			add(c)
		}
	case FieldAddress:
		add(e.Address.Text())
	case FieldStreet:
		add(e.Address.Street)
	case FieldCity:
		add(e.Address.City)
	case FieldPostcode:
		add(e.Address.Postcode)
	case FieldCountry:
		add(e.Address.Country)
	case FieldPhone:
		add(e.Contact.Phone)
	case FieldEmail:
		add(e.Contact.Email)
	case FieldWebsite:
		add(e.Contact.Website)
	case FieldGivenName:
		add(e.GivenName)
	case FieldFamilyName:
		add(e.FamilyName)
	case FieldMembers:
		for _, m := range e.Members {
			add(m)
		}
	default:
		add(e.Observations[field])
	}
	return out
}

// HasField reports whether the named observation field carries a value.
func (e ExtractedEntity) HasField(field string) bool {
	return len(e.Values(field)) > 0
}

// Locality is the coarse place component used for fingerprinting.
func (e ExtractedEntity) Locality() string {
	if e.Address.Postcode != "" {
		return e.Address.Postcode
	}
	return e.Address.City
}

// Completeness counts populated primitive fields.
func (e ExtractedEntity) Completeness() int {
	n := e.Address.Filled()
	for _, v := range []string{e.Name, e.Contact.Phone, e.Contact.Email, e.Contact.Website, e.Summary, e.Description} {
		if v != "" {
			n++
		}
	}
	if e.Coordinates != nil {
		n++
	}
	if e.TimeRange != nil && !e.TimeRange.IsZero() {
		n++
	}
	return n
}
