// Package extract is Phase-1 source extraction: it reads connector payloads
// into schema primitives and raw observation strings. It knows nothing about
// canonical dimensions or modules and must never produce them.
package extract

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/tidwall/gjson"

	"canon/internal/entity"
	"canon/internal/ingest"
	"canon/pkg/platform/hashing"
)

// FieldMap declares, as gjson paths relative to one item, where each
// primitive lives in a connector's response.
type FieldMap struct {
	// Items is the path of the item array. Empty means the body itself is
	// the item or the item array.
	Items string `yaml:"items,omitempty"`
	// ID is the path of the source's own identifier for an item.
	ID          string            `yaml:"id" validate:"required"`
	ExternalIDs map[string]string `yaml:"external_ids,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`

	Name      string `yaml:"name" validate:"required"`
	Latitude  string `yaml:"latitude,omitempty" validate:"required_with=Longitude"`
	Longitude string `yaml:"longitude,omitempty" validate:"required_with=Latitude"`
	Precision string `yaml:"precision_meters,omitempty"`

	Street   string `yaml:"street,omitempty"`
	City     string `yaml:"city,omitempty"`
	Postcode string `yaml:"postcode,omitempty"`
	Country  string `yaml:"country,omitempty"`

	Phone   string `yaml:"phone,omitempty"`
	Email   string `yaml:"email,omitempty"`
	Website string `yaml:"website,omitempty"`

	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`

	GivenName   string `yaml:"given_name,omitempty"`
	FamilyName  string `yaml:"family_name,omitempty"`
	MemberCount string `yaml:"member_count,omitempty"`
	Members     string `yaml:"members,omitempty"`

	Summary      string            `yaml:"summary,omitempty"`
	Description  string            `yaml:"description,omitempty"`
	Categories   string            `yaml:"raw_categories,omitempty"`
	Observations map[string]string `yaml:"observations,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// ErrBadPayload marks a payload that is not the JSON its field map expects.
var ErrBadPayload = errors.New("payload is not valid json")

// Extractor reads one connector's payloads.
type Extractor struct {
	connectorID string
	fields      FieldMap
}

// New creates an extractor. Observation names may not shadow primitive
// field names or reserved enrichment keys.
func New(connectorID string, fields FieldMap) (*Extractor, error) {
	if connectorID == "" {
		return nil, fmt.Errorf("connector id is required")
	}
	if fields.ID == "" || fields.Name == "" {
		return nil, fmt.Errorf("field map for %s: id and name paths are required", connectorID)
	}
	for _, name := range slices.Sorted(maps.Keys(fields.Observations)) {
		if reserved(name) || primitive(name) {
			return nil, fmt.Errorf("field map for %s: observation %q collides with a reserved field", connectorID, name)
		}
	}
	return &Extractor{connectorID: connectorID, fields: fields}, nil
}

// ConnectorID returns the connector this extractor reads.
func (x *Extractor) ConnectorID() string {
	return x.connectorID
}

// Extract converts one raw ingestion into extracted entities. Items without
// a name are skipped; entity order follows item order.
func (x *Extractor) Extract(ing ingest.RawIngestion) ([]entity.ExtractedEntity, error) {
	if ing.ConnectorID != x.connectorID {
		return nil, fmt.Errorf("extractor for %s given payload from %s", x.connectorID, ing.ConnectorID)
	}
	if !gjson.ValidBytes(ing.Body) {
		return nil, fmt.Errorf("raw ingestion %s: %w", ing.ID, ErrBadPayload)
	}

	root := gjson.ParseBytes(ing.Body)
	if x.fields.Items != "" {
		root = root.Get(x.fields.Items)
	}
	var items []gjson.Result
	switch {
	case root.IsArray():
		items = root.Array()
	case root.IsObject():
		items = []gjson.Result{root}
	}

	out := make([]entity.ExtractedEntity, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			continue
		}
		e := x.item(ing, i, item)
		if e.Name == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (x *Extractor) item(ing ingest.RawIngestion, index int, item gjson.Result) entity.ExtractedEntity {
	f := x.fields
	str := func(path string) string {
		if path == "" {
			return ""
		}
		return strings.TrimSpace(item.Get(path).String())
	}

	e := entity.ExtractedEntity{
		SourceID:       x.connectorID,
		RawIngestionID: ing.ID,
		Name:           collapseSpace(str(f.Name)),
		Address: entity.Address{
			Street:   str(f.Street),
			City:     str(f.City),
			Postcode: str(f.Postcode),
			Country:  str(f.Country),
		},
		Contact: entity.Contact{
			Phone:   str(f.Phone),
			Email:   str(f.Email),
			Website: str(f.Website),
		},
		GivenName:   str(f.GivenName),
		FamilyName:  str(f.FamilyName),
		Members:     strs(item, f.Members),
		Summary:     str(f.Summary),
		Description: str(f.Description),
		Categories:  strs(item, f.Categories),
		Raw:         []byte(item.Raw),
	}

	e.ID = x.connectorID + ":" + hashing.Strings(ing.ContentHash, strconv.Itoa(index))[:16]
	if sourceItemID := str(f.ID); sourceItemID != "" {
		e.ExternalIDs = map[string]string{x.connectorID: sourceItemID}
	}
	for ns, path := range f.ExternalIDs {
		if v := str(path); v != "" {
			if e.ExternalIDs == nil {
				e.ExternalIDs = map[string]string{}
			}
			e.ExternalIDs[ns] = v
		}
	}

	if f.Latitude != "" {
		e.Coordinates = coordinates(item.Get(f.Latitude), item.Get(f.Longitude), item.Get(f.Precision))
	}
	if tr := timeRange(str(f.Start), str(f.End)); tr != nil {
		e.TimeRange = tr
	}
	if f.MemberCount != "" {
		if r := item.Get(f.MemberCount); r.Type == gjson.Number && r.Num >= 0 {
			n := int(r.Int())
			e.MemberCount = &n
		}
	}
	for name, path := range f.Observations {
		if v := str(path); v != "" {
			if e.Observations == nil {
				e.Observations = map[string]string{}
			}
			e.Observations[name] = v
		}
	}
	return e
}

// strs reads a string array, or a single string as a one-element array.
func strs(item gjson.Result, path string) []string {
	if path == "" {
		return nil
	}
	r := item.Get(path)
	var out []string
	if r.IsArray() {
		for _, v := range r.Array() {
			if s := strings.TrimSpace(v.String()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := strings.TrimSpace(r.String()); s != "" && r.Type == gjson.String {
		out = append(out, s)
	}
	return out
}

// coordinates reads a coordinate pair, keeping the textual decimal precision
// of the source. Out-of-range pairs are dropped.
func coordinates(lat, lon, precision gjson.Result) *entity.Coordinates {
	if !lat.Exists() || !lon.Exists() {
		return nil
	}
	latD, latOK := decimal(lat)
	lonD, lonOK := decimal(lon)
	if !latOK || !lonOK {
		return nil
	}
	latF, err := latD.Float64()
	if err != nil {
		return nil
	}
	lonF, err := lonD.Float64()
	if err != nil {
		return nil
	}
	if latF < -90 || latF > 90 || lonF < -180 || lonF > 180 {
		return nil
	}
	c := &entity.Coordinates{
		Latitude:  latF,
		Longitude: lonF,
		Decimals:  min(fractionDigits(latD), fractionDigits(lonD)),
	}
	if precision.Type == gjson.Number && precision.Num > 0 {
		p := precision.Num
		c.PrecisionMeters = &p
	}
	return c
}

// decimal parses a JSON number or numeric string without going through
// float64, so "55.950" keeps three fractional digits.
func decimal(r gjson.Result) (*apd.Decimal, bool) {
	var text string
	switch r.Type {
	case gjson.Number:
		text = r.Raw
	case gjson.String:
		text = strings.TrimSpace(r.Str)
	default:
		return nil, false
	}
	d, _, err := apd.NewFromString(text)
	if err != nil || d.Form != apd.Finite {
		return nil, false
	}
	return d, true
}

func fractionDigits(d *apd.Decimal) int {
	if d.Exponent >= 0 {
		return 0
	}
	return int(-d.Exponent)
}

func timeRange(start, end string) *entity.TimeRange {
	var tr entity.TimeRange
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		tr.Start = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, end); err == nil {
		tr.End = t.UTC()
	}
	if tr.IsZero() {
		return nil
	}
	return &tr
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Set dispatches raw ingestions to the extractor of their connector.
type Set map[string]*Extractor

// Add registers x under its connector id.
func (s Set) Add(x *Extractor) {
	s[x.connectorID] = x
}

// Extract runs the matching extractor.
func (s Set) Extract(ing ingest.RawIngestion) ([]entity.ExtractedEntity, error) {
	x, ok := s[ing.ConnectorID]
	if !ok {
		return nil, fmt.Errorf("no extractor for connector %s", ing.ConnectorID)
	}
	return x.Extract(ing)
}
