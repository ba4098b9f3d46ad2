package lens

// Document is the declarative lens as written on disk. The loader validates
// it and compiles it into a Contract; nothing downstream reads a Document.
type Document struct {
	ID              string                `yaml:"id" json:"id" validate:"required,max=64"`
	Version         string                `yaml:"version" json:"version" validate:"required"`
	Description     string                `yaml:"description,omitempty" json:"description,omitempty"`
	CanonicalValues map[string][]ValueDoc `yaml:"canonical_values" json:"canonical_values" validate:"required,min=1,dive,keys,oneof=activity role place_type access,endkeys,dive"`
	MappingRules    []MappingRuleDoc      `yaml:"mapping_rules" json:"mapping_rules" validate:"required,min=1,dive"`
	Modules         map[string]ModuleDoc  `yaml:"modules,omitempty" json:"modules,omitempty" validate:"dive,keys,required,endkeys"`
	Triggers        []TriggerDoc          `yaml:"triggers,omitempty" json:"triggers,omitempty" validate:"dive"`
	ConnectorRules  []RouteDoc            `yaml:"connector_rules,omitempty" json:"connector_rules,omitempty" validate:"dive"`
	Fixtures        []FixtureDoc          `yaml:"fixtures" json:"fixtures" validate:"required,min=1,dive"`
	Metadata        map[string]string     `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ValueDoc declares one allowed canonical value with display metadata.
type ValueDoc struct {
	Value       string `yaml:"value" json:"value" validate:"required"`
	Label       string `yaml:"label,omitempty" json:"label,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// MappingRuleDoc declares a pattern rule that contributes one value to one
// dimension.
type MappingRuleDoc struct {
	ID         string   `yaml:"id" json:"id" validate:"required"`
	Dimension  string   `yaml:"dimension" json:"dimension" validate:"required,oneof=activity role place_type access"`
	Value      string   `yaml:"value" json:"value" validate:"required"`
	Pattern    string   `yaml:"pattern" json:"pattern" validate:"required"`
	Fields     []string `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive,required"`
	Confidence *float64 `yaml:"confidence,omitempty" json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ModuleDoc declares a module namespace: its schema, field rules and the
// optional bounded fallback.
type ModuleDoc struct {
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Schema      map[string]any `yaml:"schema" json:"schema" validate:"required"`
	FieldRules  []FieldRuleDoc `yaml:"field_rules" json:"field_rules" validate:"dive"`
	Fallback    *FallbackDoc   `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// FieldRuleDoc declares one deterministic extraction into a module path.
type FieldRuleDoc struct {
	ID          string           `yaml:"id" json:"id" validate:"required"`
	Target      string           `yaml:"target" json:"target" validate:"required"`
	Sources     []string         `yaml:"sources,omitempty" json:"sources,omitempty" validate:"dive,required"`
	Extractor   string           `yaml:"extractor" json:"extractor" validate:"required,oneof=numeric_parse regex_capture json_path boolean_coerce coalesce array_builder"`
	Pattern     string           `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Capture     string           `yaml:"capture,omitempty" json:"capture,omitempty"`
	Path        string           `yaml:"path,omitempty" json:"path,omitempty"`
	Normalizers []string         `yaml:"normalizers,omitempty" json:"normalizers,omitempty" validate:"dive,oneof=trim lowercase list_wrap round_integer"`
	Conditions  []ConditionDoc   `yaml:"conditions,omitempty" json:"conditions,omitempty" validate:"dive"`
	AppliesTo   ApplicabilityDoc `yaml:"applies_to,omitempty" json:"applies_to,omitzero"`
	Confidence  *float64         `yaml:"confidence,omitempty" json:"confidence,omitempty" validate:"omitempty,gt=0.5,lte=1"`
}

// ConditionDoc gates whether a field rule runs.
type ConditionDoc struct {
	Type   string   `yaml:"type" json:"type" validate:"required,oneof=field_not_populated any_required_field_missing source_has_field value_present"`
	Field  string   `yaml:"field,omitempty" json:"field,omitempty"`
	Fields []string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// ApplicabilityDoc restricts a field rule to sources and/or classes.
type ApplicabilityDoc struct {
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty" validate:"dive,required"`
	Classes []string `yaml:"classes,omitempty" json:"classes,omitempty" validate:"dive,oneof=place person organization event thing"`
}

// FallbackDoc enables the schema-bound generation call for a module.
type FallbackDoc struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Fields       []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Instructions string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// TriggerDoc attaches modules when an entity's dimension intersects Values.
type TriggerDoc struct {
	ID          string   `yaml:"id" json:"id" validate:"required"`
	Dimension   string   `yaml:"dimension" json:"dimension" validate:"required,oneof=activity role place_type access"`
	Values      []string `yaml:"values" json:"values" validate:"required,min=1,dive,required"`
	EntityClass string   `yaml:"entity_class,omitempty" json:"entity_class,omitempty" validate:"omitempty,oneof=place person organization event thing"`
	Modules     []string `yaml:"modules" json:"modules" validate:"required,min=1,dive,required"`
}

// RouteDoc selects connectors for queries matching QueryPattern.
type RouteDoc struct {
	ID           string   `yaml:"id" json:"id" validate:"required"`
	QueryPattern string   `yaml:"query_pattern" json:"query_pattern" validate:"required"`
	Connectors   []string `yaml:"connectors" json:"connectors" validate:"required,min=1,dive,required"`
}

// FixtureDoc is a sample extracted entity used by the smoke coverage gate.
type FixtureDoc struct {
	SourceID     string            `yaml:"source_id,omitempty" json:"source_id,omitempty"`
	Name         string            `yaml:"name" json:"name" validate:"required"`
	Summary      string            `yaml:"summary,omitempty" json:"summary,omitempty"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Categories   []string          `yaml:"raw_categories,omitempty" json:"raw_categories,omitempty"`
	Street       string            `yaml:"street,omitempty" json:"street,omitempty"`
	City         string            `yaml:"city,omitempty" json:"city,omitempty"`
	Postcode     string            `yaml:"postcode,omitempty" json:"postcode,omitempty"`
	Country      string            `yaml:"country,omitempty" json:"country,omitempty"`
	Phone        string            `yaml:"phone,omitempty" json:"phone,omitempty"`
	Website      string            `yaml:"website,omitempty" json:"website,omitempty"`
	Latitude     *float64          `yaml:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude    *float64          `yaml:"longitude,omitempty" json:"longitude,omitempty"`
	Observations map[string]string `yaml:"observations,omitempty" json:"observations,omitempty"`
	Raw          map[string]any    `yaml:"raw,omitempty" json:"raw,omitempty"`
}
