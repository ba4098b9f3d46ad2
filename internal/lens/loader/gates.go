package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kaptinlin/jsonschema"

	"canon/internal/classify"
	"canon/internal/entity"
	"canon/internal/lens"
	"canon/internal/mapping"
	"canon/internal/modules"
	"canon/pkg/platform/hashing"
)

// build carries a document through the gates. Each gate may read what
// earlier gates produced.
type build struct {
	doc        *lens.Document
	connectors Connectors
	validate   *validator.Validate

	schemas  map[string]*jsonschema.Schema
	registry map[entity.Dimension]map[string]lens.CanonicalValue
	rules    []lens.MappingRule
	modules  map[string]*lens.Module
	triggers []lens.Trigger
	routes   []lens.Route
	contract *lens.Contract
}

type gate struct {
	id  lens.Gate
	run func(*build) []error
}

// gates run in order; the first gate that reports any error stops the
// load and no contract is produced.
var gates = []gate{
	{lens.GateStructure, checkStructure},
	{lens.GateRegistryClosure, checkRegistryClosure},
	{lens.GateConnectors, checkConnectors},
	{lens.GateUniqueIDs, checkUniqueIDs},
	{lens.GatePatterns, compilePatterns},
	{lens.GateSmokeCoverage, checkSmokeCoverage},
}

func invalid(g lens.Gate, ruleID, field, format string, args ...any) error {
	return &lens.ValidationError{Gate: g, RuleID: ruleID, Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Gate 1: structure
// =============================================================================

func checkStructure(b *build) []error {
	var errs []error
	if err := b.validate.Struct(b.doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return []error{invalid(lens.GateStructure, "", "", "%v", err)}
		}
		for _, fe := range fieldErrs {
			msg := fmt.Sprintf("failed %q validation", fe.Tag())
			if fe.Param() != "" {
				msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
			}
			errs = append(errs, invalid(lens.GateStructure, "", fe.Namespace(), "%s", msg))
		}
		return errs
	}

	b.schemas = make(map[string]*jsonschema.Schema, len(b.doc.Modules))
	for name, mod := range b.doc.Modules {
		if strings.Contains(name, ".") {
			errs = append(errs, invalid(lens.GateStructure, "", "modules."+name, "namespace must not contain '.'"))
		}
		raw, err := json.Marshal(mod.Schema)
		if err != nil {
			errs = append(errs, invalid(lens.GateStructure, "", "modules."+name+".schema", "not encodable: %v", err))
			continue
		}
		schema, err := jsonschema.NewCompiler().Compile(raw)
		if err != nil {
			errs = append(errs, invalid(lens.GateStructure, "", "modules."+name+".schema", "does not compile: %v", err))
			continue
		}
		b.schemas[name] = schema
		for _, fr := range mod.FieldRules {
			errs = append(errs, checkFieldRuleShape(fr)...)
		}
	}
	return errs
}

func checkFieldRuleShape(fr lens.FieldRuleDoc) []error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, invalid(lens.GateStructure, fr.ID, field, format, args...))
	}
	for _, seg := range entity.SplitPath(fr.Target) {
		if seg == "" {
			fail("target", "empty path segment in %q", fr.Target)
			break
		}
	}
	switch lens.ExtractorKind(fr.Extractor) {
	case lens.ExtractorJSONPath:
		if fr.Path == "" {
			fail("path", "json_path extractor requires a path")
		}
	case lens.ExtractorRegexCapture:
		if fr.Pattern == "" || fr.Capture == "" {
			fail("pattern", "regex_capture extractor requires pattern and capture")
		}
		if len(fr.Sources) == 0 {
			fail("sources", "extractor requires at least one source field")
		}
	default:
		if len(fr.Sources) == 0 {
			fail("sources", "extractor requires at least one source field")
		}
	}
	if fr.Capture != "" && fr.Pattern == "" {
		fail("capture", "capture requires a pattern")
	}
	for _, c := range fr.Conditions {
		switch lens.ConditionKind(c.Type) {
		case lens.ConditionAnyRequiredFieldMissing:
			if len(c.Fields) == 0 {
				fail("conditions", "%s requires fields", c.Type)
			}
		case lens.ConditionSourceHasField:
			if c.Field == "" {
				fail("conditions", "%s requires field", c.Type)
			}
		}
	}
	return errs
}

// =============================================================================
// Gate 2: registry closure
// =============================================================================

func checkRegistryClosure(b *build) []error {
	b.registry = make(map[entity.Dimension]map[string]lens.CanonicalValue, len(b.doc.CanonicalValues))
	for name, values := range b.doc.CanonicalValues {
		dim := entity.Dimension(name)
		b.registry[dim] = make(map[string]lens.CanonicalValue, len(values))
		for _, v := range values {
			b.registry[dim][v.Value] = lens.CanonicalValue{Value: v.Value, Label: v.Label, Description: v.Description}
		}
	}

	var errs []error
	for _, r := range b.doc.MappingRules {
		if _, ok := b.registry[entity.Dimension(r.Dimension)][r.Value]; !ok {
			errs = append(errs, invalid(lens.GateRegistryClosure, r.ID, "value",
				"%q is not a registered %s value", r.Value, r.Dimension))
		}
	}
	for _, t := range b.doc.Triggers {
		for _, v := range t.Values {
			if _, ok := b.registry[entity.Dimension(t.Dimension)][v]; !ok {
				errs = append(errs, invalid(lens.GateRegistryClosure, t.ID, "values",
					"%q is not a registered %s value", v, t.Dimension))
			}
		}
		for _, m := range t.Modules {
			if _, ok := b.doc.Modules[m]; !ok {
				errs = append(errs, invalid(lens.GateRegistryClosure, t.ID, "modules", "module %q is not declared", m))
			}
		}
	}
	return errs
}

// =============================================================================
// Gate 3: connectors
// =============================================================================

func checkConnectors(b *build) []error {
	var errs []error
	for _, r := range b.doc.ConnectorRules {
		for _, c := range r.Connectors {
			if !b.connectors.Has(c) {
				errs = append(errs, invalid(lens.GateConnectors, r.ID, "connectors", "connector %q is not registered", c))
			}
		}
	}
	for _, name := range sortedModuleNames(b.doc) {
		for _, fr := range b.doc.Modules[name].FieldRules {
			for _, c := range fr.AppliesTo.Sources {
				if !b.connectors.Has(c) {
					errs = append(errs, invalid(lens.GateConnectors, fr.ID, "applies_to.sources", "connector %q is not registered", c))
				}
			}
		}
	}
	return errs
}

// =============================================================================
// Gate 4: unique identifiers
// =============================================================================

func checkUniqueIDs(b *build) []error {
	var errs []error
	seen := map[string]string{}
	claim := func(id, kind string) {
		if prev, ok := seen[id]; ok {
			errs = append(errs, invalid(lens.GateUniqueIDs, id, "id", "duplicate identifier (%s and %s)", prev, kind))
			return
		}
		seen[id] = kind
	}
	for _, r := range b.doc.MappingRules {
		claim(r.ID, "mapping rule")
	}
	for _, name := range sortedModuleNames(b.doc) {
		for _, fr := range b.doc.Modules[name].FieldRules {
			claim(fr.ID, "field rule")
		}
	}
	for _, t := range b.doc.Triggers {
		claim(t.ID, "trigger")
	}
	for _, r := range b.doc.ConnectorRules {
		claim(r.ID, "connector rule")
	}

	for dim, values := range b.doc.CanonicalValues {
		dup := map[string]bool{}
		for _, v := range values {
			if dup[v.Value] {
				errs = append(errs, invalid(lens.GateUniqueIDs, "", "canonical_values."+dim, "duplicate value %q", v.Value))
			}
			dup[v.Value] = true
		}
	}
	return errs
}

// =============================================================================
// Gate 5: patterns
// =============================================================================

func compilePatterns(b *build) []error {
	var errs []error
	compile := func(ruleID, pattern string) *regexp.Regexp {
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, invalid(lens.GatePatterns, ruleID, "pattern", "%v", err))
			return nil
		}
		return re
	}

	for _, r := range b.doc.MappingRules {
		re := compile(r.ID, r.Pattern)
		b.rules = append(b.rules, lens.MappingRule{
			ID:         r.ID,
			Dimension:  entity.Dimension(r.Dimension),
			Value:      r.Value,
			Pattern:    re,
			Fields:     r.Fields,
			Confidence: confidenceOr(r.Confidence),
		})
	}

	b.modules = make(map[string]*lens.Module, len(b.doc.Modules))
	for _, name := range sortedModuleNames(b.doc) {
		doc := b.doc.Modules[name]
		raw, _ := json.Marshal(doc.Schema)
		mod := &lens.Module{Name: name, Description: doc.Description, Schema: b.schemas[name], SchemaJSON: raw}
		if doc.Fallback != nil {
			mod.Fallback = lens.Fallback{Enabled: doc.Fallback.Enabled, Fields: doc.Fallback.Fields, Instructions: doc.Fallback.Instructions}
		}
		for _, fr := range doc.FieldRules {
			rule := compileFieldRule(name, fr)
			if fr.Pattern != "" {
				rule.Pattern = compile(fr.ID, fr.Pattern)
				if rule.Pattern != nil && fr.Capture != "" && rule.Pattern.SubexpIndex(fr.Capture) < 0 {
					errs = append(errs, invalid(lens.GatePatterns, fr.ID, "capture", "pattern has no group named %q", fr.Capture))
				}
			}
			mod.FieldRules = append(mod.FieldRules, rule)
		}
		b.modules[name] = mod
	}

	for _, t := range b.doc.Triggers {
		b.triggers = append(b.triggers, lens.Trigger{
			ID:          t.ID,
			Dimension:   entity.Dimension(t.Dimension),
			Values:      t.Values,
			EntityClass: entity.Class(t.EntityClass),
			Modules:     t.Modules,
		})
	}
	for _, r := range b.doc.ConnectorRules {
		b.routes = append(b.routes, lens.Route{ID: r.ID, Pattern: compile(r.ID, r.QueryPattern), Connectors: r.Connectors})
	}
	if len(errs) > 0 {
		return errs
	}

	hash, err := hashing.JSON(b.doc)
	if err != nil {
		return []error{invalid(lens.GatePatterns, "", "", "hash document: %v", err)}
	}
	b.contract = lens.NewContract(lens.Parts{
		ID:       b.doc.ID,
		Version:  b.doc.Version,
		Hash:     hash,
		Registry: b.registry,
		Rules:    b.rules,
		Modules:  b.modules,
		Triggers: b.triggers,
		Routes:   b.routes,
	})
	return nil
}

func compileFieldRule(module string, fr lens.FieldRuleDoc) lens.FieldRule {
	rule := lens.FieldRule{
		ID:         fr.ID,
		Module:     module,
		Target:     fr.Target,
		Sources:    fr.Sources,
		Extractor:  lens.ExtractorKind(fr.Extractor),
		Capture:    fr.Capture,
		Path:       fr.Path,
		Confidence: confidenceOr(fr.Confidence),
	}
	for _, n := range fr.Normalizers {
		rule.Normalizers = append(rule.Normalizers, lens.NormalizerKind(n))
	}
	for _, c := range fr.Conditions {
		rule.Conditions = append(rule.Conditions, lens.Condition{Kind: lens.ConditionKind(c.Type), Field: c.Field, Fields: c.Fields})
	}
	rule.AppliesTo.Sources = fr.AppliesTo.Sources
	for _, c := range fr.AppliesTo.Classes {
		rule.AppliesTo.Classes = append(rule.AppliesTo.Classes, entity.Class(c))
	}
	return rule
}

func confidenceOr(c *float64) float64 {
	if c == nil {
		return lens.DefaultRuleConfidence
	}
	return *c
}

// =============================================================================
// Gate 6: smoke coverage
// =============================================================================

// checkSmokeCoverage runs the compiled contract over the declared fixtures:
// every dimension needs a rule that fires on some fixture, and at least one
// module field must be populated by deterministic rules.
func checkSmokeCoverage(b *build) []error {
	covered := map[entity.Dimension]bool{}
	populated := false

	for i, fx := range b.doc.Fixtures {
		e := fixtureEntity(i, fx)
		res := mapping.Apply(e, b.contract)
		for _, m := range res.Matches {
			covered[m.Dimension] = true
		}
		out := modules.ApplyDeterministic(b.contract, modules.Input{
			Entity:     e,
			SourceID:   e.SourceID,
			Class:      classify.Classify(e),
			Dimensions: res.Dimensions,
		})
		for _, doc := range out.Modules {
			if len(doc) > 0 {
				populated = true
			}
		}
	}

	var errs []error
	for _, dim := range entity.AllDimensions {
		if !covered[dim] {
			errs = append(errs, invalid(lens.GateSmokeCoverage, "", "dimension."+string(dim), "no mapping rule matches any fixture"))
		}
	}
	if !populated {
		errs = append(errs, invalid(lens.GateSmokeCoverage, "", "modules", "no module field is populated by any fixture"))
	}
	return errs
}

// FixtureSource is the source id of fixtures that declare none.
const FixtureSource = "fixture"

func fixtureEntity(i int, fx lens.FixtureDoc) entity.ExtractedEntity {
	e := entity.ExtractedEntity{
		ID:             fmt.Sprintf("fixture-%d", i),
		SourceID:       fx.SourceID,
		RawIngestionID: fmt.Sprintf("fixture-%d", i),
		Name:           fx.Name,
		Summary:        fx.Summary,
		Description:    fx.Description,
		Categories:     fx.Categories,
		Address:        entity.Address{Street: fx.Street, City: fx.City, Postcode: fx.Postcode, Country: fx.Country},
		Contact:        entity.Contact{Phone: fx.Phone, Website: fx.Website},
		Observations:   fx.Observations,
	}
	if e.SourceID == "" {
		e.SourceID = FixtureSource
	}
	if fx.Latitude != nil && fx.Longitude != nil {
		e.Coordinates = &entity.Coordinates{Latitude: *fx.Latitude, Longitude: *fx.Longitude}
	}
	if len(fx.Raw) > 0 {
		if raw, err := json.Marshal(fx.Raw); err == nil {
			e.Raw = raw
		}
	}
	return e
}
