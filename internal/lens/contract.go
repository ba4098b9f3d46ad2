// Package lens holds the compiled, immutable interpretation contract and the
// execution context that carries it through a run.
package lens

import (
	"maps"
	"regexp"
	"slices"
	"sort"

	"github.com/kaptinlin/jsonschema"

	"canon/internal/entity"
)

// DefaultRuleConfidence applies when a rule declares none.
const DefaultRuleConfidence = 1.0

// CanonicalValue is one allowed value of a dimension.
type CanonicalValue struct {
	Value       string
	Label       string
	Description string
}

// MappingRule contributes Value to Dimension when Pattern matches any
// inspected observation field.
type MappingRule struct {
	ID         string
	Dimension  entity.Dimension
	Value      string
	Pattern    *regexp.Regexp
	Fields     []string
	Confidence float64
}

// InspectedFields returns the rule's fields or the default observation set.
func (r MappingRule) InspectedFields() []string {
	if len(r.Fields) == 0 {
		return entity.DefaultObservationFields
	}
	return r.Fields
}

// Condition gates a field rule.
type Condition struct {
	Kind   ConditionKind
	Field  string
	Fields []string
}

// Applicability restricts a field rule by source and class. Empty lists
// allow everything.
type Applicability struct {
	Sources []string
	Classes []entity.Class
}

// Allows reports whether a rule may run for the given source and class.
func (a Applicability) Allows(sourceID string, class entity.Class) bool {
	if len(a.Sources) > 0 && !slices.Contains(a.Sources, sourceID) {
		return false
	}
	if len(a.Classes) > 0 && !slices.Contains(a.Classes, class) {
		return false
	}
	return true
}

// FieldRule extracts one value into a module target path.
type FieldRule struct {
	ID          string
	Module      string
	Target      string
	Sources     []string
	Extractor   ExtractorKind
	Pattern     *regexp.Regexp
	Capture     string
	Path        string
	Normalizers []NormalizerKind
	Conditions  []Condition
	AppliesTo   Applicability
	Confidence  float64
}

// Fallback configures the bounded generation call for a module.
type Fallback struct {
	Enabled      bool
	Fields       []string
	Instructions string
}

// Module is a namespace definition: schema, ordered field rules, fallback.
type Module struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	SchemaJSON  []byte
	FieldRules  []FieldRule
	Fallback    Fallback
}

// Trigger attaches Modules when the entity's Dimension intersects Values
// and, if set, the entity class equals EntityClass.
type Trigger struct {
	ID          string
	Dimension   entity.Dimension
	Values      []string
	EntityClass entity.Class
	Modules     []string
}

// Fires reports whether the trigger attaches its modules.
func (t Trigger) Fires(dims entity.Dimensions, class entity.Class) bool {
	if t.EntityClass != "" && t.EntityClass != class {
		return false
	}
	for _, v := range t.Values {
		if dims.Contains(t.Dimension, v) {
			return true
		}
	}
	return false
}

// Route selects connectors for matching queries.
type Route struct {
	ID         string
	Pattern    *regexp.Regexp
	Connectors []string
}

// Contract is the validated lens. It is built once by the loader and never
// mutated; accessors return copies of slices and maps.
type Contract struct {
	id       string
	version  string
	hash     string
	registry map[entity.Dimension]map[string]CanonicalValue
	rules    []MappingRule
	modules  map[string]*Module
	triggers []Trigger
	routes   []Route
}

// Parts is the compiled material a Contract is assembled from.
type Parts struct {
	ID       string
	Version  string
	Hash     string
	Registry map[entity.Dimension]map[string]CanonicalValue
	Rules    []MappingRule
	Modules  map[string]*Module
	Triggers []Trigger
	Routes   []Route
}

// NewContract assembles a contract. Callers are expected to have validated
// the parts; the contract takes its own copies.
func NewContract(p Parts) *Contract {
	registry := make(map[entity.Dimension]map[string]CanonicalValue, len(p.Registry))
	for dim, values := range p.Registry {
		registry[dim] = maps.Clone(values)
	}
	return &Contract{
		id:       p.ID,
		version:  p.Version,
		hash:     p.Hash,
		registry: registry,
		rules:    slices.Clone(p.Rules),
		modules:  maps.Clone(p.Modules),
		triggers: slices.Clone(p.Triggers),
		routes:   slices.Clone(p.Routes),
	}
}

// ID returns the lens identifier.
func (c *Contract) ID() string { return c.id }

// Version returns the declared lens version.
func (c *Contract) Version() string { return c.version }

// Hash returns the content hash of the source document.
func (c *Contract) Hash() string { return c.hash }

// HasValue reports whether value is registered under dim.
func (c *Contract) HasValue(dim entity.Dimension, value string) bool {
	_, ok := c.registry[dim][value]
	return ok
}

// Values returns the registered values of a dimension, sorted.
func (c *Contract) Values(dim entity.Dimension) []CanonicalValue {
	out := make([]CanonicalValue, 0, len(c.registry[dim]))
	for _, v := range c.registry[dim] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// MappingRules returns the rules in declaration order.
func (c *Contract) MappingRules() []MappingRule {
	return slices.Clone(c.rules)
}

// Module returns a module definition by namespace.
func (c *Contract) Module(name string) (*Module, bool) {
	m, ok := c.modules[name]
	return m, ok
}

// ModuleNames returns the registered namespaces, sorted.
func (c *Contract) ModuleNames() []string {
	return slices.Sorted(maps.Keys(c.modules))
}

// Triggers returns the triggers in declaration order.
func (c *Contract) Triggers() []Trigger {
	return slices.Clone(c.triggers)
}

// Routes returns the routing rules in declaration order.
func (c *Contract) Routes() []Route {
	return slices.Clone(c.routes)
}

// RouteConnectors returns the connectors selected for a query: the sorted
// union of every matching route. ok is false when no route matches, in
// which case callers run all registered connectors.
func (c *Contract) RouteConnectors(query string) (connectors []string, ok bool) {
	seen := map[string]struct{}{}
	for _, r := range c.routes {
		if !r.Pattern.MatchString(query) {
			continue
		}
		ok = true
		for _, id := range r.Connectors {
			seen[id] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen)), ok
}
