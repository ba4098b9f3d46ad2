// Package modules attaches module namespaces to an entity and fills them
// using the lens's declarative field rules, followed by at most one
// schema-bound generation call per module per payload.
package modules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"canon/internal/entity"
	"canon/internal/lens"
	"canon/internal/platform/metrics"
)

// FallbackConfidence is the fixed confidence of generated fields. Every
// deterministic rule declares a strictly higher confidence.
const FallbackConfidence = 0.5

// DefaultFallbackTimeout bounds a generation call when none is configured.
const DefaultFallbackTimeout = 15 * time.Second

// Generator performs one schema-bound structured generation call and
// returns a document shaped like the module schema.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (map[string]any, error)
}

// GenerationRequest describes the fields a module still lacks.
type GenerationRequest struct {
	Module       string
	Instructions string
	Fields       []string
	Schema       json.RawMessage
	Observations map[string]string
}

// Budget enforces one fallback call per module per raw payload.
type Budget struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewBudget creates an empty budget for one run.
func NewBudget() *Budget {
	return &Budget{used: make(map[string]struct{})}
}

// Take claims the call for (payload, module). It returns false when the
// call was already spent.
func (b *Budget) Take(payloadID, module string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := payloadID + "\x1f" + module
	if _, ok := b.used[key]; ok {
		return false
	}
	b.used[key] = struct{}{}
	return true
}

// Input is one entity to enrich.
type Input struct {
	Entity     entity.ExtractedEntity
	SourceID   string
	Class      entity.Class
	Dimensions entity.Dimensions
	// Budget is shared by every entity of a run; nil disables fallback.
	Budget *Budget
}

// RuleOutcome is the result of evaluating one field rule.
type RuleOutcome string

const (
	OutcomeWritten       RuleOutcome = "written"
	OutcomeNoMatch       RuleOutcome = "no_match"
	OutcomeSkipped       RuleOutcome = "skipped"
	OutcomeNotApplicable RuleOutcome = "not_applicable"
	OutcomeError         RuleOutcome = "error"
)

// RuleResult records one field rule evaluation.
type RuleResult struct {
	Module  string
	RuleID  string
	Outcome RuleOutcome
	Err     error
}

// RuleError is a failed field rule. It is reported, never returned.
type RuleError struct {
	RuleID string
	Err    error
}

func (e *RuleError) Error() string { return "field rule " + e.RuleID + ": " + e.Err.Error() }

func (e *RuleError) Unwrap() error { return e.Err }

// FallbackResult records one module's fallback step.
type FallbackResult struct {
	Module  string
	Outcome string
	Fields  []string
}

// Output is the module block of one entity plus its trace.
type Output struct {
	Modules    entity.ModuleBlock
	Confidence map[string]float64
	Rules      []RuleResult
	Fallbacks  []FallbackResult
}

// Errors returns the rule failures.
func (o Output) Errors() []*RuleError {
	var out []*RuleError
	for _, r := range o.Rules {
		if r.Err != nil {
			out = append(out, &RuleError{RuleID: r.RuleID, Err: r.Err})
		}
	}
	return out
}

// Attach returns the namespaces whose triggers fire, sorted.
func Attach(c *lens.Contract, dims entity.Dimensions, class entity.Class) []string {
	set := map[string]struct{}{}
	for _, t := range c.Triggers() {
		if !t.Fires(dims, class) {
			continue
		}
		for _, m := range t.Modules {
			set[m] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// ApplyDeterministic attaches modules and runs their field rules without
// any external call.
func ApplyDeterministic(c *lens.Contract, in Input) Output {
	out := Output{Modules: entity.ModuleBlock{}, Confidence: map[string]float64{}}
	for _, name := range Attach(c, in.Dimensions, in.Class) {
		mod, ok := c.Module(name)
		if !ok {
			continue
		}
		doc := map[string]any{}
		for _, rule := range mod.FieldRules {
			out.Rules = append(out.Rules, runRule(rule, in, doc, out.Confidence))
		}
		out.Modules[name] = doc
	}
	return out
}

func runRule(rule lens.FieldRule, in Input, doc map[string]any, confidence map[string]float64) RuleResult {
	res := RuleResult{Module: rule.Module, RuleID: rule.ID}
	if !rule.AppliesTo.Allows(in.SourceID, in.Class) {
		res.Outcome = OutcomeNotApplicable
		return res
	}
	if !conditionsMet(rule, in.Entity, doc) {
		res.Outcome = OutcomeSkipped
		return res
	}

	v, err := extract(rule, in.Entity)
	if errors.Is(err, errNoValue) {
		res.Outcome = OutcomeNoMatch
		return res
	}
	if err == nil {
		v, err = normalize(rule.Normalizers, v)
	}
	if err == nil && !entity.IsPopulated(v) {
		res.Outcome = OutcomeNoMatch
		return res
	}
	if err == nil {
		err = entity.SetPath(doc, rule.Target, v)
	}
	if err != nil {
		res.Outcome = OutcomeError
		res.Err = err
		return res
	}
	confidence[entity.ConfidenceKey(rule.Module, rule.Target)] = rule.Confidence
	res.Outcome = OutcomeWritten
	return res
}

// Engine runs module extraction with logging, metrics and the bounded
// fallback call.
type Engine struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator enables fallback generation.
func WithGenerator(g Generator) Option {
	return func(e *Engine) {
		e.generator = g
	}
}

// WithFallbackTimeout bounds each generation call.
func WithFallbackTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a module engine. Without a generator the fallback step
// is skipped.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{timeout: DefaultFallbackTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply enriches one entity. Rule failures are logged with their rule id
// and never abort the rest of the entity.
func (e *Engine) Apply(ctx context.Context, execCtx *lens.ExecutionContext, in Input) Output {
	c := execCtx.Contract
	out := ApplyDeterministic(c, in)

	for _, r := range out.Rules {
		e.metrics.IncrementModuleRule(r.Module, r.RuleID, string(r.Outcome))
		if r.Err != nil {
			e.logger.WarnContext(ctx, "module field rule failed",
				"rule_id", r.RuleID,
				"module", r.Module,
				"entity_id", in.Entity.ID,
				"error", r.Err,
			)
			continue
		}
		e.logger.DebugContext(ctx, "module field rule evaluated",
			"rule_id", r.RuleID,
			"module", r.Module,
			"entity_id", in.Entity.ID,
			"outcome", r.Outcome,
		)
	}

	for _, name := range out.Modules.Namespaces() {
		mod, _ := c.Module(name)
		if fb, ok := e.fallback(ctx, mod, in, out); ok {
			out.Fallbacks = append(out.Fallbacks, fb)
		}
	}
	return out
}

func (e *Engine) fallback(ctx context.Context, mod *lens.Module, in Input, out Output) (FallbackResult, bool) {
	if mod == nil || !mod.Fallback.Enabled || e.generator == nil || in.Budget == nil {
		return FallbackResult{}, false
	}
	doc := out.Modules[mod.Name]
	missing := missingFields(mod, doc)
	if len(missing) == 0 {
		return FallbackResult{}, false
	}
	res := FallbackResult{Module: mod.Name}
	if !in.Budget.Take(in.Entity.RawIngestionID, mod.Name) {
		res.Outcome = "budget_exhausted"
		e.metrics.IncrementFallback(mod.Name, res.Outcome)
		return res, true
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	generated, err := e.generator.Generate(callCtx, GenerationRequest{
		Module:       mod.Name,
		Instructions: mod.Fallback.Instructions,
		Fields:       missing,
		Schema:       mod.SchemaJSON,
		Observations: observations(in.Entity),
	})
	if err != nil {
		res.Outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			res.Outcome = "timeout"
		}
		e.metrics.IncrementFallback(mod.Name, res.Outcome)
		e.logger.WarnContext(ctx, "module fallback failed; keeping deterministic fields",
			"module", mod.Name,
			"entity_id", in.Entity.ID,
			"outcome", res.Outcome,
			"error", err,
		)
		return res, true
	}

	candidate := entity.CloneValue(doc).(map[string]any)
	var filled []string
	for _, path := range missing {
		v, ok := entity.GetPath(generated, path)
		if !ok || !entity.IsPopulated(v) {
			continue
		}
		if err := entity.SetPath(candidate, path, normalizeJSON(entity.CloneValue(v))); err != nil {
			continue
		}
		filled = append(filled, path)
	}
	if len(filled) == 0 {
		res.Outcome = "empty"
		e.metrics.IncrementFallback(mod.Name, res.Outcome)
		return res, true
	}
	if mod.Schema != nil {
		if !conforms(mod, candidate) {
			res.Outcome = "invalid"
			e.metrics.IncrementFallback(mod.Name, res.Outcome)
			e.logger.WarnContext(ctx, "module fallback output failed schema validation; discarded",
				"module", mod.Name,
				"entity_id", in.Entity.ID,
			)
			return res, true
		}
	}

	out.Modules[mod.Name] = candidate
	for _, path := range filled {
		out.Confidence[entity.ConfidenceKey(mod.Name, path)] = FallbackConfidence
	}
	res.Outcome = "ok"
	res.Fields = filled
	e.metrics.IncrementFallback(mod.Name, res.Outcome)
	return res, true
}

// missingFields lists the fallback-eligible paths not yet populated: the
// declared fallback fields, or every leaf property of the schema.
func missingFields(mod *lens.Module, doc map[string]any) []string {
	fields := mod.Fallback.Fields
	if len(fields) == 0 {
		fields = schemaLeaves(mod.SchemaJSON)
	}
	var out []string
	for _, f := range fields {
		if !populated(doc, f) {
			out = append(out, f)
		}
	}
	return out
}

func schemaLeaves(raw []byte) []string {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	var out []string
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		props, _ := node["properties"].(map[string]any)
		for _, name := range slices.Sorted(maps.Keys(props)) {
			child, _ := props[name].(map[string]any)
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			if _, nested := child["properties"]; nested {
				walk(path, child)
				continue
			}
			out = append(out, path)
		}
	}
	walk("", schema)
	return out
}

func observations(e entity.ExtractedEntity) map[string]string {
	out := maps.Clone(e.Observations)
	if out == nil {
		out = map[string]string{}
	}
	for _, f := range []string{entity.FieldName, entity.FieldSummary, entity.FieldDescription, entity.FieldAddress} {
		if vs := e.Values(f); len(vs) > 0 {
			out[f] = vs[0]
		}
	}
	if len(e.Categories) > 0 {
		out[entity.FieldCategories] = strings.Join(e.Categories, ", ")
	}
	return out
}

// conforms validates a document against the module schema using its JSON
// form, so numeric types match what a decoder would produce.
func conforms(mod *lens.Module, doc map[string]any) bool {
	b, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return false
	}
	return mod.Schema.Validate(decoded).Valid
}
