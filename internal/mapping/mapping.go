// Package mapping evaluates a lens's pattern rules against an entity's
// observation fields to populate the four canonical dimension arrays.
package mapping

import (
	"context"
	"log/slog"

	"canon/internal/entity"
	"canon/internal/lens"
	"canon/internal/platform/metrics"
)

// Outcome records whether one rule fired for one entity.
type Outcome struct {
	RuleID  string
	Matched bool
}

// Result is the mapping output for one entity.
type Result struct {
	Dimensions entity.Dimensions
	Matches    []entity.DimensionMatch
	Outcomes   []Outcome
}

// Apply runs every mapping rule of the contract against the entity. The
// first matching inspected field decides each rule; several rules may feed
// the same dimension. Values absent from the registry are never emitted.
// The entity is not modified.
func Apply(e entity.ExtractedEntity, c *lens.Contract) Result {
	rules := c.MappingRules()
	values := make(map[entity.Dimension][]string, len(entity.AllDimensions))
	res := Result{Outcomes: make([]Outcome, 0, len(rules))}

	for _, rule := range rules {
		field, ok := match(rule, e)
		if ok && !c.HasValue(rule.Dimension, rule.Value) {
			ok = false
		}
		res.Outcomes = append(res.Outcomes, Outcome{RuleID: rule.ID, Matched: ok})
		if !ok {
			continue
		}
		values[rule.Dimension] = append(values[rule.Dimension], rule.Value)
		res.Matches = append(res.Matches, entity.DimensionMatch{
			RuleID:     rule.ID,
			Dimension:  rule.Dimension,
			Value:      rule.Value,
			Field:      field,
			Confidence: rule.Confidence,
		})
	}

	res.Dimensions = entity.NewDimensions(values)
	return res
}

func match(rule lens.MappingRule, e entity.ExtractedEntity) (string, bool) {
	for _, field := range rule.InspectedFields() {
		for _, v := range e.Values(field) {
			if rule.Pattern.MatchString(v) {
				return field, true
			}
		}
	}
	return "", false
}

// Engine wraps Apply with rule-level logging and metrics.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

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

// NewEngine creates a mapping engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply maps one entity under the run's lens and reports per-rule outcomes.
func (e *Engine) Apply(ctx context.Context, execCtx *lens.ExecutionContext, ent entity.ExtractedEntity) Result {
	res := Apply(ent, execCtx.Contract)
	for _, o := range res.Outcomes {
		e.metrics.IncrementMappingRule(o.RuleID, o.Matched)
		e.logger.DebugContext(ctx, "mapping rule evaluated",
			"rule_id", o.RuleID,
			"entity_id", ent.ID,
			"matched", o.Matched,
		)
	}
	return res
}
