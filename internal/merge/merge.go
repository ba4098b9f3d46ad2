// Package merge folds a dedup group of enriched entities into one canonical
// record. Every choice is deterministic: inputs are ranked by trust tier,
// connector id and entity id before any field is decided, and each field
// records the rule that decided it.
package merge

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"canon/internal/entity"
	"canon/internal/ingest"
	"canon/internal/platform/metrics"
	pkgstrings "canon/pkg/platform/strings"
)

// ErrEmptyGroup is returned when a group has no members.
var ErrEmptyGroup = errors.New("merge: empty group")

// Ranker supplies the trust tier and priority of a connector.
type Ranker interface {
	Descriptor(id string) (ingest.Descriptor, bool)
}

// Reason names the rule that decided a field.
type Reason string

const (
	ReasonOnlyCandidate  Reason = "only_candidate"
	ReasonTrust          Reason = "trust"
	ReasonCompleteness   Reason = "completeness"
	ReasonPriority       Reason = "priority"
	ReasonSourceID       Reason = "source_id"
	ReasonPrecision      Reason = "precision"
	ReasonDecimals       Reason = "decimals"
	ReasonContactQuality Reason = "contact_quality"
	ReasonConfidence     Reason = "confidence"
	ReasonSpecificity    Reason = "specificity"
	ReasonUnion          Reason = "union"
	ReasonTypeMismatch   Reason = "type_mismatch"
	ReasonObjectArray    Reason = "object_array_wholesale"
)

// Decision explains how one field was chosen.
type Decision struct {
	Field      string `json:"field"`
	Winner     string `json:"winner,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Candidates int    `json:"candidates"`
	Reason     Reason `json:"reason"`
}

// Result is a merged entity plus the trace of how it was built.
type Result struct {
	Entity    entity.MergedEntity `json:"entity"`
	Decisions []Decision          `json:"decisions"`
}

// Engine merges dedup groups.
type Engine struct {
	ranker  Ranker
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

// New creates a merge engine. Connectors the ranker does not know rank
// below every known trust tier.
func New(ranker Ranker, opts ...Option) *Engine {
	e := &Engine{ranker: ranker, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidate is one group member with its source ranking resolved.
type candidate struct {
	e        entity.Enriched
	source   string
	id       string
	trust    ingest.TrustTier
	priority int
}

// Merge folds members into one entity. Identical members in any order
// produce an identical result.
func (m *Engine) Merge(ctx context.Context, members []entity.Enriched) (Result, error) {
	if len(members) == 0 {
		return Result{}, ErrEmptyGroup
	}
	cands := m.rank(members)
	b := &builder{cands: cands}

	out := entity.MergedEntity{
		Class:       b.class(),
		Name:        b.text(entity.FieldName, func(c *candidate) string { return c.e.Entity.Name }),
		Address:     b.address(),
		Coordinates: b.coordinates(),
		Contact: entity.Contact{
			Phone:   b.contact(entity.FieldPhone, func(c *candidate) string { return c.e.Entity.Contact.Phone }, phoneQuality),
			Email:   b.contact(entity.FieldEmail, func(c *candidate) string { return c.e.Entity.Contact.Email }, emailQuality),
			Website: b.contact(entity.FieldWebsite, func(c *candidate) string { return c.e.Entity.Contact.Website }, urlQuality),
		},
		TimeRange:   b.timeRange(),
		Summary:     b.text(entity.FieldSummary, func(c *candidate) string { return c.e.Entity.Summary }),
		Description: b.text(entity.FieldDescription, func(c *candidate) string { return c.e.Entity.Description }),
		Dimensions:  b.dimensions(),
		Modules:     b.modules(),
		Provenance:  provenance(cands),
	}

	for _, d := range b.decisions {
		m.metrics.IncrementMergeDecision(fieldGroup(d.Field), string(d.Reason))
		m.logger.DebugContext(ctx, "merge decision",
			"field", d.Field,
			"winner", d.Winner,
			"entity_id", d.EntityID,
			"candidates", d.Candidates,
			"reason", d.Reason,
		)
	}
	return Result{Entity: out, Decisions: b.decisions}, nil
}

// rank resolves each member's source and sorts by descending trust, then
// connector id, then entity id. Members with a repeated entity id are
// counted once.
func (m *Engine) rank(members []entity.Enriched) []*candidate {
	seen := make(map[string]bool, len(members))
	cands := make([]*candidate, 0, len(members))
	for _, e := range members {
		if seen[e.Entity.ID] {
			continue
		}
		seen[e.Entity.ID] = true
		c := &candidate{e: e, source: e.Entity.SourceID, id: e.Entity.ID}
		if m.ranker != nil {
			if d, ok := m.ranker.Descriptor(c.source); ok {
				c.trust = d.Trust
				c.priority = d.Priority
			}
		}
		cands = append(cands, c)
	}
	slices.SortStableFunc(cands, func(a, b *candidate) int {
		return cmp.Or(
			cmp.Compare(b.trust, a.trust),
			cmp.Compare(a.source, b.source),
			cmp.Compare(a.id, b.id),
		)
	})
	return cands
}

// provenance unions every member's identity. The primary source is the
// highest ranked member's connector.
func provenance(cands []*candidate) entity.Provenance {
	p := entity.Provenance{
		ExternalIDs:   map[string][]string{},
		PrimarySource: cands[0].source,
	}
	external := map[string][]string{}
	for _, c := range cands {
		p.SourceIDs = append(p.SourceIDs, c.source)
		p.EntityIDs = append(p.EntityIDs, c.id)
		if c.e.Entity.RawIngestionID != "" {
			p.RawIngestionIDs = append(p.RawIngestionIDs, c.e.Entity.RawIngestionID)
		}
		for ns, v := range c.e.Entity.ExternalIDs {
			external[ns] = append(external[ns], v)
		}
	}
	p.SourceIDs = pkgstrings.SortedSet(p.SourceIDs)
	p.EntityIDs = pkgstrings.SortedSet(p.EntityIDs)
	p.RawIngestionIDs = pkgstrings.SortedSet(p.RawIngestionIDs)
	for _, ns := range slices.Sorted(maps.Keys(external)) {
		p.ExternalIDs[ns] = pkgstrings.SortedSet(external[ns])
	}
	return p
}

// fieldGroup collapses module paths into one metric label.
func fieldGroup(field string) string {
	if strings.HasPrefix(field, "modules.") {
		return "modules"
	}
	return field
}
