package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus metrics. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of global registration.
type Metrics struct {
	MappingRuleOutcomes *prometheus.CounterVec
	ModuleRuleOutcomes  *prometheus.CounterVec
	FallbackCalls       *prometheus.CounterVec
	MergeDecisions      *prometheus.CounterVec
	EntityUpserts       *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	LensLoads           *prometheus.CounterVec
	DedupMatches        *prometheus.CounterVec
	HTTPRequests        *prometheus.HistogramVec
}

// New creates and registers all engine metrics.
func New() *Metrics {
	return &Metrics{
		MappingRuleOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_mapping_rule_outcomes_total",
			Help: "Canonical mapping rule evaluations by rule id and outcome",
		}, []string{"rule_id", "outcome"}), // outcome: "match", "no_match"

		ModuleRuleOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_module_rule_outcomes_total",
			Help: "Module field rule evaluations by module, rule id and outcome",
		}, []string{"module", "rule_id", "outcome"}), // outcome: "written", "no_match", "skipped", "error"

		FallbackCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_fallback_calls_total",
			Help: "Schema-bound fallback generation calls by module and outcome",
		}, []string{"module", "outcome"}), // outcome: "ok", "timeout", "invalid", "error", "budget_exhausted"

		MergeDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_merge_decisions_total",
			Help: "Merge tie-break decisions by field group and reason",
		}, []string{"field", "reason"}),

		EntityUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_entity_upserts_total",
			Help: "Finalized entity upserts by result",
		}, []string{"result"}), // result: "created", "updated", "error"

		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canon_run_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"lens_id", "status"}),

		LensLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_lens_loads_total",
			Help: "Lens contract loads by lens id and outcome",
		}, []string{"lens_id", "outcome"}),

		DedupMatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_dedup_matches_total",
			Help: "Entity pairs linked by the dedup grouper, by tier",
		}, []string{"tier"}),

		HTTPRequests: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canon_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// IncrementMappingRule records one mapping rule evaluation.
func (m *Metrics) IncrementMappingRule(ruleID string, matched bool) {
	if m == nil {
		return
	}
	outcome := "no_match"
	if matched {
		outcome = "match"
	}
	m.MappingRuleOutcomes.WithLabelValues(ruleID, outcome).Inc()
}

// IncrementModuleRule records one module field rule evaluation.
func (m *Metrics) IncrementModuleRule(module, ruleID, outcome string) {
	if m != nil {
		m.ModuleRuleOutcomes.WithLabelValues(module, ruleID, outcome).Inc()
	}
}

// IncrementFallback records one fallback attempt.
func (m *Metrics) IncrementFallback(module, outcome string) {
	if m != nil {
		m.FallbackCalls.WithLabelValues(module, outcome).Inc()
	}
}

// IncrementMergeDecision records one merge decision.
func (m *Metrics) IncrementMergeDecision(field, reason string) {
	if m != nil {
		m.MergeDecisions.WithLabelValues(field, reason).Inc()
	}
}

// IncrementUpsert records one upsert result.
func (m *Metrics) IncrementUpsert(result string) {
	if m != nil {
		m.EntityUpserts.WithLabelValues(result).Inc()
	}
}

// ObserveRun records a run duration.
func (m *Metrics) ObserveRun(lensID, status string, d time.Duration) {
	if m != nil {
		m.RunDuration.WithLabelValues(lensID, status).Observe(d.Seconds())
	}
}

// IncrementLensLoad records a lens load attempt.
func (m *Metrics) IncrementLensLoad(lensID, outcome string) {
	if m != nil {
		m.LensLoads.WithLabelValues(lensID, outcome).Inc()
	}
}

// IncrementDedupMatch records one linked entity pair.
func (m *Metrics) IncrementDedupMatch(tier string) {
	if m != nil {
		m.DedupMatches.WithLabelValues(tier).Inc()
	}
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(route string, status int, d time.Duration) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
