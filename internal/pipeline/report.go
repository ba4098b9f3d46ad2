package pipeline

import (
	"time"

	"canon/internal/finalize"
	"canon/internal/ingest"
	"canon/internal/merge"
)

// Run statuses reported to metrics and callers.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Stage names one step of a run in failures and spans.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageRecord   Stage = "record"
	StageExtract  Stage = "extract"
	StageEnrich   Stage = "enrich"
	StageDedup    Stage = "dedup"
	StageMerge    Stage = "merge"
	StageFinalize Stage = "finalize"
)

// ConnectorReport summarizes one connector call.
type ConnectorReport struct {
	ID        string               `json:"id"`
	Category  ingest.ErrorCategory `json:"category,omitempty"`
	Attempts  int                  `json:"attempts"`
	LatencyMS int64                `json:"latency_ms"`
	Error     string               `json:"error,omitempty"`
}

// Failure is one problem surfaced by a run. Critical failures abort the
// entity or the run they belong to.
type Failure struct {
	Stage    Stage  `json:"stage"`
	Subject  string `json:"subject"`
	Error    string `json:"error"`
	Critical bool   `json:"critical"`
}

// MergeTrace records how one group became one entity.
type MergeTrace struct {
	GroupID   string           `json:"group_id"`
	Name      string           `json:"name,omitempty"`
	Decisions []merge.Decision `json:"decisions"`
}

// RunReport describes what one run did.
type RunReport struct {
	RunID      string             `json:"run_id"`
	Query      string             `json:"query,omitempty"`
	LensID     string             `json:"lens_id"`
	LensHash   string             `json:"lens_hash"`
	Status     string             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration_ns"`
	Connectors []ConnectorReport  `json:"connectors,omitempty"`
	Payloads   int                `json:"payloads"`
	Duplicates int                `json:"duplicates"`
	Entities   int                `json:"entities"`
	Groups     int                `json:"groups"`
	Merges     []MergeTrace       `json:"merges,omitempty"`
	Upserts    []finalize.Outcome `json:"upserts"`
	Failures   []Failure          `json:"failures,omitempty"`
}

// Created counts upserts that created a record.
func (r *RunReport) Created() int {
	n := 0
	for _, u := range r.Upserts {
		if u.Created {
			n++
		}
	}
	return n
}

func (r *RunReport) fail(stage Stage, subject string, err error, critical bool) {
	r.Failures = append(r.Failures, Failure{Stage: stage, Subject: subject, Error: err.Error(), Critical: critical})
}
