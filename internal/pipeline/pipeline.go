// Package pipeline runs one query end to end: connector fetch, raw
// persistence, extraction, enrichment under the run's lens, dedup
// grouping, merge and finalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"canon/internal/classify"
	"canon/internal/dedup"
	"canon/internal/entity"
	"canon/internal/extract"
	"canon/internal/finalize"
	"canon/internal/ingest"
	"canon/internal/lens"
	"canon/internal/mapping"
	"canon/internal/merge"
	"canon/internal/modules"
	"canon/internal/platform/metrics"
	"canon/pkg/requestcontext"
)

const tracerName = "canon.pipeline"

// Deps are the stages a Runner drives. Every field is required.
type Deps struct {
	Lens       *lens.ExecutionContext
	Registry   *ingest.Registry
	Fetcher    *ingest.Fetcher
	Recorder   *ingest.Recorder
	Extractors extract.Set
	Mapper     *mapping.Engine
	Modules    *modules.Engine
	Grouper    *dedup.Grouper
	Merger     *merge.Engine
	Finalizer  *finalize.Finalizer
}

func (d Deps) validate() error {
	var errs []error
	if d.Lens == nil || d.Lens.Contract == nil {
		errs = append(errs, errors.New("lens execution context is required"))
	}
	if d.Registry == nil {
		errs = append(errs, errors.New("connector registry is required"))
	}
	if d.Fetcher == nil {
		errs = append(errs, errors.New("fetcher is required"))
	}
	if d.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if d.Extractors == nil {
		errs = append(errs, errors.New("extractors are required"))
	}
	if d.Mapper == nil {
		errs = append(errs, errors.New("mapping engine is required"))
	}
	if d.Modules == nil {
		errs = append(errs, errors.New("module engine is required"))
	}
	if d.Grouper == nil {
		errs = append(errs, errors.New("dedup grouper is required"))
	}
	if d.Merger == nil {
		errs = append(errs, errors.New("merge engine is required"))
	}
	if d.Finalizer == nil {
		errs = append(errs, errors.New("finalizer is required"))
	}
	return errors.Join(errs...)
}

// Runner executes runs against one loaded lens. Runs share no mutable
// state and may execute concurrently.
type Runner struct {
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithClock pins the run clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner.
func New(deps Deps, opts ...Option) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	r := &Runner{
		deps:   deps,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Lens returns the execution context every run uses.
func (r *Runner) Lens() *lens.ExecutionContext {
	return r.deps.Lens
}

// Run fetches query from the routed connectors and processes the payloads
// they return. Connector failures are reported, never returned. The error
// joins every critical failure; a cancelled run returns the context error
// and persists nothing.
func (r *Runner) Run(ctx context.Context, query string) (*RunReport, error) {
	ctx, report, finish := r.begin(ctx, "run")
	report.Query = query

	ids, routed := r.deps.Lens.Contract.RouteConnectors(query)
	if !routed {
		ids = r.deps.Registry.IDs()
	}
	r.logger.InfoContext(ctx, "run started", append(r.deps.Lens.LogAttrs(),
		"run_id", report.RunID,
		"query", query,
		"connectors", ids,
		"routed", routed,
	)...)

	payloads, err := r.fetch(ctx, report, query, ids)
	if err != nil {
		return finish(report, err)
	}
	return finish(report, r.process(ctx, report, payloads))
}

// ProcessPayloads processes payloads the caller already holds, entering at
// raw persistence.
func (r *Runner) ProcessPayloads(ctx context.Context, payloads []ingest.RawPayload) (*RunReport, error) {
	ctx, report, finish := r.begin(ctx, "process_payloads")
	r.logger.InfoContext(ctx, "run started", append(r.deps.Lens.LogAttrs(),
		"run_id", report.RunID,
		"payloads", len(payloads),
	)...)
	return finish(report, r.process(ctx, report, payloads))
}

type finishFunc func(*RunReport, error) (*RunReport, error)

func (r *Runner) begin(ctx context.Context, op string) (context.Context, *RunReport, finishFunc) {
	started := r.now().UTC()
	runID := uuid.NewString()
	ctx = requestcontext.WithRunID(ctx, runID)
	ctx = requestcontext.WithTime(ctx, started)
	ctx, span := r.tracer.Start(ctx, tracerName+"."+op, trace.WithAttributes(r.attrs(attribute.String("run_id", runID))...))

	report := &RunReport{
		RunID:     runID,
		LensID:    r.deps.Lens.LensID,
		LensHash:  r.deps.Lens.ContentHash,
		StartedAt: started,
		Upserts:   []finalize.Outcome{},
	}
	finish := func(report *RunReport, err error) (*RunReport, error) {
		report.Duration = r.now().Sub(started)
		switch {
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			report.Status = StatusCancelled
			report.Upserts = []finalize.Outcome{}
			report.Merges = nil
		case err != nil && len(report.Upserts) == 0:
			report.Status = StatusFailed
		case err != nil || len(report.Failures) > 0:
			report.Status = StatusPartial
		default:
			report.Status = StatusSucceeded
		}
		span.SetAttributes(
			attribute.String("status", report.Status),
			attribute.Int("payloads", report.Payloads),
			attribute.Int("entities", report.Entities),
			attribute.Int("groups", report.Groups),
		)
		endSpan(span, err)
		r.metrics.ObserveRun(report.LensID, report.Status, report.Duration)

		attrs := append(r.deps.Lens.LogAttrs(),
			"run_id", report.RunID,
			"status", report.Status,
			"payloads", report.Payloads,
			"duplicates", report.Duplicates,
			"entities", report.Entities,
			"groups", report.Groups,
			"upserts", len(report.Upserts),
			"failures", len(report.Failures),
			"duration", report.Duration,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "run finished with errors", append(attrs, "error", err)...)
		} else {
			r.logger.InfoContext(ctx, "run finished", attrs...)
		}
		return report, err
	}
	return ctx, report, finish
}

func (r *Runner) fetch(ctx context.Context, report *RunReport, query string, ids []string) ([]ingest.RawPayload, error) {
	ctx, span := r.stage(ctx, StageFetch)
	outcomes, err := r.deps.Fetcher.Fetch(ctx, query, ids)
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", query, err)
	}

	var payloads []ingest.RawPayload
	for _, o := range outcomes {
		cr := ConnectorReport{ID: o.ConnectorID, Category: o.Category, Attempts: o.Attempts, LatencyMS: o.Latency.Milliseconds()}
		if o.Err != nil {
			cr.Error = o.Err.Error()
			report.fail(StageFetch, o.ConnectorID, o.Err, false)
		}
		report.Connectors = append(report.Connectors, cr)
		if o.Payload != nil {
			payloads = append(payloads, *o.Payload)
		}
	}
	return payloads, nil
}

func (r *Runner) process(ctx context.Context, report *RunReport, payloads []ingest.RawPayload) error {
	ingestions, err := r.record(ctx, report, payloads)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	extracted := r.extract(ctx, report, ingestions)
	enriched := r.enrich(ctx, extracted)
	if err := ctx.Err(); err != nil {
		return err
	}

	groups := r.group(ctx, report, extracted)
	merged, errs := r.merge(ctx, report, groups, enriched)
	if err := ctx.Err(); err != nil {
		return err
	}

	fctx, span := r.stage(ctx, StageFinalize)
	outcomes, ferr := r.deps.Finalizer.Finalize(fctx, r.deps.Lens, merged)
	endSpan(span, ferr)
	if outcomes != nil {
		report.Upserts = outcomes
	}
	if ferr != nil {
		if err := ctx.Err(); err != nil && errors.Is(ferr, err) {
			return err
		}
		var entityErr *finalize.EntityError
		if outcomes == nil || !errors.As(ferr, &entityErr) {
			report.fail(StageFinalize, "", ferr, true)
		} else {
			for _, e := range unjoin(ferr) {
				subject := ""
				if errors.As(e, &entityErr) {
					subject = entityErr.Name
				}
				report.fail(StageFinalize, subject, e, true)
			}
		}
		errs = append(errs, ferr)
	}
	return errors.Join(errs...)
}

// record persists every payload before anything reads it. A payload seen
// twice in one run is processed once.
func (r *Runner) record(ctx context.Context, report *RunReport, payloads []ingest.RawPayload) ([]ingest.RawIngestion, error) {
	ctx, span := r.stage(ctx, StageRecord)
	seen := make(map[string]bool, len(payloads))
	out := make([]ingest.RawIngestion, 0, len(payloads))
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			endSpan(span, err)
			return nil, err
		}
		ing, err := r.deps.Recorder.Record(ctx, p)
		if err != nil {
			report.fail(StageRecord, p.ConnectorID, err, true)
			endSpan(span, err)
			return nil, err
		}
		report.Payloads++
		if ing.Duplicate {
			report.Duplicates++
		}
		if seen[ing.ID] {
			continue
		}
		seen[ing.ID] = true
		out = append(out, ing)
	}
	span.SetAttributes(attribute.Int("payloads", report.Payloads), attribute.Int("duplicates", report.Duplicates))
	endSpan(span, nil)
	return out, nil
}

// extract runs each payload's source extractor. A payload that cannot be
// read is reported and skipped.
func (r *Runner) extract(ctx context.Context, report *RunReport, ingestions []ingest.RawIngestion) []entity.ExtractedEntity {
	ctx, span := r.stage(ctx, StageExtract)
	defer span.End()

	var out []entity.ExtractedEntity
	seen := map[string]bool{}
	for _, ing := range ingestions {
		entities, err := r.deps.Extractors.Extract(ing)
		if err != nil {
			r.logger.WarnContext(ctx, "payload extraction failed",
				"raw_ingestion_id", ing.ID,
				"connector_id", ing.ConnectorID,
				"error", err,
			)
			report.fail(StageExtract, ing.ID, err, false)
			continue
		}
		for _, e := range entities {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	report.Entities = len(out)
	span.SetAttributes(attribute.Int("entities", len(out)))
	return out
}

// enrich classifies each entity, maps its canonical dimensions and fills
// its modules. Rule failures stay inside the module engine's trace.
func (r *Runner) enrich(ctx context.Context, extracted []entity.ExtractedEntity) map[string]entity.Enriched {
	ctx, span := r.stage(ctx, StageEnrich)
	defer span.End()

	budget := modules.NewBudget()
	out := make(map[string]entity.Enriched, len(extracted))
	for _, e := range extracted {
		class := classify.Classify(e)
		mapped := r.deps.Mapper.Apply(ctx, r.deps.Lens, e)
		mods := r.deps.Modules.Apply(ctx, r.deps.Lens, modules.Input{
			Entity:     e,
			SourceID:   e.SourceID,
			Class:      class,
			Dimensions: mapped.Dimensions,
			Budget:     budget,
		})
		out[e.ID] = entity.Enriched{
			Entity:          e,
			Class:           class,
			Dimensions:      mapped.Dimensions,
			Matches:         mapped.Matches,
			Modules:         mods.Modules,
			FieldConfidence: mods.Confidence,
		}
	}
	return out
}

func (r *Runner) group(ctx context.Context, report *RunReport, extracted []entity.ExtractedEntity) []dedup.Group {
	_, span := r.stage(ctx, StageDedup)
	defer span.End()
	groups := r.deps.Grouper.Group(extracted)
	report.Groups = len(groups)
	span.SetAttributes(attribute.Int("groups", len(groups)))
	return groups
}

// merge folds each group into one entity. A group that fails to merge is
// dropped and reported; the others carry on.
func (r *Runner) merge(ctx context.Context, report *RunReport, groups []dedup.Group, enriched map[string]entity.Enriched) ([]entity.MergedEntity, []error) {
	ctx, span := r.stage(ctx, StageMerge)
	defer span.End()

	var errs []error
	out := make([]entity.MergedEntity, 0, len(groups))
	for _, g := range groups {
		members := make([]entity.Enriched, 0, len(g.EntityIDs))
		for _, id := range g.EntityIDs {
			if e, ok := enriched[id]; ok {
				members = append(members, e)
			}
		}
		res, err := r.deps.Merger.Merge(ctx, members)
		if err != nil {
			err = fmt.Errorf("merge group %s: %w", g.ID, err)
			r.logger.ErrorContext(ctx, "group not merged", "group_id", g.ID, "error", err)
			report.fail(StageMerge, g.ID, err, true)
			errs = append(errs, err)
			continue
		}
		report.Merges = append(report.Merges, MergeTrace{GroupID: g.ID, Name: res.Entity.Name, Decisions: res.Decisions})
		out = append(out, res.Entity)
	}
	return out, errs
}

func (r *Runner) stage(ctx context.Context, s Stage) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, tracerName+"."+string(s), trace.WithAttributes(r.attrs()...))
}

func (r *Runner) attrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		attribute.String("lens_id", r.deps.Lens.LensID),
		attribute.String("lens_hash", r.deps.Lens.ContentHash),
	}, extra...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
