// Package finalize derives each merged entity's stable identifier and
// writes it with an idempotent upsert, so re-running a query updates
// records instead of duplicating them.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"canon/internal/entity"
	"canon/internal/lens"
	"canon/internal/platform/metrics"
	"canon/pkg/platform/sentinel"
	"canon/pkg/requestcontext"
)

// Store persists finalized records keyed by slug.
type Store interface {
	// Upsert creates or replaces the record with rec.Slug. An existing
	// record keeps its CreatedAt. It reports whether a record was created.
	Upsert(ctx context.Context, rec entity.Record) (created bool, err error)
	// Get returns the record for slug or sentinel.ErrNotFound.
	Get(ctx context.Context, slug string) (entity.Record, error)
}

// Transactor runs fn so that every upsert inside it commits together or
// not at all.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Outcome reports one finalized entity.
type Outcome struct {
	Slug    string `json:"slug"`
	Hash    string `json:"hash"`
	Created bool   `json:"created"`
}

// EntityError marks one entity that could not be finalized.
type EntityError struct {
	Name string
	Err  error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("finalize %q: %v", e.Name, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Finalizer turns merged entities into persisted records.
type Finalizer struct {
	store   Store
	tx      Transactor
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithTransactor makes each Finalize call all-or-nothing.
func WithTransactor(tx Transactor) Option {
	return func(f *Finalizer) {
		f.tx = tx
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finalizer) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Finalizer) {
		f.metrics = m
	}
}

// New creates a finalizer over store.
func New(store Store, opts ...Option) *Finalizer {
	f := &Finalizer{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize upserts every entity. Entities without an identifier, or whose
// identifier another entity in the same batch already claimed, are skipped
// and reported as *EntityError; the rest are still written. A store error
// aborts the whole call, and with a Transactor nothing from the call is
// kept.
func (f *Finalizer) Finalize(ctx context.Context, execCtx *lens.ExecutionContext, merged []entity.MergedEntity) ([]Outcome, error) {
	if execCtx == nil {
		return nil, errors.New("finalize: execution context is required")
	}
	now := requestcontext.Now(ctx).UTC()

	var skipped []error
	records := make([]entity.Record, 0, len(merged))
	claimed := make(map[string]bool, len(merged))
	for _, m := range merged {
		rec, err := newRecord(execCtx, m, now)
		if err == nil && claimed[rec.Slug] {
			err = fmt.Errorf("slug %s already produced in this batch: %w", rec.Slug, sentinel.ErrConflict)
		}
		if err != nil {
			f.metrics.IncrementUpsert("error")
			f.logger.WarnContext(ctx, "entity not finalized", "name", m.Name, "error", err)
			skipped = append(skipped, &EntityError{Name: m.Name, Err: err})
			continue
		}
		claimed[rec.Slug] = true
		records = append(records, rec)
	}

	var outcomes []Outcome
	write := func(ctx context.Context) error {
		outcomes = make([]Outcome, 0, len(records))
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			created, err := f.store.Upsert(ctx, rec)
			if err != nil {
				f.metrics.IncrementUpsert("error")
				return fmt.Errorf("upsert %s: %w", rec.Slug, err)
			}
			outcomes = append(outcomes, Outcome{Slug: rec.Slug, Hash: rec.Hash, Created: created})
		}
		return nil
	}

	var err error
	if f.tx != nil {
		err = f.tx.RunInTx(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "finalize aborted", append(execCtx.LogAttrs(), "error", err)...)
		return nil, err
	}

	for _, o := range outcomes {
		result := "updated"
		if o.Created {
			result = "created"
		}
		f.metrics.IncrementUpsert(result)
		f.logger.InfoContext(ctx, "entity finalized", "slug", o.Slug, "result", result, "hash", o.Hash)
	}
	return outcomes, errors.Join(skipped...)
}

func newRecord(execCtx *lens.ExecutionContext, m entity.MergedEntity, now time.Time) (entity.Record, error) {
	s, err := Slug(m.Name)
	if err != nil {
		return entity.Record{}, err
	}
	m = m.Clone()
	hash, err := m.Hash()
	if err != nil {
		return entity.Record{}, err
	}
	return entity.Record{
		Slug:      s,
		Entity:    m,
		Hash:      hash,
		LensID:    execCtx.LensID,
		LensHash:  execCtx.ContentHash,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
