package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"canon/internal/dedup"
	"canon/internal/finalize"
	entitystore "canon/internal/finalize/store"
	"canon/internal/ingest"
	"canon/internal/ingest/catalog"
	ingestmetrics "canon/internal/ingest/metrics"
	rawstore "canon/internal/ingest/store"
	"canon/internal/lens"
	"canon/internal/lens/loader"
	"canon/internal/mapping"
	"canon/internal/merge"
	"canon/internal/modules"
	"canon/internal/modules/fallback"
	"canon/internal/pipeline"
	"canon/internal/platform/config"
	"canon/internal/platform/metrics"
	"canon/internal/platform/postgres"
	"canon/internal/platform/redis"
)

type app struct {
	runner   *pipeline.Runner
	entities finalize.Store
	metrics  *metrics.Metrics
	closers  []func() error
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// wire loads the connector catalog and the lens before anything else, so an
// invalid contract stops the process before any ingestion.
func wire(ctx context.Context, cfg config.Config, lensOverride string, log *slog.Logger) (_ *app, err error) {
	a := &app{metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	connMetrics := ingestmetrics.New()

	cat, err := catalog.Load(cfg.Connectors.File, catalog.WithDefaultTimeout(cfg.Connectors.Timeout))
	if err != nil {
		return nil, fmt.Errorf("load connectors: %w", err)
	}

	res, err := lens.Resolve(lens.ResolveInput{
		Override:         lensOverride,
		Environment:      cfg.Lens.ID,
		Default:          defaultLens(cfg.Lens),
		AllowDevFallback: cfg.Lens.AllowDevLens,
		DevFallback:      config.DevLensID,
		Production:       cfg.Server.Production(),
	}, log)
	if err != nil {
		return nil, err
	}
	ldr, err := loader.New(cfg.Lens.Dir, cat.Registry, loader.WithLogger(log), loader.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	execCtx, err := ldr.Load(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("load lens %s (%s): %w", res.ID, res.Source, err)
	}

	raw, entities, finOpts, err := a.stores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.entities = entities

	modOpts := []modules.Option{modules.WithLogger(log), modules.WithMetrics(a.metrics)}
	if cfg.Fallback.Enabled() {
		gen, err := fallback.NewOpenAI(cfg.Fallback.Model, cfg.Fallback.APIKey, cfg.Fallback.BaseURL)
		if err != nil {
			return nil, err
		}
		modOpts = append(modOpts, modules.WithGenerator(gen), modules.WithFallbackTimeout(cfg.Fallback.Timeout))
	}

	grouper, err := dedup.New(dedup.Config{
		RadiusMeters:   cfg.Dedup.RadiusMeters,
		NameSimilarity: cfg.Dedup.NameSimilarity,
	}, dedup.WithLogger(log), dedup.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("dedup config: %w", err)
	}

	finOpts = append(finOpts, finalize.WithLogger(log), finalize.WithMetrics(a.metrics))
	a.runner, err = pipeline.New(pipeline.Deps{
		Lens:     execCtx,
		Registry: cat.Registry,
		Fetcher: ingest.NewFetcher(cat.Registry,
			ingest.WithConcurrency(cfg.Connectors.Concurrency),
			ingest.WithLogger(log),
			ingest.WithMetrics(connMetrics),
		),
		Recorder: ingest.NewRecorder(raw, cat.Registry,
			ingest.WithRecorderLogger(log),
			ingest.WithRecorderMetrics(connMetrics),
		),
		Extractors: cat.Extractors,
		Mapper:     mapping.NewEngine(mapping.WithLogger(log), mapping.WithMetrics(a.metrics)),
		Modules:    modules.NewEngine(modOpts...),
		Grouper:    grouper,
		Merger:     merge.New(cat.Registry, merge.WithLogger(log), merge.WithMetrics(a.metrics)),
		Finalizer:  finalize.New(entities, finOpts...),
	}, pipeline.WithLogger(log), pipeline.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// stores picks Postgres when a database is configured and in-memory stores
// otherwise. Redis, when configured, fronts the raw store as a shared index.
func (a *app) stores(ctx context.Context, cfg config.Config) (ingest.RawStore, finalize.Store, []finalize.Option, error) {
	var (
		raw      ingest.RawStore = rawstore.NewInMemoryStore()
		entities finalize.Store  = entitystore.NewInMemoryStore()
		opts     []finalize.Option
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.ApplySchema(ctx, db); err != nil {
			return nil, nil, nil, err
		}
		raw = rawstore.NewPostgresStore(db)
		pg := entitystore.NewPostgresStore(db)
		entities = pg
		opts = append(opts, finalize.WithTransactor(pg))
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, rc.Close)
		raw = rawstore.NewRedisIndex(rc.Client, raw, cfg.Redis.IndexTTL)
	}
	return raw, entities, opts, nil
}

// defaultLens yields the static default only when its document exists, so
// the dev fallback can take over on a fresh checkout.
func defaultLens(cfg config.Lens) string {
	for _, ext := range []string{".yaml", ".yml"} {
		if _, err := os.Stat(filepath.Join(cfg.Dir, cfg.Default+ext)); err == nil {
			return cfg.Default
		}
	}
	return ""
}
