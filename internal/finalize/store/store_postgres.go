// Package store holds the finalized entity stores.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canon/internal/entity"
	"canon/pkg/platform/sentinel"
	txcontext "canon/pkg/platform/tx"
)

const defaultTxTimeout = 10 * time.Second

// PostgresStore persists finalized records in the entities table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed entity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside one transaction; upserts made through ctx join it.
// A ctx that already carries a transaction is reused as is.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, defaultTxTimeout, fn)
}

// Upsert inserts or updates the record keyed by slug. created_at survives
// updates; xmax is zero only for a freshly inserted row.
func (s *PostgresStore) Upsert(ctx context.Context, rec entity.Record) (bool, error) {
	doc, err := json.Marshal(rec.Entity)
	if err != nil {
		return false, fmt.Errorf("encode entity %s: %w", rec.Slug, err)
	}
	query := `
		INSERT INTO entities (slug, entity, hash, lens_id, lens_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO UPDATE SET
			entity = EXCLUDED.entity,
			hash = EXCLUDED.hash,
			lens_id = EXCLUDED.lens_id,
			lens_hash = EXCLUDED.lens_hash,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err = s.execer(ctx).QueryRowContext(ctx, query,
		rec.Slug, doc, rec.Hash, rec.LensID, rec.LensHash, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert entity %s: %w", rec.Slug, err)
	}
	return inserted, nil
}

// Get returns the record for slug.
func (s *PostgresStore) Get(ctx context.Context, slug string) (entity.Record, error) {
	query := `
		SELECT slug, entity, hash, lens_id, lens_hash, created_at, updated_at
		FROM entities
		WHERE slug = $1
	`
	var rec entity.Record
	var doc []byte
	err := s.execer(ctx).QueryRowContext(ctx, query, slug).Scan(
		&rec.Slug, &doc, &rec.Hash, &rec.LensID, &rec.LensHash, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Record{}, fmt.Errorf("entity %s: %w", slug, sentinel.ErrNotFound)
		}
		return entity.Record{}, fmt.Errorf("get entity: %w", err)
	}
	if err := json.Unmarshal(doc, &rec.Entity); err != nil {
		return entity.Record{}, fmt.Errorf("decode entity %s: %w", slug, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
