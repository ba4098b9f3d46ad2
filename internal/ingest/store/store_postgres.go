package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"canon/internal/ingest"
	"canon/pkg/platform/sentinel"
)

// PostgresStore persists raw ingestions in PostgreSQL. The table carries a
// unique constraint on (connector_id, content_hash).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed raw ingestion store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save inserts ing, reporting sentinel.ErrDuplicate when identical content
// from the same connector is already stored.
func (s *PostgresStore) Save(ctx context.Context, ing ingest.RawIngestion) error {
	query := `
		INSERT INTO raw_ingestions (id, connector_id, query, content_type, content_hash, body, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connector_id, content_hash) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		ing.ID, ing.ConnectorID, ing.Query, ing.ContentType, ing.ContentHash, ing.Body, ing.FetchedAt)
	if err != nil {
		return fmt.Errorf("save raw ingestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save raw ingestion: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("raw ingestion %s: %w", ing.ID, sentinel.ErrDuplicate)
	}
	return nil
}

// Get returns an ingestion by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (ingest.RawIngestion, error) {
	query := `
		SELECT id, connector_id, query, content_type, content_hash, body, fetched_at
		FROM raw_ingestions
		WHERE id = $1
	`
	var ing ingest.RawIngestion
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ing.ID, &ing.ConnectorID, &ing.Query, &ing.ContentType, &ing.ContentHash, &ing.Body, &ing.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingest.RawIngestion{}, fmt.Errorf("raw ingestion %s: %w", id, sentinel.ErrNotFound)
		}
		return ingest.RawIngestion{}, fmt.Errorf("get raw ingestion: %w", err)
	}
	ing.FetchedAt = ing.FetchedAt.UTC()
	return ing, nil
}
