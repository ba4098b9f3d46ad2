package ingest

import (
	"time"

	"github.com/google/uuid"

	"canon/pkg/platform/hashing"
)

// ingestionNamespace seeds name-based ingestion ids.
var ingestionNamespace = uuid.MustParse("6f1c9a52-3b8e-4d0f-9a61-2c7e5b4d8f10")

// RawPayload is exactly what one connector returned for one query.
type RawPayload struct {
	ConnectorID string    `json:"connector_id"`
	Query       string    `json:"query"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// ContentHash is the hex SHA-256 of the payload body.
func (p RawPayload) ContentHash() string {
	return hashing.Bytes(p.Body)
}

// RawIngestion is a persisted raw payload. Its id is derived from the
// connector and content hash, so identical content always maps to the same
// ingestion id.
type RawIngestion struct {
	ID          string    `json:"id"`
	ConnectorID string    `json:"connector_id"`
	Query       string    `json:"query"`
	ContentType string    `json:"content_type,omitempty"`
	ContentHash string    `json:"content_hash"`
	Body        []byte    `json:"body"`
	FetchedAt   time.Time `json:"fetched_at"`
	// Duplicate is set when identical content had already been ingested.
	Duplicate bool `json:"duplicate"`
}

// NewRawIngestion stamps a payload with its content hash and derived id.
func NewRawIngestion(p RawPayload) RawIngestion {
	hash := p.ContentHash()
	return RawIngestion{
		ID:          IngestionID(p.ConnectorID, hash),
		ConnectorID: p.ConnectorID,
		Query:       p.Query,
		ContentType: p.ContentType,
		ContentHash: hash,
		Body:        p.Body,
		FetchedAt:   p.FetchedAt,
	}
}

// IngestionID derives the ingestion id for a connector and content hash.
func IngestionID(connectorID, contentHash string) string {
	return uuid.NewSHA1(ingestionNamespace, []byte(connectorID+"/"+contentHash)).String()
}
