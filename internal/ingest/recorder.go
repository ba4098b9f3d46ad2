package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"canon/internal/ingest/metrics"
	"canon/pkg/platform/sentinel"
)

// RawStore persists raw ingestions.
type RawStore interface {
	// Save stores an ingestion. It returns sentinel.ErrDuplicate when the
	// same connector already stored identical content.
	Save(ctx context.Context, ing RawIngestion) error

	// Get returns an ingestion by id or sentinel.ErrNotFound.
	Get(ctx context.Context, id string) (RawIngestion, error)
}

// Recorder persists payloads before extraction begins.
type Recorder struct {
	store    RawStore
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRecorderMetrics sets the metrics sink.
func WithRecorderMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store RawStore, registry *Registry, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists one payload. A payload the connector flags as a duplicate,
// or whose content was already stored, is returned with Duplicate set and is
// not written again.
func (r *Recorder) Record(ctx context.Context, payload RawPayload) (RawIngestion, error) {
	c, ok := r.registry.Get(payload.ConnectorID)
	if !ok {
		return RawIngestion{}, fmt.Errorf("%w: %s", ErrConnectorNotFound, payload.ConnectorID)
	}
	ing := NewRawIngestion(payload)

	if c.IsDuplicate(payload) {
		return r.duplicate(ctx, ing, "connector"), nil
	}
	if err := r.store.Save(ctx, ing); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			markRecorded(c, payload)
			return r.duplicate(ctx, ing, "store"), nil
		}
		return RawIngestion{}, fmt.Errorf("persist raw payload from %s: %w", payload.ConnectorID, err)
	}
	markRecorded(c, payload)
	r.metrics.IncrementRawIngestion(ing.ConnectorID, false)
	return ing, nil
}

// markRecorded tells a remembering connector that payload is persisted. A
// failed write leaves the connector unaware, so a retry writes again.
func markRecorded(c Connector, payload RawPayload) {
	if m, ok := c.(RecordMarker); ok {
		m.MarkRecorded(payload)
	}
}

func (r *Recorder) duplicate(ctx context.Context, ing RawIngestion, detectedBy string) RawIngestion {
	ing.Duplicate = true
	r.metrics.IncrementRawIngestion(ing.ConnectorID, true)
	r.logger.DebugContext(ctx, "duplicate raw payload",
		"connector_id", ing.ConnectorID,
		"content_hash", ing.ContentHash,
		"detected_by", detectedBy,
	)
	return ing
}
