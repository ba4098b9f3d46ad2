// Package ingest is the connector boundary: the Connector interface, the
// registry of connectors with their trust metadata, the bounded fan-out
// fetcher and raw payload persistence.
package ingest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Connector is the interface every external data source implements.
type Connector interface {
	// ID returns the registered connector id.
	ID() string

	// Fetch runs one query against the source and returns its raw response.
	Fetch(ctx context.Context, query string) (RawPayload, error)

	// IsDuplicate reports whether the connector already knows this payload
	// to be a copy of one that was recorded before. It must not change any
	// state.
	IsDuplicate(payload RawPayload) bool
}

// RecordMarker is implemented by connectors that remember recorded payloads.
// The recorder calls MarkRecorded only once the payload is in the raw store.
type RecordMarker interface {
	MarkRecorded(payload RawPayload)
}

// TrustTier ranks how much a source is believed. Higher wins in merge.
type TrustTier int

const (
	TrustUnknown TrustTier = iota
	TrustLow
	TrustMedium
	TrustHigh
)

// ParseTrustTier parses "low", "medium" or "high".
func ParseTrustTier(s string) (TrustTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TrustLow, nil
	case "medium":
		return TrustMedium, nil
	case "high":
		return TrustHigh, nil
	}
	return TrustUnknown, fmt.Errorf("unknown trust tier %q", s)
}

func (t TrustTier) String() string {
	switch t {
	case TrustLow:
		return "low"
	case TrustMedium:
		return "medium"
	case TrustHigh:
		return "high"
	}
	return "unknown"
}

// Descriptor is the registry metadata of one connector.
type Descriptor struct {
	ID       string
	Trust    TrustTier
	Priority int

	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Retries       int

	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultTimeout bounds a single fetch when a descriptor declares none.
const DefaultTimeout = 10 * time.Second

func (d Descriptor) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// Registry maintains all registered connectors.
type Registry struct {
	connectors  map[string]Connector
	descriptors map[string]Descriptor
}

// NewRegistry creates a new empty registry
func NewRegistry() *Registry {
	return &Registry{
		connectors:  make(map[string]Connector),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds a connector to the registry.
func (r *Registry) Register(c Connector, d Descriptor) error {
	id := c.ID()
	if id == "" {
		return fmt.Errorf("connector id is required")
	}
	if d.ID == "" {
		d.ID = id
	}
	if d.ID != id {
		return fmt.Errorf("descriptor %s does not describe connector %s", d.ID, id)
	}
	if d.Trust == TrustUnknown {
		return fmt.Errorf("connector %s: trust tier is required", id)
	}
	if _, exists := r.connectors[id]; exists {
		return fmt.Errorf("connector %s already registered", id)
	}
	r.connectors[id] = c
	r.descriptors[id] = d
	return nil
}

// Get retrieves a connector by ID
func (r *Registry) Get(id string) (Connector, bool) {
	c, ok := r.connectors[id]
	return c, ok
}

// Descriptor returns the metadata of a connector.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	d, ok := r.descriptors[id]
	return d, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.connectors[id]
	return ok
}

// IDs returns all registered connector ids, sorted.
func (r *Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r.connectors))
}
