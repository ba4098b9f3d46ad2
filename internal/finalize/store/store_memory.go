package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"canon/internal/entity"
	"canon/pkg/platform/sentinel"
)

// InMemoryStore keeps finalized records in a map keyed by slug.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]entity.Record
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]entity.Record)}
}

// Upsert creates or replaces a record, keeping the original CreatedAt.
func (s *InMemoryStore) Upsert(_ context.Context, rec entity.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Entity = rec.Entity.Clone()
	existing, ok := s.records[rec.Slug]
	if ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.records[rec.Slug] = rec
	return !ok, nil
}

// Get returns a copy of the record for slug.
func (s *InMemoryStore) Get(_ context.Context, slug string) (entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[slug]
	if !ok {
		return entity.Record{}, fmt.Errorf("entity %s: %w", slug, sentinel.ErrNotFound)
	}
	rec.Entity = rec.Entity.Clone()
	return rec, nil
}

// Slugs lists stored slugs, sorted.
func (s *InMemoryStore) Slugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.records))
}
