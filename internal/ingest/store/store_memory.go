package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"canon/internal/ingest"
	"canon/pkg/platform/sentinel"
)

// InMemoryStore keeps raw ingestions in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]ingest.RawIngestion
	byKey map[string]string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]ingest.RawIngestion),
		byKey: make(map[string]string),
	}
}

func dedupKey(connectorID, contentHash string) string {
	return connectorID + "/" + contentHash
}

// Save stores ing unless the connector already stored identical content.
func (s *InMemoryStore) Save(_ context.Context, ing ingest.RawIngestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(ing.ConnectorID, ing.ContentHash)
	if _, ok := s.byKey[key]; ok {
		return fmt.Errorf("raw ingestion %s: %w", ing.ID, sentinel.ErrDuplicate)
	}
	ing.Body = slices.Clone(ing.Body)
	ing.Duplicate = false
	s.byID[ing.ID] = ing
	s.byKey[key] = ing.ID
	return nil
}

// Get returns an ingestion by id.
func (s *InMemoryStore) Get(_ context.Context, id string) (ingest.RawIngestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ing, ok := s.byID[id]
	if !ok {
		return ingest.RawIngestion{}, fmt.Errorf("raw ingestion %s: %w", id, sentinel.ErrNotFound)
	}
	ing.Body = slices.Clone(ing.Body)
	return ing, nil
}

// Len returns the number of stored ingestions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
