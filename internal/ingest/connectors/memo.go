// Package connectors holds the concrete Connector implementations: an HTTP
// JSON source and a file fixture source.
package connectors

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"canon/internal/ingest"
)

// DefaultMemoSize bounds how many payload hashes a connector remembers.
const DefaultMemoSize = 1024

// memo remembers the content hashes of payloads that were persisted. Lookups
// never change it; only remember does, and the least recently remembered
// hash goes first once the memo is full.
type memo struct {
	hashes *lru.Cache[string, struct{}]
}

func newMemo(size int) *memo {
	if size <= 0 {
		size = DefaultMemoSize
	}
	// lru.New only fails for a non-positive size.
	hashes, _ := lru.New[string, struct{}](size)
	return &memo{hashes: hashes}
}

// seen reports whether the payload content was remembered.
func (m *memo) seen(payload ingest.RawPayload) bool {
	return m.hashes.Contains(payload.ContentHash())
}

// remember records the payload content.
func (m *memo) remember(payload ingest.RawPayload) {
	m.hashes.Add(payload.ContentHash(), struct{}{})
}
