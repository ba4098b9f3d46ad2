package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"canon/internal/ingest"
	"canon/pkg/platform/sentinel"
)

const indexKeyPrefix = "canon:raw:"

// RedisIndex puts a shared content-hash index in front of another store so
// several processes agree on which payloads were already ingested. The index
// is claimed with SETNX before the wrapped store is written.
type RedisIndex struct {
	client *redis.Client
	next   ingest.RawStore
	ttl    time.Duration
}

// NewRedisIndex wraps next. A ttl of zero keeps index entries forever.
func NewRedisIndex(client *redis.Client, next ingest.RawStore, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, next: next, ttl: ttl}
}

// Save claims the content hash and then writes through.
func (r *RedisIndex) Save(ctx context.Context, ing ingest.RawIngestion) error {
	key := indexKeyPrefix + dedupKey(ing.ConnectorID, ing.ContentHash)
	claimed, err := r.client.SetNX(ctx, key, ing.ID, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim raw ingestion index: %w", err)
	}
	if !claimed {
		return fmt.Errorf("raw ingestion %s: %w", ing.ID, sentinel.ErrDuplicate)
	}
	if err := r.next.Save(ctx, ing); err != nil {
		if !errors.Is(err, sentinel.ErrDuplicate) {
			_ = r.client.Del(ctx, key).Err()
		}
		return err
	}
	return nil
}

// Get reads through to the wrapped store.
func (r *RedisIndex) Get(ctx context.Context, id string) (ingest.RawIngestion, error) {
	return r.next.Get(ctx, id)
}
