//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"canon/internal/ingest"
	"canon/internal/ingest/store"
	"canon/pkg/platform/sentinel"
	"canon/pkg/testutil/containers"
)

type RawStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	pg       *store.PostgresStore
	indexed  *store.RedisIndex
}

func TestRawStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RawStoreSuite))
}

func (s *RawStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redis = mgr.GetRedis(s.T())
	s.pg = store.NewPostgresStore(s.postgres.DB)
	s.indexed = store.NewRedisIndex(s.redis.Client.Client, s.pg, time.Hour)
}

func (s *RawStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "raw_ingestions"))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

func payload(connectorID, body string) ingest.RawIngestion {
	return ingest.NewRawIngestion(ingest.RawPayload{
		ConnectorID: connectorID,
		Query:       "padel",
		ContentType: "application/json",
		Body:        []byte(body),
		FetchedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
}

func (s *RawStoreSuite) TestPostgresRoundTrip() {
	ctx := context.Background()
	ing := payload("places", `{"id":1}`)

	s.Require().NoError(s.pg.Save(ctx, ing))
	got, err := s.pg.Get(ctx, ing.ID)
	s.Require().NoError(err)
	s.Equal(ing.ContentHash, got.ContentHash)
	s.Equal(ing.Body, got.Body)
	s.True(ing.FetchedAt.Equal(got.FetchedAt))

	_, err = s.pg.Get(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentDuplicateSave verifies that concurrent writers of the same
// content produce exactly one row.
func (s *RawStoreSuite) TestConcurrentDuplicateSave() {
	ctx := context.Background()
	ing := payload("places", `{"id":2}`)
	const goroutines = 30

	var wg sync.WaitGroup
	var stored, duplicates atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := s.pg.Save(ctx, ing); {
			case err == nil:
				stored.Add(1)
			case errors.Is(err, sentinel.ErrDuplicate):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), stored.Load())
	s.Equal(int32(goroutines-1), duplicates.Load())
}

func (s *RawStoreSuite) TestRedisIndexClaimsBeforeWriting() {
	ctx := context.Background()
	ing := payload("clubs", `{"id":3}`)

	s.Require().NoError(s.indexed.Save(ctx, ing))
	s.ErrorIs(s.indexed.Save(ctx, ing), sentinel.ErrDuplicate)

	got, err := s.indexed.Get(ctx, ing.ID)
	s.Require().NoError(err)
	s.Equal("clubs", got.ConnectorID)
}

func (s *RawStoreSuite) TestRedisIndexKeepsClaimWhenStoreAlreadyHasContent() {
	ctx := context.Background()
	ing := payload("clubs", `{"id":4}`)
	s.Require().NoError(s.pg.Save(ctx, ing))

	s.ErrorIs(s.indexed.Save(ctx, ing), sentinel.ErrDuplicate)
	s.ErrorIs(s.indexed.Save(ctx, ing), sentinel.ErrDuplicate)
}

func (s *RawStoreSuite) TestRedisClientReportsHealthy() {
	s.NoError(s.redis.Client.Health(context.Background()))
}
