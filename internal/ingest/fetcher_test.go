package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"canon/internal/ingest"
	"canon/internal/ingest/connectors"
	"canon/internal/ingest/mocks"
	"canon/internal/ingest/store"
	"canon/pkg/platform/sentinel"
	"canon/pkg/requestcontext"
)

//go:generate mockgen -source=connector.go -destination=mocks/mocks.go -package=mocks Connector

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type FetcherSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	registry *ingest.Registry
	now      time.Time
	ctx      context.Context
}

func TestFetcherSuite(t *testing.T) {
	suite.Run(t, new(FetcherSuite))
}

func (s *FetcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.registry = ingest.NewRegistry()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *FetcherSuite) connector(id string, d ingest.Descriptor) *mocks.MockConnector {
	c := mocks.NewMockConnector(s.ctrl)
	c.EXPECT().ID().Return(id).AnyTimes()
	if d.Trust == ingest.TrustUnknown {
		d.Trust = ingest.TrustMedium
	}
	s.Require().NoError(s.registry.Register(c, d))
	return c
}

func (s *FetcherSuite) fetcher() *ingest.Fetcher {
	return ingest.NewFetcher(s.registry, ingest.WithBackoff(time.Millisecond))
}

// =============================================================================
// Fan-out
// =============================================================================

func (s *FetcherSuite) TestOutcomesAreOrderedAndFailuresIsolated() {
	places := s.connector("places", ingest.Descriptor{})
	clubs := s.connector("clubs", ingest.Descriptor{})
	events := s.connector("events", ingest.Descriptor{})

	places.EXPECT().Fetch(gomock.Any(), "padel").Return(ingest.RawPayload{Body: []byte(`{"a":1}`)}, nil)
	clubs.EXPECT().Fetch(gomock.Any(), "padel").Return(ingest.RawPayload{},
		ingest.NewConnectorError(ingest.ErrorAuthentication, "clubs", "bad key", nil))
	events.EXPECT().Fetch(gomock.Any(), "padel").Return(ingest.RawPayload{Body: []byte(`[]`)}, nil)

	outcomes, err := s.fetcher().Fetch(s.ctx, "padel", []string{"places", "events", "clubs", "places"})
	s.Require().NoError(err)
	s.Require().Len(outcomes, 3)

	s.Equal("clubs", outcomes[0].ConnectorID)
	s.Nil(outcomes[0].Payload)
	s.Equal(ingest.ErrorAuthentication, outcomes[0].Category)
	s.Equal(1, outcomes[0].Attempts)

	s.Equal("events", outcomes[1].ConnectorID)
	s.Require().NotNil(outcomes[1].Payload)
	s.Equal("places", outcomes[2].ConnectorID)
	s.Require().NotNil(outcomes[2].Payload)

	p := outcomes[2].Payload
	s.Equal("places", p.ConnectorID)
	s.Equal("padel", p.Query)
	s.Equal(s.now, p.FetchedAt)
}

func (s *FetcherSuite) TestUnknownConnector() {
	_, err := s.fetcher().Fetch(s.ctx, "padel", []string{"nowhere"})
	s.ErrorIs(err, ingest.ErrConnectorNotFound)

	_, err = s.fetcher().Fetch(s.ctx, "padel", nil)
	s.ErrorIs(err, ingest.ErrNoConnectors)
}

func (s *FetcherSuite) TestConcurrencyIsBounded() {
	const n = 6
	var (
		mu           sync.Mutex
		active, peak int
	)
	ids := make([]string, 0, n)
	for i := range n {
		id := string(rune('a' + i))
		ids = append(ids, id)
		c := s.connector(id, ingest.Descriptor{})
		c.EXPECT().Fetch(gomock.Any(), "q").DoAndReturn(func(context.Context, string) (ingest.RawPayload, error) {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return ingest.RawPayload{Body: []byte(id)}, nil
		})
	}

	f := ingest.NewFetcher(s.registry, ingest.WithConcurrency(2))
	outcomes, err := f.Fetch(s.ctx, "q", ids)
	s.Require().NoError(err)
	s.Len(outcomes, n)
	for _, o := range outcomes {
		s.NoError(o.Err)
	}
	s.LessOrEqual(peak, 2)
}

// =============================================================================
// Per-connector resilience
// =============================================================================

func (s *FetcherSuite) TestRetryableErrorsAreRetried() {
	c := s.connector("places", ingest.Descriptor{Retries: 2})
	gomock.InOrder(
		c.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{}, sentinel.ErrUnavailable),
		c.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{Body: []byte(`{}`)}, nil),
	)

	outcomes, err := s.fetcher().Fetch(s.ctx, "q", []string{"places"})
	s.Require().NoError(err)
	s.NoError(outcomes[0].Err)
	s.Equal(2, outcomes[0].Attempts)
}

func (s *FetcherSuite) TestRetriesAreBounded() {
	c := s.connector("places", ingest.Descriptor{Retries: 2})
	c.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{}, sentinel.ErrUnavailable).Times(3)

	outcomes, err := s.fetcher().Fetch(s.ctx, "q", []string{"places"})
	s.Require().NoError(err)
	s.Equal(ingest.ErrorProviderOutage, outcomes[0].Category)
	s.True(ingest.IsRetryable(outcomes[0].Err))
	s.Equal(3, outcomes[0].Attempts)
}

func (s *FetcherSuite) TestTimeoutPerConnector() {
	slow := s.connector("slow", ingest.Descriptor{Timeout: 20 * time.Millisecond})
	fast := s.connector("fast", ingest.Descriptor{})
	slow.EXPECT().Fetch(gomock.Any(), "q").DoAndReturn(func(ctx context.Context, _ string) (ingest.RawPayload, error) {
		<-ctx.Done()
		return ingest.RawPayload{}, ctx.Err()
	})
	fast.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{Body: []byte(`{}`)}, nil)

	outcomes, err := s.fetcher().Fetch(s.ctx, "q", []string{"slow", "fast"})
	s.Require().NoError(err)
	s.NoError(outcomes[0].Err)
	s.Equal(ingest.ErrorTimeout, outcomes[1].Category)
	s.True(errors.Is(outcomes[1].Err, context.DeadlineExceeded))
}

func (s *FetcherSuite) TestCircuitOpensAfterConsecutiveFailures() {
	c := s.connector("places", ingest.Descriptor{FailureThreshold: 1, Cooldown: time.Hour})
	c.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{}, errors.New("boom")).Times(1)

	f := s.fetcher()
	first, err := f.Fetch(s.ctx, "q", []string{"places"})
	s.Require().NoError(err)
	s.Equal(ingest.ErrorInternal, first[0].Category)

	second, err := f.Fetch(s.ctx, "q", []string{"places"})
	s.Require().NoError(err)
	s.Equal(ingest.ErrorCircuitOpen, second[0].Category)
	s.Zero(second[0].Attempts)
}

func (s *FetcherSuite) TestPayloadForAnotherConnectorIsBadData() {
	c := s.connector("places", ingest.Descriptor{})
	c.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{ConnectorID: "clubs"}, nil)

	outcomes, err := s.fetcher().Fetch(s.ctx, "q", []string{"places"})
	s.Require().NoError(err)
	s.Equal(ingest.ErrorBadData, outcomes[0].Category)
}

func (s *FetcherSuite) TestCancelledRunReturnsNoOutcomes() {
	c := s.connector("places", ingest.Descriptor{})
	c.EXPECT().Fetch(gomock.Any(), "q").Return(ingest.RawPayload{}, context.Canceled).AnyTimes()

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	outcomes, err := s.fetcher().Fetch(ctx, "q", []string{"places"})
	s.ErrorIs(err, context.Canceled)
	s.Nil(outcomes)
}

// =============================================================================
// Recorder
// =============================================================================

func (s *FetcherSuite) TestRecorderDeduplicatesOnContent() {
	c := s.connector("places", ingest.Descriptor{})
	c.EXPECT().IsDuplicate(gomock.Any()).Return(false).Times(2)

	raw := store.NewInMemoryStore()
	rec := ingest.NewRecorder(raw, s.registry)
	payload := ingest.RawPayload{ConnectorID: "places", Query: "q", Body: []byte(`{"id":1}`), FetchedAt: s.now}

	first, err := rec.Record(s.ctx, payload)
	s.Require().NoError(err)
	s.False(first.Duplicate)

	second, err := rec.Record(s.ctx, payload)
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.ID, second.ID)
	s.Equal(1, raw.Len())
}

func (s *FetcherSuite) TestRecorderTrustsConnectorDuplicateCheck() {
	c := s.connector("places", ingest.Descriptor{})
	c.EXPECT().IsDuplicate(gomock.Any()).Return(true)

	raw := store.NewInMemoryStore()
	got, err := ingest.NewRecorder(raw, s.registry).Record(s.ctx, ingest.RawPayload{ConnectorID: "places", Body: []byte(`{}`)})
	s.Require().NoError(err)
	s.True(got.Duplicate)
	s.Zero(raw.Len())
}

// flakyStore fails the first Save and behaves normally afterwards.
type flakyStore struct {
	*store.InMemoryStore
	failed bool
}

func (f *flakyStore) Save(ctx context.Context, ing ingest.RawIngestion) error {
	if !f.failed {
		f.failed = true
		return errors.New("connection reset")
	}
	return f.InMemoryStore.Save(ctx, ing)
}

func (s *FetcherSuite) TestRecorderRetryPersistsAfterFailedSave() {
	c, err := connectors.NewFixture("clubs", fstest.MapFS{"default.json": {Data: []byte(`[]`)}})
	s.Require().NoError(err)
	s.Require().NoError(s.registry.Register(c, ingest.Descriptor{Trust: ingest.TrustMedium}))
	raw := &flakyStore{InMemoryStore: store.NewInMemoryStore()}
	rec := ingest.NewRecorder(raw, s.registry)
	payload := ingest.RawPayload{ConnectorID: "clubs", Query: "q", Body: []byte(`[{"id":"c-1"}]`), FetchedAt: s.now}

	_, err = rec.Record(s.ctx, payload)
	s.Require().Error(err)
	s.False(c.IsDuplicate(payload))

	got, err := rec.Record(s.ctx, payload)
	s.Require().NoError(err)
	s.False(got.Duplicate)
	stored, err := raw.Get(s.ctx, got.ID)
	s.Require().NoError(err)
	s.Equal(payload.Body, stored.Body)

	again, err := rec.Record(s.ctx, payload)
	s.Require().NoError(err)
	s.True(again.Duplicate)
	s.Equal(1, raw.Len())
}

func (s *FetcherSuite) TestRecorderRejectsUnregisteredConnector() {
	_, err := ingest.NewRecorder(store.NewInMemoryStore(), s.registry).Record(s.ctx, ingest.RawPayload{ConnectorID: "ghost"})
	s.ErrorIs(err, ingest.ErrConnectorNotFound)
}
