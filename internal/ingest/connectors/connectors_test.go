package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/internal/ingest"
	"canon/pkg/platform/sentinel"
)

// =============================================================================
// HTTP connector
// =============================================================================

func TestHTTPFetch(t *testing.T) {
	var gotQuery, gotAuth, gotRegion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("text")
		gotRegion = r.URL.Query().Get("region")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"name":"Leith Padel Club"}]}`))
	}))
	defer srv.Close()

	c, err := NewHTTP("places", HTTPConfig{
		BaseURL:    srv.URL,
		Path:       "/search",
		QueryParam: "text",
		Params:     map[string]string{"region": "gb"},
		APIKey:     "secret",
	}, time.Second)
	require.NoError(t, err)

	p, err := c.Fetch(context.Background(), "padel edinburgh")
	require.NoError(t, err)
	assert.Equal(t, "places", p.ConnectorID)
	assert.Equal(t, "padel edinburgh", p.Query)
	assert.Equal(t, "application/json", p.ContentType)
	assert.JSONEq(t, `{"results":[{"name":"Leith Padel Club"}]}`, string(p.Body))

	assert.Equal(t, "padel edinburgh", gotQuery)
	assert.Equal(t, "gb", gotRegion)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestHTTPStatusCategories(t *testing.T) {
	tests := []struct {
		status    int
		category  ingest.ErrorCategory
		retryable bool
	}{
		{http.StatusUnauthorized, ingest.ErrorAuthentication, false},
		{http.StatusForbidden, ingest.ErrorAuthentication, false},
		{http.StatusNotFound, ingest.ErrorNotFound, false},
		{http.StatusTooManyRequests, ingest.ErrorRateLimited, true},
		{http.StatusGatewayTimeout, ingest.ErrorTimeout, true},
		{http.StatusServiceUnavailable, ingest.ErrorProviderOutage, true},
		{http.StatusTeapot, ingest.ErrorContractMismatch, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, err := NewHTTP("places", HTTPConfig{BaseURL: srv.URL}, time.Second)
			require.NoError(t, err)

			_, err = c.Fetch(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, tt.category, ingest.GetCategory(err))
			assert.Equal(t, tt.retryable, ingest.IsRetryable(err))
		})
	}
}

func TestHTTPRejectsInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c, err := NewHTTP("places", HTTPConfig{BaseURL: srv.URL}, time.Second)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "q")
	assert.Equal(t, ingest.ErrorBadData, ingest.GetCategory(err))
}

func TestHTTPCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewHTTP("places", HTTPConfig{BaseURL: srv.URL}, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Fetch(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPValidatesBaseURL(t *testing.T) {
	for _, base := range []string{"", "not a url", "ftp://example.com", "/relative"} {
		_, err := NewHTTP("places", HTTPConfig{BaseURL: base}, time.Second)
		assert.Error(t, err, base)
	}
	_, err := NewHTTP("", HTTPConfig{BaseURL: "https://example.com"}, time.Second)
	assert.Error(t, err)
}

// =============================================================================
// Fixture connector
// =============================================================================

func TestFixtureFetch(t *testing.T) {
	fsys := fstest.MapFS{
		"padel-edinburgh.json": {Data: []byte(`{"results":[{"name":"Leith Padel Club"}]}`)},
		"default.json":         {Data: []byte(`{"results":[]}`)},
		"broken.json":          {Data: []byte(`{"results":`)},
	}
	c, err := NewFixture("clubs", fsys)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("query resolves to its slug", func(t *testing.T) {
		p, err := c.Fetch(ctx, "Padel Edinburgh")
		require.NoError(t, err)
		assert.Contains(t, string(p.Body), "Leith Padel Club")
		assert.Equal(t, "clubs", p.ConnectorID)
	})
	t.Run("unknown query falls back to default", func(t *testing.T) {
		p, err := c.Fetch(ctx, "squash")
		require.NoError(t, err)
		assert.JSONEq(t, `{"results":[]}`, string(p.Body))
	})
	t.Run("invalid fixture is bad data", func(t *testing.T) {
		_, err := c.Fetch(ctx, "broken")
		assert.Equal(t, ingest.ErrorBadData, ingest.GetCategory(err))
	})
}

func TestFixtureMissing(t *testing.T) {
	c, err := NewFixture("clubs", fstest.MapFS{})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "padel")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

// =============================================================================
// Duplicate memo
// =============================================================================

func TestIsDuplicate(t *testing.T) {
	c, err := NewFixture("clubs", fstest.MapFS{"default.json": {Data: []byte(`{}`)}})
	require.NoError(t, err)

	p := ingest.RawPayload{ConnectorID: "clubs", Body: []byte(`{"a":1}`)}
	assert.False(t, c.IsDuplicate(p), "first sighting")
	assert.False(t, c.IsDuplicate(p), "lookups do not remember")

	c.MarkRecorded(p)
	assert.True(t, c.IsDuplicate(p), "recorded payload")
	assert.False(t, c.IsDuplicate(ingest.RawPayload{ConnectorID: "clubs", Body: []byte(`{"a":2}`)}))
}

func TestMemoEvictsOldest(t *testing.T) {
	m := newMemo(2)
	a := ingest.RawPayload{Body: []byte("a")}
	b := ingest.RawPayload{Body: []byte("b")}
	c := ingest.RawPayload{Body: []byte("c")}

	m.remember(a)
	m.remember(b)
	m.remember(c)
	assert.True(t, m.seen(c))
	assert.True(t, m.seen(b))
	assert.False(t, m.seen(a), "a was evicted when c arrived")
}
