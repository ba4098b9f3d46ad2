package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/internal/ingest"
)

const validDoc = `
connectors:
  - id: places
    kind: http
    trust: high
    priority: 10
    timeout: 3s
    rate: 2
    burst: 4
    retries: 2
    failure_threshold: 5
    cooldown: 30s
    http:
      base_url: https://places.example/api
      path: /search
      api_key_env: PLACES_KEY
    fields:
      items: results
      id: place_id
      name: name
      latitude: location.lat
      longitude: location.lng
  - id: clubs
    kind: fixture
    trust: low
    fixture:
      dir: fixtures/clubs
    fields:
      id: id
      name: title
      description: blurb
`

func env(vars map[string]string) Option {
	return WithEnv(func(k string) string { return vars[k] })
}

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(validDoc), env(map[string]string{"PLACES_KEY": "k"}), WithDefaultTimeout(7*time.Second))
	require.NoError(t, err)

	assert.Equal(t, []string{"clubs", "places"}, cat.Registry.IDs())

	places, ok := cat.Registry.Descriptor("places")
	require.True(t, ok)
	assert.Equal(t, ingest.Descriptor{
		ID:               "places",
		Trust:            ingest.TrustHigh,
		Priority:         10,
		Timeout:          3 * time.Second,
		RatePerSecond:    2,
		Burst:            4,
		Retries:          2,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}, places)

	clubs, ok := cat.Registry.Descriptor("clubs")
	require.True(t, ok)
	assert.Equal(t, ingest.TrustLow, clubs.Trust)
	assert.Equal(t, 7*time.Second, clubs.Timeout, "default timeout applies")

	assert.Contains(t, cat.Extractors, "places")
	assert.Contains(t, cat.Extractors, "clubs")
}

func TestParseRejects(t *testing.T) {
	withKey := env(map[string]string{"PLACES_KEY": "k"})
	tests := []struct {
		name    string
		doc     string
		opts    []Option
		wantErr string
	}{
		{"empty document", `connectors: []`, nil, "Connectors"},
		{"unknown field", strings.Replace(validDoc, "priority: 10", "weight: 10", 1), []Option{withKey}, "weight"},
		{"bad trust", strings.Replace(validDoc, "trust: low", "trust: total", 1), []Option{withKey}, "Trust"},
		{"bad kind", strings.Replace(validDoc, "kind: fixture", "kind: ftp", 1), []Option{withKey}, "Kind"},
		{"missing http block", strings.Replace(validDoc, "kind: fixture", "kind: http", 1), []Option{withKey}, "HTTP"},
		{"missing name path", strings.Replace(validDoc, "name: title", "summary: title", 1), []Option{withKey}, "Name"},
		{"negative retries", strings.Replace(validDoc, "retries: 2", "retries: -1", 1), []Option{withKey}, "Retries"},
		{"id with separator", strings.Replace(validDoc, "id: clubs", "id: a/b", 1), []Option{withKey}, "ID"},
		{"duplicate id", strings.Replace(validDoc, "id: clubs", "id: places", 1), []Option{withKey}, "already registered"},
		{"missing api key", validDoc, []Option{env(nil)}, "PLACES_KEY"},
		{"reserved observation", strings.Replace(validDoc, "description: blurb", "observations: {modules: blurb}", 1), []Option{withKey}, "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadResolvesFixtureDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fixtures", "clubs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixtures", "clubs", "default.json"), []byte(`[{"id":"c1","title":"Leith Padel Club"}]`), 0o600))
	path := filepath.Join(dir, "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0o600))

	cat, err := Load(path, env(map[string]string{"PLACES_KEY": "k"}))
	require.NoError(t, err)

	clubs, ok := cat.Registry.Get("clubs")
	require.True(t, ok)
	payload, err := clubs.Fetch(context.Background(), "anything")
	require.NoError(t, err)

	got, err := cat.Extractors.Extract(ingest.NewRawIngestion(payload))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Leith Padel Club", got[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
