package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Server.Production())
	assert.Equal(t, DefaultLensID, cfg.Lens.Default)
	assert.Empty(t, cfg.Lens.ID)
	assert.False(t, cfg.Lens.AllowDevLens)
	assert.Equal(t, 75.0, cfg.Dedup.RadiusMeters)
	assert.Equal(t, 0.85, cfg.Dedup.NameSimilarity)
	assert.Equal(t, 10*time.Second, cfg.Connectors.Timeout)
	assert.Equal(t, 4, cfg.Connectors.Concurrency)
	assert.False(t, cfg.Fallback.Enabled())
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IndexTTL)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"CANON_ENV":                   "Production",
		"CANON_LENS":                  "sports",
		"CANON_ALLOW_DEV_LENS":        "true",
		"CANON_DEDUP_RADIUS_METERS":   "120.5",
		"CANON_CONNECTOR_TIMEOUT":     "3s",
		"CANON_CONNECTOR_CONCURRENCY": "8",
		"CANON_FALLBACK_MODEL":        "gpt-4o-mini",
		"DATABASE_URL":                "postgres://localhost/canon",
		"CANON_ADMIN_TOKEN":           "s3cret",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Server.Production())
	assert.Equal(t, "sports", cfg.Lens.ID)
	assert.True(t, cfg.Lens.AllowDevLens)
	assert.Equal(t, 120.5, cfg.Dedup.RadiusMeters)
	assert.Equal(t, 3*time.Second, cfg.Connectors.Timeout)
	assert.Equal(t, 8, cfg.Connectors.Concurrency)
	assert.True(t, cfg.Fallback.Enabled())
	assert.Equal(t, "postgres://localhost/canon", cfg.Database.URL)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
}

func TestLoadReportsEveryMalformedValue(t *testing.T) {
	_, err := Load(envMap(map[string]string{
		"CANON_LOG_JSON":              "maybe",
		"CANON_CONNECTOR_TIMEOUT":     "ten",
		"CANON_DEDUP_NAME_SIMILARITY": "high",
		"CANON_CONNECTOR_CONCURRENCY": "0",
	}))
	require.Error(t, err)
	for _, key := range []string{"CANON_LOG_JSON", "CANON_CONNECTOR_TIMEOUT", "CANON_DEDUP_NAME_SIMILARITY", "CANON_CONNECTOR_CONCURRENCY"} {
		assert.Contains(t, err.Error(), key)
	}
}
