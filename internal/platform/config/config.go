package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultLensID is the static default lens.
const DefaultLensID = "default"

// DevLensID is the opt-in non-production fallback lens.
const DevLensID = "dev"

// Config is the process configuration.
type Config struct {
	Server     Server
	Lens       Lens
	Dedup      Dedup
	Connectors Connectors
	Fallback   Fallback
	Database   Database
	Redis      RedisConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
	LogJSON     bool
	RunTimeout  time.Duration
	// AdminToken guards run triggers when set.
	AdminToken string
}

// Production reports whether the process runs in production.
func (s Server) Production() bool {
	return strings.EqualFold(s.Environment, "production")
}

// Lens configures lens resolution.
type Lens struct {
	// ID is the environment-provided lens id; empty defers to Default.
	ID           string
	Dir          string
	Default      string
	AllowDevLens bool
}

// Dedup configures the grouper tiers.
type Dedup struct {
	RadiusMeters   float64
	NameSimilarity float64
}

// Connectors configures the connector catalog and fan-out.
type Connectors struct {
	File        string
	Timeout     time.Duration
	Concurrency int
}

// Fallback configures schema-bound generation. An empty Model disables it.
type Fallback struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Enabled reports whether a model is configured.
func (f Fallback) Enabled() bool {
	return f.Model != ""
}

// Database configures Postgres. An empty URL selects in-memory stores.
type Database struct {
	URL string
}

// RedisConfig configures the optional raw ingestion index.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IndexTTL     time.Duration
}

// FromEnv builds the config from the process environment so main stays lean.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds the config from getenv. Every malformed value is reported.
func Load(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		Server: Server{
			Addr:        e.str("CANON_ADDR", ":8080"),
			Environment: e.str("CANON_ENV", "development"),
			LogLevel:    e.str("CANON_LOG_LEVEL", "info"),
			LogJSON:     e.boolean("CANON_LOG_JSON", false),
			RunTimeout:  e.duration("CANON_RUN_TIMEOUT", 2*time.Minute),
			AdminToken:  e.str("CANON_ADMIN_TOKEN", ""),
		},
		Lens: Lens{
			ID:           e.str("CANON_LENS", ""),
			Dir:          e.str("CANON_LENS_DIR", "./lenses"),
			Default:      DefaultLensID,
			AllowDevLens: e.boolean("CANON_ALLOW_DEV_LENS", false),
		},
		Dedup: Dedup{
			RadiusMeters:   e.float("CANON_DEDUP_RADIUS_METERS", 75),
			NameSimilarity: e.float("CANON_DEDUP_NAME_SIMILARITY", 0.85),
		},
		Connectors: Connectors{
			File:        e.str("CANON_CONNECTORS_FILE", "./connectors.yaml"),
			Timeout:     e.duration("CANON_CONNECTOR_TIMEOUT", 10*time.Second),
			Concurrency: e.integer("CANON_CONNECTOR_CONCURRENCY", 4),
		},
		Fallback: Fallback{
			Model:   e.str("CANON_FALLBACK_MODEL", ""),
			APIKey:  e.str("OPENAI_API_KEY", ""),
			BaseURL: e.str("CANON_FALLBACK_BASE_URL", ""),
			Timeout: e.duration("CANON_FALLBACK_TIMEOUT", 15*time.Second),
		},
		Database: Database{URL: e.str("DATABASE_URL", "")},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			IndexTTL:     e.duration("REDIS_INDEX_TTL", 24*time.Hour),
		},
	}
	if cfg.Connectors.Concurrency < 1 {
		e.errs = append(e.errs, errors.New("CANON_CONNECTOR_CONCURRENCY must be at least 1"))
	}
	return cfg, errors.Join(e.errs...)
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
