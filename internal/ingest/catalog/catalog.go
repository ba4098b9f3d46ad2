// Package catalog reads the connector registry document: which connectors
// exist, how far each is trusted, how it is reached and how its payloads
// map onto extracted primitives.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"canon/internal/extract"
	"canon/internal/ingest"
	"canon/internal/ingest/connectors"
)

// Kind selects the connector implementation.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindFixture Kind = "fixture"
)

// Document is the connectors file.
type Document struct {
	Connectors []Entry `yaml:"connectors" validate:"required,min=1,dive"`
}

// Entry declares one connector.
type Entry struct {
	ID       string `yaml:"id" validate:"required,max=64,excludesall=/:"`
	Kind     Kind   `yaml:"kind" validate:"required,oneof=http fixture"`
	Trust    string `yaml:"trust" validate:"required,oneof=low medium high"`
	Priority int    `yaml:"priority,omitempty"`

	Timeout          time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
	Rate             float64       `yaml:"rate,omitempty" validate:"gte=0"`
	Burst            int           `yaml:"burst,omitempty" validate:"gte=0"`
	Retries          int           `yaml:"retries,omitempty" validate:"gte=0,lte=10"`
	FailureThreshold int           `yaml:"failure_threshold,omitempty" validate:"gte=0"`
	Cooldown         time.Duration `yaml:"cooldown,omitempty" validate:"gte=0"`

	HTTP    *connectors.HTTPConfig    `yaml:"http,omitempty" validate:"required_if=Kind http"`
	Fixture *connectors.FixtureConfig `yaml:"fixture,omitempty" validate:"required_if=Kind fixture"`

	Fields extract.FieldMap `yaml:"fields"`
}

// Catalog is the materialized connector set.
type Catalog struct {
	Registry   *ingest.Registry
	Extractors extract.Set
}

type options struct {
	baseDir        string
	getenv         func(string) string
	defaultTimeout time.Duration
}

// Option configures parsing.
type Option func(*options)

// WithBaseDir resolves relative fixture directories against dir.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}

// WithEnv sets the lookup used for api_key_env. Defaults to os.Getenv.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) {
		if getenv != nil {
			o.getenv = getenv
		}
	}
}

// WithDefaultTimeout applies to connectors that declare no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// Load reads a connectors file. Relative fixture directories resolve
// against the file's directory unless WithBaseDir says otherwise.
func Load(path string, opts ...Option) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connectors file: %w", err)
	}
	opts = append([]Option{WithBaseDir(filepath.Dir(path))}, opts...)
	return Parse(data, opts...)
}

// Parse validates a connectors document and builds every connector and its
// extractor.
func Parse(data []byte, opts ...Option) (*Catalog, error) {
	o := options{baseDir: ".", getenv: os.Getenv, defaultTimeout: ingest.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode connectors file: %w", err)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid connectors file: %w", describe(err))
	}

	cat := &Catalog{Registry: ingest.NewRegistry(), Extractors: extract.Set{}}
	for _, e := range doc.Connectors {
		if err := cat.add(e, o); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

func (c *Catalog) add(e Entry, o options) error {
	trust, err := ingest.ParseTrustTier(e.Trust)
	if err != nil {
		return fmt.Errorf("connector %s: %w", e.ID, err)
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = o.defaultTimeout
	}

	var conn ingest.Connector
	switch e.Kind {
	case KindHTTP:
		cfg := *e.HTTP
		if cfg.APIKeyEnv != "" {
			cfg.APIKey = o.getenv(cfg.APIKeyEnv)
			if cfg.APIKey == "" {
				return fmt.Errorf("connector %s: environment variable %s is empty", e.ID, cfg.APIKeyEnv)
			}
		}
		conn, err = connectors.NewHTTP(e.ID, cfg, timeout)
	case KindFixture:
		dir := e.Fixture.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(o.baseDir, dir)
		}
		conn, err = connectors.NewFixture(e.ID, os.DirFS(dir))
	default:
		err = fmt.Errorf("unknown kind %q", e.Kind)
	}
	if err != nil {
		return fmt.Errorf("connector %s: %w", e.ID, err)
	}

	x, err := extract.New(e.ID, e.Fields)
	if err != nil {
		return err
	}
	err = c.Registry.Register(conn, ingest.Descriptor{
		ID:               e.ID,
		Trust:            trust,
		Priority:         e.Priority,
		Timeout:          timeout,
		RatePerSecond:    e.Rate,
		Burst:            e.Burst,
		Retries:          e.Retries,
		FailureThreshold: e.FailureThreshold,
		Cooldown:         e.Cooldown,
	})
	if err != nil {
		return err
	}
	c.Extractors.Add(x)
	return nil
}

// describe flattens validator errors into one line per failing field.
func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
