// Package loader reads lens documents and turns them into validated,
// immutable contracts. A document must pass every gate, in order, before
// any contract exists; the first failing gate aborts the load.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"canon/internal/lens"
	"canon/internal/platform/metrics"
	"canon/pkg/platform/sentinel"
)

// Connectors answers whether a connector id is registered.
type Connectors interface {
	Has(id string) bool
}

// ConnectorIDs is a static Connectors set.
type ConnectorIDs []string

// Has implements Connectors.
func (c ConnectorIDs) Has(id string) bool {
	return slices.Contains(c, id)
}

var lensIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Parse validates a lens document and materializes its contract.
func Parse(data []byte, connectors Connectors) (*lens.ExecutionContext, error) {
	if connectors == nil {
		connectors = ConnectorIDs(nil)
	}
	var doc lens.Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &lens.ValidationError{Gate: lens.GateStructure, Message: fmt.Sprintf("decode: %v", err)}
	}

	b := &build{
		doc:        &doc,
		connectors: connectors,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, g := range gates {
		if errs := g.run(b); len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
	}
	return lens.NewExecutionContext(b.contract), nil
}

// Loader reads lens documents from a directory and keeps each resolved lens
// for the lifetime of the process.
type Loader struct {
	dir        string
	connectors Connectors
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	loaded map[string]*lens.ExecutionContext
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// New creates a loader for documents named <dir>/<lens id>.yaml.
func New(dir string, connectors Connectors, opts ...Option) (*Loader, error) {
	if dir == "" {
		return nil, errors.New("lens directory is required")
	}
	if connectors == nil {
		return nil, errors.New("connector registry is required")
	}
	l := &Loader{
		dir:        dir,
		connectors: connectors,
		logger:     slog.Default(),
		loaded:     make(map[string]*lens.ExecutionContext),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load returns the execution context of a lens, reading and validating the
// document on first use only.
func (l *Loader) Load(ctx context.Context, lensID string) (*lens.ExecutionContext, error) {
	if !lensIDPattern.MatchString(lensID) {
		return nil, fmt.Errorf("invalid lens id %q", lensID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if execCtx, ok := l.loaded[lensID]; ok {
		return execCtx, nil
	}

	data, err := l.read(lensID)
	if err != nil {
		l.metrics.IncrementLensLoad(lensID, "not_found")
		return nil, err
	}
	execCtx, err := Parse(data, l.connectors)
	if err != nil {
		l.metrics.IncrementLensLoad(lensID, "invalid")
		gate, _ := lens.FailedGate(err)
		l.logger.ErrorContext(ctx, "lens contract rejected",
			"lens_id", lensID,
			"gate", gate.String(),
			"error", err,
		)
		return nil, err
	}
	if execCtx.LensID != lensID {
		l.metrics.IncrementLensLoad(lensID, "invalid")
		return nil, &lens.ValidationError{
			Gate:    lens.GateStructure,
			Field:   "id",
			Message: fmt.Sprintf("document declares id %q but was resolved as %q", execCtx.LensID, lensID),
		}
	}

	l.loaded[lensID] = execCtx
	l.metrics.IncrementLensLoad(lensID, "ok")
	l.logger.InfoContext(ctx, "lens contract loaded", execCtx.LogAttrs()...)
	return execCtx, nil
}

func (l *Loader) read(lensID string) ([]byte, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(l.dir, lensID+ext))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read lens %s: %w", lensID, err)
		}
	}
	return nil, fmt.Errorf("lens %s: %w", lensID, sentinel.ErrNotFound)
}

func sortedModuleNames(doc *lens.Document) []string {
	names := make([]string, 0, len(doc.Modules))
	for name := range doc.Modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
