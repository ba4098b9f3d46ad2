package lens

import (
	"errors"
	"fmt"
	"log/slog"
)

// ExecutionContext carries the resolved lens through every stage of a run.
// It is created once per load and passed explicitly; there is no ambient
// active lens.
type ExecutionContext struct {
	LensID      string    `json:"lens_id"`
	ContentHash string    `json:"content_hash"`
	Contract    *Contract `json:"-"`
}

// NewExecutionContext wraps a contract.
func NewExecutionContext(c *Contract) *ExecutionContext {
	return &ExecutionContext{LensID: c.ID(), ContentHash: c.Hash(), Contract: c}
}

// LogAttrs returns the attributes every run logs once.
func (e *ExecutionContext) LogAttrs() []any {
	return []any{"lens_id", e.LensID, "lens_hash", e.ContentHash}
}

// Source reports where a resolved lens id came from.
type Source string

const (
	SourceOverride    Source = "override"
	SourceEnvironment Source = "environment"
	SourceDefault     Source = "default"
	SourceDevFallback Source = "dev_fallback"
)

// ErrNoLens is returned when no precedence level yields a lens id.
var ErrNoLens = errors.New("no lens resolved")

// Resolution is the outcome of lens id selection.
type Resolution struct {
	ID     string
	Source Source
}

// ResolveInput lists every precedence level in order.
type ResolveInput struct {
	Override    string
	Environment string
	Default     string
	// AllowDevFallback enables DevFallback outside production.
	AllowDevFallback bool
	DevFallback      string
	Production       bool
}

// Resolve selects a lens id by strict precedence: explicit override, then
// environment value, then static default, then the opt-in non-production
// fallback, which always logs a warning.
func Resolve(in ResolveInput, logger *slog.Logger) (Resolution, error) {
	switch {
	case in.Override != "":
		return Resolution{ID: in.Override, Source: SourceOverride}, nil
	case in.Environment != "":
		return Resolution{ID: in.Environment, Source: SourceEnvironment}, nil
	case in.Default != "":
		return Resolution{ID: in.Default, Source: SourceDefault}, nil
	}
	if !in.AllowDevFallback || in.DevFallback == "" {
		return Resolution{}, ErrNoLens
	}
	if in.Production {
		return Resolution{}, fmt.Errorf("%w: dev fallback lens refused in production", ErrNoLens)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("using non-production fallback lens; set an explicit lens before deploying",
		"lens_id", in.DevFallback,
	)
	return Resolution{ID: in.DevFallback, Source: SourceDevFallback}, nil
}
