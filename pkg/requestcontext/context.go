// Package requestcontext provides context accessors for run-scoped values.
//
// Stages read the run clock and run id from here instead of calling
// time.Now directly, so a whole run observes one timestamp and tests can
// pin it.
//
// Usage in the pipeline (set values):
//
//	ctx = requestcontext.WithRunID(ctx, runID)
//	ctx = requestcontext.WithTime(ctx, startedAt)
//
// Usage in stages (read values):
//
//	now := requestcontext.Now(ctx)
//	runID := requestcontext.RunID(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	runIDKey       struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRunID       = runIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// RunID retrieves the run id from the context, or "" when unset.
func RunID(ctx context.Context) string {
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return runID
	}
	return ""
}

// WithRunID injects a run id into the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// Now retrieves the run-scoped time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
