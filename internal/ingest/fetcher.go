package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"canon/internal/ingest/metrics"
	"canon/pkg/platform/circuit"
	pkgstrings "canon/pkg/platform/strings"
	"canon/pkg/requestcontext"
)

// DefaultConcurrency bounds how many connectors run at once.
const DefaultConcurrency = 4

// Outcome is the result of one connector for one query. Exactly one of
// Payload and Err is set.
type Outcome struct {
	ConnectorID string
	Payload     *RawPayload
	Err         error
	Category    ErrorCategory
	Attempts    int
	Latency     time.Duration
}

// Fetcher fans a query out to connectors. Each connector runs under its own
// timeout, rate limit, retry budget and circuit breaker; a failing connector
// never fails the others.
type Fetcher struct {
	registry    *Registry
	concurrency int
	backoff     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
	limiters map[string]*rate.Limiter
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithConcurrency bounds the number of connectors fetched in parallel.
func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithBackoff sets the base delay of the exponential retry backoff.
func WithBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.backoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// NewFetcher creates a fetcher over the registry.
func NewFetcher(registry *Registry, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		registry:    registry,
		concurrency: DefaultConcurrency,
		backoff:     200 * time.Millisecond,
		logger:      slog.Default(),
		breakers:    make(map[string]*circuit.Breaker),
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs query against the named connectors and returns one outcome per
// connector, ordered by connector id. The only error it returns is for an
// unknown connector or a cancelled context; connector failures are reported
// in the outcomes.
func (f *Fetcher) Fetch(ctx context.Context, query string, connectorIDs []string) ([]Outcome, error) {
	ids := pkgstrings.SortedSet(connectorIDs)
	if len(ids) == 0 {
		return nil, ErrNoConnectors
	}
	for _, id := range ids {
		if !f.registry.Has(id) {
			return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, id)
		}
	}

	outcomes := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = f.fetchOne(ctx, id, query)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, id, query string) Outcome {
	c, _ := f.registry.Get(id)
	d, _ := f.registry.Descriptor(id)
	out := Outcome{ConnectorID: id}
	start := time.Now()

	breaker := f.breaker(d)
	if !breaker.Allow() {
		out.Err = NewConnectorError(ErrorCircuitOpen, id, "circuit open, connector skipped", nil)
	} else {
		payload, attempts, err := f.attempt(ctx, c, d, query)
		out.Attempts = attempts
		switch {
		case err == nil:
			breaker.RecordSuccess()
			out.Payload = &payload
		case ctx.Err() != nil:
			out.Err = err
		default:
			out.Err = err
			if _, change := breaker.RecordFailure(); change.Opened {
				f.metrics.IncrementBreakerOpened(id)
				f.logger.WarnContext(ctx, "connector circuit opened", "connector_id", id)
			}
		}
	}

	out.Latency = time.Since(start)
	f.metrics.ObserveFetch(id, out.Err, out.Latency)
	if out.Err != nil {
		out.Category = GetCategory(out.Err)
		f.metrics.IncrementFetchError(id, string(out.Category))
		f.logger.WarnContext(ctx, "connector fetch failed",
			"connector_id", id,
			"category", out.Category,
			"retryable", IsRetryable(out.Err),
			"attempts", out.Attempts,
			"error", out.Err,
		)
	}
	return out
}

func (f *Fetcher) attempt(ctx context.Context, c Connector, d Descriptor, query string) (RawPayload, int, error) {
	id := c.ID()
	limiter := f.limiter(d)
	backoff := retry.WithMaxRetries(uint64(max(d.Retries, 0)), retry.NewExponential(f.backoff))

	var payload RawPayload
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return NewConnectorError(ErrorRateLimited, id, "rate limit wait aborted", err)
			}
		}
		attempts++
		f.metrics.IncrementAttempt(id)

		callCtx, cancel := context.WithTimeout(ctx, d.timeout())
		defer cancel()
		p, err := c.Fetch(callCtx, query)
		if err != nil {
			err = normalize(id, err)
			if IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		payload = p
		return nil
	})
	if err != nil {
		return RawPayload{}, attempts, normalize(id, err)
	}

	if payload.ConnectorID == "" {
		payload.ConnectorID = id
	}
	if payload.ConnectorID != id {
		return RawPayload{}, attempts, NewConnectorError(ErrorBadData, id,
			fmt.Sprintf("payload claims connector %q", payload.ConnectorID), nil)
	}
	if payload.Query == "" {
		payload.Query = query
	}
	if payload.FetchedAt.IsZero() {
		payload.FetchedAt = requestcontext.Now(ctx)
	}
	return payload, attempts, nil
}

func (f *Fetcher) breaker(d Descriptor) *circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[d.ID]
	if !ok {
		b = circuit.New(d.ID,
			circuit.WithFailureThreshold(d.FailureThreshold),
			circuit.WithCooldown(d.Cooldown),
		)
		f.breakers[d.ID] = b
	}
	return b
}

// limiter returns nil for connectors without a declared rate.
func (f *Fetcher) limiter(d Descriptor) *rate.Limiter {
	if d.RatePerSecond <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[d.ID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.RatePerSecond), max(d.Burst, 1))
		f.limiters[d.ID] = l
	}
	return l
}
