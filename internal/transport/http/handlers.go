package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"canon/internal/entity"
	"canon/internal/pipeline"
	"canon/internal/platform/metrics"
	"canon/pkg/platform/httputil"
	"canon/pkg/platform/sentinel"
)

// DefaultRunTimeout bounds a run triggered over HTTP.
const DefaultRunTimeout = 2 * time.Minute

const maxRunBody = 1 << 16

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Runner executes one query.
type Runner interface {
	Run(ctx context.Context, query string) (*pipeline.RunReport, error)
}

// EntityReader reads finalized entities by slug.
type EntityReader interface {
	Get(ctx context.Context, slug string) (entity.Record, error)
}

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Query string `json:"query" validate:"required,max=512"`
}

// Handler serves the HTTP API.
type Handler struct {
	runner     Runner
	entities   EntityReader
	validate   *validator.Validate
	runTimeout time.Duration
	adminToken string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.runTimeout = d
		}
	}
}

// WithAdminToken requires the token on run triggers.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// NewHandler creates the HTTP handler.
func NewHandler(runner Runner, entities EntityReader, opts ...Option) *Handler {
	h := &Handler{
		runner:     runner,
		entities:   entities,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		runTimeout: DefaultRunTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRun runs the posted query and returns its report. A run with
// reported failures still answers 200; only a run that persisted nothing
// because of an error fails the request.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimw.GetReqID(ctx)

	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRunBody)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid run request", "request_id", requestID, "error", err)
		httputil.WriteError(w, httputil.BadRequest("invalid request body"))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := h.validate.Struct(req); err != nil {
		httputil.WriteError(w, httputil.BadRequest("query is required and at most 512 characters"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.runTimeout)
	defer cancel()
	report, err := h.runner.Run(ctx, req.Query)
	if report == nil {
		h.logger.ErrorContext(ctx, "run produced no report", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	switch report.Status {
	case pipeline.StatusCancelled:
		status = http.StatusServiceUnavailable
	case pipeline.StatusFailed:
		status = http.StatusInternalServerError
	}
	if err != nil {
		h.logger.WarnContext(ctx, "run finished with errors",
			"request_id", requestID,
			"run_id", report.RunID,
			"status", report.Status,
			"error", err,
		)
	}
	httputil.WriteJSON(w, status, report)
}

func (h *Handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	if !slugPattern.MatchString(slug) {
		httputil.WriteError(w, httputil.BadRequest("malformed entity identifier"))
		return
	}

	rec, err := h.entities.Get(ctx, slug)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			h.logger.ErrorContext(ctx, "entity lookup failed", "slug", slug, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}
