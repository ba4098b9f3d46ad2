// Package httptransport exposes runs and finalized entities over HTTP.
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"canon/pkg/platform/middleware/admin"
	"canon/pkg/platform/middleware/metadata"
	"canon/pkg/platform/middleware/requesttime"
)

// NewRouter wires every endpoint behind the shared middleware chain.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(h.accessLog)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(admin.RequireAdminToken(h.adminToken, h.logger)).Post("/runs", h.handleRun)
		r.Get("/entities/{slug}", h.handleGetEntity)
	})
	return r
}

// accessLog logs and times each request under its route pattern.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		h.metrics.ObserveHTTPRequest(route, status, elapsed)

		client := metadata.ClientFrom(r.Context())
		h.logger.InfoContext(r.Context(), "http request",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"client_ip", client.IP,
		)
	})
}
