// Package admin guards operator-only routes with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"canon/pkg/platform/httputil"
)

// HeaderToken carries the operator token.
const HeaderToken = "X-Admin-Token"

// RequireAdminToken rejects requests whose token does not match expected.
// An empty expected token disables the check.
func RequireAdminToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderToken)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", chimw.GetReqID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, httputil.Unauthorized("admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
