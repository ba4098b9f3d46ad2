// Package httpserver builds the API server from its config.
package httpserver

import (
	"net/http"
	"time"

	"canon/internal/platform/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	idleTimeout       = 60 * time.Second
	// writeSlack leaves room to encode a report after the run deadline.
	writeSlack = 10 * time.Second
)

// New builds an HTTP server whose write timeout outlasts the run timeout.
func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.RunTimeout + writeSlack,
		IdleTimeout:       idleTimeout,
	}
}
