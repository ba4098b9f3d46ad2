package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"canon/internal/platform/config"
)

func TestWriteTimeoutOutlastsRuns(t *testing.T) {
	srv := New(config.Server{Addr: ":9090", RunTimeout: time.Minute}, http.NotFoundHandler())

	assert.Equal(t, ":9090", srv.Addr)
	assert.Greater(t, srv.WriteTimeout, time.Minute)
	assert.Equal(t, readHeaderTimeout, srv.ReadHeaderTimeout)
}
