package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		expected string
		token    string
		want     int
	}{
		{name: "matching token", expected: "s3cret", token: "s3cret", want: http.StatusNoContent},
		{name: "wrong token", expected: "s3cret", token: "nope", want: http.StatusUnauthorized},
		{name: "missing token", expected: "s3cret", want: http.StatusUnauthorized},
		{name: "check disabled", expected: "", want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAdminToken(tt.expected, slog.Default())(ok)
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
			if tt.token != "" {
				req.Header.Set(HeaderToken, tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
