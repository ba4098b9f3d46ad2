package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"canon/internal/entity"
	"canon/internal/finalize"
	"canon/internal/finalize/store"
	"canon/internal/pipeline"
	"canon/pkg/platform/middleware/admin"
	"canon/pkg/testutil"
)

type fakeRunner struct {
	queries []string
	report  *pipeline.RunReport
	err     error
}

func (f *fakeRunner) Run(_ context.Context, query string) (*pipeline.RunReport, error) {
	f.queries = append(f.queries, query)
	return f.report, f.err
}

type HandlerSuite struct {
	suite.Suite
	runner   *fakeRunner
	entities *store.InMemoryStore
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.runner = &fakeRunner{report: &pipeline.RunReport{
		RunID:   "run-1",
		LensID:  "sports",
		Status:  pipeline.StatusSucceeded,
		Upserts: []finalize.Outcome{{Slug: "leith-padel-club", Hash: "h", Created: true}},
	}}
	s.entities = store.NewInMemoryStore()
	s.router = NewRouter(NewHandler(s.runner, s.entities, WithRunTimeout(time.Second)))
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) errorCode(w *httptest.ResponseRecorder) string {
	var body map[string]string
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
	return body["error"]
}

// =============================================================================
// Runs
// =============================================================================

func (s *HandlerSuite) TestRunReturnsReport() {
	w := s.do(http.MethodPost, "/v1/runs", `{"query": "  padel edinburgh "}`)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("application/json", w.Header().Get("Content-Type"))
	var report pipeline.RunReport
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&report))
	s.Equal("run-1", report.RunID)
	s.Require().Len(report.Upserts, 1)
	s.Equal("leith-padel-club", report.Upserts[0].Slug)
	s.Equal([]string{"padel edinburgh"}, s.runner.queries)
}

func (s *HandlerSuite) TestRunRejectsBadRequests() {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `query=padel`},
		{name: "missing query", body: `{}`},
		{name: "blank query", body: `{"query": "   "}`},
		{name: "query too long", body: `{"query": "` + strings.Repeat("a", 513) + `"}`},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodPost, "/v1/runs", tt.body)
			s.Equal(http.StatusBadRequest, w.Code)
			s.Equal("bad_request", s.errorCode(w))
		})
	}
	s.Empty(s.runner.queries)
}

func (s *HandlerSuite) TestRunStatusCodes() {
	tests := []struct {
		status string
		want   int
	}{
		{status: pipeline.StatusSucceeded, want: http.StatusOK},
		{status: pipeline.StatusPartial, want: http.StatusOK},
		{status: pipeline.StatusFailed, want: http.StatusInternalServerError},
		{status: pipeline.StatusCancelled, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		s.Run(tt.status, func() {
			s.runner.report.Status = tt.status
			w := s.do(http.MethodPost, "/v1/runs", `{"query": "padel"}`)
			s.Equal(tt.want, w.Code)
		})
	}
}

func (s *HandlerSuite) TestRunWithoutReportIsInternalError() {
	s.runner.report = nil
	s.runner.err = errors.New("boom")

	w := s.do(http.MethodPost, "/v1/runs", `{"query": "padel"}`)

	s.Equal(http.StatusInternalServerError, w.Code)
	s.Equal("internal_error", s.errorCode(w))
}

func (s *HandlerSuite) TestRunRequiresAdminTokenWhenConfigured() {
	router := NewRouter(NewHandler(s.runner, s.entities, WithAdminToken("s3cret")))

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/runs", RunRequest{Query: "padel"})
	w := testutil.DoRequest(router, req)
	testutil.AssertStatusAndError(s.T(), w, http.StatusUnauthorized, "unauthorized")
	s.Empty(s.runner.queries)

	req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/runs", RunRequest{Query: "padel"})
	req.Header.Set(admin.HeaderToken, "s3cret")
	w = testutil.DoRequest(router, req)
	s.Equal(http.StatusOK, w.Code)
	report := testutil.UnmarshalResponse[pipeline.RunReport](s.T(), w)
	s.Equal("run-1", report.RunID)
}

func (s *HandlerSuite) TestEntityReadsNeedNoAdminToken() {
	router := NewRouter(NewHandler(s.runner, s.entities, WithAdminToken("s3cret")))

	w := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/entities/unknown-venue", nil))
	testutil.AssertStatusAndError(s.T(), w, http.StatusNotFound, "not_found")
}

// =============================================================================
// Entities
// =============================================================================

func (s *HandlerSuite) TestGetEntity() {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := s.entities.Upsert(context.Background(), entity.Record{
		Slug:      "leith-padel-club",
		Entity:    entity.MergedEntity{Class: entity.ClassPlace, Name: "Leith Padel Club", Modules: entity.ModuleBlock{}},
		Hash:      "h",
		LensID:    "sports",
		CreatedAt: now,
		UpdatedAt: now,
	})
	s.Require().NoError(err)

	w := s.do(http.MethodGet, "/v1/entities/leith-padel-club", "")

	s.Equal(http.StatusOK, w.Code)
	var rec entity.Record
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&rec))
	s.Equal("Leith Padel Club", rec.Entity.Name)
	s.Equal("sports", rec.LensID)
}

func (s *HandlerSuite) TestGetEntityErrors() {
	w := s.do(http.MethodGet, "/v1/entities/unknown-venue", "")
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("not_found", s.errorCode(w))

	w = s.do(http.MethodGet, "/v1/entities/Bad_Slug", "")
	s.Equal(http.StatusBadRequest, w.Code)
}

// =============================================================================
// Operational endpoints
// =============================================================================

func (s *HandlerSuite) TestHealthAndMetrics() {
	w := s.do(http.MethodGet, "/healthz", "")
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/metrics", "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestUnknownMethod() {
	w := s.do(http.MethodGet, "/v1/runs", "")
	s.Equal(http.StatusMethodNotAllowed, w.Code)
}
