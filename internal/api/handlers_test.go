package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/pipeline"
)

type fakeStore struct {
	request     ledger.Request
	createErr   error
	created     []string
	markErr     error
	marked      []uuid.UUID
	count       int64
	countErr    error
	analysis    *ledger.AnalysisResult
	analysisErr error
	detail      ledger.RequestDetail
	detailErr   error
	rows        []ledger.Request
	listErr     error
	gotFilter   *ledger.Status
	gotLimit    int
	gotOffset   int
	total       int64
	totalErr    error
	summary     ledger.MetricsSummary
	summaryErr  error
}

func (f *fakeStore) CreateRequest(_ context.Context, topic string) (ledger.Request, error) {
	f.created = append(f.created, topic)

	if f.createErr != nil {
		return ledger.Request{}, f.createErr
	}

	req := f.request
	req.Topic = topic
	req.Status = ledger.StatusPending

	return req, nil
}

func (f *fakeStore) MarkSearching(_ context.Context, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}

	f.marked = append(f.marked, id)

	return nil
}

func (f *fakeStore) GetRequest(_ context.Context, id uuid.UUID) (ledger.Request, error) {
	if id != f.request.ID {
		return ledger.Request{}, ledger.ErrRequestNotFound
	}

	return f.request, nil
}

func (f *fakeStore) CountSearchResults(_ context.Context, _ uuid.UUID) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeStore) AnalysisFor(_ context.Context, _ uuid.UUID) (*ledger.AnalysisResult, error) {
	return f.analysis, f.analysisErr
}

func (f *fakeStore) Detail(_ context.Context, id uuid.UUID) (ledger.RequestDetail, error) {
	if f.detailErr != nil {
		return ledger.RequestDetail{}, f.detailErr
	}

	if id != f.request.ID {
		return ledger.RequestDetail{}, ledger.ErrRequestNotFound
	}

	return f.detail, nil
}

func (f *fakeStore) ListRequests(_ context.Context, status *ledger.Status, limit, offset int) ([]ledger.Request, error) {
	f.gotFilter = status
	f.gotLimit = limit
	f.gotOffset = offset

	return f.rows, f.listErr
}

func (f *fakeStore) TotalRequests(_ context.Context, _ *ledger.Status) (int64, error) {
	return f.total, f.totalErr
}

func (f *fakeStore) Metrics(_ context.Context) (ledger.MetricsSummary, error) {
	return f.summary, f.summaryErr
}

type fakeProducer struct {
	err      error
	topics   []string
	keys     []string
	payloads []any
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, payload any) error {
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	f.payloads = append(f.payloads, payload)

	return f.err
}

func baseRequest() ledger.Request {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	return ledger.Request{
		ID:        uuid.MustParse("aeb1c9dc-6d0f-4fd3-97a2-4e5ac3b0f8d5"),
		Topic:     "quantum radar",
		Status:    ledger.StatusCompleted,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func newTestRouter(t *testing.T, store *fakeStore, producer *fakeProducer) http.Handler {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewHandlers(store, producer, "search-queue", log)

	return NewRouter(RouterDeps{
		Handlers:    handlers,
		CORSOrigins: []string{"http://localhost:5173"},
		Tracer:      tracenoop.NewTracerProvider().Tracer("test"),
	})
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestAnalyzeAcceptsTopic(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	producer := &fakeProducer{}
	router := newTestRouter(t, store, producer)

	rec := doRequest(t, router, http.MethodPost, "/analyze", `{"topic":"  quantum radar  "}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AnalyzeResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, store.request.ID, resp.RequestID)
	assert.Equal(t, ledger.StatusSearching, resp.Status)
	assert.Equal(t, "Analysis started for quantum radar", resp.Message)

	require.Equal(t, []string{"quantum radar"}, store.created)
	require.Len(t, producer.payloads, 1)
	assert.Equal(t, []string{"search-queue"}, producer.topics)
	assert.Equal(t, []string{store.request.ID.String()}, producer.keys)

	task, ok := producer.payloads[0].(pipeline.SearchTask)
	require.True(t, ok)
	assert.Equal(t, store.request.ID, task.RequestID)
	assert.Equal(t, "quantum radar", task.Topic)

	assert.Equal(t, []uuid.UUID{store.request.ID}, store.marked)
}

func TestAnalyzeRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodPost, "/analyze", `{"topic":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, "invalid JSON body", resp.Error)
	assert.Empty(t, store.created)
}

func TestAnalyzeRejectsOutOfBoundsTopics(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		topic string
	}{
		{name: "blank", topic: "   "},
		{name: "oversized", topic: strings.Repeat("q", 501)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeStore{request: baseRequest()}
			router := newTestRouter(t, store, &fakeProducer{})

			rec := doRequest(t, router, http.MethodPost, "/analyze",
				fmt.Sprintf(`{"topic":%q}`, tc.topic))

			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse

			decodeJSON(t, rec, &resp)
			assert.Equal(t, "topic must be between 1 and 500 characters", resp.Error)
			assert.Empty(t, store.created)
		})
	}
}

func TestAnalyzePublishFailureLeavesRequestPending(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	producer := &fakeProducer{err: errors.New("brokers down")}
	router := newTestRouter(t, store, producer)

	rec := doRequest(t, router, http.MethodPost, "/analyze", `{"topic":"quantum radar"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, "search pipeline unavailable, request left pending", resp.Error)

	// The row was created but never advanced: it stays pending.
	require.Equal(t, []string{"quantum radar"}, store.created)
	assert.Empty(t, store.marked)
}

func TestAnalyzeMarkSearchingFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest(), markErr: errors.New("db down")}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodPost, "/analyze", `{"topic":"quantum radar"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, "internal error", resp.Error)
}

func TestStatusIncludesAnalysis(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	completed := req.UpdatedAt
	req.CompletedAt = &completed

	store := &fakeStore{
		request: req,
		count:   5,
		analysis: &ledger.AnalysisResult{
			RequestID:       req.ID,
			Summary:         "a concise summary",
			InferenceTimeMS: 1200,
			TokensUsed:      900,
		},
	}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/status/"+req.ID.String(), "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Equal(t, "quantum radar", resp.Topic)
	assert.Equal(t, ledger.StatusCompleted, resp.Status)
	assert.Equal(t, int64(5), resp.SearchResultsCount)
	require.NotNil(t, resp.CompletedAt)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, "a concise summary", *resp.Summary)
	require.NotNil(t, resp.InferenceTimeMS)
	assert.Equal(t, int64(1200), *resp.InferenceTimeMS)
}

func TestStatusOmitsSummaryWhileRunning(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Status = ledger.StatusSearching

	store := &fakeStore{request: req}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/status/"+req.ID.String(), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"summary"`)
	assert.NotContains(t, rec.Body.String(), `"inference_time_ms"`)
	assert.NotContains(t, rec.Body.String(), `"completed_at"`)
}

func TestStatusUnknownRequest(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/status/"+uuid.NewString(), "")

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, "request not found", resp.Error)
}

func TestStatusRejectsMalformedID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &fakeStore{request: baseRequest()}, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/status/not-a-uuid", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, "invalid request id", resp.Error)
}

func TestListDefaultsAndShape(t *testing.T) {
	t.Parallel()

	row := baseRequest()
	store := &fakeStore{rows: []ledger.Request{row}, total: 41}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/api/requests", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultListLimit, store.gotLimit)
	assert.Equal(t, 0, store.gotOffset)
	assert.Nil(t, store.gotFilter)

	var resp ListResponse

	decodeJSON(t, rec, &resp)
	assert.Equal(t, int64(41), resp.Total)
	assert.Equal(t, defaultListLimit, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, row.ID, resp.Requests[0].RequestID)
	assert.Equal(t, row.Topic, resp.Requests[0].Topic)
	assert.Equal(t, row.Status, resp.Requests[0].Status)
}

func TestListClampsPaging(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{name: "oversized limit", query: "?limit=500&offset=-9", wantLimit: maxListLimit, wantOffset: 0},
		{name: "zero limit", query: "?limit=0", wantLimit: 1, wantOffset: 0},
		{name: "garbage falls back", query: "?limit=abc&offset=xyz", wantLimit: defaultListLimit, wantOffset: 0},
		{name: "window passes through", query: "?limit=50&offset=10", wantLimit: 50, wantOffset: 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeStore{}
			router := newTestRouter(t, store, &fakeProducer{})

			rec := doRequest(t, router, http.MethodGet, "/api/requests"+tc.query, "")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.wantLimit, store.gotLimit)
			assert.Equal(t, tc.wantOffset, store.gotOffset)

			var resp ListResponse

			decodeJSON(t, rec, &resp)
			assert.Equal(t, tc.wantLimit, resp.Limit)
			assert.Equal(t, tc.wantOffset, resp.Offset)
		})
	}
}

func TestListStatusFilter(t *testing.T) {
	t.Parallel()

	t.Run("named status narrows the query", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		router := newTestRouter(t, store, &fakeProducer{})

		rec := doRequest(t, router, http.MethodGet, "/api/requests?status=completed", "")

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, store.gotFilter)
		assert.Equal(t, ledger.StatusCompleted, *store.gotFilter)
	})

	t.Run("all means no filter", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		router := newTestRouter(t, store, &fakeProducer{})

		rec := doRequest(t, router, http.MethodGet, "/api/requests?status=all", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, store.gotFilter)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeStore{}, &fakeProducer{})

		rec := doRequest(t, router, http.MethodGet, "/api/requests?status=bogus", "")

		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse

		decodeJSON(t, rec, &resp)
		assert.Equal(t, "unknown status filter", resp.Error)
	})
}

func TestDetailReturnsFullProjection(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	store := &fakeStore{
		request: req,
		detail: ledger.RequestDetail{
			Request: req,
			SearchResults: []ledger.SearchResult{
				{ID: 1, RequestID: req.ID, URL: "https://a.example", Title: "A", Content: "body"},
			},
			Analysis: &ledger.AnalysisResult{RequestID: req.ID, Summary: "a concise summary"},
		},
	}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/api/requests/"+req.ID.String(), "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ledger.RequestDetail

	decodeJSON(t, rec, &resp)
	assert.Equal(t, req.ID, resp.Request.ID)
	require.Len(t, resp.SearchResults, 1)
	assert.Equal(t, "https://a.example", resp.SearchResults[0].URL)
	require.NotNil(t, resp.Analysis)
	assert.Equal(t, "a concise summary", resp.Analysis.Summary)
}

func TestDetailUnknownRequest(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &fakeStore{request: baseRequest()}, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/api/requests/"+uuid.NewString(), "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoundsSuccessRate(t *testing.T) {
	t.Parallel()

	store := &fakeStore{summary: ledger.MetricsSummary{
		TotalRequests:      9,
		SuccessRate:        66.66666,
		AvgInferenceTimeMS: 850.5,
		RequestsByStatus:   map[string]int64{"completed": 6, "failed": 3},
	}}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/api/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ledger.MetricsSummary

	decodeJSON(t, rec, &resp)
	assert.Equal(t, int64(9), resp.TotalRequests)
	assert.InDelta(t, 66.67, resp.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int64{"completed": 6, "failed": 3}, resp.RequestsByStatus)
}

func TestChartRendersHTML(t *testing.T) {
	t.Parallel()

	store := &fakeStore{summary: ledger.MetricsSummary{
		RequestsByStatus: map[string]int64{"completed": 3, "failed": 1},
		RequestsByHour: []ledger.HourCount{
			{Hour: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), Count: 2},
		},
	}}
	router := newTestRouter(t, store, &fakeProducer{})

	rec := doRequest(t, router, http.MethodGet, "/api/metrics/chart", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, "Requests by hour")
	assert.Contains(t, body, "Requests by status")
	assert.Contains(t, body, "13:00")
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &fakeStore{}, &fakeProducer{})

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProbeEndpoints(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &fakeStore{}, &fakeProducer{})

	health := doRequest(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, health.Code)

	ready := doRequest(t, router, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, ready.Code)
}
