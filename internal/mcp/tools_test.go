package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/pipeline"
)

type fakeStore struct {
	request   ledger.Request
	createErr error
	created   []string
	marked    []uuid.UUID
	count     int64
	analysis  *ledger.AnalysisResult
	rows      []ledger.Request
	gotFilter *ledger.Status
	gotLimit  int
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
	return f.count, nil
}

func (f *fakeStore) AnalysisFor(_ context.Context, _ uuid.UUID) (*ledger.AnalysisResult, error) {
	return f.analysis, nil
}

func (f *fakeStore) ListRequests(_ context.Context, status *ledger.Status, limit, _ int) ([]ledger.Request, error) {
	f.gotFilter = status
	f.gotLimit = limit

	return f.rows, nil
}

type fakeProducer struct {
	err      error
	payloads []any
}

func (f *fakeProducer) Publish(_ context.Context, _, _ string, payload any) error {
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

func newTestServer(t *testing.T, store *fakeStore, producer *fakeProducer) *Server {
	t.Helper()

	return NewServer(ServerDeps{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       store,
		Producer:    producer,
		SearchTopic: "search-queue",
		Version:     "test",
	})
}

func TestSubmitToolStartsPipeline(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	producer := &fakeProducer{}
	srv := newTestServer(t, store, producer)

	result, output, err := srv.handleSubmit(context.Background(), nil, SubmitInput{Topic: "  quantum radar  "})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	submitted, ok := output.Data.(submitResult)
	require.True(t, ok)
	assert.Equal(t, store.request.ID, submitted.RequestID)
	assert.Equal(t, ledger.StatusSearching, submitted.Status)
	assert.Equal(t, "Analysis started for quantum radar", submitted.Message)

	require.Equal(t, []string{"quantum radar"}, store.created)
	require.Len(t, producer.payloads, 1)

	task, ok := producer.payloads[0].(pipeline.SearchTask)
	require.True(t, ok)
	assert.Equal(t, store.request.ID, task.RequestID)

	assert.Equal(t, []uuid.UUID{store.request.ID}, store.marked)
}

func TestSubmitToolRejectsOutOfBoundsTopics(t *testing.T) {
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
			srv := newTestServer(t, store, &fakeProducer{})

			result, _, err := srv.handleSubmit(context.Background(), nil, SubmitInput{Topic: tc.topic})
			require.NoError(t, err)
			require.True(t, result.IsError)
			assert.Empty(t, store.created)
		})
	}
}

func TestSubmitToolPublishFailureLeavesRequestPending(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	producer := &fakeProducer{err: errors.New("brokers down")}
	srv := newTestServer(t, store, producer)

	result, _, err := srv.handleSubmit(context.Background(), nil, SubmitInput{Topic: "quantum radar"})
	require.NoError(t, err)
	require.True(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "search pipeline unavailable, request left pending", text.Text)

	// Created but never advanced.
	require.Equal(t, []string{"quantum radar"}, store.created)
	assert.Empty(t, store.marked)
}

func TestStatusToolIncludesSummaryWhenDone(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	store := &fakeStore{
		request: req,
		count:   5,
		analysis: &ledger.AnalysisResult{
			RequestID:       req.ID,
			Summary:         "a concise summary",
			InferenceTimeMS: 1200,
		},
	}
	srv := newTestServer(t, store, &fakeProducer{})

	result, output, err := srv.handleStatus(context.Background(), nil, StatusInput{RequestID: req.ID.String()})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	status, ok := output.Data.(statusResult)
	require.True(t, ok)
	assert.Equal(t, req.ID, status.RequestID)
	assert.Equal(t, int64(5), status.SearchResultsCount)
	require.NotNil(t, status.Summary)
	assert.Equal(t, "a concise summary", *status.Summary)
	require.NotNil(t, status.InferenceTimeMS)
	assert.Equal(t, int64(1200), *status.InferenceTimeMS)
}

func TestStatusToolRejectsMalformedID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeStore{request: baseRequest()}, &fakeProducer{})

	result, _, err := srv.handleStatus(context.Background(), nil, StatusInput{RequestID: "not-a-uuid"})
	require.NoError(t, err)
	require.True(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidRequestID.Error(), text.Text)
}

func TestStatusToolUnknownRequest(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeStore{request: baseRequest()}, &fakeProducer{})

	result, _, err := srv.handleStatus(context.Background(), nil, StatusInput{RequestID: uuid.NewString()})
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestListToolClampsLimitAndFilters(t *testing.T) {
	t.Parallel()

	store := &fakeStore{rows: []ledger.Request{baseRequest()}}
	srv := newTestServer(t, store, &fakeProducer{})

	result, output, err := srv.handleList(context.Background(), nil, ListInput{Status: "completed", Limit: 500})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, maxListLimit, store.gotLimit)
	require.NotNil(t, store.gotFilter)
	assert.Equal(t, ledger.StatusCompleted, *store.gotFilter)

	listed, ok := output.Data.(listResult)
	require.True(t, ok)
	assert.Equal(t, 1, listed.Count)
	require.Len(t, listed.Requests, 1)
	assert.Equal(t, store.rows[0].ID, listed.Requests[0].RequestID)
}

func TestListToolRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeStore{}, &fakeProducer{})

	result, _, err := srv.handleList(context.Background(), nil, ListInput{Status: "bogus"})
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestServerServesToolsOverTransport(t *testing.T) {
	t.Parallel()

	store := &fakeStore{request: baseRequest()}
	srv := newTestServer(t, store, &fakeProducer{})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	defer func() {
		_ = session.Close()
	}()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}

	assert.ElementsMatch(t, []string{ToolNameSubmit, ToolNameStatus, ToolNameList}, names)

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      ToolNameSubmit,
		Arguments: map[string]any{"topic": "quantum radar"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.Content)

	failed, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      ToolNameSubmit,
		Arguments: map[string]any{"topic": "   "},
	})
	require.NoError(t, err)
	assert.True(t, failed.IsError)

	cancel()
	<-serverDone
}
