package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/pipeline"
)

// Tool name constants.
const (
	ToolNameSubmit = "research_submit"
	ToolNameStatus = "research_status"
	ToolNameList   = "research_list"
)

const (
	maxTopicChars    = 500
	defaultListLimit = 20
	maxListLimit     = 100
)

// Sentinel errors for tool input validation.
var (
	// ErrTopicBounds indicates an empty or oversized topic.
	ErrTopicBounds = errors.New("topic must be between 1 and 500 characters")
	// ErrInvalidRequestID indicates a request_id that is not a UUID.
	ErrInvalidRequestID = errors.New("request_id must be a valid UUID")
)

// Tool descriptions.
const (
	submitToolDescription = "Submit a research topic. Starts the search and " +
		"summarization pipeline and returns the request id to poll."

	statusToolDescription = "Check the status of a research request. " +
		"Returns lifecycle state, search result count, and the summary once completed."

	listToolDescription = "List recent research requests, newest first, " +
		"optionally filtered by lifecycle status."
)

// SubmitInput is the input schema for the research_submit tool.
type SubmitInput struct {
	Topic string `json:"topic" jsonschema:"research topic to investigate (1-500 characters)"`
}

// StatusInput is the input schema for the research_status tool.
type StatusInput struct {
	RequestID string `json:"request_id" jsonschema:"request id returned by research_submit"`
}

// ListInput is the input schema for the research_list tool.
type ListInput struct {
	Status string `json:"status,omitempty" jsonschema:"optional lifecycle status filter (e.g. completed failed)"`
	Limit  int    `json:"limit,omitempty"  jsonschema:"maximum requests to return (default 20, max 100)"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

type submitResult struct {
	RequestID uuid.UUID     `json:"request_id"`
	Status    ledger.Status `json:"status"`
	Message   string        `json:"message"`
}

type statusResult struct {
	RequestID          uuid.UUID     `json:"request_id"`
	Topic              string        `json:"topic"`
	Status             ledger.Status `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	Error              *string       `json:"error,omitempty"`
	SearchResultsCount int64         `json:"search_results_count"`
	Summary            *string       `json:"summary,omitempty"`
	InferenceTimeMS    *int64        `json:"inference_time_ms,omitempty"`
}

type listItem struct {
	RequestID   uuid.UUID     `json:"request_id"`
	Topic       string        `json:"topic"`
	Status      ledger.Status `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type listResult struct {
	Requests []listItem `json:"requests"`
	Count    int        `json:"count"`
}

// handleSubmit mirrors the POST /analyze intake: insert pending, publish
// the search task, then mark searching. A failed publish leaves the row
// pending and reports a tool error.
func (s *Server) handleSubmit(ctx context.Context, _ *mcpsdk.CallToolRequest, input SubmitInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	topic := strings.TrimSpace(input.Topic)
	if topic == "" || utf8.RuneCountInString(topic) > maxTopicChars {
		return errorResult(ErrTopicBounds)
	}

	req, err := s.store.CreateRequest(ctx, topic)
	if err != nil {
		return errorResult(fmt.Errorf("create request: %w", err))
	}

	task := pipeline.SearchTask{RequestID: req.ID, Topic: req.Topic}

	if err := s.producer.Publish(ctx, s.searchTopic, req.ID.String(), task); err != nil {
		return errorResult(errors.New("search pipeline unavailable, request left pending"))
	}

	if err := s.store.MarkSearching(ctx, req.ID); err != nil {
		return errorResult(fmt.Errorf("mark searching: %w", err))
	}

	return jsonResult(submitResult{
		RequestID: req.ID,
		Status:    ledger.StatusSearching,
		Message:   "Analysis started for " + req.Topic,
	})
}

// handleStatus serves the same projection as GET /status/{request_id}.
func (s *Server) handleStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	id, err := uuid.Parse(strings.TrimSpace(input.RequestID))
	if err != nil {
		return errorResult(ErrInvalidRequestID)
	}

	req, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, ledger.ErrRequestNotFound) {
		return errorResult(err)
	} else if err != nil {
		return errorResult(fmt.Errorf("load request: %w", err))
	}

	count, err := s.store.CountSearchResults(ctx, id)
	if err != nil {
		return errorResult(fmt.Errorf("count search results: %w", err))
	}

	result := statusResult{
		RequestID:          req.ID,
		Topic:              req.Topic,
		Status:             req.Status,
		CreatedAt:          req.CreatedAt,
		UpdatedAt:          req.UpdatedAt,
		CompletedAt:        req.CompletedAt,
		Error:              req.ErrorMessage,
		SearchResultsCount: count,
	}

	analysis, err := s.store.AnalysisFor(ctx, id)
	if err != nil {
		return errorResult(fmt.Errorf("load analysis result: %w", err))
	}

	if analysis != nil {
		result.Summary = &analysis.Summary
		result.InferenceTimeMS = &analysis.InferenceTimeMS
	}

	return jsonResult(result)
}

// handleList serves recent requests, newest first.
func (s *Server) handleList(ctx context.Context, _ *mcpsdk.CallToolRequest, input ListInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	limit := input.Limit
	if limit < 1 {
		limit = defaultListLimit
	} else if limit > maxListLimit {
		limit = maxListLimit
	}

	var filter *ledger.Status

	if input.Status != "" && input.Status != "all" {
		status, err := ledger.ParseStatus(input.Status)
		if err != nil {
			return errorResult(err)
		}

		filter = &status
	}

	rows, err := s.store.ListRequests(ctx, filter, limit, 0)
	if err != nil {
		return errorResult(fmt.Errorf("list requests: %w", err))
	}

	items := make([]listItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, listItem{
			RequestID:   row.ID,
			Topic:       row.Topic,
			Status:      row.Status,
			CreatedAt:   row.CreatedAt,
			CompletedAt: row.CompletedAt,
		})
	}

	return jsonResult(listResult{Requests: items, Count: len(items)})
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
