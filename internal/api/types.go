package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/ledger"
)

// AnalyzeRequest is the intake body. The topic is trimmed before
// validation, so whitespace-only submissions are rejected.
type AnalyzeRequest struct {
	Topic string `json:"topic" validate:"required,min=1,max=500"`
}

// AnalyzeResponse acknowledges an accepted topic.
type AnalyzeResponse struct {
	RequestID uuid.UUID     `json:"request_id"`
	Status    ledger.Status `json:"status"`
	Message   string        `json:"message"`
}

// StatusResponse is the light projection for progress polling. Summary
// and inference time appear once an analysis result exists.
type StatusResponse struct {
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

// ListItem is one row of the paged listing.
type ListItem struct {
	RequestID    uuid.UUID     `json:"request_id"`
	Topic        string        `json:"topic"`
	Status       ledger.Status `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
}

// ListResponse pages requests newest-first and echoes the effective
// paging window after clamping.
type ListResponse struct {
	Requests []ListItem `json:"requests"`
	Total    int64      `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
