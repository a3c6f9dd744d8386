// Package ledger is the relational store of record for the pipeline: request
// lifecycle rows, search results, analysis results, and the claim primitive
// that serializes stage ownership across worker replicas.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a request lifecycle state.
type Status string

// Lifecycle states. Only StatusSearching and StatusAnalyzing are claimable;
// the processing states mean a worker currently owns the request, and the
// terminal states never transition again.
const (
	StatusPending            Status = "pending"
	StatusSearching          Status = "searching"
	StatusProcessingSearch   Status = "processing_search"
	StatusAnalyzing          Status = "analyzing"
	StatusProcessingAnalysis Status = "processing_analysis"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// claimTargets maps a claimable state to the processing state a winner
// advances it to within the claim transaction.
var claimTargets = map[Status]Status{
	StatusSearching: StatusProcessingSearch,
	StatusAnalyzing: StatusProcessingAnalysis,
}

var (
	// ErrClaimLost means another replica holds or already finished this
	// request, or the row is gone. Not an error condition: the caller
	// commits the bus offset and drops the message.
	ErrClaimLost = errors.New("claim lost")

	// ErrNotClaimable means Claim was called with a state that has no
	// processing successor.
	ErrNotClaimable = errors.New("status is not claimable")

	// ErrRequestNotFound means no request row exists for the given id.
	ErrRequestNotFound = errors.New("request not found")

	// ErrInvalidStatus reports an unrecognized status string.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrStaleTransition means a guarded update matched no row, i.e. the
	// request left the expected state underneath the caller.
	ErrStaleTransition = errors.New("stale status transition")
)

// ParseStatus validates a status string from an external boundary.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)

	switch status {
	case StatusPending, StatusSearching, StatusProcessingSearch,
		StatusAnalyzing, StatusProcessingAnalysis, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// IsTerminal reports whether the status never transitions again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is the top-level lifecycle entity.
type Request struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Topic        string     `db:"topic"         json:"topic"`
	Status       Status     `db:"status"        json:"status"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// SearchResult is one extracted page for a request. Rows are written in a
// single batch while the request is in processing_search and never mutated.
type SearchResult struct {
	ID        int64     `db:"id"         json:"id"`
	RequestID uuid.UUID `db:"request_id" json:"request_id"`
	URL       string    `db:"url"        json:"url"`
	Title     string    `db:"title"      json:"title"`
	Content   string    `db:"content"    json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AnalysisResult is the final summary for a request; at most one exists,
// enforced by a unique constraint on request_id.
type AnalysisResult struct {
	ID              int64     `db:"id"                json:"id"`
	RequestID       uuid.UUID `db:"request_id"        json:"request_id"`
	Summary         string    `db:"summary"           json:"summary"`
	InferenceTimeMS int64     `db:"inference_time_ms" json:"inference_time_ms"`
	TokensUsed      int64     `db:"tokens_used"       json:"tokens_used"`
	CreatedAt       time.Time `db:"created_at"        json:"created_at"`
}

// NewSearchResult carries one extracted page into the batch insert.
type NewSearchResult struct {
	RequestID uuid.UUID `db:"request_id"`
	URL       string    `db:"url"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
}

// RequestDetail is the full projection served by the by-id detail endpoint.
type RequestDetail struct {
	Request       Request         `json:"request"`
	SearchResults []SearchResult  `json:"search_results"`
	Analysis      *AnalysisResult `json:"analysis_result,omitempty"`
}

// HourCount is one hourly bucket in the trailing-24h request histogram.
type HourCount struct {
	Hour  time.Time `db:"hour"  json:"hour"`
	Count int64     `db:"count" json:"count"`
}

// MetricsSummary aggregates ledger-wide pipeline metrics.
type MetricsSummary struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessRate        float64          `json:"success_rate"`
	AvgInferenceTimeMS float64          `json:"avg_inference_time_ms"`
	RequestsByStatus   map[string]int64 `json:"requests_by_status"`
	RequestsByHour     []HourCount      `json:"requests_by_hour"`
}
