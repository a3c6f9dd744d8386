package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	defaultMaxOpenConns = 16
	defaultMaxIdleConns = 8
	connMaxLifetime     = 30 * time.Minute

	requestCols = "id, topic, status, created_at, updated_at, completed_at, error_message"

	createRequestSQL = `INSERT INTO requests (id, topic, status) VALUES ($1, $2, $3) RETURNING ` + requestCols

	// claimSQL is the ownership primitive. The subselect locks the row only
	// when it still carries the expected status; SKIP LOCKED makes a
	// concurrent claimer see zero rows instead of blocking. Zero rows back
	// means the claim was lost, not that anything failed.
	claimSQL = `UPDATE requests SET status = $3, updated_at = now()
WHERE id = (
    SELECT id FROM requests
    WHERE id = $1 AND status = $2
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + requestCols

	markSearchingSQL = `UPDATE requests SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`

	markFailedSQL = `UPDATE requests SET status = 'failed', error_message = $2, updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	insertSearchResultSQL = `INSERT INTO search_results (request_id, url, title, content)
VALUES (:request_id, :url, :title, :content)`

	advanceToAnalyzingSQL = `UPDATE requests SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`

	insertAnalysisSQL = `INSERT INTO analysis_results (request_id, summary, inference_time_ms, tokens_used)
VALUES ($1, $2, $3, $4)`

	completeRequestSQL = `UPDATE requests SET status = $2, updated_at = now(), completed_at = now()
WHERE id = $1 AND status = $3`

	getRequestSQL = `SELECT ` + requestCols + ` FROM requests WHERE id = $1`

	searchResultsForSQL = `SELECT id, request_id, url, title, content, created_at
FROM search_results WHERE request_id = $1 ORDER BY id`

	countSearchResultsSQL = `SELECT COUNT(*) FROM search_results WHERE request_id = $1`

	analysisForSQL = `SELECT id, request_id, summary, inference_time_ms, tokens_used, created_at
FROM analysis_results WHERE request_id = $1`

	listRequestsSQL = `SELECT ` + requestCols + ` FROM requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	listByStatusSQL = `SELECT ` + requestCols + ` FROM requests WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	totalRequestsSQL = `SELECT COUNT(*) FROM requests`

	totalByStatusSQL = `SELECT COUNT(*) FROM requests WHERE status = $1`

	countByStatusSQL = `SELECT status, COUNT(*) AS count FROM requests GROUP BY status`

	avgInferenceSQL = `SELECT COALESCE(AVG(inference_time_ms), 0) FROM analysis_results`

	requestsByHourSQL = `SELECT date_trunc('hour', created_at) AS hour, COUNT(*) AS count
FROM requests WHERE created_at >= now() - interval '24 hours'
GROUP BY hour ORDER BY hour`
)

// Store wraps the Postgres connection pool behind the ledger operations.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection. Zero pool sizes fall back to package defaults.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}

	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRequest inserts a new request in the pending state and returns the
// stored row with database-assigned timestamps.
func (s *Store) CreateRequest(ctx context.Context, topic string) (Request, error) {
	var req Request

	id := uuid.New()

	err := s.db.GetContext(ctx, &req, createRequestSQL, id, topic, StatusPending)
	if err != nil {
		return Request{}, fmt.Errorf("create request: %w", err)
	}

	return req, nil
}

// MarkSearching advances a freshly created request from pending to searching
// once its search task is on the bus. A failed publish never reaches this
// call, leaving the row pending and visibly stalled.
func (s *Store) MarkSearching(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, markSearchingSQL, id, StatusSearching, StatusPending)
	if err != nil {
		return fmt.Errorf("mark searching: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark searching: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("mark searching %s: %w", id, ErrStaleTransition)
	}

	return nil
}

// Claim attempts to take ownership of a request for one stage by moving it
// from a claimable status to its processing successor. Exactly one caller
// wins per delivery generation; everyone else gets ErrClaimLost and must
// treat the message as consumed.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, from Status) (Request, error) {
	target, ok := claimTargets[from]
	if !ok {
		return Request{}, fmt.Errorf("claim %s from %s: %w", id, from, ErrNotClaimable)
	}

	var req Request

	err := s.db.GetContext(ctx, &req, claimSQL, id, from, target)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("claim %s from %s: %w", id, from, ErrClaimLost)
	}

	if err != nil {
		return Request{}, fmt.Errorf("claim %s: %w", id, err)
	}

	return req, nil
}

// MarkFailed moves a request to the failed state with an operator-facing
// message. Terminal rows are left untouched, so the call is safe to repeat.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	if _, err := s.db.ExecContext(ctx, markFailedSQL, id, message); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	return nil
}

// InsertResultsAdvance stores the extracted pages for a request and advances
// it from processing_search to analyzing in a single transaction, so the
// analysis stage can never observe a half-written result set.
func (s *Store) InsertResultsAdvance(ctx context.Context, id uuid.UUID, results []NewSearchResult) error {
	if len(results) == 0 {
		return fmt.Errorf("insert results for %s: empty result set", id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert results: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, insertSearchResultSQL, results); err != nil {
		return fmt.Errorf("insert search results: %w", err)
	}

	res, err := tx.ExecContext(ctx, advanceToAnalyzingSQL, id, StatusAnalyzing, StatusProcessingSearch)
	if err != nil {
		return fmt.Errorf("advance to analyzing: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance to analyzing: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("advance %s to analyzing: %w", id, ErrStaleTransition)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert results: %w", err)
	}

	return nil
}

// CompleteAnalysis stores the summary and moves the request from
// processing_analysis to completed in a single transaction.
func (s *Store) CompleteAnalysis(ctx context.Context, id uuid.UUID, summary string, inferenceMS, tokensUsed int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete analysis: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertAnalysisSQL, id, summary, inferenceMS, tokensUsed); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	res, err := tx.ExecContext(ctx, completeRequestSQL, id, StatusCompleted, StatusProcessingAnalysis)
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("complete %s: %w", id, ErrStaleTransition)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete analysis: %w", err)
	}

	return nil
}

// GetRequest fetches a single request row.
func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	var req Request

	err := s.db.GetContext(ctx, &req, getRequestSQL, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("request %s: %w", id, ErrRequestNotFound)
	}

	if err != nil {
		return Request{}, fmt.Errorf("get request %s: %w", id, err)
	}

	return req, nil
}

// SearchResultsFor returns the extracted pages for a request in insertion
// order.
func (s *Store) SearchResultsFor(ctx context.Context, id uuid.UUID) ([]SearchResult, error) {
	var results []SearchResult

	if err := s.db.SelectContext(ctx, &results, searchResultsForSQL, id); err != nil {
		return nil, fmt.Errorf("search results for %s: %w", id, err)
	}

	return results, nil
}

// CountSearchResults returns the number of stored pages for a request.
func (s *Store) CountSearchResults(ctx context.Context, id uuid.UUID) (int64, error) {
	var n int64

	if err := s.db.GetContext(ctx, &n, countSearchResultsSQL, id); err != nil {
		return 0, fmt.Errorf("count search results for %s: %w", id, err)
	}

	return n, nil
}

// AnalysisFor returns the summary row for a request, or nil when the request
// has not completed analysis.
func (s *Store) AnalysisFor(ctx context.Context, id uuid.UUID) (*AnalysisResult, error) {
	var result AnalysisResult

	err := s.db.GetContext(ctx, &result, analysisForSQL, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("analysis for %s: %w", id, err)
	}

	return &result, nil
}

// Detail assembles the full projection for the by-id endpoint: the request
// row, its search results, and the analysis result when present.
func (s *Store) Detail(ctx context.Context, id uuid.UUID) (RequestDetail, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return RequestDetail{}, err
	}

	results, err := s.SearchResultsFor(ctx, id)
	if err != nil {
		return RequestDetail{}, err
	}

	analysis, err := s.AnalysisFor(ctx, id)
	if err != nil {
		return RequestDetail{}, err
	}

	return RequestDetail{Request: req, SearchResults: results, Analysis: analysis}, nil
}

// ListRequests returns a page of requests, newest first, optionally filtered
// by status.
func (s *Store) ListRequests(ctx context.Context, status *Status, limit, offset int) ([]Request, error) {
	var (
		requests []Request
		err      error
	)

	if status != nil {
		err = s.db.SelectContext(ctx, &requests, listByStatusSQL, *status, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &requests, listRequestsSQL, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	return requests, nil
}

// TotalRequests counts requests, honoring the same optional status filter as
// ListRequests.
func (s *Store) TotalRequests(ctx context.Context, status *Status) (int64, error) {
	var (
		n   int64
		err error
	)

	if status != nil {
		err = s.db.GetContext(ctx, &n, totalByStatusSQL, *status)
	} else {
		err = s.db.GetContext(ctx, &n, totalRequestsSQL)
	}

	if err != nil {
		return 0, fmt.Errorf("total requests: %w", err)
	}

	return n, nil
}

// Metrics aggregates ledger-wide pipeline statistics: totals, per-status
// counts, mean inference latency, and the trailing-24h hourly histogram.
func (s *Store) Metrics(ctx context.Context) (MetricsSummary, error) {
	summary := MetricsSummary{RequestsByStatus: map[string]int64{}}

	if err := s.db.GetContext(ctx, &summary.TotalRequests, totalRequestsSQL); err != nil {
		return MetricsSummary{}, fmt.Errorf("metrics total: %w", err)
	}

	var statusCounts []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}

	if err := s.db.SelectContext(ctx, &statusCounts, countByStatusSQL); err != nil {
		return MetricsSummary{}, fmt.Errorf("metrics by status: %w", err)
	}

	for _, sc := range statusCounts {
		summary.RequestsByStatus[sc.Status] = sc.Count
	}

	if err := s.db.GetContext(ctx, &summary.AvgInferenceTimeMS, avgInferenceSQL); err != nil {
		return MetricsSummary{}, fmt.Errorf("metrics inference: %w", err)
	}

	if err := s.db.SelectContext(ctx, &summary.RequestsByHour, requestsByHourSQL); err != nil {
		return MetricsSummary{}, fmt.Errorf("metrics by hour: %w", err)
	}

	if summary.TotalRequests > 0 {
		completed := summary.RequestsByStatus[string(StatusCompleted)]
		summary.SuccessRate = float64(completed) / float64(summary.TotalRequests)
	}

	return summary, nil
}
