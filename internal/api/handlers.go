// Package api serves the HTTP surface: topic intake, status polling, the
// paged request listing, per-request detail, and aggregate metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/pipeline"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Store is the ledger surface the handlers read and write.
type Store interface {
	CreateRequest(ctx context.Context, topic string) (ledger.Request, error)
	MarkSearching(ctx context.Context, id uuid.UUID) error
	GetRequest(ctx context.Context, id uuid.UUID) (ledger.Request, error)
	CountSearchResults(ctx context.Context, id uuid.UUID) (int64, error)
	AnalysisFor(ctx context.Context, id uuid.UUID) (*ledger.AnalysisResult, error)
	Detail(ctx context.Context, id uuid.UUID) (ledger.RequestDetail, error)
	ListRequests(ctx context.Context, status *ledger.Status, limit, offset int) ([]ledger.Request, error)
	TotalRequests(ctx context.Context, status *ledger.Status) (int64, error)
	Metrics(ctx context.Context) (ledger.MetricsSummary, error)
}

// Producer publishes stage tasks onto the bus.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Handlers implements the API endpoints over a ledger store and a bus
// producer.
type Handlers struct {
	store       Store
	producer    Producer
	searchTopic string
	validate    *validator.Validate
	log         *slog.Logger
}

// NewHandlers wires the endpoint set.
func NewHandlers(store Store, producer Producer, searchTopic string, log *slog.Logger) *Handlers {
	return &Handlers{
		store:       store,
		producer:    producer,
		searchTopic: searchTopic,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log,
	}
}

// Analyze accepts a topic, creates the request row, and hands it to the
// search stage. The row is inserted as pending and only advances to
// searching after the task is on the bus: a failed publish leaves it
// pending, never silently searching with no task behind it.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body AnalyzeRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")

		return
	}

	body.Topic = strings.TrimSpace(body.Topic)

	if err := h.validate.StructCtx(ctx, body); err != nil {
		h.writeError(w, http.StatusBadRequest, "topic must be between 1 and 500 characters")

		return
	}

	req, err := h.store.CreateRequest(ctx, body.Topic)
	if err != nil {
		h.internalError(w, r, "create request", err)

		return
	}

	task := pipeline.SearchTask{RequestID: req.ID, Topic: req.Topic}

	if err := h.producer.Publish(ctx, h.searchTopic, req.ID.String(), task); err != nil {
		h.log.ErrorContext(ctx, "publish search task",
			slog.String("request_id", req.ID.String()),
			slog.Any("error", err))
		h.writeError(w, http.StatusBadGateway, "search pipeline unavailable, request left pending")

		return
	}

	if err := h.store.MarkSearching(ctx, req.ID); err != nil {
		h.internalError(w, r, "mark searching", err)

		return
	}

	h.log.InfoContext(ctx, "analysis request accepted",
		slog.String("request_id", req.ID.String()),
		slog.String("topic", req.Topic))

	h.writeJSON(w, http.StatusAccepted, AnalyzeResponse{
		RequestID: req.ID,
		Status:    ledger.StatusSearching,
		Message:   "Analysis started for " + req.Topic,
	})
}

// Status serves the polling projection for one request.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := requestID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request id")

		return
	}

	req, err := h.store.GetRequest(ctx, id)
	if errors.Is(err, ledger.ErrRequestNotFound) {
		h.writeError(w, http.StatusNotFound, "request not found")

		return
	} else if err != nil {
		h.internalError(w, r, "load request", err)

		return
	}

	count, err := h.store.CountSearchResults(ctx, id)
	if err != nil {
		h.internalError(w, r, "count search results", err)

		return
	}

	resp := StatusResponse{
		RequestID:          req.ID,
		Topic:              req.Topic,
		Status:             req.Status,
		CreatedAt:          req.CreatedAt,
		UpdatedAt:          req.UpdatedAt,
		CompletedAt:        req.CompletedAt,
		Error:              req.ErrorMessage,
		SearchResultsCount: count,
	}

	analysis, err := h.store.AnalysisFor(ctx, id)
	if err != nil {
		h.internalError(w, r, "load analysis result", err)

		return
	}

	if analysis != nil {
		resp.Summary = &analysis.Summary
		resp.InferenceTimeMS = &analysis.InferenceTimeMS
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// List serves the paged request listing, newest first, optionally
// filtered by lifecycle status.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 {
		limit = 1
	} else if limit > maxListLimit {
		limit = maxListLimit
	}

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var filter *ledger.Status

	if raw := r.URL.Query().Get("status"); raw != "" && raw != "all" {
		status, err := ledger.ParseStatus(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "unknown status filter")

			return
		}

		filter = &status
	}

	rows, err := h.store.ListRequests(ctx, filter, limit, offset)
	if err != nil {
		h.internalError(w, r, "list requests", err)

		return
	}

	total, err := h.store.TotalRequests(ctx, filter)
	if err != nil {
		h.internalError(w, r, "count requests", err)

		return
	}

	items := make([]ListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, ListItem{
			RequestID:    row.ID,
			Topic:        row.Topic,
			Status:       row.Status,
			CreatedAt:    row.CreatedAt,
			CompletedAt:  row.CompletedAt,
			ErrorMessage: row.ErrorMessage,
		})
	}

	h.writeJSON(w, http.StatusOK, ListResponse{
		Requests: items,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// Detail serves the full projection: the request row, every persisted
// search result, and the analysis result when one exists.
func (h *Handlers) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := requestID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request id")

		return
	}

	detail, err := h.store.Detail(ctx, id)
	if errors.Is(err, ledger.ErrRequestNotFound) {
		h.writeError(w, http.StatusNotFound, "request not found")

		return
	} else if err != nil {
		h.internalError(w, r, "load request detail", err)

		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

// Metrics serves ledger-wide aggregates for dashboards.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Metrics(r.Context())
	if err != nil {
		h.internalError(w, r, "aggregate metrics", err)

		return
	}

	summary.SuccessRate = math.Round(summary.SuccessRate*100) / 100

	h.writeJSON(w, http.StatusOK, summary)
}

func requestID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "request_id"))
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage rather than erroring: paging parameters are forgiving.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return n
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.ErrorContext(r.Context(), op, slog.Any("error", err))
	h.writeError(w, http.StatusInternalServerError, "internal error")
}
