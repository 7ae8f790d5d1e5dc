package analytichttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	"github.com/odyssey-erp/odyssey-pos/internal/finexport"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// AnalyticsService defines the aggregation contract used by the handler.
type AnalyticsService interface {
	Summary(ctx context.Context, q analytics.ScopedQuery) (analytics.Summary, error)
	Flow(ctx context.Context, q analytics.ScopedQuery) (analytics.FlowSeries, error)
	Expenses(ctx context.Context, q analytics.ScopedQuery) (analytics.ExpenseBreakdown, error)
	Health(ctx context.Context, q analytics.ScopedQuery) (health.Report, error)
}

// ExportService defines the export lifecycle contract used by the handler.
type ExportService interface {
	RequestExport(ctx context.Context, scope shared.Scope, t finexport.Type, q analytics.ScopedQuery) (finexport.RequestReceipt, error)
	GetExportStatus(ctx context.Context, scope shared.Scope, id uuid.UUID) (finexport.StatusView, error)
	Download(ctx context.Context, id uuid.UUID, token string) (io.ReadCloser, finexport.Export, error)
}

// BackfillEnqueuer submits COGS backfill tasks.
type BackfillEnqueuer interface {
	EnqueueCOGSBackfill(ctx context.Context, req cogs.BackfillRequest) (*asynq.TaskInfo, error)
}

// Handler coordinates HTTP requests for finance analytics.
type Handler struct {
	logger       *slog.Logger
	service      AnalyticsService
	exports      ExportService
	backfill     BackfillEnqueuer
	maxRangeDays int
	exportLimit  int
}

// Config carries handler tunables.
type Config struct {
	MaxRangeDays int
	// ExportsPerMinute bounds export requests per caller.
	ExportsPerMinute int
}

// NewHandler constructs the analytics HTTP handler.
func NewHandler(logger *slog.Logger, service AnalyticsService, exports ExportService, backfill BackfillEnqueuer, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExportsPerMinute <= 0 {
		cfg.ExportsPerMinute = 10
	}
	return &Handler{
		logger:       logger,
		service:      service,
		exports:      exports,
		backfill:     backfill,
		maxRangeDays: cfg.MaxRangeDays,
		exportLimit:  cfg.ExportsPerMinute,
	}
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scopedQuery(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), q)
	h.respond(w, "summary", summary, err)
}

func (h *Handler) handleFlow(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scopedQuery(w, r)
	if !ok {
		return
	}
	series, err := h.service.Flow(r.Context(), q)
	rows := series.Rows
	if rows == nil {
		rows = []analytics.FlowRow{}
	}
	h.respond(w, "flow", rows, err)
}

func (h *Handler) handleExpenses(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scopedQuery(w, r)
	if !ok {
		return
	}
	breakdown, err := h.service.Expenses(r.Context(), q)
	rows := breakdown.Rows
	if rows == nil {
		rows = []analytics.ExpenseRow{}
	}
	h.respond(w, "expenses", rows, err)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scopedQuery(w, r)
	if !ok {
		return
	}
	report, err := h.service.Health(r.Context(), q)
	h.respond(w, "health", report, err)
}

func (h *Handler) handleExport(t finexport.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := h.scopedQuery(w, r)
		if !ok {
			return
		}
		scope, _ := shared.ScopeFromContext(r.Context())
		receipt, err := h.exports.RequestExport(r.Context(), scope, t, q)
		if err != nil {
			h.fail(w, "request export", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, receipt)
	}
}

func (h *Handler) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	scope, _ := shared.ScopeFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("job_id", "must be a UUID"))
		return
	}
	view, err := h.exports.GetExportStatus(r.Context(), scope, id)
	h.respond(w, "export status", view, err)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		httpx.RespondError(w, finexport.ErrExportNotFound)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.RespondError(w, finexport.ErrDownloadDenied)
		return
	}
	body, record, err := h.exports.Download(r.Context(), id, token)
	if err != nil {
		h.fail(w, "download export", err)
		return
	}
	defer func() { _ = body.Close() }()

	filename := fmt.Sprintf("finance-analytics-%s.%s", record.ID, record.Type.Extension())
	w.Header().Set("Content-Type", record.Type.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, body); err != nil {
		h.logError("stream export", err)
	}
}

type backfillBody struct {
	StoreID   *int64 `json:"store_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timezone  string `json:"tz"`
	BatchSize int    `json:"batch_size"`
	DryRun    bool   `json:"dry_run"`
}

func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	scope, _ := shared.ScopeFromContext(r.Context())
	if !scope.TenantWide() {
		httpx.RespondError(w, shared.ScopeViolation{TenantID: scope.TenantID, Allowed: deref(scope.StoreID)})
		return
	}
	var body backfillBody
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
			return
		}
	}
	storeID, err := shared.ResolveStore(scope, body.StoreID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req := cogs.BackfillRequest{
		TenantID:  scope.TenantID,
		StoreID:   storeID,
		From:      body.From,
		To:        body.To,
		Timezone:  body.Timezone,
		BatchSize: body.BatchSize,
		DryRun:    body.DryRun,
	}
	if err := req.Validate(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	info, err := h.backfill.EnqueueCOGSBackfill(r.Context(), req)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			httpx.RespondError(w, fmt.Errorf("backfill already queued for this scope: %w", httpx.ErrConflict))
			return
		}
		h.fail(w, "enqueue backfill", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}

// scopedQuery builds the ScopedQuery for the request, writing the error response when it
// cannot.
func (h *Handler) scopedQuery(w http.ResponseWriter, r *http.Request) (analytics.ScopedQuery, bool) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrScopeMissing)
		return analytics.ScopedQuery{}, false
	}
	params, err := parseParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return analytics.ScopedQuery{}, false
	}
	q, err := analytics.NewScopedQuery(scope, params, h.maxRangeDays)
	if err != nil {
		httpx.RespondError(w, err)
		return analytics.ScopedQuery{}, false
	}
	return q, true
}

func parseParams(r *http.Request) (analytics.QueryParams, error) {
	values := r.URL.Query()
	params := analytics.QueryParams{
		DateFrom:    strings.TrimSpace(values.Get("date_from")),
		DateTo:      strings.TrimSpace(values.Get("date_to")),
		Timezone:    strings.TrimSpace(values.Get("tz")),
		Currency:    strings.TrimSpace(values.Get("currency")),
		Granularity: strings.TrimSpace(values.Get("bucket")),
	}
	if raw := strings.TrimSpace(values.Get("store_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return analytics.QueryParams{}, shared.Invalid("store_id", "must be a positive integer")
		}
		params.StoreID = &id
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return analytics.QueryParams{}, shared.Invalid("limit", "must be a non-negative integer")
		}
		params.Limit = limit
	}
	return params, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func (h *Handler) respond(w http.ResponseWriter, op string, data any, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logError(op, err)
	}
	httpx.RespondError(w, err)
}

func (h *Handler) logError(op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
}
