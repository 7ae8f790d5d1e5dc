package analytichttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	"github.com/odyssey-erp/odyssey-pos/internal/finexport"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type stubService struct {
	last analytics.ScopedQuery
	err  error
}

func (s *stubService) Summary(_ context.Context, q analytics.ScopedQuery) (analytics.Summary, error) {
	s.last = q
	return analytics.Summary{
		Revenue:     ledger.NewMoney(decimal.NewFromInt(450)),
		GrossMargin: 60,
		OrdersCount: 3,
	}, s.err
}

func (s *stubService) Flow(_ context.Context, q analytics.ScopedQuery) (analytics.FlowSeries, error) {
	s.last = q
	return analytics.FlowSeries{Bucket: q.Granularity, Rows: []analytics.FlowRow{{Period: "2025-01"}}}, s.err
}

func (s *stubService) Expenses(_ context.Context, q analytics.ScopedQuery) (analytics.ExpenseBreakdown, error) {
	s.last = q
	return analytics.ExpenseBreakdown{
		Rows:  []analytics.ExpenseRow{{Category: "Rent", Amount: ledger.NewMoney(decimal.NewFromInt(80)), Percent: 100}},
		Total: ledger.NewMoney(decimal.NewFromInt(80)),
	}, s.err
}

func (s *stubService) Health(_ context.Context, q analytics.ScopedQuery) (health.Report, error) {
	s.last = q
	return health.Report{Score: 75}, s.err
}

type stubExports struct {
	requested []finexport.Type
	status    finexport.StatusView
	statusErr error
	body      string
	record    finexport.Export
	dlErr     error
	lastToken string
}

func (s *stubExports) RequestExport(_ context.Context, _ shared.Scope, t finexport.Type, _ analytics.ScopedQuery) (finexport.RequestReceipt, error) {
	s.requested = append(s.requested, t)
	id := uuid.New()
	return finexport.RequestReceipt{JobID: id, StatusURL: "/finance/analytics/export/status/" + id.String()}, nil
}

func (s *stubExports) GetExportStatus(_ context.Context, _ shared.Scope, id uuid.UUID) (finexport.StatusView, error) {
	if s.statusErr != nil {
		return finexport.StatusView{}, s.statusErr
	}
	view := s.status
	view.JobID = id
	return view, nil
}

func (s *stubExports) Download(_ context.Context, _ uuid.UUID, token string) (io.ReadCloser, finexport.Export, error) {
	s.lastToken = token
	if s.dlErr != nil {
		return nil, finexport.Export{}, s.dlErr
	}
	return io.NopCloser(strings.NewReader(s.body)), s.record, nil
}

type stubBackfill struct {
	last cogs.BackfillRequest
	err  error
}

func (s *stubBackfill) EnqueueCOGSBackfill(_ context.Context, req cogs.BackfillRequest) (*asynq.TaskInfo, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type harness struct {
	service  *stubService
	exports  *stubExports
	backfill *stubBackfill
	router   chi.Router
}

func newHarness(scope *shared.Scope) *harness {
	h := &harness{service: &stubService{}, exports: &stubExports{}, backfill: &stubBackfill{}}
	handler := NewHandler(nil, h.service, h.exports, h.backfill, Config{ExportsPerMinute: 2})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if scope != nil {
				req = req.WithContext(shared.ContextWithScope(req.Context(), *scope))
			}
			next.ServeHTTP(w, req)
		})
	})
	handler.MountRoutes(r)
	h.router = r
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func ownerScope() *shared.Scope {
	return &shared.Scope{TenantID: 7, Role: shared.RoleOwner, UserID: "u-1"}
}

func cashierScope(store int64) *shared.Scope {
	return &shared.Scope{TenantID: 7, StoreID: &store, Role: shared.RoleCashier, UserID: "c-1"}
}

const rangeQS = "date_from=2025-01-01&date_to=2025-03-31"

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSummaryReturnsMoneyAsStrings(t *testing.T) {
	h := newHarness(ownerScope())
	rec := h.do(http.MethodGet, "/finance/analytics/summary?"+rangeQS+"&tz=Asia/Jakarta&currency=idr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "450.00", body["revenue"])
	require.Equal(t, float64(60), body["gross_margin"])
	require.Equal(t, int64(7), h.service.last.TenantID)
	require.Equal(t, "IDR", h.service.last.Currency)
	require.Equal(t, "Asia/Jakarta", h.service.last.Timezone)
}

func TestRoutesRequireScope(t *testing.T) {
	h := newHarness(nil)
	for _, path := range []string{"/summary", "/flow", "/expenses", "/health", "/export.csv", "/export/status/" + uuid.NewString()} {
		rec := h.do(http.MethodGet, "/finance/analytics"+path+"?"+rangeQS, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestInvalidParamsAreRejected(t *testing.T) {
	h := newHarness(ownerScope())
	cases := map[string]string{
		"date_from=2025-13-01&date_to=2025-03-31": "date_from",
		"date_from=2025-03-01&date_to=2025-01-31": "date",
		"date_from=2024-01-01&date_to=2025-03-31": "date_to",
		rangeQS + "&limit=51":                     "limit",
		rangeQS + "&store_id=abc":                 "store_id",
		rangeQS + "&currency=ZZZ":                 "currency",
	}
	for qs, field := range cases {
		rec := h.do(http.MethodGet, "/finance/analytics/expenses?"+qs, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, qs)
		require.Contains(t, decode(t, rec)["detail"], field, qs)
	}
}

func decodeRows(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBucketDefaultsToDay(t *testing.T) {
	h := newHarness(ownerScope())
	rec := h.do(http.MethodGet, "/finance/analytics/flow?"+rangeQS+"&bucket=fortnight", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, period.Day, h.service.last.Granularity)
}

func TestFlowAndExpensesRespondWithRowArrays(t *testing.T) {
	h := newHarness(ownerScope())

	rec := h.do(http.MethodGet, "/finance/analytics/flow?"+rangeQS+"&bucket=month", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "["))
	flow := decodeRows(t, rec)
	require.Len(t, flow, 1)
	require.Equal(t, "2025-01", flow[0]["period"])
	for _, field := range []string{"cash_in", "cash_out", "net", "profit"} {
		require.Contains(t, flow[0], field)
	}

	rec = h.do(http.MethodGet, "/finance/analytics/expenses?"+rangeQS, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "["))
	expenses := decodeRows(t, rec)
	require.Len(t, expenses, 1)
	require.Equal(t, "Rent", expenses[0]["category"])
	require.Equal(t, "80.00", expenses[0]["amount"])
	require.Equal(t, float64(100), expenses[0]["percent"])
	require.NotContains(t, expenses[0], "total")
}

func TestStoreBoundRoleIsForcedToAssignedStore(t *testing.T) {
	h := newHarness(cashierScope(3))
	rec := h.do(http.MethodGet, "/finance/analytics/health?"+rangeQS, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.service.last.StoreID)
	require.Equal(t, int64(3), *h.service.last.StoreID)

	rec = h.do(http.MethodGet, "/finance/analytics/health?"+rangeQS+"&store_id=4", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportRoutesAcceptAndRateLimit(t *testing.T) {
	h := newHarness(ownerScope())
	rec := h.do(http.MethodGet, "/finance/analytics/export.csv?"+rangeQS, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	require.NotEmpty(t, body["job_id"])
	require.True(t, strings.HasPrefix(body["status_url"].(string), "/finance/analytics/export/status/"))

	rec = h.do(http.MethodGet, "/finance/analytics/export.xlsx?"+rangeQS, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []finexport.Type{finexport.TypeCSV, finexport.TypeXLSX}, h.exports.requested)

	rec = h.do(http.MethodGet, "/finance/analytics/export.pdf?"+rangeQS, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestExportStatus(t *testing.T) {
	h := newHarness(ownerScope())
	until := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	h.exports.status = finexport.StatusView{
		Status:         finexport.StatusCompleted,
		Type:           finexport.TypePDF,
		AvailableUntil: &until,
		DownloadURL:    "https://pos.example.com/finance/analytics/export/download/x?token=t",
	}
	id := uuid.New()
	rec := h.do(http.MethodGet, "/finance/analytics/export/status/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, id.String(), body["job_id"])
	require.Equal(t, "completed", body["status"])
	require.NotEmpty(t, body["download_url"])

	rec = h.do(http.MethodGet, "/finance/analytics/export/status/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	h.exports.statusErr = finexport.ErrExportNotFound
	rec = h.do(http.MethodGet, "/finance/analytics/export/status/"+id.String(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadStreamsArtifactWithoutScope(t *testing.T) {
	h := newHarness(nil)
	id := uuid.New()
	h.exports.body = "Report\n"
	h.exports.record = finexport.Export{ID: id, Type: finexport.TypeCSV}

	rec := h.do(http.MethodGet, "/finance/analytics/export/download/"+id.String()+"?token=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Report\n", rec.Body.String())
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), id.String()+".csv")
	require.Equal(t, "abc", h.exports.lastToken)

	rec = h.do(http.MethodGet, "/finance/analytics/export/download/"+id.String(), "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	h.exports.dlErr = finexport.ErrExportExpired
	rec = h.do(http.MethodGet, "/finance/analytics/export/download/"+id.String()+"?token=abc", "")
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestBackfillEnqueue(t *testing.T) {
	h := newHarness(ownerScope())
	rec := h.do(http.MethodPost, "/finance/analytics/cogs/backfill", `{"store_id":3,"from":"2025-01-01","to":"2025-01-31","tz":"Asia/Jakarta","dry_run":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "task-1", decode(t, rec)["task_id"])
	require.Equal(t, int64(7), h.backfill.last.TenantID)
	require.Equal(t, int64(3), *h.backfill.last.StoreID)
	require.True(t, h.backfill.last.DryRun)

	rec = h.do(http.MethodPost, "/finance/analytics/cogs/backfill", `{"tenant_id":9}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/finance/analytics/cogs/backfill", `{"from":"2025-02-01","to":"2025-01-01"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	h.backfill.err = asynq.ErrDuplicateTask
	rec = h.do(http.MethodPost, "/finance/analytics/cogs/backfill", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	h.backfill.err = errors.New("redis down")
	rec = h.do(http.MethodPost, "/finance/analytics/cogs/backfill", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "redis down")
}

func TestBackfillForbiddenForCashier(t *testing.T) {
	h := newHarness(cashierScope(3))
	rec := h.do(http.MethodPost, "/finance/analytics/cogs/backfill", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
