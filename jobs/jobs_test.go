package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

type stubRunner struct {
	calls  []cogs.BackfillRequest
	result cogs.BackfillResult
	err    error
}

func (s *stubRunner) Run(_ context.Context, req cogs.BackfillRequest) (cogs.BackfillResult, error) {
	s.calls = append(s.calls, req)
	return s.result, s.err
}

func backfillTask(t *testing.T, req cogs.BackfillRequest) *asynq.Task {
	t.Helper()
	task, err := NewCOGSBackfillTask(req)
	require.NoError(t, err)
	return task
}

func TestCOGSBackfillJobRunsRequest(t *testing.T) {
	store := int64(3)
	runner := &stubRunner{result: cogs.BackfillResult{Scanned: 10, Updated: 8, SkippedNoVariant: 2}}
	job := NewCOGSBackfillJob(runner, nil, testMetrics())

	err := job.Handle(context.Background(), backfillTask(t, cogs.BackfillRequest{TenantID: 7, StoreID: &store, From: "2025-01-01"}))
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	require.Equal(t, int64(7), runner.calls[0].TenantID)
	require.Equal(t, int64(3), *runner.calls[0].StoreID)
}

type stubAudit struct{ entries []shared.AuditEntry }

func (s *stubAudit) Record(_ context.Context, entry shared.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func TestCOGSBackfillJobAuditsAppliedRuns(t *testing.T) {
	runner := &stubRunner{result: cogs.BackfillResult{Scanned: 5, Updated: 4}}
	audit := &stubAudit{}
	job := NewCOGSBackfillJob(runner, nil, testMetrics())
	job.Audit = audit

	require.NoError(t, job.Handle(context.Background(), backfillTask(t, cogs.BackfillRequest{TenantID: 7, DryRun: true})))
	require.Empty(t, audit.entries)

	require.NoError(t, job.Handle(context.Background(), backfillTask(t, cogs.BackfillRequest{TenantID: 7, From: "2025-01-01"})))
	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, int64(7), entry.TenantID)
	require.Equal(t, "cogs.backfill.applied", entry.Action)
	require.Equal(t, "cogs:backfill:7:-", entry.EntityID)
	require.Equal(t, int64(4), entry.Meta["updated"])

	runner.result = cogs.BackfillResult{Scanned: 5}
	require.NoError(t, job.Handle(context.Background(), backfillTask(t, cogs.BackfillRequest{TenantID: 7})))
	require.Len(t, audit.entries, 1)
}

func TestCOGSBackfillJobRetriesBusyScope(t *testing.T) {
	runner := &stubRunner{err: cogs.ErrBackfillInProgress}
	job := NewCOGSBackfillJob(runner, nil, testMetrics())

	err := job.Handle(context.Background(), backfillTask(t, cogs.BackfillRequest{TenantID: 7}))
	require.ErrorIs(t, err, cogs.ErrBackfillInProgress)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestCOGSBackfillJobDropsPoisonPayloads(t *testing.T) {
	runner := &stubRunner{}
	job := NewCOGSBackfillJob(runner, nil, testMetrics())

	err := job.Handle(context.Background(), asynq.NewTask(TaskCOGSBackfill, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	raw, _ := json.Marshal(cogs.BackfillRequest{TenantID: 0})
	err = job.Handle(context.Background(), asynq.NewTask(TaskCOGSBackfill, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, runner.calls)

	runner.err = shared.Invalid("from", "expected YYYY-MM-DD")
	err = job.Handle(context.Background(), backfillTask(t, cogs.BackfillRequest{TenantID: 7}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewCOGSBackfillTaskValidates(t *testing.T) {
	_, err := NewCOGSBackfillTask(cogs.BackfillRequest{TenantID: 7, From: "2025-02-01", To: "2025-01-01"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

type stubLister struct {
	since   time.Time
	tenants []int64
}

func (s *stubLister) TenantsWithUnbacked(_ context.Context, since time.Time) ([]int64, error) {
	s.since = since
	return s.tenants, nil
}

type stubEnqueuer struct {
	reqs []cogs.BackfillRequest
	errs map[int64]error
}

func (s *stubEnqueuer) EnqueueCOGSBackfill(_ context.Context, req cogs.BackfillRequest) (*asynq.TaskInfo, error) {
	if err := s.errs[req.TenantID]; err != nil {
		return nil, err
	}
	s.reqs = append(s.reqs, req)
	return &asynq.TaskInfo{ID: "t"}, nil
}

func TestBackfillSweepEnqueuesPerTenant(t *testing.T) {
	lister := &stubLister{tenants: []int64{1, 2, 3}}
	queue := &stubEnqueuer{errs: map[int64]error{2: asynq.ErrDuplicateTask}}
	job := NewCOGSBackfillSweepJob(lister, queue, nil, testMetrics())
	job.clock = func() time.Time { return time.Date(2025, 4, 10, 1, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Handle(context.Background(), NewCOGSBackfillSweepTask()))
	require.Equal(t, time.Date(2025, 3, 6, 1, 0, 0, 0, time.UTC), lister.since)
	require.Len(t, queue.reqs, 2)
	require.Equal(t, int64(1), queue.reqs[0].TenantID)
	require.Equal(t, "2025-03-06", queue.reqs[0].From)
	require.Nil(t, queue.reqs[0].StoreID)

	queue.errs[3] = errors.New("redis down")
	require.Error(t, job.Handle(context.Background(), NewCOGSBackfillSweepTask()))
}

type stubPurger struct {
	batches []int
	limits  []int
}

func (s *stubPurger) Purge(_ context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	if len(s.batches) == 0 {
		return 0, nil
	}
	n := s.batches[0]
	s.batches = s.batches[1:]
	return n, nil
}

func TestExportPurgeDrainsBacklog(t *testing.T) {
	purger := &stubPurger{batches: []int{2, 2, 1}}
	job := NewExportPurgeJob(purger, nil, testMetrics())
	job.BatchSize = 2

	require.NoError(t, job.Handle(context.Background(), NewExportPurgeTask()))
	require.Equal(t, []int{2, 2, 2}, purger.limits)
}

type stubStores struct{ stores []ledger.Store }

func (s stubStores) ActiveStores(_ context.Context, tenantID int64) ([]ledger.Store, error) {
	if tenantID != 0 {
		return nil, errors.New("expected all tenants")
	}
	return s.stores, nil
}

type stubEvaluator struct {
	queries []analytics.ScopedQuery
	fail    map[int64]bool
}

func (s *stubEvaluator) Health(_ context.Context, q analytics.ScopedQuery) (health.Report, error) {
	s.queries = append(s.queries, q)
	if s.fail[*q.StoreID] {
		return health.Report{}, errors.New("db timeout")
	}
	return health.Report{Score: 75, Signals: []health.Signal{{Rule: "revenue_drop_wow", Level: health.LevelAlert}}}, nil
}

func TestHealthScanEvaluatesEveryStoreInLocalTime(t *testing.T) {
	stores := stubStores{stores: []ledger.Store{
		{ID: 3, TenantID: 7, Timezone: "Asia/Jakarta"},
		{ID: 4, TenantID: 8, Timezone: "not/a_zone"},
	}}
	eval := &stubEvaluator{fail: map[int64]bool{}}
	job := NewHealthScanJob(stores, eval, nil, testMetrics())
	job.clock = func() time.Time { return time.Date(2025, 4, 9, 20, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Handle(context.Background(), NewHealthScanTask()))
	require.Len(t, eval.queries, 2)

	jakarta := eval.queries[0]
	require.Equal(t, int64(7), jakarta.TenantID)
	require.Equal(t, "2025-04-10", jakarta.DateTo)
	require.Equal(t, "2025-03-07", jakarta.DateFrom)
	require.Equal(t, "Asia/Jakarta", jakarta.Timezone)

	fallback := eval.queries[1]
	require.Equal(t, int64(8), fallback.TenantID)
	require.Equal(t, "2025-04-09", fallback.DateTo)
	require.Equal(t, "UTC", fallback.Timezone)
}

func TestHealthScanContinuesPastFailingStore(t *testing.T) {
	stores := stubStores{stores: []ledger.Store{{ID: 3, TenantID: 7}, {ID: 4, TenantID: 7}}}
	eval := &stubEvaluator{fail: map[int64]bool{3: true}}
	job := NewHealthScanJob(stores, eval, nil, testMetrics())

	err := job.Handle(context.Background(), NewHealthScanTask())
	require.Error(t, err)
	require.Contains(t, err.Error(), "store 3")
	require.Len(t, eval.queries, 2)
}

func TestInstrumentRecordsOutcome(t *testing.T) {
	handler := Instrument(testMetrics(), "export_generate", func(context.Context, *asynq.Task) error {
		return asynq.SkipRetry
	})
	require.ErrorIs(t, handler(context.Background(), asynq.NewTask(TaskExportGenerate, nil)), asynq.SkipRetry)
}

func TestClientEnqueuesOnExpectedQueues(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client, err := NewClient(opts)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	info, err := client.EnqueueCOGSBackfill(context.Background(), cogs.BackfillRequest{TenantID: 7})
	require.NoError(t, err)
	require.Equal(t, QueueDefault, info.Queue)
	require.Equal(t, 3, info.MaxRetry)

	_, err = client.EnqueueCOGSBackfill(context.Background(), cogs.BackfillRequest{TenantID: 7})
	require.ErrorIs(t, err, asynq.ErrDuplicateTask)

	info, err = client.EnqueueExportGenerate(context.Background(), ExportGeneratePayload{TenantID: 7})
	require.NoError(t, err)
	require.Equal(t, QueueExports, info.Queue)
	require.Equal(t, 0, info.MaxRetry)
}

func TestJobsHealthEndpoint(t *testing.T) {
	h := NewHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, QueueDefault, body.Queues[0].Queue)
	require.Equal(t, QueueExports, body.Queues[1].Queue)
	require.Zero(t, body.Queues[1].Pending)
}
