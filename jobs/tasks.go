package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueExports isolates artifact rendering from maintenance work.
	QueueExports = "exports"

	// TaskExportGenerate renders one requested export.
	TaskExportGenerate = "finance:export_generate"
	// TaskExportPurge deletes artifacts past their availability window.
	TaskExportPurge = "finance:export_purge"
	// TaskCOGSBackfill backfills one tenant/store scope.
	TaskCOGSBackfill = "cogs:backfill"
	// TaskCOGSBackfillSweep fans out backfills for tenants with recent unbacked lines.
	TaskCOGSBackfillSweep = "cogs:backfill_sweep"
	// TaskHealthScan evaluates health signals for every active store.
	TaskHealthScan = "analytics:health_scan"
)

// ExportGeneratePayload identifies the export record to render.
type ExportGeneratePayload struct {
	ExportID uuid.UUID `json:"export_id"`
	TenantID int64     `json:"tenant_id"`
}

// NewExportGenerateTask constructs an export task. Exports never retry automatically;
// failures are recorded on the export row.
func NewExportGenerateTask(payload ExportGeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExportGenerate, data, asynq.MaxRetry(0), asynq.Queue(QueueExports)), nil
}

// NewCOGSBackfillTask validates req and constructs a backfill task. Identical scopes
// enqueued within the uniqueness window collapse into one task.
func NewCOGSBackfillTask(req cogs.BackfillRequest) (*asynq.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCOGSBackfill, data,
		asynq.MaxRetry(3),
		asynq.Queue(QueueDefault),
		asynq.Unique(30*time.Minute),
	), nil
}

// NewCOGSBackfillSweepTask constructs the nightly sweep task.
func NewCOGSBackfillSweepTask() *asynq.Task {
	return asynq.NewTask(TaskCOGSBackfillSweep, nil, asynq.MaxRetry(1), asynq.Queue(QueueDefault))
}

// NewExportPurgeTask constructs the purge task.
func NewExportPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskExportPurge, nil, asynq.MaxRetry(1), asynq.Queue(QueueDefault))
}

// NewHealthScanTask constructs the nightly health scan task.
func NewHealthScanTask() *asynq.Task {
	return asynq.NewTask(TaskHealthScan, nil, asynq.MaxRetry(1), asynq.Queue(QueueDefault))
}
