package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	if opts.Addr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerableJobs lists the scheduled jobs that may be run on demand.
var TriggerableJobs = []string{
	jobs.TaskCOGSBackfillSweep,
	jobs.TaskExportPurge,
	jobs.TaskHealthScan,
}

// Trigger enqueues a scheduled job by task type, outside its cron slot.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := scheduledTask(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

func scheduledTask(name string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskCOGSBackfillSweep:
		return jobs.NewCOGSBackfillSweepTask(), nil
	case jobs.TaskExportPurge:
		return jobs.NewExportPurgeTask(), nil
	case jobs.TaskHealthScan:
		return jobs.NewHealthScanTask(), nil
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports metrics for every application queue. Queues that have never
// received a task report zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueDefault, jobs.QueueExports}
	stats := make([]QueueStats, 0, len(queues))
	for _, name := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(name)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, err
		}
		row := QueueStats{Queue: name}
		if info != nil {
			row.Pending = info.Pending
			row.Active = info.Active
			row.Scheduled = info.Scheduled
			row.Retry = info.Retry
			row.Archived = info.Archived
		}
		stats = append(stats, row)
	}
	return stats, nil
}
