package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

type stubRunner struct {
	calls  []cogs.BackfillRequest
	result cogs.BackfillResult
	err    error
}

func (s *stubRunner) Run(_ context.Context, req cogs.BackfillRequest) (cogs.BackfillResult, error) {
	s.calls = append(s.calls, req)
	res := s.result
	res.DryRun = req.DryRun
	return res, s.err
}

func TestBackfillCommandDryRunReportsPending(t *testing.T) {
	runner := &stubRunner{result: cogs.BackfillResult{Scanned: 12, Pending: 9, SkippedNoVariant: 3, Batches: 1}}
	cli, err := NewBackfillCLI(runner)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), BackfillOptions{
		TenantID:   7,
		StoreID:    3,
		From:       "2025-01-01",
		To:         "2025-01-31",
		Timezone:   "Asia/Jakarta",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, ExitPending, exitCode)
	require.Empty(t, stderr.String())

	require.Len(t, runner.calls, 1)
	require.True(t, runner.calls[0].DryRun)
	require.Equal(t, int64(3), *runner.calls[0].StoreID)
	require.Equal(t, "Asia/Jakarta", runner.calls[0].Timezone)

	var summary BackfillSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, BackfillModeDry, summary.Mode)
	require.Equal(t, 9, summary.Result.Pending)
	require.Equal(t, 3, summary.Result.SkippedNoVariant)
}

func TestBackfillCommandDryRunCleanExitsZero(t *testing.T) {
	runner := &stubRunner{result: cogs.BackfillResult{Scanned: 0}}
	cli, err := NewBackfillCLI(runner)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), BackfillOptions{TenantID: 7, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "tenant 7, all stores, all time")
	require.Contains(t, stdout.String(), "Would update: 0")
}

func TestBackfillCommandApplyRequiresConfirmation(t *testing.T) {
	runner := &stubRunner{result: cogs.BackfillResult{Scanned: 4, Updated: 4, Batches: 1}}
	cli, err := NewBackfillCLI(runner)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), BackfillOptions{
		TenantID: 7,
		Mode:     BackfillModeApply,
		Stdout:   new(bytes.Buffer),
		Stderr:   stderr,
		Stdin:    strings.NewReader("no\n"),
	})
	require.Equal(t, ExitError, exitCode)
	require.Contains(t, stderr.String(), "cancelled")
	require.Empty(t, runner.calls)

	stdout := new(bytes.Buffer)
	exitCode = cli.BackfillCommand(context.Background(), BackfillOptions{
		TenantID: 7,
		Mode:     "APPLY",
		Stdout:   stdout,
		Stderr:   new(bytes.Buffer),
		Stdin:    strings.NewReader("yes\n"),
	})
	require.Equal(t, ExitOK, exitCode)
	require.Len(t, runner.calls, 1)
	require.False(t, runner.calls[0].DryRun)
	require.Contains(t, stdout.String(), "Updated: 4")
}

func TestBackfillCommandRejectsBadInput(t *testing.T) {
	runner := &stubRunner{}
	cli, err := NewBackfillCLI(runner)
	require.NoError(t, err)

	cases := map[string]BackfillOptions{
		"invalid mode": {TenantID: 7, Mode: "force"},
		"from":         {TenantID: 7, From: "2025-02-01", To: "2025-01-01"},
		"tenant_id":    {TenantID: 0},
		"batch_size":   {TenantID: 7, BatchSize: 9000},
	}
	for want, opts := range cases {
		stderr := new(bytes.Buffer)
		opts.Stdout = new(bytes.Buffer)
		opts.Stderr = stderr
		require.Equal(t, ExitError, cli.BackfillCommand(context.Background(), opts), want)
		require.Contains(t, stderr.String(), want)
	}
	require.Empty(t, runner.calls)
}

func TestBackfillCommandReportsBusyScope(t *testing.T) {
	runner := &stubRunner{err: cogs.ErrBackfillInProgress}
	cli, err := NewBackfillCLI(runner)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), BackfillOptions{
		TenantID: 7,
		Mode:     BackfillModeApply,
		Yes:      true,
		Stdout:   new(bytes.Buffer),
		Stderr:   stderr,
	})
	require.Equal(t, ExitError, exitCode)
	require.Contains(t, stderr.String(), "another backfill holds this scope")
}

func TestJobsTriggerEnqueuesScheduledTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	cli, err := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = cli.Close() }()

	for _, name := range TriggerableJobs {
		info, err := cli.Trigger(context.Background(), name)
		require.NoError(t, err)
		require.Equal(t, name, info.Type)
		require.Equal(t, jobs.QueueDefault, info.Queue)
	}

	_, err = cli.Trigger(context.Background(), jobs.TaskExportGenerate)
	require.ErrorContains(t, err, "unsupported job")
}
