package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
)

// BackfillMode enumerates supported execution strategies.
type BackfillMode string

const (
	// BackfillModeDry counts lines that would change without writing.
	BackfillModeDry BackfillMode = "dry"
	// BackfillModeApply writes snapshots after confirmation.
	BackfillModeApply BackfillMode = "apply"
)

// Exit codes returned by BackfillCommand.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitPending = 10
)

// BackfillRunner executes one scoped backfill.
type BackfillRunner interface {
	Run(ctx context.Context, req cogs.BackfillRequest) (cogs.BackfillResult, error)
}

// BackfillOptions configures the backfill command execution.
type BackfillOptions struct {
	TenantID   int64
	StoreID    int64
	From       string
	To         string
	Timezone   string
	BatchSize  int
	Mode       BackfillMode
	Yes        bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
	Confirm    func(io.Reader, io.Writer) (bool, error)
}

// BackfillSummary captures the structured reporting outcome.
type BackfillSummary struct {
	TenantID int64               `json:"tenant_id"`
	StoreID  *int64              `json:"store_id,omitempty"`
	Mode     BackfillMode        `json:"mode"`
	From     string              `json:"from,omitempty"`
	To       string              `json:"to,omitempty"`
	Result   cogs.BackfillResult `json:"result"`
}

// BackfillCLI drives COGS backfills from the command line.
type BackfillCLI struct {
	runner BackfillRunner
}

// NewBackfillCLI constructs the command around runner.
func NewBackfillCLI(runner BackfillRunner) (*BackfillCLI, error) {
	if runner == nil {
		return nil, errors.New("cogs backfill: runner required")
	}
	return &BackfillCLI{runner: runner}, nil
}

// BackfillCommand runs the backfill. A dry run that finds lines to repair exits with
// ExitPending so scripts can gate an apply run on it.
func (c *BackfillCLI) BackfillCommand(ctx context.Context, opts BackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = BackfillModeDry
	}
	mode := BackfillMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case BackfillModeDry, BackfillModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "cogs backfill: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return ExitError
	}

	req := cogs.BackfillRequest{
		TenantID:  opts.TenantID,
		From:      strings.TrimSpace(opts.From),
		To:        strings.TrimSpace(opts.To),
		Timezone:  strings.TrimSpace(opts.Timezone),
		BatchSize: opts.BatchSize,
		DryRun:    mode == BackfillModeDry,
	}
	if opts.StoreID > 0 {
		store := opts.StoreID
		req.StoreID = &store
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintf(opts.Stderr, "cogs backfill: %v\n", err)
		return ExitError
	}

	if mode == BackfillModeApply && !opts.Yes {
		confirm := opts.Confirm
		if confirm == nil {
			confirm = defaultBackfillConfirm
		}
		ok, err := confirm(opts.Stdin, opts.Stdout)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "cogs backfill: confirmation failed: %v\n", err)
			return ExitError
		}
		if !ok {
			fmt.Fprintln(opts.Stderr, "cogs backfill: cancelled by user")
			return ExitError
		}
	}

	result, err := c.runner.Run(ctx, req)
	if err != nil {
		if errors.Is(err, cogs.ErrBackfillInProgress) {
			fmt.Fprintln(opts.Stderr, "cogs backfill: another backfill holds this scope, try again later")
			return ExitError
		}
		fmt.Fprintf(opts.Stderr, "cogs backfill: %v\n", err)
		return ExitError
	}

	summary := BackfillSummary{
		TenantID: req.TenantID,
		StoreID:  req.StoreID,
		Mode:     mode,
		From:     req.From,
		To:       req.To,
		Result:   result,
	}
	if err := writeBackfillOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "cogs backfill: %v\n", err)
		return ExitError
	}
	if mode == BackfillModeDry && result.Pending > 0 {
		return ExitPending
	}
	return ExitOK
}

func writeBackfillOutput(opts BackfillOptions, summary BackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderBackfillHuman(opts.Stdout, summary)
	return nil
}

func renderBackfillHuman(out io.Writer, summary BackfillSummary) {
	scope := "all stores"
	if summary.StoreID != nil {
		scope = fmt.Sprintf("store %d", *summary.StoreID)
	}
	window := "all time"
	if summary.From != "" || summary.To != "" {
		window = fmt.Sprintf("%s to %s", orOpen(summary.From), orOpen(summary.To))
	}
	res := summary.Result
	fmt.Fprintf(out, "COGS backfill (%s) for tenant %d, %s, %s\n", summary.Mode, summary.TenantID, scope, window)
	fmt.Fprintf(out, "Scanned %d line(s) in %d batch(es).\n", res.Scanned, res.Batches)
	if summary.Mode == BackfillModeDry {
		fmt.Fprintf(out, "Would update: %d\n", res.Pending)
	} else {
		fmt.Fprintf(out, "Updated: %d\n", res.Updated)
	}
	if res.SkippedNoVariant > 0 || res.SkippedNonPositive > 0 {
		fmt.Fprintf(out, "Skipped: %d without variant cost, %d non-positive\n", res.SkippedNoVariant, res.SkippedNonPositive)
	}
}

func orOpen(date string) string {
	if date == "" {
		return "open"
	}
	return date
}

func defaultBackfillConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply COGS backfill? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
