package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/cmd/odyssey/cli"
	analytichttp "github.com/odyssey-erp/odyssey-pos/internal/analytics/http"
	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

const usage = `usage: odyssey [command] [flags]

commands:
  serve           run the HTTP API (default)
  cogs-backfill   backfill missing cost snapshots for a tenant
  jobs trigger    enqueue a scheduled job now (%s)
  jobs stats      print queue statistics
  token           mint a bearer token for local testing
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	code := 2
	switch command {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "cogs-backfill":
		code = runBackfill(ctx, cfg, logger, args)
	case "jobs":
		code = runJobs(ctx, cfg, args)
	case "token":
		code = mintToken(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, usage, strings.Join(cli.TriggerableJobs, ", "))
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("wire components", slog.Any("error", err))
		return 1
	}
	defer c.Close()

	authenticator, err := app.NewAuthenticator(cfg.AuthJWTSecret)
	if err != nil {
		logger.Error("init authenticator", slog.Any("error", err))
		return 1
	}

	inspector := asynq.NewInspector(cfg.RedisOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	analyticsHandler := analytichttp.NewHandler(logger, c.Analytics, c.Exports, c.Queue, analytichttp.Config{
		MaxRangeDays:     cfg.AnalyticsMaxRangeDays,
		ExportsPerMinute: cfg.ExportRatePerMinute,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Auth:             authenticator,
		JobHandler:       jobs.NewHandler(inspector, logger),
		AnalyticsHandler: analyticsHandler,
		Metrics:          c.Metrics,
		Dependencies: []app.Dependency{
			{Name: "postgres", Check: c.Pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func runBackfill(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("cogs-backfill", flag.ContinueOnError)
	var opts cli.BackfillOptions
	var mode string
	fs.Int64Var(&opts.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&opts.StoreID, "store", 0, "restrict to one store")
	fs.StringVar(&opts.From, "from", "", "first local date, YYYY-MM-DD")
	fs.StringVar(&opts.To, "to", "", "last local date, YYYY-MM-DD")
	fs.StringVar(&opts.Timezone, "tz", "UTC", "IANA zone for --from/--to")
	fs.IntVar(&opts.BatchSize, "batch", 0, "lines per batch (default from BACKFILL_BATCH_SIZE)")
	fs.StringVar(&mode, "mode", string(cli.BackfillModeDry), "dry or apply")
	fs.BoolVar(&opts.Yes, "yes", false, "skip the apply confirmation")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}
	opts.Mode = cli.BackfillMode(mode)

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("wire components", slog.Any("error", err))
		return cli.ExitError
	}
	defer c.Close()

	command, err := cli.NewBackfillCLI(c.Backfill)
	if err != nil {
		logger.Error("init backfill", slog.Any("error", err))
		return cli.ExitError
	}
	return command.BackfillCommand(ctx, opts)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, usage, strings.Join(cli.TriggerableJobs, ", "))
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisOpts())
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "jobs trigger: expected one of %s\n", strings.Join(cli.TriggerableJobs, ", "))
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, usage, strings.Join(cli.TriggerableJobs, ", "))
		return 2
	}
}

func mintToken(cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	var scope shared.Scope
	var role string
	var store int64
	var ttl time.Duration
	fs.Int64Var(&scope.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&store, "store", 0, "store id for store-bound roles")
	fs.StringVar(&role, "role", string(shared.RoleOwner), "owner, admin, manager or cashier")
	fs.StringVar(&scope.UserID, "sub", "cli", "subject recorded on exports")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	scope.Role = shared.ParseRole(role)
	if store > 0 {
		scope.StoreID = &store
	}
	if scope.TenantID <= 0 || (!scope.TenantWide() && scope.StoreID == nil) {
		fmt.Fprintln(os.Stderr, "token: --tenant is required, and --store for store-bound roles")
		return 2
	}

	authenticator, err := app.NewAuthenticator(cfg.AuthJWTSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	token, err := authenticator.Sign(scope, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, token)
	return 0
}
