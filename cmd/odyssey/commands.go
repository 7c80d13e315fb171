package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-treasury/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-treasury/internal/app"
	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/jobs"
)

const usage = `usage:
  odyssey                          start the HTTP server
  odyssey fx import --source FILE [--mode dry|apply] [--json]
  odyssey fx gaps [--date YYYY-MM-DD] [--json]
  odyssey jobs trigger NAME [KIND]
  odyssey jobs stats`

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	switch {
	case len(args) >= 2 && args[0] == "fx":
		return runFX(ctx, cfg, logger, args[1], args[2:])
	case len(args) >= 2 && args[0] == "jobs":
		return runJobs(ctx, cfg, args[1], args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func runFX(ctx context.Context, cfg *app.Config, logger *slog.Logger, sub string, args []string) int {
	fs := flag.NewFlagSet("fx "+sub, flag.ContinueOnError)
	source := fs.String("source", "", "CSV file of account_id,date,rate (- for stdin)")
	mode := fs.String("mode", string(cli.FXImportModeDry), "dry or apply")
	date := fs.String("date", "", "date to check, defaults to today")
	jsonOut := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(2), db.WithApplicationName("odyssey-treasury-cli"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	ops, err := cli.NewFXOpsCLI(fx.NewAccountStore(pool), cfg.BaseCurrency)
	if err != nil {
		logger.Error("fx cli", slog.Any("error", err))
		return 1
	}
	switch sub {
	case "import":
		return ops.ImportCommand(ctx, cli.FXImportOptions{Source: *source, Mode: cli.FXImportMode(*mode), JSONOutput: *jsonOut})
	case "gaps":
		return ops.GapsCommand(ctx, cli.FXGapsOptions{Date: *date, JSONOutput: *jsonOut})
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, sub string, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(jobs.RedisOpts(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer jobsCLI.Close()

	switch {
	case sub == "trigger" && (len(args) == 1 || len(args) == 2):
		kind := ""
		if len(args) == 2 {
			kind = args[1]
		}
		info, err := jobsCLI.Trigger(ctx, args[0], kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case sub == "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}
