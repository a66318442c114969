/*
main.go - One-shot auto-payout run

PURPOSE:
  Performs a single auto-payout pass and exits. For deployments that trigger
  the daily run from an external scheduler (cron, Kubernetes CronJob)
  instead of the in-process scheduler of cmd/server.

EXIT CODES:
  0  pass ran; every due venue completed or was skipped
  1  the pass could not start (config, store, processor)
  2  pass ran but at least one venue failed or partially failed

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file
  -json    Print the report as JSON instead of a table

SEE ALSO:
  - payout/autopayout.go: The pass
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/app"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/payout"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	os.Exit(run(*configPath, *asJSON, os.Stdout))
}

func run(configPath string, asJSON bool, out io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopayout: %v\n", err)
		return 1
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})
	log := logging.WithComponent("main")

	a, err := app.Build(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.AutoPayout.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("auto-payout pass failed")
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(api.NewReportDTO(report))
	} else {
		printReport(out, report)
	}

	if report.Failed > 0 || report.PartialFailures > 0 {
		return 2
	}
	return 0
}

func printReport(out io.Writer, r *payout.Report) {
	fmt.Fprintf(out, "run %s for %s: checked %d, due %d, completed %d, partial %d, failed %d, skipped %d\n",
		r.RunID, r.Date, r.Checked, r.Due, r.Completed, r.PartialFailures, r.Failed, r.Skipped)
	if len(r.Venues) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VENUE\tRESULT\tPERIOD\tPAYOUT\tREASON")
	for _, v := range r.Venues {
		period := "-"
		if v.Period != nil {
			period = v.Period.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.VenueID, v.Result, period, v.PayoutID, v.Reason)
	}
	_ = tw.Flush()
}
