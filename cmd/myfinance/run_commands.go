package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/myfinance/service/app"
	"github.com/brojonat/myfinance/service/reconcile"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one reconciliation pass in the foreground",
		Description: `Fetches unread notifications for every configured source, parses them,
prices fund purchases and writes new ledger records. With --dry-run nothing is
written, marked or published; the summary shows what would have happened.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "Run a single source (fund, bank, rakuten, sbi, card)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Parse and price without writing, marking or publishing",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "List every item, not only the ones that need attention",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(c.String("log-level"))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipeline, err := app.OpenPipeline(ctx, cfg, c.Bool("dry-run"), nil, logger)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			var summary *reconcile.RunSummary
			if source := c.String("source"); source != "" {
				ss, err := pipeline.Orchestrator.RunSource(ctx, source)
				if err != nil {
					return fmt.Errorf("reconcile %s: %w", source, err)
				}
				summary = &reconcile.RunSummary{Sources: []*reconcile.SourceSummary{ss}, Elapsed: ss.Elapsed}
			} else {
				summary, err = pipeline.Orchestrator.Run(ctx)
				if err != nil {
					return fmt.Errorf("reconcile: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(summary)
			}
			printRunSummary(os.Stdout, summary, c.Bool("verbose"))
			if c.Bool("dry-run") {
				fmt.Fprintln(os.Stderr, "\nDry run: nothing was written")
			}
			return nil
		},
	}
}

func printRunSummary(out io.Writer, summary *reconcile.RunSummary, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tFETCHED\tWRITTEN\tDUPLICATE\tPROCESSED\tABSTAINED\tNOT YET\tFAULTED\tELAPSED")
	for _, s := range summary.Sources {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Source,
			s.Fetched,
			s.Count(reconcile.OutcomeWritten),
			s.Count(reconcile.OutcomeDuplicate),
			s.Count(reconcile.OutcomeAlreadyProcessed),
			s.Count(reconcile.OutcomeAbstained),
			s.Count(reconcile.OutcomeNotYetAvailable),
			s.Count(reconcile.OutcomeFaulted),
			s.Elapsed.Round(time.Millisecond),
		)
	}
	w.Flush()

	var items []reconcile.ItemResult
	var sources []string
	for _, s := range summary.Sources {
		for _, it := range s.Items {
			if verbose || !it.Outcome.MarksProcessed() {
				items = append(items, it)
				sources = append(sources, s.Source)
			}
		}
	}
	if len(items) == 0 {
		return
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tOUTCOME\tMESSAGE\tSUBJECT\tREASON")
	for i, it := range items {
		reason := it.Reason
		if it.Missing != "" {
			reason = fmt.Sprintf("missing %s", it.Missing)
		}
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sources[i], it.Outcome, it.Key, it.Subject, reason)
	}
	w.Flush()
}
