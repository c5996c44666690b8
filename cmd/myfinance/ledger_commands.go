package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/myfinance/service/app"
	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/db"
	"github.com/brojonat/myfinance/service/ledger"
)

func ledgerCommands() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Ledger inspection and maintenance commands",
		Subcommands: []*cli.Command{
			ledgerRecordsCommand(),
			ledgerPortfolioCommand(),
			ledgerBankCommand(),
			ledgerAdjustCommand(),
			ledgerExpensesCommand(),
		},
	}
}

// getLedger opens the Postgres ledger named by DATABASE_URL.
func getLedger(ctx context.Context) (*db.Store, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, closer, err := app.OpenLedger(ctx, cfg, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, cfg, closer, nil
}

func ledgerRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:    "records",
		Aliases: []string{"ls"},
		Usage:   "List fund purchases and security trades",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq predicate each record must satisfy (repeatable), e.g. '.amount > 10000'",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, _, closer, err := getLedger(ctx)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListFundRecords(ctx)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			records, err = filterRows(filter, records)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(records)
			}
			printFundRecords(os.Stdout, records)
			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}

func printFundRecords(out io.Writer, records []ledger.FundRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tKIND\tNAME\tTICKER\tAMOUNT\tUNIT PRICE\tQUANTITY")
	for _, r := range records {
		kind := r.Kind
		if r.Action != "" {
			kind = fmt.Sprintf("%s/%s", r.Kind, r.Action)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Date.Format(ledger.DateLayout),
			kind,
			r.Name,
			r.Ticker,
			yen(r.Amount),
			r.UnitPrice.String(),
			r.Quantity.String(),
		)
	}
	w.Flush()
}

func ledgerPortfolioCommand() *cli.Command {
	return &cli.Command{
		Name:  "portfolio",
		Usage: "Summarize fund holdings valued at the latest published price",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Skip price lookups and show invested amounts only",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			store, cfg, closer, err := getLedger(ctx)
			if err != nil {
				return err
			}
			defer closer()

			logger := setupLogger(c.String("log-level"))
			var prices ledger.PriceSource
			if !c.Bool("offline") {
				prices = app.NewPriceClient(cfg, nil, logger)
			}

			holdings, err := ledger.PortfolioSummary(ctx, store, prices, time.Now(), cfg.UnitsPerShareBasis, logger)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(holdings)
			}
			printHoldings(os.Stdout, holdings)
			return nil
		},
	}
}

func printHoldings(out io.Writer, holdings []ledger.Holding) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FUND\tTICKER\tINVESTED\tUNITS\tLATEST\tVALUE\tP/L\tRATE\tRECORDS")
	var invested int64
	for _, h := range holdings {
		invested += h.TotalInvested
		rate := stringOrDash(h.ProfitLossRate)
		if rate != "-" {
			rate += "%"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
			h.Name,
			h.Ticker,
			yen(h.TotalInvested),
			h.TotalUnits,
			yenOrDash(h.LatestPrice),
			yenOrDash(h.CurrentValue),
			yenOrDash(h.ProfitLoss),
			rate,
			h.TradeCount,
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal invested: %s across %d funds\n", yen(invested), len(holdings))
}

func ledgerBankCommand() *cli.Command {
	return &cli.Command{
		Name:  "bank",
		Usage: "Show the current bank balance and recent movements",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   10,
				Usage:   "Number of recent movements to show (0 for none)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			store, _, closer, err := getLedger(ctx)
			if err != nil {
				return err
			}
			defer closer()

			balance, err := store.CurrentBankBalance(ctx)
			if err != nil {
				return fmt.Errorf("failed to read balance: %w", err)
			}
			var records []ledger.BankRecord
			if n := c.Int("limit"); n > 0 {
				records, err = store.ListBankRecords(ctx, n)
				if err != nil {
					return fmt.Errorf("failed to list bank records: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"balance": balance,
					"records": records,
				})
			}
			printBalance(os.Stdout, balance)
			if len(records) > 0 {
				fmt.Println()
				printBankRecords(os.Stdout, records)
			}
			return nil
		},
	}
}

func printBalance(out io.Writer, b ledger.Balance) {
	updated := "never"
	if b.LastUpdated != nil {
		updated = b.LastUpdated.Format(ledger.DateLayout)
	}
	fmt.Fprintf(out, "Balance:      %s\n", yen(b.Balance))
	fmt.Fprintf(out, "Last updated: %s\n", updated)
}

func printBankRecords(out io.Writer, records []ledger.BankRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tDESCRIPTION\tDEPOSIT\tWITHDRAWAL\tBALANCE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Date.Format(ledger.DateLayout),
			r.Description,
			yen(r.Deposit),
			yen(r.Withdrawal),
			yen(r.Balance),
		)
	}
	w.Flush()
}

func ledgerAdjustCommand() *cli.Command {
	return &cli.Command{
		Name:  "adjust",
		Usage: "Correct the bank balance to match the real account",
		Description: `Appends a synthetic deposit or withdrawal so the running balance equals
--amount. Nothing is written when the balance already matches.`,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Target balance in yen",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			store, _, closer, err := getLedger(ctx)
			if err != nil {
				return err
			}
			defer closer()

			record, err := store.AdjustBankBalance(ctx, c.Int64("amount"), time.Now())
			if err != nil {
				return fmt.Errorf("failed to adjust balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{"adjustment": record})
			}
			if record == nil {
				fmt.Printf("✓ Balance already %s, nothing to adjust\n", yen(c.Int64("amount")))
				return nil
			}
			fmt.Printf("✓ Balance adjusted to %s\n", yen(record.Balance))
			if record.Deposit > 0 {
				fmt.Printf("  Deposit:    %s\n", yen(record.Deposit))
			} else {
				fmt.Printf("  Withdrawal: %s\n", yen(record.Withdrawal))
			}
			return nil
		},
	}
}

func ledgerExpensesCommand() *cli.Command {
	return &cli.Command{
		Name:  "expenses",
		Usage: "List recent card charges",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of charges to show",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq predicate each charge must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, _, closer, err := getLedger(ctx)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListExpenseRecords(ctx, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list expenses: %w", err)
			}
			records, err = filterRows(filter, records)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(records)
			}
			printExpenses(os.Stdout, records)
			fmt.Fprintf(os.Stderr, "\nTotal: %d charges\n", len(records))
			return nil
		},
	}
}

func printExpenses(out io.Writer, records []ledger.ExpenseRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tMERCHANT\tAMOUNT\tMETHOD\tPRELIMINARY")
	var total int64
	for _, r := range records {
		total += r.Amount
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
			r.Date.Format(ledger.DateLayout),
			r.Merchant,
			yen(r.Amount),
			r.PaymentMethod,
			r.Preliminary,
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\nSum: %s\n", yen(total))
}
