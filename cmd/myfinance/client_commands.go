package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/myfinance/client"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Query a running myfinance server over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"MYFINANCE_SERVER_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 2 * time.Minute,
				Usage: "Request timeout; portfolio valuation fetches prices and can be slow",
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:   "records",
				Usage:  "List fund records",
				Flags:  []cli.Flag{&cli.StringSliceFlag{Name: "jq", Usage: "jq predicate each record must satisfy (repeatable)"}},
				Action: clientRecordsAction,
			},
			{
				Name:   "portfolio",
				Usage:  "Show the valued portfolio summary",
				Action: clientPortfolioAction,
			},
			{
				Name:  "bank",
				Usage: "Show the bank balance",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 0, Usage: "Also list this many recent movements"},
				},
				Action: clientBankAction,
			},
			{
				Name:  "expenses",
				Usage: "List recent card charges",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50, Usage: "Maximum number of charges"},
				},
				Action: clientExpensesAction,
			},
			{
				Name:  "adjust",
				Usage: "Correct the bank balance to a target",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "amount", Aliases: []string{"a"}, Required: true, Usage: "Target balance in yen"},
				},
				Action: clientAdjustAction,
			},
			{
				Name:   "health",
				Usage:  "Check the server",
				Action: clientHealthAction,
			},
			{
				Name:   "reconcile",
				Usage:  "Ask the server to start a reconciliation workflow",
				Action: clientReconcileAction,
			},
		},
	}
}

func newFinanceClient(c *cli.Context) *client.Client {
	httpClient := &http.Client{Timeout: c.Duration("timeout")}
	return client.NewClient(c.String("server"), httpClient, setupLogger(c.String("log-level")))
}

func clientRecordsAction(c *cli.Context) error {
	filter, err := compileJQFilters(c.StringSlice("jq"))
	if err != nil {
		return err
	}

	records, err := newFinanceClient(c).Records(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get records: %w", err)
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
}

func clientPortfolioAction(c *cli.Context) error {
	holdings, err := newFinanceClient(c).Portfolio(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get portfolio: %w", err)
	}
	if c.Bool("json") {
		return outputJSON(holdings)
	}
	printHoldings(os.Stdout, holdings)
	return nil
}

func clientBankAction(c *cli.Context) error {
	ctx := context.Background()
	cl := newFinanceClient(c)

	balance, err := cl.Bank(ctx)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	if n := c.Int("limit"); n > 0 {
		records, err := cl.BankRecords(ctx, n)
		if err != nil {
			return fmt.Errorf("failed to get bank records: %w", err)
		}
		if c.Bool("json") {
			return outputJSON(map[string]interface{}{"balance": balance, "records": records})
		}
		printBalance(os.Stdout, *balance)
		fmt.Println()
		printBankRecords(os.Stdout, records)
		return nil
	}

	if c.Bool("json") {
		return outputJSON(balance)
	}
	printBalance(os.Stdout, *balance)
	return nil
}

func clientExpensesAction(c *cli.Context) error {
	records, err := newFinanceClient(c).Expenses(context.Background(), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to get expenses: %w", err)
	}
	if c.Bool("json") {
		return outputJSON(records)
	}
	printExpenses(os.Stdout, records)
	return nil
}

func clientAdjustAction(c *cli.Context) error {
	adj, err := newFinanceClient(c).AdjustBalance(context.Background(), c.Int64("amount"))
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if c.Bool("json") {
		return outputJSON(adj)
	}
	if adj.Record == nil {
		fmt.Printf("✓ Balance already %s, nothing to adjust\n", yen(adj.Balance.Balance))
		return nil
	}
	fmt.Printf("✓ Balance adjusted to %s\n", yen(adj.Balance.Balance))
	if adj.Record.Deposit > 0 {
		fmt.Printf("  Deposit:    %s\n", yen(adj.Record.Deposit))
	} else {
		fmt.Printf("  Withdrawal: %s\n", yen(adj.Record.Withdrawal))
	}
	return nil
}

func clientHealthAction(c *cli.Context) error {
	h, err := newFinanceClient(c).Health(context.Background())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if c.Bool("json") {
		return outputJSON(h)
	}
	fmt.Printf("✓ %s (version %s)\n", h.Message, h.Version)
	return nil
}

func clientReconcileAction(c *cli.Context) error {
	id, err := newFinanceClient(c).TriggerReconcile(context.Background())
	if err != nil {
		return fmt.Errorf("failed to trigger reconciliation: %w", err)
	}
	if c.Bool("json") {
		return outputJSON(map[string]string{"workflow_id": id})
	}
	fmt.Printf("✓ Reconciliation started: %s\n", id)
	return nil
}
