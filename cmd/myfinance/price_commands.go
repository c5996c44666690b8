package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/myfinance/service/app"
	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/price"
)

func priceCommands() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "Fund price lookup commands",
		Subcommands: []*cli.Command{
			priceLookupCommand(),
			priceExtractCommand(),
			priceQuantityCommand(),
		},
	}
}

// parseDay reads a YYYY-MM-DD or YYYY/MM/DD date in local time.
func parseDay(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", ledger.DateLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
}

func priceLookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Fetch the price published for a fund on a date",
		ArgsUsage: "SECURITY_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "date",
				Aliases: []string{"d"},
				Usage:   "Trade date (YYYY-MM-DD); the latest price in the lookback window when unset",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("security id is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := app.NewPriceClient(cfg, nil, setupLogger(c.String("log-level")))

			ctx := context.Background()
			id := c.Args().Get(0)
			var lookup price.Lookup
			if d := c.String("date"); d != "" {
				day, err := parseDay(d)
				if err != nil {
					return err
				}
				lookup, err = client.LookupPrice(ctx, id, day)
				if err != nil {
					return err
				}
			} else {
				lookup, err = client.LatestPrice(ctx, id, time.Now())
				if err != nil {
					return err
				}
			}

			if c.Bool("json") {
				return outputJSON(lookup)
			}
			if !lookup.Available {
				fmt.Printf("No price for %s on %s: %s\n", id, lookup.Date.Format(ledger.DateLayout), lookup.Reason)
				return nil
			}
			fmt.Printf("Price:    %s\n", yen(lookup.Price))
			fmt.Printf("Date:     %s\n", lookup.Date.Format(ledger.DateLayout))
			fmt.Printf("Strategy: %s\n", lookup.Strategy)
			fmt.Printf("Source:   %s\n", lookup.URL)
			return nil
		},
	}
}

func priceExtractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Run the price extraction strategies against a saved history page",
		ArgsUsage: "FILE.html",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "date",
				Aliases:  []string{"d"},
				Usage:    "Trade date (YYYY-MM-DD)",
				Required: true,
			},
			&cli.Int64Flag{
				Name:    "min",
				Usage:   "Lowest plausible price",
				EnvVars: []string{"MIN_PLAUSIBLE_PRICE"},
				Value:   100,
			},
			&cli.Int64Flag{
				Name:    "max",
				Usage:   "Highest plausible price",
				EnvVars: []string{"MAX_PLAUSIBLE_PRICE"},
				Value:   999999,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("file is required")
			}
			day, err := parseDay(c.String("date"))
			if err != nil {
				return err
			}
			doc, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			v, strategy, ok := price.ExtractPrice(string(doc), day, price.Band{Min: c.Int64("min"), Max: c.Int64("max")})

			if c.Bool("json") {
				return outputJSON(price.Lookup{Price: v, Date: day, Available: ok, Strategy: strategy})
			}
			if !ok {
				fmt.Printf("No price found for %s\n", day.Format(ledger.DateLayout))
				return nil
			}
			fmt.Printf("%s (%s)\n", yen(v), strategy)
			return nil
		},
	}
}

func priceQuantityCommand() *cli.Command {
	return &cli.Command{
		Name:      "quantity",
		Usage:     "Compute the units bought for an amount at a price",
		ArgsUsage: "AMOUNT PRICE",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:    "basis",
				Usage:   "Units per quoted price",
				EnvVars: []string{"UNITS_PER_SHARE_BASIS"},
				Value:   price.DefaultUnitsPerShareBasis,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("amount and price are required")
			}
			amount, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(0), err)
			}
			unitPrice, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", c.Args().Get(1), err)
			}

			q, err := price.CalculateQuantity(amount, unitPrice, c.Int64("basis"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]int64{
					"amount":   amount,
					"price":    unitPrice,
					"basis":    c.Int64("basis"),
					"quantity": q,
				})
			}
			fmt.Printf("%d units (%s at %s per %d)\n", q, yen(amount), yen(unitPrice), c.Int64("basis"))
			return nil
		},
	}
}
