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

	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/parser"
)

func inboxCommands() *cli.Command {
	return &cli.Command{
		Name:  "inbox",
		Usage: "Notification mailbox commands",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "inbox",
				Usage:   "Path to the SQLite mailbox",
				EnvVars: []string{"INBOX_PATH"},
				Value:   "myfinance-inbox.db",
			},
		},
		Subcommands: []*cli.Command{
			inboxListCommand(),
			inboxSearchCommand(),
			inboxImportCommand(),
			inboxParseCommand(),
			inboxServeSMTPCommand(),
		},
	}
}

// getInbox opens the mailbox named by the inbox flag.
func getInbox(c *cli.Context) (*inbox.SQLiteStore, error) {
	path := c.String("inbox")
	if path == "" {
		return nil, fmt.Errorf("inbox path is required (set INBOX_PATH env var or use --inbox)")
	}
	ctx := context.Background()
	mb, err := inbox.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := mb.EnsureSchema(ctx); err != nil {
		mb.Close()
		return nil, err
	}
	return mb, nil
}

func inboxListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List the most recent messages, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of messages to show",
			},
		},
		Action: func(c *cli.Context) error {
			mb, err := getInbox(c)
			if err != nil {
				return err
			}
			defer mb.Close()

			msgs, err := mb.List(context.Background(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(msgs)
			}
			printMessages(os.Stdout, msgs)
			fmt.Fprintf(os.Stderr, "\nTotal: %d messages\n", len(msgs))
			return nil
		},
	}
}

func inboxSearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Show what a source query would fetch",
		ArgsUsage: "QUERY",
		Description: `Runs a query in the same search syntax the sources use, for example
'from:smbc.co.jp subject:三井住友銀行 newer_than:1d is:unread'.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max",
				Value: 20,
				Usage: "Maximum number of messages, as a source would apply it",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("query is required")
			}

			mb, err := getInbox(c)
			if err != nil {
				return err
			}
			defer mb.Close()

			msgs, err := mb.Search(context.Background(), inbox.Query{Raw: c.Args().Get(0), MaxItems: c.Int("max")})
			if err != nil {
				return fmt.Errorf("failed to search messages: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(msgs)
			}
			printMessages(os.Stdout, msgs)
			fmt.Fprintf(os.Stderr, "\nTotal: %d messages\n", len(msgs))
			return nil
		},
	}
}

func printMessages(out io.Writer, msgs []*inbox.Message) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECEIVED\tFROM\tSUBJECT\tUNREAD")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
			m.ID,
			m.ReceivedAt.Format(time.RFC3339),
			m.From,
			m.Subject,
			m.Unread,
		)
	}
	w.Flush()
}

func inboxImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Store raw RFC 822 files as unread messages",
		ArgsUsage: "FILE.eml [FILE.eml...]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("at least one file is required")
			}

			mb, err := getInbox(c)
			if err != nil {
				return err
			}
			defer mb.Close()

			ctx := context.Background()
			type imported struct {
				File     string `json:"file"`
				ID       string `json:"id"`
				Subject  string `json:"subject"`
				Inserted bool   `json:"inserted"`
			}
			results := make([]imported, 0, c.NArg())
			for _, path := range c.Args().Slice() {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				msg, err := inbox.ParseRFC822(raw)
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", path, err)
				}
				inserted, err := mb.Insert(ctx, msg, raw)
				if err != nil {
					return fmt.Errorf("failed to store %s: %w", path, err)
				}
				results = append(results, imported{File: path, ID: msg.ID, Subject: msg.Subject, Inserted: inserted})
			}

			if c.Bool("json") {
				return outputJSON(results)
			}
			for _, r := range results {
				if r.Inserted {
					fmt.Printf("✓ %s imported as %s (%s)\n", r.File, r.ID, r.Subject)
				} else {
					fmt.Printf("- %s already present, skipped\n", r.File)
				}
			}
			return nil
		},
	}
}

func inboxParseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Run the parsers against a raw RFC 822 file without storing anything",
		ArgsUsage: "FILE.eml",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "funds",
				Usage:   "Fund mapping file; the built-in table is used when unset",
				EnvVars: []string{"FUND_MAPPING_FILE"},
			},
			&cli.StringFlag{
				Name:  "parser",
				Usage: "Force one parser (fund, bank, rakuten, sbi, card) instead of classifying",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("file is required")
			}

			funds := config.DefaultFunds
			if path := c.String("funds"); path != "" {
				var err error
				if funds, err = config.LoadFunds(path); err != nil {
					return err
				}
			}

			raw, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			msg, err := inbox.ParseRFC822(raw)
			if err != nil {
				return fmt.Errorf("failed to parse message: %w", err)
			}

			p, res, err := parseMessage(parser.DefaultRegistry(extract.NewFundTable(funds)), c.String("parser"), msg)
			if err != nil {
				return err
			}

			out := map[string]interface{}{
				"subject":     msg.Subject,
				"from":        msg.From,
				"parser":      nil,
				"transaction": res.Transaction,
				"missing":     res.Missing,
			}
			if p != nil {
				out["parser"] = p.Name()
			}
			if c.Bool("json") {
				return outputJSON(out)
			}

			fmt.Printf("Subject: %s\n", msg.Subject)
			fmt.Printf("From:    %s\n", msg.From)
			if p == nil {
				fmt.Println("No parser accepts this message")
				return nil
			}
			fmt.Printf("Parser:  %s\n", p.Name())
			if res.Abstained() {
				fmt.Printf("Abstained: missing %s\n", res.Missing)
				return nil
			}
			fmt.Println()
			return outputJSON(res.Transaction)
		},
	}
}

// parseMessage classifies msg, or applies the named parser when one is
// forced. A nil parser means nothing accepted the message.
func parseMessage(reg *parser.Registry, name string, msg *inbox.Message) (parser.Parser, parser.Result, error) {
	if name == "" {
		p, res, err := reg.Parse(msg)
		if err != nil {
			return p, res, fmt.Errorf("parser failed: %w", err)
		}
		return p, res, nil
	}
	p, err := reg.Get(name)
	if err != nil {
		return nil, parser.Result{}, err
	}
	res, err := p.Parse(msg)
	if err != nil {
		return p, res, fmt.Errorf("parser %s failed: %w", name, err)
	}
	return p, res, nil
}

func inboxServeSMTPCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve-smtp",
		Usage: "Accept forwarded notification mail into the mailbox",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address",
				EnvVars: []string{"SMTP_ADDR"},
				Value:   ":2525",
			},
			&cli.StringFlag{
				Name:    "domain",
				Usage:   "Domain announced in the greeting",
				EnvVars: []string{"SMTP_DOMAIN"},
				Value:   "localhost",
			},
			&cli.StringFlag{
				Name:    "username",
				Usage:   "Require AUTH PLAIN with this user",
				EnvVars: []string{"SMTP_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Password for --username",
				EnvVars: []string{"SMTP_PASSWORD"},
			},
		},
		Action: func(c *cli.Context) error {
			if (c.String("username") == "") != (c.String("password") == "") {
				return fmt.Errorf("--username and --password must be set together")
			}

			mb, err := getInbox(c)
			if err != nil {
				return err
			}
			defer mb.Close()

			logger := setupLogger(c.String("log-level"))
			srv := inbox.NewSMTPServer(inbox.SMTPConfig{
				Addr:     c.String("addr"),
				Domain:   c.String("domain"),
				Username: c.String("username"),
				Password: c.String("password"),
			}, mb, nil, logger)

			errs := make(chan error, 1)
			go func() {
				errs <- srv.ListenAndServe()
			}()
			fmt.Fprintf(os.Stderr, "Accepting mail on %s (Ctrl+C to stop)\n", c.String("addr"))

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errs:
				return fmt.Errorf("smtp server failed: %w", err)
			case <-sig:
				return srv.Close()
			}
		},
	}
}
