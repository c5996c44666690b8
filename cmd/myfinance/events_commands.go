package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/myfinance/service/nats"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Ledger and alert event stream commands",
		Subcommands: []*cli.Command{
			eventsTailCommand(),
		},
	}
}

func eventsTailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream ledger writes and alerts from NATS JetStream",
		Description: `Ledger writes are published to ledger.{fund,trade,bank,expense} and
operator alerts to alerts.{warning,error}.

Example:
  myfinance events tail --subject 'ledger.*' --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringSliceFlag{
				Name:  "subject",
				Usage: "Subject filter (repeatable); every stream subject when unset",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "myfinance-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subjects := c.StringSlice("subject")
			if len(subjects) == 0 {
				subjects = natspkg.StreamSubjects
			}
			return streamEvents(c.String("nats-url"), subjects, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

func streamEvents(natsURL string, subjects []string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", strings.Join(subjects, ", "))
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if jsonOutput {
				fmt.Println(string(msg.Data()))
			} else if err := printEvent(msg.Subject(), msg.Data(), count); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			msg.Ack()
		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\nReceived %d events\n", count)
			}
			return nil
		}
	}
}

// printEvent renders one stream message by its subject prefix.
func printEvent(subject string, data []byte, n int) error {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d  %s\n", n, subject)
	fmt.Printf("─────────────────────────────────────────────────────\n")

	if strings.HasPrefix(subject, "alerts.") {
		var event natspkg.AlertEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Printf("Severity:  %s\n", event.Severity)
		fmt.Printf("Subject:   %s\n", event.Subject)
		fmt.Printf("%s\n\n", event.Body)
		return nil
	}

	var event natspkg.LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	fmt.Printf("Date:      %s\n", event.Date)
	fmt.Printf("Name:      %s\n", event.Name)
	fmt.Printf("Amount:    %s\n", yen(event.Amount))
	if event.Ticker != "" {
		fmt.Printf("Ticker:    %s\n", event.Ticker)
	}
	if event.Quantity != "" {
		fmt.Printf("Quantity:  %s\n", event.Quantity)
	}
	if event.Balance != nil {
		fmt.Printf("Balance:   %s\n", yen(*event.Balance))
	}
	fmt.Printf("Source:    %s\n\n", event.Source)
	return nil
}
