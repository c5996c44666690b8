package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/myfinance/service/temporal"
)

func temporalCommands() *cli.Command {
	return &cli.Command{
		Name:  "temporal",
		Usage: "Temporal schedule management commands",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue the worker listens on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "myfinance-reconcile",
			},
		},
		Subcommands: []*cli.Command{
			createScheduleCommand(),
			deleteScheduleCommand(),
			triggerCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		setupLogger(c.String("log-level")),
	)
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "create-schedule",
		Aliases: []string{"schedule"},
		Usage:   "Create or update the periodic reconciliation schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Time between runs",
				EnvVars: []string{"RECONCILE_INTERVAL"},
				Value:   time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			interval := c.Duration("interval")
			if err := tc.UpsertReconcileSchedule(context.Background(), interval); err != nil {
				return fmt.Errorf("failed to upsert schedule: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"schedule_id": temporal.ReconcileScheduleID,
					"interval":    interval.String(),
				})
			}
			fmt.Printf("✓ Schedule %s runs every %s\n", temporal.ReconcileScheduleID, interval)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the periodic reconciliation schedule",
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteReconcileSchedule(context.Background()); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"schedule_id": temporal.ReconcileScheduleID, "status": "deleted"})
			}
			fmt.Printf("✓ Schedule %s deleted\n", temporal.ReconcileScheduleID)
			return nil
		},
	}
}

func triggerCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Start a reconciliation workflow now",
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id, err := tc.TriggerReconcile(context.Background())
			if err != nil {
				return fmt.Errorf("failed to trigger reconciliation: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"workflow_id": id})
			}
			fmt.Printf("✓ Reconciliation started: %s\n", id)
			return nil
		},
	}
}
