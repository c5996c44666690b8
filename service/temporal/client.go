package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) workflowAction(id string) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        id,
		Workflow:  ReconcileWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{ReconcileInput{}},
	}
}

// createReconcileSchedule creates the schedule. Overlapping runs are
// skipped, so at most one run is in flight.
func (c *Client) createReconcileSchedule(ctx context.Context, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ReconcileScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action:  c.workflowAction(reconcileWorkflowID("scheduled")),
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"created_by": "myfinance",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule created",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)
	return nil
}

// UpsertReconcileSchedule creates the reconcile schedule, or updates its
// interval when it already exists.
func (c *Client) UpsertReconcileSchedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("schedule interval must be positive")
	}

	c.logger.Debug("upserting reconcile schedule",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		var notFound *serviceerror.NotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe schedule %q: %w", ReconcileScheduleID, err)
		}
		c.logger.Debug("schedule not found, creating new one", "schedule_id", ReconcileScheduleID)
		return c.createReconcileSchedule(ctx, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			if input.Description.Schedule.Policy == nil {
				input.Description.Schedule.Policy = &client.SchedulePolicies{}
			}
			input.Description.Schedule.Policy.Overlap = enumspb.SCHEDULE_OVERLAP_POLICY_SKIP
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule updated",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteReconcileSchedule deletes the reconcile schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule deleted", "schedule_id", ReconcileScheduleID)
	return nil
}

// TriggerReconcile starts ReconcileWorkflow outside the schedule.
func (c *Client) TriggerReconcile(ctx context.Context) (string, error) {
	id := reconcileWorkflowID("manual-" + uuid.NewString())
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, ReconcileWorkflow, ReconcileInput{})
	if err != nil {
		return "", fmt.Errorf("failed to start reconcile workflow: %w", err)
	}

	c.logger.Info("reconcile workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
