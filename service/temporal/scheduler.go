package temporal

import (
	"context"
	"time"
)

// ReconcileScheduleID is the ID of the single schedule that triggers
// ReconcileWorkflow.
const ReconcileScheduleID = "myfinance-reconcile"

// Scheduler manages the reconciliation schedule.
type Scheduler interface {
	// UpsertReconcileSchedule creates the schedule or updates its interval.
	UpsertReconcileSchedule(ctx context.Context, interval time.Duration) error

	// DeleteReconcileSchedule removes the schedule. Runs already started
	// are not affected.
	DeleteReconcileSchedule(ctx context.Context) error

	// TriggerReconcile starts a run now and returns its workflow ID.
	TriggerReconcile(ctx context.Context) (string, error)
}

func reconcileWorkflowID(suffix string) string {
	return "reconcile-" + suffix
}
