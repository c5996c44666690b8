package temporal

import (
	"errors"
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileWorkflow is triggered by the reconcile schedule. It checks the
// configuration once and then runs each source in order. A failed source
// is recorded in the result and the remaining sources still run, unless the
// ledger was unreachable: that aborts the run.
func ReconcileWorkflow(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileWorkflow started", "sources", input.Sources)

	result := &ReconcileResult{StartedAt: workflow.Now(ctx)}

	checkCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        10 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ConfigErrorType},
		},
	})

	var check *CheckConfigurationResult
	if err := workflow.ExecuteActivity(checkCtx, a.CheckConfiguration).Get(ctx, &check); err != nil {
		errMsg := fmt.Sprintf("configuration check failed: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("configuration check failed: %w", err)
	}

	sources := input.Sources
	if len(sources) == 0 {
		sources = check.Sources
	}

	// Sources hold the ledger's advisory locks and the price site's rate
	// limit, so one attempt may run for minutes.
	sourceCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        2,
			NonRetryableErrorTypes: []string{ConfigErrorType},
		},
	})

	for _, source := range sources {
		var sr *ReconcileSourceResult
		err := workflow.ExecuteActivity(sourceCtx, a.ReconcileSource, ReconcileSourceInput{Source: source}).Get(ctx, &sr)
		if err != nil {
			result.Failed = append(result.Failed, SourceFailure{Source: source, Error: err.Error()})
			var appErr *temporalsdk.ApplicationError
			if errors.As(err, &appErr) && appErr.Type() == LedgerUnavailableErrorType {
				logger.Error("ledger unreachable, run aborted", "source", source, "error", err)
				errMsg := fmt.Sprintf("ledger unreachable: %v", err)
				result.Error = &errMsg
				return result, fmt.Errorf("source %s: %w", source, err)
			}
			logger.Warn("source failed, continuing", "source", source, "error", err)
			continue
		}
		result.Sources = append(result.Sources, sr)
		result.Total += sr.Total()
		result.Written += sr.Written
		result.Faulted += sr.Faulted
	}

	logger.Info("ReconcileWorkflow completed",
		"total", result.Total,
		"written", result.Written,
		"faulted", result.Faulted,
		"failed_sources", len(result.Failed),
	)
	return result, nil
}
