package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/myfinance/service/metrics"
	"github.com/brojonat/myfinance/service/reconcile"
)

// ConfigErrorType is the application error type of configuration faults.
// Temporal does not retry them.
const ConfigErrorType = "ConfigError"

// LedgerUnavailableErrorType marks a source that failed because the ledger
// could not be reached. It is retried, but the workflow stops once retries
// run out instead of moving on to the next source.
const LedgerUnavailableErrorType = "LedgerUnavailable"

// ReconcileInput contains the input parameters for a reconciliation run.
// An empty Sources list runs every configured source.
type ReconcileInput struct {
	Sources []string `json:"sources,omitempty"`
}

// ReconcileResult contains the result of a reconciliation run.
type ReconcileResult struct {
	StartedAt time.Time               `json:"started_at"`
	Sources   []*ReconcileSourceResult `json:"sources"`
	Failed    []SourceFailure          `json:"failed,omitempty"`
	Total     int                      `json:"total"`
	Written   int                      `json:"written"`
	Faulted   int                      `json:"faulted"`
	Error     *string                  `json:"error,omitempty"`
}

// SourceFailure names a source whose activity failed.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// CheckConfigurationResult lists the sources the worker is configured for.
type CheckConfigurationResult struct {
	Sources []string `json:"sources"`
}

// ReconcileSourceInput contains parameters for the ReconcileSource activity.
type ReconcileSourceInput struct {
	Source string `json:"source"`
}

// ReconcileSourceResult contains per-outcome counts for one source.
type ReconcileSourceResult struct {
	Source           string        `json:"source"`
	Fetched          int           `json:"fetched"`
	Written          int           `json:"written"`
	Duplicate        int           `json:"duplicate"`
	AlreadyProcessed int           `json:"already_processed"`
	Abstained        int           `json:"abstained"`
	NotYetAvailable  int           `json:"not_yet_available"`
	Faulted          int           `json:"faulted"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Total returns the number of items processed.
func (r *ReconcileSourceResult) Total() int {
	return r.Written + r.Duplicate + r.AlreadyProcessed + r.Abstained + r.NotYetAvailable + r.Faulted
}

func sourceResult(ss *reconcile.SourceSummary) *ReconcileSourceResult {
	return &ReconcileSourceResult{
		Source:           ss.Source,
		Fetched:          ss.Fetched,
		Written:          ss.Count(reconcile.OutcomeWritten),
		Duplicate:        ss.Count(reconcile.OutcomeDuplicate),
		AlreadyProcessed: ss.Count(reconcile.OutcomeAlreadyProcessed),
		Abstained:        ss.Count(reconcile.OutcomeAbstained),
		NotYetAvailable:  ss.Count(reconcile.OutcomeNotYetAvailable),
		Faulted:          ss.Count(reconcile.OutcomeFaulted),
		Elapsed:          ss.Elapsed,
	}
}

// Runner is the part of the orchestrator the activities drive.
// *reconcile.Orchestrator implements it.
type Runner interface {
	Check() error
	SourceNames() []string
	RunSource(ctx context.Context, name string) (*reconcile.SourceSummary, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(runner Runner, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		runner:  runner,
		metrics: m,
		logger:  logger,
	}
}

// CheckConfiguration validates the orchestrator configuration before any
// mailbox item is touched.
func (a *Activities) CheckConfiguration(ctx context.Context) (*CheckConfigurationResult, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		a.metrics.RecordActivityDuration("CheckConfiguration", status, time.Since(start).Seconds())
	}()

	if err := a.runner.Check(); err != nil {
		status = "error"
		a.logger.ErrorContext(ctx, "configuration fault", "error", err)
		return nil, asApplicationError(err)
	}

	return &CheckConfigurationResult{Sources: a.runner.SourceNames()}, nil
}

// ReconcileSource runs the pipeline for one source.
func (a *Activities) ReconcileSource(ctx context.Context, input ReconcileSourceInput) (*ReconcileSourceResult, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		a.metrics.RecordActivityDuration("ReconcileSource", status, time.Since(start).Seconds())
	}()

	a.logger.DebugContext(ctx, "reconciling source", "source", input.Source)

	ss, err := a.runner.RunSource(ctx, input.Source)
	if err != nil {
		status = "error"
		a.logger.ErrorContext(ctx, "failed to reconcile source",
			"source", input.Source,
			"error", err,
		)
		return nil, asApplicationError(fmt.Errorf("reconcile %s: %w", input.Source, err))
	}

	result := sourceResult(ss)
	a.logger.InfoContext(ctx, "source reconciled",
		"source", input.Source,
		"fetched", result.Fetched,
		"written", result.Written,
		"faulted", result.Faulted,
	)
	return result, nil
}

// asApplicationError marks configuration faults non-retryable, tags an
// unreachable ledger, and passes other errors through.
func asApplicationError(err error) error {
	var cfgErr *reconcile.ConfigError
	if errors.As(err, &cfgErr) {
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ConfigErrorType, err)
	}
	if errors.Is(err, reconcile.ErrLedgerUnavailable) {
		return temporalsdk.NewApplicationErrorWithCause(err.Error(), LedgerUnavailableErrorType, err)
	}
	return err
}
