package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/myfinance/service/metrics"
	"github.com/brojonat/myfinance/service/reconcile"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Check() error {
	return m.Called().Error(0)
}

func (m *MockRunner) SourceNames() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockRunner) RunSource(ctx context.Context, name string) (*reconcile.SourceSummary, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.SourceSummary), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCheckConfiguration_ReturnsSources(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Check").Return(nil)
	runner.On("SourceNames").Return([]string{"fund", "bank"})

	acts := NewActivities(runner, nil, testLogger())
	result, err := acts.CheckConfiguration(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"fund", "bank"}, result.Sources)
	runner.AssertExpectations(t)
}

func TestCheckConfiguration_ConfigErrorIsNonRetryable(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Check").Return(&reconcile.ConfigError{Field: "source fund", Reason: "has an empty query"})

	acts := NewActivities(runner, nil, testLogger())
	_, err := acts.CheckConfiguration(context.Background())

	require.Error(t, err)
	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, ConfigErrorType, appErr.Type())
	assert.Contains(t, appErr.Error(), "has an empty query")
}

func TestReconcileSource_CountsOutcomes(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunSource", mock.Anything, "fund").Return(&reconcile.SourceSummary{
		Source:  "fund",
		Fetched: 5,
		Items: []reconcile.ItemResult{
			{Outcome: reconcile.OutcomeWritten},
			{Outcome: reconcile.OutcomeWritten},
			{Outcome: reconcile.OutcomeDuplicate},
			{Outcome: reconcile.OutcomeNotYetAvailable},
			{Outcome: reconcile.OutcomeFaulted},
		},
		Elapsed: 3 * time.Second,
	}, nil)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	acts := NewActivities(runner, m, testLogger())

	result, err := acts.ReconcileSource(context.Background(), ReconcileSourceInput{Source: "fund"})
	require.NoError(t, err)

	assert.Equal(t, "fund", result.Source)
	assert.Equal(t, 5, result.Fetched)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 1, result.Duplicate)
	assert.Equal(t, 1, result.NotYetAvailable)
	assert.Equal(t, 1, result.Faulted)
	assert.Equal(t, 5, result.Total())
	assert.Equal(t, 3*time.Second, result.Elapsed)

	count, err := testutil.GatherAndCount(registry, "myfinance_activity_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconcileSource_TransientErrorIsRetryable(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunSource", mock.Anything, "bank").Return(nil, errors.New("search mailbox: i/o timeout"))

	acts := NewActivities(runner, nil, testLogger())
	_, err := acts.ReconcileSource(context.Background(), ReconcileSourceInput{Source: "bank"})

	require.Error(t, err)
	var appErr *temporalsdk.ApplicationError
	assert.False(t, errors.As(err, &appErr))
	assert.Contains(t, err.Error(), "reconcile bank")
}

func TestReconcileSource_LedgerUnavailableIsTagged(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunSource", mock.Anything, "bank").
		Return(nil, fmt.Errorf("%w: connection refused", reconcile.ErrLedgerUnavailable))

	acts := NewActivities(runner, nil, testLogger())
	_, err := acts.ReconcileSource(context.Background(), ReconcileSourceInput{Source: "bank"})

	require.Error(t, err)
	var appErr *temporalsdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, LedgerUnavailableErrorType, appErr.Type())
	assert.False(t, appErr.NonRetryable())
}

func TestReconcileSource_UnknownSourceIsNonRetryable(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunSource", mock.Anything, "paypal").
		Return(nil, &reconcile.ConfigError{Field: "source paypal", Reason: "is not configured"})

	acts := NewActivities(runner, nil, testLogger())
	_, err := acts.ReconcileSource(context.Background(), ReconcileSourceInput{Source: "paypal"})

	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()

	require.NoError(t, s.UpsertReconcileSchedule(ctx, time.Hour))
	require.NoError(t, s.UpsertReconcileSchedule(ctx, 30*time.Minute))
	assert.Equal(t, 1, s.ScheduleCount())
	interval, ok := s.ScheduleInterval()
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, interval)

	id, err := s.TriggerReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reconcile-manual-1", id)

	require.NoError(t, s.DeleteReconcileSchedule(ctx))
	assert.Error(t, s.DeleteReconcileSchedule(ctx))

	s.SetTriggerError(errors.New("temporal down"))
	_, err = s.TriggerReconcile(ctx)
	assert.Error(t, err)

	s.Reset()
	assert.Zero(t, s.TriggerCount())
}
