package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu         sync.Mutex
	schedules  map[string]time.Duration // map[scheduleID]interval
	triggers   int
	createErr  error
	deleteErr  error
	triggerErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertReconcileSchedule creates or updates the schedule.
func (m *MockScheduler) UpsertReconcileSchedule(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[ReconcileScheduleID] = interval
	return nil
}

// DeleteReconcileSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, exists := m.schedules[ReconcileScheduleID]; !exists {
		return fmt.Errorf("schedule %q not found", ReconcileScheduleID)
	}
	delete(m.schedules, ReconcileScheduleID)
	return nil
}

// TriggerReconcile counts the trigger and returns a numbered workflow ID.
func (m *MockScheduler) TriggerReconcile(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.triggerErr != nil {
		return "", m.triggerErr
	}
	m.triggers++
	return reconcileWorkflowID(fmt.Sprintf("manual-%d", m.triggers)), nil
}

// SetCreateError makes UpsertReconcileSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteReconcileSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetTriggerError makes TriggerReconcile return an error.
func (m *MockScheduler) SetTriggerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerErr = err
}

// ScheduleInterval returns the interval of the reconcile schedule.
func (m *MockScheduler) ScheduleInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[ReconcileScheduleID]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// TriggerCount returns how many runs were triggered.
func (m *MockScheduler) TriggerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers
}

// Reset clears all schedules, triggers and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.triggers = 0
	m.createErr = nil
	m.deleteErr = nil
	m.triggerErr = nil
}
