package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipwright/internal/core/domain"
)

// =============================================================================
// Monitor Test Helpers
// =============================================================================

func createActiveMonitor(t *testing.T, h *harness, maxIterations int) *domain.Monitor {
	t.Helper()
	monitor := domain.NewMonitor("acme-shop", h.workspace.ComposePath("acme-shop"), 45*time.Second, maxIterations)
	require.NoError(t, h.store.CreateMonitor(context.Background(), monitor))
	return monitor
}

func monitorNotifications(t *testing.T, h *harness, monitorID string) []domain.Notification {
	t.Helper()

	var matches []domain.Notification
	for _, n := range h.notifications(t) {
		if n.MonitorID == monitorID {
			matches = append(matches, n)
		}
	}
	return matches
}

// =============================================================================
// Monitor Iteration Tests
// =============================================================================

func TestMonitorCheckNow_HealthyProducesNoNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	monitor := createActiveMonitor(t, h, 10)
	before := monitor.NextCheckAt

	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	updated, err := h.store.GetMonitor(ctx, monitor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.IterationsDone)
	assert.Equal(t, 0, updated.ConsecutiveFailures)
	assert.True(t, updated.NextCheckAt.After(before))

	assert.Empty(t, monitorNotifications(t, h, monitor.ID))

	// The iteration left its health check in the step trace, keyed by the
	// monitor's id.
	assert.Equal(t, []domain.StepName{domain.StepHealthCheck}, h.stepSequence(t, monitor.ID))
	records, err := h.store.ListStepRecords(ctx, monitor.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Output, "━━ HEALTH CHECK REPORT")
	assert.Contains(t, records[0].Output, "health=healthy")
}

func TestMonitorEscalation_AlertThenDiagnoseThenReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.runtime.listStates = []domain.ContainerState{unhealthyContainer("web")}
	monitor := createActiveMonitor(t, h, 100)

	// First failure: one alert, nothing else.
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	alerts := monitorNotifications(t, h, monitor.ID)
	require.Len(t, alerts, 1)
	assert.True(t, strings.HasPrefix(alerts[0].Message, "HEALTH ALERT: Unhealthy containers detected!"))
	assert.Contains(t, alerts[0].Message, "health=unhealthy")
	assert.Empty(t, alerts[0].RunID)

	// Second failure: the streak grows silently.
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	assert.Len(t, monitorNotifications(t, h, monitor.ID), 1)
	assert.Equal(t, 0, h.analyzer.calls)

	// Third failure: diagnosis fires and the streak resets.
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	notifications := monitorNotifications(t, h, monitor.ID)
	require.Len(t, notifications, 2)
	assert.Equal(t, 1, h.analyzer.calls)

	var diagnosis *domain.Notification
	for i := range notifications {
		if strings.HasPrefix(notifications[i].Message, "DIAGNOSIS") {
			diagnosis = &notifications[i]
		}
	}
	require.NotNil(t, diagnosis)
	assert.Equal(t, "DIAGNOSIS after 3 failures:\nweb is restarting: exit code 137, memory limit reached", diagnosis.Message)

	updated, err := h.store.GetMonitor(ctx, monitor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.ConsecutiveFailures, "diagnosis resets the streak")
	assert.Equal(t, 3, updated.IterationsDone)

	// Fourth failure: a fresh streak, a fresh alert.
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	assert.Len(t, monitorNotifications(t, h, monitor.ID), 3)

	// The trace interleaves health checks with the diagnose step.
	assert.Equal(t, []domain.StepName{
		domain.StepHealthCheck,
		domain.StepHealthCheck,
		domain.StepHealthCheck,
		domain.StepDiagnose,
		domain.StepHealthCheck,
	}, h.stepSequence(t, monitor.ID))
}

func TestMonitorEscalation_RecoveryResetsStreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	monitor := createActiveMonitor(t, h, 100)

	h.runtime.listStates = []domain.ContainerState{unhealthyContainer("web")}
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	h.runtime.listStates = []domain.ContainerState{runningContainer("web")}
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	updated, err := h.store.GetMonitor(ctx, monitor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.ConsecutiveFailures)

	// Going unhealthy again starts a new streak and a new alert; the old
	// two failures never reach the diagnose threshold.
	h.runtime.listStates = []domain.ContainerState{unhealthyContainer("web")}
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	notifications := monitorNotifications(t, h, monitor.ID)
	assert.Len(t, notifications, 2)
	for _, n := range notifications {
		assert.True(t, strings.HasPrefix(n.Message, "HEALTH ALERT"))
	}
	assert.Equal(t, 0, h.analyzer.calls)
}

func TestMonitorCheckNow_DeadProjectIsFailing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.runtime.listStates = nil
	monitor := createActiveMonitor(t, h, 10)

	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	notifications := monitorNotifications(t, h, monitor.ID)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "No running containers found for project 'acme-shop'")
}

func TestMonitorCheckNow_UnreachableDaemonIsFailing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.runtime.listErr = errors.New("Cannot connect to the Docker daemon")
	monitor := createActiveMonitor(t, h, 10)

	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	updated, err := h.store.GetMonitor(ctx, monitor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ConsecutiveFailures)

	notifications := monitorNotifications(t, h, monitor.ID)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "Could not list containers for health check")
}

func TestMonitorCheckNow_StoppedContainerIsFailing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stopped := runningContainer("web")
	stopped.Running = false
	stopped.Status = "exited"
	stopped.Health = domain.HealthNone
	h.runtime.listStates = []domain.ContainerState{stopped}
	monitor := createActiveMonitor(t, h, 10)

	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	notifications := monitorNotifications(t, h, monitor.ID)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "acme-shop-web-1 not running")
}

func TestMonitorDiagnosis_AnalyzerFailureIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.runtime.listStates = []domain.ContainerState{unhealthyContainer("web")}
	h.analyzer.err = errors.New("evidence collection timed out")
	monitor := createActiveMonitor(t, h, 100)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	}

	notifications := monitorNotifications(t, h, monitor.ID)
	require.Len(t, notifications, 2)

	var diagnosis string
	for _, n := range notifications {
		if strings.HasPrefix(n.Message, "DIAGNOSIS") {
			diagnosis = n.Message
		}
	}
	require.NotEmpty(t, diagnosis)
	assert.Contains(t, diagnosis, "diagnosis failed:")
	assert.Contains(t, diagnosis, "evidence collection timed out")
}

// =============================================================================
// Monitor Lifecycle Tests
// =============================================================================

func TestMonitorCheckNow_CompletesAtIterationCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	monitor := createActiveMonitor(t, h, 2)

	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))
	require.NoError(t, h.monitor.CheckNow(ctx, monitor.ID))

	updated, err := h.store.GetMonitor(ctx, monitor.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MonitorCompleted, updated.Status)
	assert.Equal(t, 2, updated.IterationsDone)

	err = h.monitor.CheckNow(ctx, monitor.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMonitorNotActive)
}

func TestMonitorCheckNow_CancelledMonitorRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	monitor := domain.NewMonitor("acme-shop", h.workspace.ComposePath("acme-shop"), 45*time.Second, 10)
	require.NoError(t, monitor.Cancel())
	require.NoError(t, h.store.CreateMonitor(ctx, monitor))

	err := h.monitor.CheckNow(ctx, monitor.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMonitorNotActive)
	assert.Empty(t, h.stepSequence(t, monitor.ID))
}

func TestMonitorWorker_ProcessesDueMonitors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	due := createActiveMonitor(t, h, 10)

	notDue := domain.NewMonitor("blog", h.workspace.ComposePath("blog"), time.Hour, 10)
	notDue.Observe(false, time.Now().UTC())
	require.NoError(t, h.store.CreateMonitor(ctx, notDue))

	worker := NewMonitorWorker(h.store, h.executor, h.steps, h.analyzer,
		MonitorConfig{Interval: 20 * time.Millisecond}, setupTestLogger())
	worker.Start()
	defer worker.Stop()

	require.Eventually(t, func() bool {
		current, err := h.store.GetMonitor(ctx, due.ID)
		return err == nil && current.IterationsDone >= 1
	}, 10*time.Second, 25*time.Millisecond)

	parked, err := h.store.GetMonitor(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, parked.IterationsDone, "a monitor is not re-checked before its next due time")
}

func TestMonitorWorker_StopIsClean(t *testing.T) {
	h := newHarness(t)

	worker := NewMonitorWorker(h.store, h.executor, h.steps, h.analyzer,
		MonitorConfig{Interval: 20 * time.Millisecond}, setupTestLogger())
	worker.Start()
	worker.Stop()
}
