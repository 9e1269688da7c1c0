package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// fakeSink records what it was asked to deliver and fails on script.
type fakeSink struct {
	mu          sync.Mutex
	name        string
	errs        []error // consumed one per Send call
	err         error   // sticky fallback once errs is drained
	received    []string
	hadDeadline bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(ctx context.Context, notification *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, notification.Message)
	_, f.hadDeadline = ctx.Deadline()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func createPendingNotification(t *testing.T, st store.Store, message string) *domain.Notification {
	t.Helper()
	notification := domain.NewNotification(message)
	require.NoError(t, st.CreateNotification(context.Background(), notification))
	return notification
}

func TestDispatcher_DeliversPendingNotification(t *testing.T) {
	st := setupTestStore(t)
	sink := &fakeSink{name: "log"}
	d := NewDispatcher(st, []Sink{sink}, DefaultDispatcherConfig(), setupTestLogger())

	notification := createPendingNotification(t, st, "DEPLOYMENT SUCCESSFUL")

	require.NoError(t, d.DispatchPending(context.Background()))

	assert.Equal(t, []string{"DEPLOYMENT SUCCESSFUL"}, sink.received)
	assert.True(t, sink.hadDeadline, "delivery attempt should carry the notify step timeout")

	got, err := st.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDelivered, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.DeliveredAt)
}

func TestDispatcher_RetriesAcrossCyclesUntilExhausted(t *testing.T) {
	st := setupTestStore(t)
	sink := &fakeSink{name: "webhook", err: errors.New("webhook returned error 502: bad gateway")}
	d := NewDispatcher(st, []Sink{sink}, DefaultDispatcherConfig(), setupTestLogger())

	notification := createPendingNotification(t, st, "HEALTH ALERT: Unhealthy containers detected!")

	for attempt := 1; attempt < domain.MaxDeliveryAttempts; attempt++ {
		require.NoError(t, d.DispatchPending(context.Background()))

		got, err := st.GetNotification(context.Background(), notification.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationPending, got.Status)
		assert.Equal(t, attempt, got.Attempts)
		assert.Contains(t, got.LastError, "bad gateway")
	}

	require.NoError(t, d.DispatchPending(context.Background()))

	got, err := st.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, got.Status)
	assert.Equal(t, domain.MaxDeliveryAttempts, got.Attempts)

	// A failed notification leaves the pending queue.
	require.NoError(t, d.DispatchPending(context.Background()))
	assert.Equal(t, domain.MaxDeliveryAttempts, sink.count())
}

func TestDispatcher_RecoversOnLaterAttempt(t *testing.T) {
	st := setupTestStore(t)
	sink := &fakeSink{name: "webhook", errs: []error{errors.New("connection refused")}}
	d := NewDispatcher(st, []Sink{sink}, DefaultDispatcherConfig(), setupTestLogger())

	notification := createPendingNotification(t, st, "DIAGNOSIS after 3 failures:\nweb keeps restarting")

	require.NoError(t, d.DispatchPending(context.Background()))
	require.NoError(t, d.DispatchPending(context.Background()))

	got, err := st.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDelivered, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.DeliveredAt)
}

func TestDispatcher_AllSinksMustAccept(t *testing.T) {
	st := setupTestStore(t)
	logSink := &fakeSink{name: "log"}
	webhook := &fakeSink{name: "webhook", errs: []error{errors.New("boom")}}
	d := NewDispatcher(st, []Sink{logSink, webhook}, DefaultDispatcherConfig(), setupTestLogger())

	notification := createPendingNotification(t, st, "ROLLBACK SUCCESSFUL")

	require.NoError(t, d.DispatchPending(context.Background()))

	got, err := st.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationPending, got.Status)
	assert.Contains(t, got.LastError, "webhook: boom")

	// The retry fans out again; the healthy sink sees a duplicate.
	require.NoError(t, d.DispatchPending(context.Background()))

	got, err = st.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDelivered, got.Status)
	assert.Equal(t, 2, logSink.count())
	assert.Equal(t, 2, webhook.count())
}

func TestDispatcher_BatchSizeBoundsOneCycle(t *testing.T) {
	st := setupTestStore(t)
	sink := &fakeSink{name: "log"}
	d := NewDispatcher(st, []Sink{sink}, DispatcherConfig{BatchSize: 1}, setupTestLogger())

	createPendingNotification(t, st, "first")
	createPendingNotification(t, st, "second")

	require.NoError(t, d.DispatchPending(context.Background()))
	assert.Equal(t, 1, sink.count())

	require.NoError(t, d.DispatchPending(context.Background()))
	assert.Equal(t, 2, sink.count())

	pending, err := st.ListPendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_Worker_DeliversInBackground(t *testing.T) {
	st := setupTestStore(t)
	sink := &fakeSink{name: "log"}
	d := NewDispatcher(st, []Sink{sink}, DispatcherConfig{Interval: 20 * time.Millisecond}, setupTestLogger())

	notification := createPendingNotification(t, st, "DEPLOYMENT SUCCESSFUL")

	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		got, err := st.GetNotification(context.Background(), notification.ID)
		return err == nil && got.Status == domain.NotificationDelivered
	}, 10*time.Second, 25*time.Millisecond)
}

func TestDispatcher_Worker_StopIsClean(t *testing.T) {
	st := setupTestStore(t)
	d := NewDispatcher(st, []Sink{&fakeSink{name: "log"}}, DispatcherConfig{Interval: 20 * time.Millisecond}, setupTestLogger())

	d.Start()
	d.Stop()
}
