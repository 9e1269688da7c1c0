// Package notify delivers operator notifications to configured sinks.
// Producing a notification is the engine's job and happens exactly once;
// this package owns the at-least-once delivery side.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
)

// =============================================================================
// Configuration
// =============================================================================

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	// Interval between polls for pending notifications.
	Interval time.Duration

	// BatchSize caps how many notifications one cycle attempts.
	BatchSize int
}

// DefaultDispatcherConfig returns the default dispatcher settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:  5 * time.Second,
		BatchSize: 50,
	}
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher is the delivery worker. Each cycle it loads pending
// notifications oldest first and gives each one delivery attempt across
// every sink, recording the outcome on the row. A notification is
// delivered only when all sinks accept it, so a webhook outage retries
// the log line too; sinks must tolerate duplicates.
type Dispatcher struct {
	store  store.Store
	sinks  []Sink
	config DispatcherConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates the notification delivery worker.
func NewDispatcher(s store.Store, sinks []Sink, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.Interval == 0 {
		config.Interval = DefaultDispatcherConfig().Interval
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultDispatcherConfig().BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  s,
		sinks:  sinks,
		config: config,
		logger: logger.With("component", "notify.dispatcher"),
	}
}

// Start launches the polling loop.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.run()
	d.logger.Info("notification dispatcher started",
		"interval", d.config.Interval, "sinks", len(d.sinks))
}

// Stop halts the polling loop and waits for the current cycle to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("notification dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	d.runCycle()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runCycle()
		}
	}
}

func (d *Dispatcher) runCycle() {
	if err := d.DispatchPending(d.ctx); err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.logger.Error("notification dispatch cycle failed", "error", err)
	}
}

// =============================================================================
// Delivery
// =============================================================================

// DispatchPending runs one delivery attempt for each pending notification,
// oldest first, up to the batch size. Sink failures are recorded on the
// notification row, never returned; the returned error covers store
// trouble only.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	pending, err := d.store.ListPendingNotifications(ctx, d.config.BatchSize)
	if err != nil {
		return err
	}

	for i := range pending {
		if err := d.deliver(ctx, &pending[i]); err != nil {
			return err
		}
	}
	return nil
}

// deliver runs one delivery attempt and records the outcome. An attempt
// cut short by shutdown leaves the row pending for the next start.
func (d *Dispatcher) deliver(ctx context.Context, notification *domain.Notification) error {
	attemptCtx, cancel := context.WithTimeout(ctx, domain.PolicyFor(domain.StepNotify).Timeout)
	sendErr := d.send(attemptCtx, notification)
	cancel()

	if sendErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	notification.RecordAttempt(sendErr, time.Now().UTC())
	if err := d.store.UpdateNotification(ctx, notification); err != nil {
		return fmt.Errorf("update notification %s: %w", notification.ID, err)
	}

	switch {
	case sendErr == nil:
		d.logger.Info("notification delivered",
			"notification_id", notification.ID, "attempts", notification.Attempts)
	case notification.Status == domain.NotificationFailed:
		d.logger.Error("notification delivery exhausted",
			"notification_id", notification.ID,
			"attempts", notification.Attempts,
			"error", sendErr)
	default:
		d.logger.Warn("notification delivery failed",
			"notification_id", notification.ID,
			"attempt", notification.Attempts,
			"error", sendErr)
	}
	return nil
}

// send fans the notification out to every sink.
func (d *Dispatcher) send(ctx context.Context, notification *domain.Notification) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, notification); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
