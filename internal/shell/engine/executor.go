// Package engine advances deployment, rollback, and monitoring work
// persisted in the store. Runs and monitors are rows; the workers here are
// stateless polling loops that load active rows, move each forward by one
// step, and commit the outcome before touching the next. Restart
// durability falls out of that shape: a process killed mid-run resumes
// from the last committed status on the next cycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
)

// StepFunc is one attempt of a step body. Business outcomes land in the
// StepResult; infrastructure trouble is returned as an error, and only
// errors are retried.
type StepFunc func(ctx context.Context) (domain.StepResult, error)

// retryBackoff separates attempts of a step that failed with an
// infrastructure error.
const retryBackoff = 2 * time.Second

// Executor runs step bodies under the declarative step policies: a
// per-attempt timeout, a bounded attempt count, and an append-only
// StepRecord per attempt. The record is created before the body runs, so a
// crash mid-step leaves a visible "running" row in the trace.
type Executor struct {
	store  store.Store
	logger *slog.Logger
}

// NewExecutor creates a step executor backed by the given store.
func NewExecutor(s store.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:  s,
		logger: logger.With("component", "engine.executor"),
	}
}

// Run executes fn under the policy for step, retrying infrastructure
// errors up to the attempt cap with a short backoff. A StepResult with
// status failed is a business outcome and is returned unretried; deciding
// which is which is the step body's job.
func (x *Executor) Run(ctx context.Context, ownerID string, step domain.StepName, fn StepFunc) (domain.StepResult, error) {
	policy := domain.PolicyFor(step)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		record := domain.NewStepRecord(ownerID, step, attempt)
		if err := x.store.CreateStepRecord(ctx, record); err != nil {
			return domain.StepResult{}, fmt.Errorf("record step %s attempt %d: %w", step, attempt, err)
		}

		result, err := x.runAttempt(ctx, record, policy, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
		x.logger.Warn("step attempt failed",
			"owner_id", ownerID,
			"step", step,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err)

		if attempt < policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return domain.StepResult{}, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
	return domain.StepResult{}, fmt.Errorf("step %s exhausted %d attempts: %w", step, policy.MaxAttempts, lastErr)
}

// runAttempt runs one attempt under the policy timeout, heartbeating the
// record for long-running steps, and persists the completed record.
func (x *Executor) runAttempt(ctx context.Context, record *domain.StepRecord, policy domain.StepPolicy, fn StepFunc) (domain.StepResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan struct{})
	if policy.Heartbeat > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x.heartbeat(attemptCtx, record, policy.Heartbeat, done)
		}()
	}

	result, err := fn(attemptCtx)

	// The heartbeat goroutine owns the record until it exits.
	close(done)
	wg.Wait()

	record.Complete(result, err)
	if uerr := x.store.UpdateStepRecord(ctx, record); uerr != nil {
		x.logger.Warn("failed to persist step record",
			"owner_id", record.RunID,
			"step", record.Step,
			"attempt", record.Attempt,
			"error", uerr)
	}
	return result, err
}

// heartbeat stamps the record at half the policy's heartbeat interval so a
// healthy step always beats within one liveness window.
func (x *Executor) heartbeat(ctx context.Context, record *domain.StepRecord, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			record.Heartbeat()
			if err := x.store.UpdateStepRecord(ctx, record); err != nil {
				x.logger.Warn("failed to persist heartbeat",
					"owner_id", record.RunID,
					"step", record.Step,
					"error", err)
			}
		}
	}
}
