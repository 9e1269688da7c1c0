package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/artpar/shipwright/internal/shell/workspace"
)

// runBudget bounds how long one run may occupy a cycle. Step policies
// bound the individual attempts; this caps their sum.
const runBudget = 15 * time.Minute

// OrchestratorConfig holds orchestrator worker settings.
type OrchestratorConfig struct {
	// Interval between polling cycles.
	Interval time.Duration
}

// DefaultOrchestratorConfig returns the default orchestrator settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Interval: 5 * time.Second,
	}
}

// Orchestrator drives deploy and rollback runs through their state
// machines. Each polling cycle loads the active runs and advances every
// one of them by exactly one step, committing the new status (and, on
// terminal transitions, the run's single notification) before moving on.
type Orchestrator struct {
	store     store.Store
	executor  *Executor
	steps     *Steps
	workspace *workspace.Workspace
	config    OrchestratorConfig
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the run-advancing worker.
func NewOrchestrator(
	s store.Store,
	executor *Executor,
	steps *Steps,
	ws *workspace.Workspace,
	config OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if config.Interval == 0 {
		config.Interval = DefaultOrchestratorConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     s,
		executor:  executor,
		steps:     steps,
		workspace: ws,
		config:    config,
		logger:    logger.With("component", "engine.orchestrator"),
	}
}

// Start launches the polling loop.
func (o *Orchestrator) Start() {
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.wg.Add(1)
	go o.run()
	o.logger.Info("orchestrator started", "interval", o.config.Interval)
}

// Stop halts the polling loop and waits for the current cycle to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) run() {
	defer o.wg.Done()

	o.runCycle()

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.runCycle()
		}
	}
}

// runCycle advances every active run by one step. Per-run failures are
// logged and do not stop the sweep; the run is picked up again next cycle.
func (o *Orchestrator) runCycle() {
	runs, err := o.store.ListActiveRuns(o.ctx)
	if err != nil {
		o.logger.Error("failed to list active runs", "error", err)
		return
	}

	for i := range runs {
		run := &runs[i]
		ctx, cancel := context.WithTimeout(o.ctx, runBudget)
		err := o.advance(ctx, run)
		cancel()
		if err != nil {
			if o.ctx.Err() != nil {
				return
			}
			o.logger.Error("failed to advance run",
				"run_id", run.ID,
				"kind", run.Kind,
				"status", run.Status,
				"error", err)
		}
	}
}

// AdvanceRun advances a single run by one step immediately, outside the
// polling cadence.
func (o *Orchestrator) AdvanceRun(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return nil
	}
	return o.advance(ctx, run)
}

// AdvanceAll sweeps every active run once, stopping at the first error.
func (o *Orchestrator) AdvanceAll(ctx context.Context) error {
	runs, err := o.store.ListActiveRuns(ctx)
	if err != nil {
		return err
	}
	for i := range runs {
		if err := o.advance(ctx, &runs[i]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// State Machine
// =============================================================================

// advance moves a run forward by exactly one state-machine step. The new
// status and any terminal notification are persisted before returning, so
// a crash at any point resumes from the last committed state.
func (o *Orchestrator) advance(ctx context.Context, run *domain.Run) error {
	switch run.Kind {
	case domain.KindDeploy:
		return o.advanceDeploy(ctx, run)
	case domain.KindRollback:
		return o.advanceRollback(ctx, run)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownRunKind, run.Kind)
	}
}

func (o *Orchestrator) advanceDeploy(ctx context.Context, run *domain.Run) error {
	switch run.Status {
	case domain.RunPending:
		return o.transition(ctx, run, domain.RunValidating)
	case domain.RunValidating:
		return o.deployValidate(ctx, run)
	case domain.RunBackingUp:
		return o.deployBackup(ctx, run)
	case domain.RunCheckingPorts:
		return o.deployCheckPorts(ctx, run)
	case domain.RunDeploying:
		return o.deployDeploy(ctx, run)
	case domain.RunVerifying:
		return o.deployVerify(ctx, run)
	case domain.RunRollingBack:
		return o.deployAwaitRollback(ctx, run)
	default:
		return nil
	}
}

func (o *Orchestrator) advanceRollback(ctx context.Context, run *domain.Run) error {
	switch run.Status {
	case domain.RunPending:
		return o.transition(ctx, run, domain.RunTearingDown)
	case domain.RunTearingDown:
		return o.rollbackTeardown(ctx, run)
	case domain.RunResolvingBackup:
		return o.rollbackResolve(ctx, run)
	case domain.RunDeploying:
		return o.rollbackDeploy(ctx, run)
	case domain.RunVerifying:
		return o.rollbackVerify(ctx, run)
	default:
		return nil
	}
}

// =============================================================================
// Deploy Run Handlers
// =============================================================================

func (o *Orchestrator) deployValidate(ctx context.Context, run *domain.Run) error {
	result, err := o.executor.Run(ctx, run.ID, domain.StepValidate, o.steps.Validate(run.ComposePath))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return o.finish(ctx, run, domain.RunAborted, domain.DeployAbortedValidationMessage(err.Error()))
	}
	if result.Failed() {
		return o.finish(ctx, run, domain.RunAborted, domain.DeployAbortedValidationMessage(result.Output))
	}
	return o.transition(ctx, run, domain.RunBackingUp)
}

// deployBackup is best-effort: a failed backup is logged in the step trace
// and the deploy proceeds. A later rollback then finds no fresh backup,
// which the resolver reports on its own terms.
func (o *Orchestrator) deployBackup(ctx context.Context, run *domain.Run) error {
	if _, err := o.executor.Run(ctx, run.ID, domain.StepBackup, o.steps.Backup(run.ComposePath)); err != nil {
		if ctx.Err() != nil {
			return err
		}
		o.logger.Warn("backup failed, continuing deploy", "run_id", run.ID, "error", err)
	}
	return o.transition(ctx, run, domain.RunCheckingPorts)
}

func (o *Orchestrator) deployCheckPorts(ctx context.Context, run *domain.Run) error {
	result, err := o.executor.Run(ctx, run.ID, domain.StepDetectConflicts, o.steps.DetectConflicts(run.ComposePath))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return o.finish(ctx, run, domain.RunAborted, domain.DeployAbortedConflictsMessage(err.Error()))
	}
	if result.PortConflict {
		return o.finish(ctx, run, domain.RunAborted, domain.DeployAbortedConflictsMessage(result.Output))
	}
	return o.transition(ctx, run, domain.RunDeploying)
}

func (o *Orchestrator) deployDeploy(ctx context.Context, run *domain.Run) error {
	result, err := o.executor.Run(ctx, run.ID, domain.StepDeploy, o.steps.Deploy(run.ComposePath))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return o.beginRollback(ctx, run)
	}
	if result.Failed() {
		return o.beginRollback(ctx, run)
	}
	return o.transition(ctx, run, domain.RunVerifying)
}

func (o *Orchestrator) deployVerify(ctx context.Context, run *domain.Run) error {
	result, err := o.executor.Run(ctx, run.ID, domain.StepRunTests, o.steps.RunTests(run.ComposePath))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return o.beginRollback(ctx, run)
	}
	if result.Failed() {
		return o.beginRollback(ctx, run)
	}

	records, err := o.store.ListStepRecords(ctx, run.ID)
	if err != nil {
		return err
	}
	message := domain.DeploySucceededMessage(domain.DeploySummary(records), result.Output)
	return o.finish(ctx, run, domain.RunSucceeded, message)
}

// beginRollback flags the deploy run as rolling back and creates its
// rollback child in one transaction, so a crash between the two writes
// cannot strand either side.
func (o *Orchestrator) beginRollback(ctx context.Context, run *domain.Run) error {
	child := run.SpawnRollback()
	return o.store.WithTx(ctx, func(tx store.Store) error {
		if err := run.Transition(domain.RunRollingBack); err != nil {
			return err
		}
		if err := tx.UpdateRun(ctx, run); err != nil {
			return err
		}
		if err := tx.CreateRun(ctx, child); err != nil && !errors.Is(err, store.ErrDuplicateID) {
			return err
		}
		return nil
	})
}

// deployAwaitRollback parks the deploy run until its rollback child
// reaches a terminal state, then closes the deploy out with the combined
// deploy and rollback outcome.
func (o *Orchestrator) deployAwaitRollback(ctx context.Context, run *domain.Run) error {
	child, err := o.store.GetRun(ctx, domain.RollbackRunID(run.ID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return o.store.CreateRun(ctx, run.SpawnRollback())
		}
		return err
	}
	if !child.Terminal() {
		return nil
	}

	outcome, err := o.rollbackOutcome(ctx, child)
	if err != nil {
		return err
	}
	records, err := o.store.ListStepRecords(ctx, run.ID)
	if err != nil {
		return err
	}

	var message string
	if tests := latestStep(records, domain.StepRunTests); tests != nil && tests.Status == domain.StepFailed {
		message = domain.DeployFailedTestsMessage(stepOutput(tests), outcome)
	} else {
		message = domain.DeployFailedMessage(stepOutput(latestStep(records, domain.StepDeploy)), outcome)
	}
	return o.finish(ctx, run, domain.RunFailed, message)
}

// =============================================================================
// Rollback Run Handlers
// =============================================================================

// rollbackTeardown is best-effort: whatever is left of the failed
// deployment must not block restoring the backup.
func (o *Orchestrator) rollbackTeardown(ctx context.Context, run *domain.Run) error {
	if _, err := o.executor.Run(ctx, run.ID, domain.StepTeardown, o.steps.Teardown(run.Project)); err != nil {
		if ctx.Err() != nil {
			return err
		}
		o.logger.Warn("teardown failed, continuing rollback", "run_id", run.ID, "error", err)
	}
	return o.transition(ctx, run, domain.RunResolvingBackup)
}

// rollbackResolve picks the backup to restore: the explicitly supplied one
// if the run carries it, otherwise the newest backup on disk. No backup at
// all ends the run; the system never invents a deployment target.
func (o *Orchestrator) rollbackResolve(ctx context.Context, run *domain.Run) error {
	if run.BackupPath == "" {
		backupPath, err := o.workspace.LatestBackup()
		if err != nil {
			if errors.Is(err, spec.ErrNoBackup) {
				return o.finish(ctx, run, domain.RunFailed, domain.RollbackNoBackupMessage)
			}
			return err
		}
		run.BackupPath = backupPath
	}
	return o.transition(ctx, run, domain.RunDeploying)
}

// rollbackDeploy redeploys the resolved backup. A business failure still
// proceeds to verification, which will confirm the damage and escalate;
// only exhausted retries end the run here.
func (o *Orchestrator) rollbackDeploy(ctx context.Context, run *domain.Run) error {
	result, err := o.executor.Run(ctx, run.ID, domain.StepDeploy, o.steps.Deploy(run.BackupPath))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return o.rollbackCritical(ctx, run, "")
	}
	if result.Failed() {
		o.logger.Warn("backup deployment failed, verification will confirm",
			"run_id", run.ID, "backup_path", run.BackupPath)
	}
	return o.transition(ctx, run, domain.RunVerifying)
}

func (o *Orchestrator) rollbackVerify(ctx context.Context, run *domain.Run) error {
	result, err := o.executor.Run(ctx, run.ID, domain.StepRunTests, o.steps.RunTests(run.BackupPath))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return o.rollbackCritical(ctx, run, err.Error())
	}
	if result.Failed() {
		return o.rollbackCritical(ctx, run, result.Output)
	}

	records, err := o.store.ListStepRecords(ctx, run.ID)
	if err != nil {
		return err
	}
	message := domain.RollbackSuccessfulMessage(
		run.BackupPath,
		stepOutput(latestStep(records, domain.StepTeardown)),
		stepOutput(latestStep(records, domain.StepDeploy)),
		result.Output,
	)
	return o.finish(ctx, run, domain.RunSucceeded, message)
}

// rollbackCritical ends a rollback run whose restored deployment is also
// failing. Human intervention is required; nothing retries this.
func (o *Orchestrator) rollbackCritical(ctx context.Context, run *domain.Run, tests string) error {
	records, err := o.store.ListStepRecords(ctx, run.ID)
	if err != nil {
		return err
	}
	message := domain.RollbackCriticalMessage(
		stepOutput(latestStep(records, domain.StepTeardown)),
		stepOutput(latestStep(records, domain.StepDeploy)),
		tests,
	)
	return o.finish(ctx, run, domain.RunFailed, message)
}

// =============================================================================
// Persistence Helpers
// =============================================================================

// transition moves the run to a non-terminal status and persists it.
func (o *Orchestrator) transition(ctx context.Context, run *domain.Run, to domain.RunStatus) error {
	if err := run.Transition(to); err != nil {
		return err
	}
	return o.store.UpdateRun(ctx, run)
}

// finish moves the run to a terminal status and writes its single
// notification in the same transaction, so a crash can neither lose the
// notification nor double it.
func (o *Orchestrator) finish(ctx context.Context, run *domain.Run, to domain.RunStatus, message string) error {
	return o.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		switch to {
		case domain.RunAborted:
			err = run.TransitionToAborted(message)
		case domain.RunFailed:
			err = run.TransitionToFailed(message)
		default:
			err = run.Transition(to)
		}
		if err != nil {
			return err
		}
		if err := tx.UpdateRun(ctx, run); err != nil {
			return err
		}

		notification := domain.NewNotification(message)
		notification.RunID = run.ID
		return tx.CreateNotification(ctx, notification)
	})
}

// rollbackOutcome summarizes a finished rollback child for its parent's
// notification: failed children carry their message, successful ones are
// reassembled from the child's step trace.
func (o *Orchestrator) rollbackOutcome(ctx context.Context, child *domain.Run) (string, error) {
	if child.Status == domain.RunFailed {
		return child.ErrorMessage, nil
	}
	records, err := o.store.ListStepRecords(ctx, child.ID)
	if err != nil {
		return "", err
	}
	return domain.RollbackSuccessfulMessage(
		child.BackupPath,
		stepOutput(latestStep(records, domain.StepTeardown)),
		stepOutput(latestStep(records, domain.StepDeploy)),
		stepOutput(latestStep(records, domain.StepRunTests)),
	), nil
}

// latestStep returns the most recent attempt record for a step, or nil.
func latestStep(records []domain.StepRecord, step domain.StepName) *domain.StepRecord {
	var last *domain.StepRecord
	for i := range records {
		if records[i].Step == step {
			last = &records[i]
		}
	}
	return last
}

// stepOutput renders a record's payload, falling back to its error text
// for attempts that died before producing output.
func stepOutput(record *domain.StepRecord) string {
	if record == nil {
		return ""
	}
	if record.Output != "" {
		return record.Output
	}
	return record.Error
}
