// Package domain contains the core domain types for Shipwright: runs,
// steps, monitors, and notifications. Everything in this package is pure
// state and transition logic; persistence and side effects live in the
// shell packages.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownRunKind    = errors.New("unknown run kind")
)

// =============================================================================
// Run Kind and Status
// =============================================================================

// RunKind distinguishes the two pipeline shapes a run can execute.
type RunKind string

const (
	KindDeploy   RunKind = "deploy"
	KindRollback RunKind = "rollback"
)

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunSucceeded  RunStatus = "succeeded"
	RunAborted    RunStatus = "aborted"
	RunFailed     RunStatus = "failed"
	RunDeploying  RunStatus = "deploying"
	RunVerifying  RunStatus = "verifying"

	// Deploy-only states.
	RunValidating    RunStatus = "validating"
	RunBackingUp     RunStatus = "backing_up"
	RunCheckingPorts RunStatus = "checking_ports"
	RunRollingBack   RunStatus = "rolling_back"

	// Rollback-only states.
	RunTearingDown     RunStatus = "tearing_down"
	RunResolvingBackup RunStatus = "resolving_backup"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunAborted, RunFailed:
		return true
	}
	return false
}

// ActiveRunStatuses lists every non-terminal status, for store queries that
// load runs the orchestrator still needs to advance.
var ActiveRunStatuses = []RunStatus{
	RunPending, RunValidating, RunBackingUp, RunCheckingPorts,
	RunDeploying, RunVerifying, RunRollingBack,
	RunTearingDown, RunResolvingBackup,
}

// =============================================================================
// Run
// =============================================================================

// Run represents one execution of a deploy or rollback pipeline. A run
// advances through its kind's state machine one step at a time; every
// transition is persisted before the next step starts, so a restarted
// process resumes from the last recorded status.
type Run struct {
	ID           string     `json:"id"`
	Kind         RunKind    `json:"kind"`
	Status       RunStatus  `json:"status"`
	Project      string     `json:"project"`
	Environment  string     `json:"environment,omitempty"`
	ComposePath  string     `json:"compose_path"`
	BackupPath   string     `json:"backup_path,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewDeployRun creates a pending deploy run for a rendered compose file.
func NewDeployRun(project, composePath, environment string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          newID("deploy", now),
		Kind:        KindDeploy,
		Status:      RunPending,
		Project:     project,
		Environment: environment,
		ComposePath: composePath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewRollbackRun creates a pending operator-initiated rollback run.
// backupPath may be empty, in which case the newest backup is resolved
// when the run reaches resolving_backup.
func NewRollbackRun(project, composePath, backupPath string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          newID("rollback", now),
		Kind:        KindRollback,
		Status:      RunPending,
		Project:     project,
		ComposePath: composePath,
		BackupPath:  backupPath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RollbackRunID derives the id of the rollback child spawned for a deploy
// run. The derivation is deterministic so a deploy can never spawn two
// children and callers can look the child up without storing its id.
func RollbackRunID(parentID string) string {
	return "rollback-" + parentID
}

// SpawnRollback creates the child rollback run for a failed deploy.
func (r *Run) SpawnRollback() *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          RollbackRunID(r.ID),
		Kind:        KindRollback,
		Status:      RunPending,
		Project:     r.Project,
		Environment: r.Environment,
		ComposePath: r.ComposePath,
		ParentID:    r.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the run has reached an end state.
func (r *Run) Terminal() bool {
	return r.Status.Terminal()
}

// Transition attempts to move the run to a new status.
func (r *Run) Transition(to RunStatus) error {
	if err := ValidateRunTransition(r.Kind, r.Status, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	if r.Status == RunPending {
		r.StartedAt = &now
	}
	r.Status = to
	r.UpdatedAt = now
	if to.Terminal() {
		r.FinishedAt = &now
	}
	return nil
}

// TransitionToAborted moves the run to aborted with a reason. Aborting is
// only legal from the pre-mutation states, so nothing has been deployed
// when this fires.
func (r *Run) TransitionToAborted(reason string) error {
	if err := r.Transition(RunAborted); err != nil {
		return err
	}
	r.ErrorMessage = reason
	return nil
}

// TransitionToFailed moves the run to failed from any non-terminal state.
// This is the escape hatch for exhausted step retries and infrastructure
// errors, which can strike in any active state.
func (r *Run) TransitionToFailed(errorMessage string) error {
	if r.Status.Terminal() {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	r.Status = RunFailed
	r.ErrorMessage = errorMessage
	r.UpdatedAt = now
	r.FinishedAt = &now
	return nil
}

// =============================================================================
// State Machines
// =============================================================================

// runTransitions defines the allowed transitions per run kind.
var runTransitions = map[RunKind]map[RunStatus][]RunStatus{
	KindDeploy: {
		RunPending:       {RunValidating},
		RunValidating:    {RunBackingUp, RunAborted},
		RunBackingUp:     {RunCheckingPorts},
		RunCheckingPorts: {RunDeploying, RunAborted},
		RunDeploying:     {RunVerifying, RunRollingBack},
		RunVerifying:     {RunSucceeded, RunRollingBack},
		RunRollingBack:   {RunFailed},
		RunSucceeded:     {},
		RunAborted:       {},
		RunFailed:        {},
	},
	KindRollback: {
		RunPending:         {RunTearingDown},
		RunTearingDown:     {RunResolvingBackup},
		RunResolvingBackup: {RunDeploying, RunFailed},
		RunDeploying:       {RunVerifying, RunFailed},
		RunVerifying:       {RunSucceeded, RunFailed},
		RunSucceeded:       {},
		RunFailed:          {},
	},
}

// ValidateRunTransition checks if a status transition is valid for the
// given run kind.
func ValidateRunTransition(kind RunKind, from, to RunStatus) error {
	transitions, exists := runTransitions[kind]
	if !exists {
		return ErrUnknownRunKind
	}

	allowed, exists := transitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// ID Generation
// =============================================================================

// newID builds a prefixed identifier with a timestamp and a short random
// suffix, readable in logs and unique enough for a single installation.
func newID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, now.Unix(), uuid.NewString()[:6])
}
