package domain

import "time"

// =============================================================================
// Step Names
// =============================================================================

// StepName identifies one retriable unit of work invoked by a run or
// monitor. Names are stable: they key the policy table and are persisted
// in step records.
type StepName string

const (
	StepValidate        StepName = "validate"
	StepBackup          StepName = "backup"
	StepDetectConflicts StepName = "detect_conflicts"
	StepDeploy          StepName = "deploy"
	StepTeardown        StepName = "teardown"
	StepRunTests        StepName = "run_tests"
	StepHealthCheck     StepName = "health_check"
	StepDiagnose        StepName = "diagnose"
	StepNotify          StepName = "notify"
)

// =============================================================================
// Step Policies
// =============================================================================

// StepPolicy bounds one step: a per-attempt timeout, a retry cap, and for
// long-running steps a heartbeat interval. A zero Heartbeat means the step
// does not heartbeat.
type StepPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Heartbeat   time.Duration
}

// stepPolicies is the declarative policy table. Destructive steps (deploy,
// teardown) are never retried beyond their cap; exhausting it surfaces to
// the state machine as a hard failure.
var stepPolicies = map[StepName]StepPolicy{
	StepValidate:        {Timeout: 30 * time.Second, MaxAttempts: 2},
	StepBackup:          {Timeout: 30 * time.Second, MaxAttempts: 2},
	StepDetectConflicts: {Timeout: 30 * time.Second, MaxAttempts: 1},
	StepDeploy:          {Timeout: 5 * time.Minute, MaxAttempts: 2, Heartbeat: 60 * time.Second},
	StepTeardown:        {Timeout: 2 * time.Minute, MaxAttempts: 1},
	StepRunTests:        {Timeout: 3 * time.Minute, MaxAttempts: 1, Heartbeat: 120 * time.Second},
	StepHealthCheck:     {Timeout: 60 * time.Second, MaxAttempts: 3},
	StepDiagnose:        {Timeout: 2 * time.Minute, MaxAttempts: 1, Heartbeat: 60 * time.Second},
	StepNotify:          {Timeout: 10 * time.Second, MaxAttempts: 1},
}

// PolicyFor returns the policy for a step. Unknown names get a
// conservative single-attempt policy rather than an error, so a stray
// step name cannot stall a run.
func PolicyFor(name StepName) StepPolicy {
	if policy, ok := stepPolicies[name]; ok {
		return policy
	}
	return StepPolicy{Timeout: 30 * time.Second, MaxAttempts: 1}
}

// =============================================================================
// Step Results
// =============================================================================

type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
)

// StepResult is the structured outcome of one step execution. Status
// carries the business outcome the orchestrator branches on; the
// free-form Output feeds step records and notifications. PortConflict is
// set only by the port check, marking occupied ports as a distinct
// outcome from an erroring check.
type StepResult struct {
	Status       StepStatus `json:"status"`
	Output       string     `json:"output"`
	PortConflict bool       `json:"port_conflict,omitempty"`
}

// Failed reports whether the step reached a definitive negative outcome.
func (r StepResult) Failed() bool {
	return r.Status == StepFailed
}

// =============================================================================
// Step Records
// =============================================================================

// MaxStepOutput bounds the output persisted per step record.
const MaxStepOutput = 4096

// StepRecord is the persisted trace of one step attempt. Records are
// append-only: a retried step appends a new record with a higher attempt
// number rather than rewriting the previous one.
type StepRecord struct {
	ID          int64      `json:"-"`
	RunID       string     `json:"run_id"`
	Step        StepName   `json:"step"`
	Attempt     int        `json:"attempt"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Duration    int64      `json:"duration_ms"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// NewStepRecord opens a record for one attempt of a step. The record is
// persisted before the step runs, so an attempt interrupted by a crash
// remains visible as running.
func NewStepRecord(runID string, step StepName, attempt int) *StepRecord {
	return &StepRecord{
		RunID:     runID,
		Step:      step,
		Attempt:   attempt,
		Status:    StepRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Complete closes the record with the attempt's outcome. Infrastructure
// errors land in Error; business outcomes land in Status and Output.
func (r *StepRecord) Complete(result StepResult, err error) {
	now := time.Now().UTC()
	r.Status = result.Status
	r.Output = Truncate(result.Output, MaxStepOutput)
	if err != nil {
		r.Status = StepFailed
		r.Error = Truncate(err.Error(), MaxStepOutput)
	}
	r.FinishedAt = now
	r.Duration = now.Sub(r.StartedAt).Milliseconds()
}

// Heartbeat stamps the record with a liveness timestamp so slow work is
// distinguishable from a hang.
func (r *StepRecord) Heartbeat() {
	now := time.Now().UTC()
	r.HeartbeatAt = &now
}
