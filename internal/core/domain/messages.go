package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Notification Messages
// =============================================================================

// Notification texts follow a fixed operator-facing format: a shouting
// headline naming the outcome, then the evidence. The texts are part of
// the alerting contract; tests pin them.

// RollbackNoBackupMessage is sent when a rollback finds nothing to
// restore.
const RollbackNoBackupMessage = "ROLLBACK FAILED: No backup file found"

// DeployAbortedValidationMessage reports a deploy stopped by a failed
// validation, before anything was touched.
func DeployAbortedValidationMessage(validation string) string {
	return "DEPLOY ABORTED — Validation failed:\n" + validation
}

// DeployAbortedConflictsMessage reports a deploy stopped by occupied host
// ports.
func DeployAbortedConflictsMessage(conflicts string) string {
	return "DEPLOY ABORTED — Port conflicts detected:\n" + conflicts
}

// DeployFailedMessage combines a failed deploy with the outcome of the
// rollback it triggered.
func DeployFailedMessage(deployOutput, rollbackOutcome string) string {
	return fmt.Sprintf("DEPLOY FAILED — Auto-rollback triggered:\n%s\n\nRollback result:\n%s",
		deployOutput, rollbackOutcome)
}

// DeployFailedTestsMessage combines a failed verification with the
// outcome of the rollback it triggered.
func DeployFailedTestsMessage(testReport, rollbackOutcome string) string {
	return fmt.Sprintf("DEPLOY FAILED (tests) — Auto-rollback triggered:\n%s\n\nRollback:\n%s",
		testReport, rollbackOutcome)
}

// DeploySucceededMessage reports a completed deploy with its step summary
// and the full verification report.
func DeploySucceededMessage(summary, testReport string) string {
	return fmt.Sprintf("DEPLOYMENT SUCCESSFUL\n\n%s\n\nTest Results:\n%s", summary, testReport)
}

// HealthAlertMessage is sent on the first failure of a monitor streak.
func HealthAlertMessage(report string) string {
	return "HEALTH ALERT: Unhealthy containers detected!\n" + Truncate(report, 300)
}

// DiagnosisMessage carries the diagnostic evidence gathered after a
// failure streak.
func DiagnosisMessage(failures int, analysis string) string {
	return fmt.Sprintf("DIAGNOSIS after %d failures:\n%s", failures, Truncate(analysis, 400))
}

// RollbackCriticalMessage reports that the restored backup is failing
// verification too. This is terminal: no further automation fires on the
// target until a human intervenes.
func RollbackCriticalMessage(teardown, deploy, tests string) string {
	return fmt.Sprintf("ROLLBACK CRITICAL: Backup deployment also failing!\nTeardown: %s\nDeploy: %s\nTests: %s",
		Truncate(teardown, 100), Truncate(deploy, 100), Truncate(tests, 200))
}

// RollbackSuccessfulMessage reports a completed rollback and names the
// backup it restored.
func RollbackSuccessfulMessage(backupPath, teardown, deploy, tests string) string {
	return fmt.Sprintf("ROLLBACK SUCCESSFUL\nBackup: %s\nTeardown: %s\nDeploy: %s\nTests: %s",
		backupPath, Truncate(teardown, 100), Truncate(deploy, 100), Truncate(tests, 100))
}

// =============================================================================
// Deploy Step Summary
// =============================================================================

// deploySummarySteps maps the deploy pipeline's steps to their summary
// line position, label, and output budget.
var deploySummarySteps = []struct {
	step  StepName
	label string
	max   int
}{
	{StepValidate, "Validate", 100},
	{StepBackup, "Backup", 100},
	{StepDetectConflicts, "Ports", 100},
	{StepDeploy, "Deploy", 100},
	{StepRunTests, "Tests", 200},
}

// DeploySummary renders the step-by-step summary for a deploy's success
// notification from its recorded steps. When a step ran more than once,
// the latest attempt wins.
func DeploySummary(records []StepRecord) string {
	latest := make(map[StepName]StepRecord, len(records))
	for _, r := range records {
		latest[r.Step] = r
	}

	var lines []string
	for i, s := range deploySummarySteps {
		record, ok := latest[s.step]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%d/6] %s: %s", i+1, s.label, Truncate(record.Output, s.max)))
	}
	return strings.Join(lines, "\n")
}
