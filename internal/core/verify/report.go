// Package verify defines the verification report model: the fixed
// eight-check suite, per-check verdicts, and the aggregation rule that
// turns them into one deployment verdict. Running the checks against a
// live deployment is the shell's job; this package only represents and
// renders the outcome.
package verify

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Check Names
// =============================================================================

// The eight checks, in the fixed order they run and appear in reports.
// Later checks assume earlier ones already selected the live container
// set, so the order is part of the contract.
const (
	CheckRunning      = "Container Running Test"
	CheckHealth       = "Health Check Test"
	CheckPorts        = "Port Binding Test"
	CheckConnectivity = "Connectivity Test"
	CheckVolumes      = "Volume Mount Test"
	CheckEnvironment  = "Environment Variable Test"
	CheckLogs         = "Log Output Test"
	CheckResources    = "Resource Baseline Test"
)

// AllChecks lists the checks in execution order.
var AllChecks = []string{
	CheckRunning, CheckHealth, CheckPorts, CheckConnectivity,
	CheckVolumes, CheckEnvironment, CheckLogs, CheckResources,
}

// =============================================================================
// Statuses and Verdicts
// =============================================================================

type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// Verdict is the aggregate outcome of one verification.
type Verdict string

const (
	VerdictSuccessful Verdict = "SUCCESSFUL"
	VerdictWarnings   Verdict = "ACCEPTED_WITH_WARNINGS"
	VerdictFailed     Verdict = "FAILED"
)

// Text returns the operator-facing wording for the report's verdict
// line.
func (v Verdict) Text() string {
	switch v {
	case VerdictFailed:
		return "FAILED — rollback recommended"
	case VerdictWarnings:
		return "ACCEPTED WITH WARNINGS"
	default:
		return "SUCCESSFUL"
	}
}

// =============================================================================
// Check Results
// =============================================================================

// CheckResult is one check's verdict with its evidence.
type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
}

// Aggregate folds check results into one verdict: FAILED if any check
// failed, else ACCEPTED_WITH_WARNINGS if any warned, else SUCCESSFUL.
func Aggregate(results []CheckResult) Verdict {
	verdict := VerdictSuccessful
	for _, r := range results {
		switch r.Status {
		case StatusFail:
			return VerdictFailed
		case StatusWarn:
			verdict = VerdictWarnings
		}
	}
	return verdict
}

// =============================================================================
// Report
// =============================================================================

// Report is one verification outcome: the checks in order plus the
// context they ran against. Reports are produced fresh per invocation
// and persisted only as rendered text in step records.
type Report struct {
	ComposePath string        `json:"compose_path"`
	Services    []string      `json:"services"`
	Results     []CheckResult `json:"results"`
	StartedAt   time.Time     `json:"started_at"`
}

// NewReport opens a report for one verification pass.
func NewReport(composePath string, services []string) *Report {
	return &Report{
		ComposePath: composePath,
		Services:    services,
		StartedAt:   time.Now().UTC(),
	}
}

// Add appends one check's result.
func (r *Report) Add(name string, status CheckStatus, detail string) {
	r.Results = append(r.Results, CheckResult{Name: name, Status: status, Detail: detail})
}

// Counts returns the pass/warn/fail tallies.
func (r *Report) Counts() (pass, warn, fail int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

// Verdict aggregates the report's results.
func (r *Report) Verdict() Verdict {
	return Aggregate(r.Results)
}

// Render produces the operator-facing test report.
func (r *Report) Render() string {
	ts := r.StartedAt.Format("2006-01-02 15:04:05")

	services := "none detected"
	if len(r.Services) > 0 {
		services = strings.Join(r.Services, ", ")
	}

	lines := []string{
		fmt.Sprintf("[%s] [TEST] ━━ DEPLOYMENT TEST REPORT ━━━━━━━━━━━━", ts),
		fmt.Sprintf("[%s] [TEST] %-12s : %s", ts, "Compose File", r.ComposePath),
		fmt.Sprintf("[%s] [TEST] %-12s : %s", ts, "Services", services),
		fmt.Sprintf("[%s] [TEST] ─────────────────────────────────────", ts),
	}

	for _, res := range r.Results {
		lines = append(lines, fmt.Sprintf("[%s] [%s] %-25s: %s", ts, res.Status, res.Name, res.Detail))
	}

	pass, warn, fail := r.Counts()
	lines = append(lines,
		fmt.Sprintf("[%s] [TEST] ─────────────────────────────────────", ts),
		fmt.Sprintf("[%s] [TEST] Result: %d PASS / %d WARN / %d FAIL", ts, pass, warn, fail),
		fmt.Sprintf("[%s] [TEST] Deployment: %s", ts, r.Verdict().Text()),
		fmt.Sprintf("[%s] [TEST] ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━", ts),
	)

	return strings.Join(lines, "\n")
}
