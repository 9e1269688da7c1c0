package verify

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Aggregation Tests
// =============================================================================

func TestAggregate_Empty(t *testing.T) {
	assert.Equal(t, VerdictSuccessful, Aggregate(nil))
}

func TestAggregate_AllPass(t *testing.T) {
	results := []CheckResult{
		{Name: CheckRunning, Status: StatusPass},
		{Name: CheckHealth, Status: StatusPass},
	}
	assert.Equal(t, VerdictSuccessful, Aggregate(results))
}

func TestAggregate_WarnWithoutFail(t *testing.T) {
	results := []CheckResult{
		{Name: CheckRunning, Status: StatusPass},
		{Name: CheckLogs, Status: StatusWarn},
	}
	assert.Equal(t, VerdictWarnings, Aggregate(results))
}

func TestAggregate_FailBeatsWarn(t *testing.T) {
	results := []CheckResult{
		{Name: CheckRunning, Status: StatusFail},
		{Name: CheckLogs, Status: StatusWarn},
		{Name: CheckHealth, Status: StatusPass},
	}
	assert.Equal(t, VerdictFailed, Aggregate(results))
}

// TestAggregate_TruthTable walks every combination of eight check
// statuses and asserts the aggregation rule: FAILED iff any FAIL, else
// ACCEPTED_WITH_WARNINGS iff any WARN, else SUCCESSFUL.
func TestAggregate_TruthTable(t *testing.T) {
	statuses := []CheckStatus{StatusPass, StatusWarn, StatusFail}

	total := 1
	for range AllChecks {
		total *= len(statuses)
	}

	for combo := 0; combo < total; combo++ {
		results := make([]CheckResult, len(AllChecks))
		hasFail, hasWarn := false, false

		n := combo
		for i, name := range AllChecks {
			status := statuses[n%len(statuses)]
			n /= len(statuses)
			results[i] = CheckResult{Name: name, Status: status}
			hasFail = hasFail || status == StatusFail
			hasWarn = hasWarn || status == StatusWarn
		}

		want := VerdictSuccessful
		if hasFail {
			want = VerdictFailed
		} else if hasWarn {
			want = VerdictWarnings
		}

		require.Equal(t, want, Aggregate(results), "combo %d", combo)
	}
}

// =============================================================================
// Verdict Text Tests
// =============================================================================

func TestVerdict_Text(t *testing.T) {
	assert.Equal(t, "SUCCESSFUL", VerdictSuccessful.Text())
	assert.Equal(t, "ACCEPTED WITH WARNINGS", VerdictWarnings.Text())
	assert.Equal(t, "FAILED — rollback recommended", VerdictFailed.Text())
}

// =============================================================================
// Report Tests
// =============================================================================

func fixedReport() *Report {
	report := NewReport("/data/compose/shop.yml", []string{"shop-db-1", "shop-api-1"})
	report.StartedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return report
}

func TestReport_Counts(t *testing.T) {
	report := fixedReport()
	report.Add(CheckRunning, StatusPass, "ALL 2 running")
	report.Add(CheckHealth, StatusWarn, "shop-api-1=no healthcheck")
	report.Add(CheckPorts, StatusFail, "8080=closed")
	report.Add(CheckLogs, StatusPass, "No error keywords in startup logs")

	pass, warn, fail := report.Counts()
	assert.Equal(t, 2, pass)
	assert.Equal(t, 1, warn)
	assert.Equal(t, 1, fail)
	assert.Equal(t, VerdictFailed, report.Verdict())
}

func TestReport_Render(t *testing.T) {
	report := fixedReport()
	report.Add(CheckRunning, StatusPass, "ALL 2 running")
	report.Add(CheckHealth, StatusPass, "shop-db-1=healthy, shop-api-1=healthy")

	out := report.Render()
	lines := strings.Split(out, "\n")

	// 4 header lines, one per check, 4 footer lines.
	require.Len(t, lines, 10)
	assert.Equal(t, "[2026-03-14 09:30:00] [TEST] ━━ DEPLOYMENT TEST REPORT ━━━━━━━━━━━━", lines[0])
	assert.Equal(t, "[2026-03-14 09:30:00] [TEST] Compose File : /data/compose/shop.yml", lines[1])
	assert.Equal(t, "[2026-03-14 09:30:00] [TEST] Services     : shop-db-1, shop-api-1", lines[2])
	assert.Equal(t, "[2026-03-14 09:30:00] [PASS] Container Running Test   : ALL 2 running", lines[4])
	assert.Equal(t, "[2026-03-14 09:30:00] [PASS] Health Check Test        : shop-db-1=healthy, shop-api-1=healthy", lines[5])
}

func TestReport_Render_CountsAndVerdict(t *testing.T) {
	report := fixedReport()
	for _, name := range AllChecks {
		report.Add(name, StatusPass, "ok")
	}

	out := report.Render()

	assert.Contains(t, out, "Result: 8 PASS / 0 WARN / 0 FAIL")
	assert.Contains(t, out, "Deployment: SUCCESSFUL")
}

func TestReport_Render_FailedVerdictWording(t *testing.T) {
	report := fixedReport()
	report.Add(CheckRunning, StatusFail, "No containers found")

	out := report.Render()

	assert.Contains(t, out, "Result: 0 PASS / 0 WARN / 1 FAIL")
	assert.Contains(t, out, "Deployment: FAILED — rollback recommended")
}

func TestReport_Render_WarningsVerdictWording(t *testing.T) {
	report := fixedReport()
	report.Add(CheckRunning, StatusPass, "ALL 2 running")
	report.Add(CheckLogs, StatusWarn, "shop-api-1: found [timeout]")

	out := report.Render()

	assert.Contains(t, out, "Deployment: ACCEPTED WITH WARNINGS")
}

func TestReport_Render_NoServices(t *testing.T) {
	report := NewReport("/data/compose/shop.yml", nil)
	report.StartedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	assert.Contains(t, report.Render(), "Services     : none detected")
}

func TestReport_Render_StatusColumnAligned(t *testing.T) {
	report := fixedReport()
	report.Add(CheckRunning, StatusPass, "ALL 2 running")
	report.Add(CheckEnvironment, StatusWarn, "shop-api-1=cannot read env")

	lines := strings.Split(report.Render(), "\n")

	short := fmt.Sprintf("%-25s", CheckRunning)
	long := fmt.Sprintf("%-25s", CheckEnvironment)
	assert.Contains(t, lines[4], short+": ")
	assert.Contains(t, lines[5], long+": ")
	assert.Equal(t, strings.Index(lines[4], ": ALL"), strings.Index(lines[5], ": shop"))
}
