package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// evidenceLogTail is how many log lines the collector pulls per container.
const evidenceLogTail = 20

// EvidenceAnalyzer is the default diagnostic backend: it does not
// interpret a failing report, it collects the evidence an operator needs
// to. For every container in the project it gathers an inspect summary,
// the most recent log lines, and a stats snapshot.
type EvidenceAnalyzer struct {
	runtime Runtime
	logger  *slog.Logger
}

// NewEvidenceAnalyzer creates the runtime-backed diagnostic collector.
func NewEvidenceAnalyzer(runtime Runtime, logger *slog.Logger) *EvidenceAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvidenceAnalyzer{
		runtime: runtime,
		logger:  logger.With("component", "engine.diagnose"),
	}
}

// Analyze assembles the evidence report for a project whose health checks
// are failing. Per-container collection trouble is folded into the report;
// only a failure to enumerate the project at all is an error.
func (a *EvidenceAnalyzer) Analyze(ctx context.Context, project, report string) (string, error) {
	states, err := a.runtime.ListProject(ctx, project)
	if err != nil {
		return "", fmt.Errorf("list containers for %s: %w", project, err)
	}
	if len(states) == 0 {
		return fmt.Sprintf("No containers found for project '%s'. Failing report was:\n%s", project, report), nil
	}

	lines := []string{"━━ DIAGNOSTIC EVIDENCE ━━━━━━━━━━━━━━━━━"}
	for _, st := range states {
		lines = append(lines, fmt.Sprintf("%s: status=%s, health=%s, restarts=%d, exit_code=%d, image=%s",
			st.Name, st.Status, healthLabel(st.Health), st.RestartCount, st.ExitCode, st.Image))

		if stats, serr := a.runtime.Stats(ctx, st.ID); serr == nil {
			lines = append(lines, fmt.Sprintf("  cpu=%.1f%%, mem=%.1f%%", stats.CPUPercent, stats.MemoryPercent))
		} else {
			a.logger.Debug("stats unavailable", "container", st.Name, "error", serr)
		}

		logs, lerr := a.runtime.Logs(ctx, st.ID, evidenceLogTail)
		switch {
		case lerr != nil:
			lines = append(lines, "  recent logs unavailable: "+lerr.Error())
		case strings.TrimSpace(logs) == "":
			lines = append(lines, "  recent logs: (empty)")
		default:
			lines = append(lines, "  recent logs:")
			for _, logLine := range strings.Split(strings.TrimRight(logs, "\n"), "\n") {
				lines = append(lines, "    "+logLine)
			}
		}
	}
	lines = append(lines, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	return strings.Join(lines, "\n"), nil
}
