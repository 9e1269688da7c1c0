package verify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
	"github.com/artpar/shipwright/internal/core/verify"
)

// =============================================================================
// Check 1: Container Running
// =============================================================================

// checkRunning verifies every plan service has a running container. It
// returns the running set, in plan order, for the later checks.
func (s *Suite) checkRunning(plan *spec.Plan, states []domain.ContainerState) (verify.CheckStatus, string, []domain.ContainerState) {
	if len(states) == 0 {
		return verify.StatusFail, "No containers found", nil
	}

	byService := make(map[string]domain.ContainerState, len(states))
	for _, st := range states {
		byService[st.Service] = st
	}

	var running []domain.ContainerState
	var notRunning []string
	for _, svc := range plan.Services {
		st, ok := byService[svc.Name]
		switch {
		case ok && st.Running:
			running = append(running, st)
		case ok:
			notRunning = append(notRunning, st.Name)
		default:
			// Never created; report the name it would have had
			notRunning = append(notRunning, plan.Project+"-"+svc.Name+"-1")
		}
	}

	if len(notRunning) > 0 {
		return verify.StatusFail, strings.Join(notRunning, ", ") + " not running", running
	}
	return verify.StatusPass, fmt.Sprintf("ALL %d running", len(running)), running
}

// =============================================================================
// Check 2: Health
// =============================================================================

// checkHealth waits for each running container's health status to reach
// a terminal outcome, polling PollCount times at PollInterval spacing.
func (s *Suite) checkHealth(ctx context.Context, running []domain.ContainerState) (verify.CheckStatus, string) {
	var results []string
	var failed, warned bool

	for _, c := range running {
		outcome := s.pollHealth(ctx, c.ID)
		results = append(results, c.Name+"="+outcome)
		switch outcome {
		case "unhealthy", "timeout":
			failed = true
		case "no healthcheck":
			warned = true
		}
	}

	detail := strings.Join(results, ", ")
	switch {
	case failed:
		return verify.StatusFail, detail
	case warned:
		return verify.StatusWarn, detail
	default:
		return verify.StatusPass, detail
	}
}

// pollHealth resolves one container's health to a terminal outcome.
// A container stuck in "starting" past the poll budget is a timeout.
func (s *Suite) pollHealth(ctx context.Context, containerID string) string {
	for i := 0; i < s.cfg.PollCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "timeout"
			case <-time.After(s.cfg.PollInterval):
			}
		}

		state, err := s.runtime.Inspect(ctx, containerID)
		if err != nil {
			// The container may be mid-restart; keep polling
			continue
		}
		switch state.Health {
		case domain.HealthHealthy:
			return "healthy"
		case domain.HealthUnhealthy:
			return "unhealthy"
		case domain.HealthNone:
			return "no healthcheck"
		}
	}
	return "timeout"
}

// =============================================================================
// Check 3: Port Binding
// =============================================================================

// checkPorts dials every published host port on the loopback interface.
func (s *Suite) checkPorts(ctx context.Context, plan *spec.Plan) (verify.CheckStatus, string) {
	var results []string
	var failures bool

	dialer := &net.Dialer{Timeout: portDialTimeout}
	for _, svc := range plan.Services {
		for _, p := range svc.Ports {
			if p.HostPort <= 0 {
				continue
			}
			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.HostPort))
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			switch {
			case err == nil:
				conn.Close()
				results = append(results, fmt.Sprintf("%d=open", p.HostPort))
			case isTimeout(err):
				results = append(results, fmt.Sprintf("%d=error", p.HostPort))
				failures = true
			default:
				results = append(results, fmt.Sprintf("%d=closed", p.HostPort))
				failures = true
			}
		}
	}

	switch {
	case len(results) == 0:
		return verify.StatusWarn, "No port mappings found"
	case failures:
		return verify.StatusFail, strings.Join(results, ", ")
	default:
		return verify.StatusPass, strings.Join(results, ", ")
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// =============================================================================
// Check 4: Inter-Service Connectivity
// =============================================================================

// checkConnectivity pings every container from the first one, by
// container name first and network alias second. Partial reachability
// warns rather than fails.
func (s *Suite) checkConnectivity(ctx context.Context, running []domain.ContainerState) (verify.CheckStatus, string) {
	if len(running) < 2 {
		return verify.StatusPass, "Single service — skipped"
	}

	first := running[0]
	var results []string
	var unreachable bool

	for _, other := range running[1:] {
		if s.ping(ctx, first.ID, other.Name) {
			results = append(results, other.Name+"=reachable")
			continue
		}
		short := shortServiceName(other)
		if short != other.Name && s.ping(ctx, first.ID, short) {
			results = append(results, short+"=reachable")
			continue
		}
		results = append(results, other.Name+"=unreachable")
		unreachable = true
	}

	if unreachable {
		return verify.StatusWarn, strings.Join(results, ", ")
	}
	return verify.StatusPass, strings.Join(results, ", ")
}

// ping sends a single-packet ping with a 2 second reply deadline.
func (s *Suite) ping(ctx context.Context, containerID, target string) bool {
	_, code, err := s.runtime.Exec(ctx, containerID, []string{"ping", "-c", "1", "-W", "2", target})
	return err == nil && code == 0
}

// shortServiceName is the alias a peer resolves on the project network:
// the service label, or the service segment of the compose container
// name when the label is missing.
func shortServiceName(c domain.ContainerState) string {
	if c.Service != "" {
		return c.Service
	}
	parts := strings.Split(c.Name, "-")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return c.Name
}

// =============================================================================
// Check 5: Volume Mount
// =============================================================================

// checkVolumes write-read-deletes a probe file on up to the first two
// mounts of each container.
func (s *Suite) checkVolumes(ctx context.Context, running []domain.ContainerState) (verify.CheckStatus, string) {
	var results []string
	var notWritable bool

	for _, c := range running {
		mounts := c.Mounts
		if len(mounts) > 2 {
			mounts = mounts[:2]
		}
		for _, mount := range mounts {
			probe := fmt.Sprintf("%s/.devops_test_%d", mount, time.Now().Unix())
			script := fmt.Sprintf("echo test > %s && cat %s && rm %s", probe, probe, probe)
			_, code, err := s.runtime.Exec(ctx, c.ID, []string{"sh", "-c", script})
			if err == nil && code == 0 {
				results = append(results, mount+"=writable")
			} else {
				results = append(results, mount+"=not_writable")
				notWritable = true
			}
		}
	}

	switch {
	case len(results) == 0:
		return verify.StatusPass, "No volumes to test"
	case notWritable:
		return verify.StatusWarn, strings.Join(results, ", ")
	default:
		return verify.StatusPass, strings.Join(results, ", ")
	}
}

// =============================================================================
// Check 6: Environment Variables
// =============================================================================

// checkEnvironment confirms the process environment is enumerable
// inside each container.
func (s *Suite) checkEnvironment(ctx context.Context, running []domain.ContainerState) (verify.CheckStatus, string) {
	var results []string
	var unreadable bool

	for _, c := range running {
		out, code, err := s.runtime.Exec(ctx, c.ID, []string{"env"})
		if err != nil || code != 0 {
			results = append(results, c.Name+"=cannot read env")
			unreadable = true
			continue
		}
		count := len(strings.Split(strings.TrimSpace(out), "\n"))
		results = append(results, fmt.Sprintf("%s=%d vars", c.Name, count))
	}

	if unreadable {
		return verify.StatusWarn, strings.Join(results, ", ")
	}
	return verify.StatusPass, strings.Join(results, ", ")
}

// =============================================================================
// Check 7: Log Output
// =============================================================================

// logKeywords are scanned case-insensitively in startup logs. A hit
// warns but never fails: a matched keyword alone does not prove
// breakage.
var logKeywords = []string{"panic", "fatal", "error", "exception", "refused", "timeout"}

func (s *Suite) checkLogs(ctx context.Context, running []domain.ContainerState) (verify.CheckStatus, string) {
	var issues []string

	for _, c := range running {
		text, err := s.runtime.Logs(ctx, c.ID, logTailLines)
		if err != nil {
			// The failure text itself is scanned, like any other output
			text = err.Error()
		}
		lower := strings.ToLower(text)

		var found []string
		for _, kw := range logKeywords {
			if strings.Contains(lower, kw) {
				found = append(found, kw)
			}
		}
		if len(found) > 0 {
			issues = append(issues, fmt.Sprintf("%s: found [%s]", c.Name, strings.Join(found, ", ")))
		}
	}

	if len(issues) > 0 {
		return verify.StatusWarn, strings.Join(issues, "; ")
	}
	return verify.StatusPass, "No error keywords in startup logs"
}

// =============================================================================
// Check 8: Resource Baseline
// =============================================================================

// checkResources snapshots CPU and memory usage per container.
func (s *Suite) checkResources(ctx context.Context, running []domain.ContainerState) (verify.CheckStatus, string) {
	var warnings []string

	for _, c := range running {
		stats, err := s.runtime.Stats(ctx, c.ID)
		if err != nil {
			s.logger.Debug("failed to read container stats", "container", c.Name, "error", err)
			continue
		}
		if stats.CPUPercent > cpuWarnPercent {
			warnings = append(warnings, fmt.Sprintf("%s: CPU=%.1f%%", c.Name, stats.CPUPercent))
		}
		if stats.MemoryPercent > memoryWarnPercent {
			warnings = append(warnings, fmt.Sprintf("%s: MEM=%.1f%%", c.Name, stats.MemoryPercent))
		}
	}

	if len(warnings) > 0 {
		return verify.StatusWarn, strings.Join(warnings, ", ")
	}
	return verify.StatusPass, "All containers within normal limits"
}
