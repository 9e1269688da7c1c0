package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
	"github.com/artpar/shipwright/internal/core/verify"
	"github.com/artpar/shipwright/internal/shell/workspace"
)

// conflictDialTimeout bounds each host-port probe in the conflict check.
const conflictDialTimeout = 2 * time.Second

// Runtime is the container-runtime surface the engine drives.
// docker.Runtime satisfies it.
type Runtime interface {
	Deploy(ctx context.Context, plan *spec.Plan) ([]domain.ContainerState, error)
	Teardown(ctx context.Context, project string) (string, error)
	ListProject(ctx context.Context, project string) ([]domain.ContainerState, error)
	Inspect(ctx context.Context, containerID string) (*domain.ContainerState, error)
	Logs(ctx context.Context, containerID string, tail int) (string, error)
	Stats(ctx context.Context, containerID string) (*domain.ContainerStats, error)
}

// Verifier runs the verification suite against a deployed plan and
// reports a verdict. verify.Suite satisfies it.
type Verifier interface {
	Run(ctx context.Context, plan *spec.Plan, composePath string) *verify.Report
}

// Analyzer produces the diagnostic text for a failing health report.
type Analyzer interface {
	Analyze(ctx context.Context, project, report string) (string, error)
}

// Steps builds the step bodies the orchestrator and monitor schedule. Each
// body is a single attempt: it classifies business outcomes into the
// StepResult and returns infrastructure trouble as an error for the
// executor to retry.
type Steps struct {
	workspace *workspace.Workspace
	runtime   Runtime
	verifier  Verifier
	logger    *slog.Logger
}

// NewSteps wires the step bodies to their collaborators.
func NewSteps(ws *workspace.Workspace, runtime Runtime, verifier Verifier, logger *slog.Logger) *Steps {
	if logger == nil {
		logger = slog.Default()
	}
	return &Steps{
		workspace: ws,
		runtime:   runtime,
		verifier:  verifier,
		logger:    logger.With("component", "engine.steps"),
	}
}

// =============================================================================
// Deploy Pipeline Steps
// =============================================================================

// Validate re-parses the target compose file through the real loader. A
// rejected document is the business failure that aborts a deploy; a read
// problem is infrastructure and retried.
func (s *Steps) Validate(composePath string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		plan, err := s.workspace.ReadComposeFile(composePath)
		if err != nil {
			var parseErr *spec.ParseError
			if errors.As(err, &parseErr) {
				return domain.StepResult{
					Status: domain.StepFailed,
					Output: fmt.Sprintf("Validation FAILED for '%s':\n%s", composePath, err),
				}, nil
			}
			return domain.StepResult{}, err
		}
		return domain.StepResult{
			Status: domain.StepOK,
			Output: fmt.Sprintf("Compose file '%s' is valid: project %s, %d services", composePath, plan.Project, len(plan.Services)),
		}, nil
	}
}

// Backup copies the live compose file aside before anything mutates. The
// orchestrator treats the outcome as best-effort.
func (s *Steps) Backup(composePath string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		backupPath, err := s.workspace.BackupComposeFile(composePath)
		if err != nil {
			return domain.StepResult{}, err
		}
		return domain.StepResult{
			Status: domain.StepOK,
			Output: "Backup created: " + backupPath,
		}, nil
	}
}

// DetectConflicts probes every published host port in the plan for an
// existing listener. A connect that succeeds means something else already
// owns the port; refused or timed-out connects mean it is free. The
// conflict flag on the result is what the orchestrator gates on.
func (s *Steps) DetectConflicts(composePath string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		plan, err := s.workspace.ReadComposeFile(composePath)
		if err != nil {
			return domain.StepResult{}, err
		}

		type portCheck struct {
			service string
			port    int
		}
		var checks []portCheck
		for _, svc := range plan.Services {
			for _, p := range svc.Ports {
				checks = append(checks, portCheck{service: svc.Name, port: p.HostPort})
			}
		}
		if len(checks) == 0 {
			return domain.StepResult{
				Status: domain.StepOK,
				Output: "No port mappings found in compose file.",
			}, nil
		}

		dialer := net.Dialer{Timeout: conflictDialTimeout}
		var conflicts, available []string
		for _, c := range checks {
			if ctx.Err() != nil {
				return domain.StepResult{}, ctx.Err()
			}
			conn, derr := dialer.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", c.port))
			if derr == nil {
				_ = conn.Close()
				conflicts = append(conflicts, fmt.Sprintf("  Port %d (service: %s) — IN USE", c.port, c.service))
			} else {
				available = append(available, fmt.Sprintf("  Port %d (service: %s) — available", c.port, c.service))
			}
		}

		lines := []string{"━━ PORT CONFLICT REPORT ━━━━━━━━━━━━━━━━"}
		if len(conflicts) > 0 {
			lines = append(lines, "CONFLICTS DETECTED:")
			lines = append(lines, conflicts...)
			lines = append(lines, "")
		}
		lines = append(lines, "AVAILABLE PORTS:")
		lines = append(lines, available...)
		lines = append(lines, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		return domain.StepResult{
			Status:       domain.StepOK,
			Output:       strings.Join(lines, "\n"),
			PortConflict: len(conflicts) > 0,
		}, nil
	}
}

// Deploy reads the compose file and drives the runtime. Runtime rejections
// are business failures that send the run down the rollback path; context
// expiry is infrastructure and retried.
func (s *Steps) Deploy(composePath string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		plan, err := s.workspace.ReadComposeFile(composePath)
		if err != nil {
			return domain.StepResult{}, err
		}
		states, err := s.runtime.Deploy(ctx, plan)
		if err != nil {
			if ctx.Err() != nil {
				return domain.StepResult{}, err
			}
			return domain.StepResult{
				Status: domain.StepFailed,
				Output: fmt.Sprintf("Deployment FAILED for '%s':\n%s", composePath, err),
			}, nil
		}

		var status []string
		for _, st := range states {
			status = append(status, fmt.Sprintf("  %s: %s, health=%s", st.Name, st.Status, healthLabel(st.Health)))
		}
		return domain.StepResult{
			Status: domain.StepOK,
			Output: fmt.Sprintf("Services deployed successfully from '%s'.\n\nService Status:\n%s",
				composePath, strings.Join(status, "\n")),
		}, nil
	}
}

// Teardown removes the project's containers and network, preserving
// volumes. A runtime rejection is recorded as a business failure; the
// callers treat teardown as best-effort either way.
func (s *Steps) Teardown(project string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		summary, err := s.runtime.Teardown(ctx, project)
		if err != nil {
			if ctx.Err() != nil {
				return domain.StepResult{}, err
			}
			return domain.StepResult{
				Status: domain.StepFailed,
				Output: fmt.Sprintf("Teardown FAILED for project '%s':\n%s", project, err),
			}, nil
		}
		return domain.StepResult{
			Status: domain.StepOK,
			Output: fmt.Sprintf("Services torn down for project '%s': %s", project, summary),
		}, nil
	}
}

// RunTests runs the verification suite and folds its verdict into the
// step status: a FAILED verdict is a business failure, warnings still
// pass. The rendered report is the step output either way.
func (s *Steps) RunTests(composePath string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		plan, err := s.workspace.ReadComposeFile(composePath)
		if err != nil {
			return domain.StepResult{}, err
		}
		report := s.verifier.Run(ctx, plan, composePath)

		status := domain.StepOK
		if report.Verdict() == verify.VerdictFailed {
			status = domain.StepFailed
		}
		return domain.StepResult{Status: status, Output: report.Render()}, nil
	}
}

// =============================================================================
// Monitoring Steps
// =============================================================================

// HealthCheck reports the running state and health of a project's
// containers in the format the monitor classifies. Daemon trouble becomes
// part of the report rather than an error: an unreachable runtime is a
// failing observation, not a skipped one.
func (s *Steps) HealthCheck(project string) StepFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		states, err := s.runtime.ListProject(ctx, project)
		if err != nil {
			if ctx.Err() != nil {
				return domain.StepResult{}, err
			}
			return domain.StepResult{
				Status: domain.StepOK,
				Output: fmt.Sprintf("ERROR: Could not list containers for health check.\n%s", err),
			}, nil
		}
		if len(states) == 0 {
			return domain.StepResult{
				Status: domain.StepOK,
				Output: fmt.Sprintf("ERROR: No running containers found for project '%s'.", project),
			}, nil
		}

		var notRunning []string
		lines := []string{"━━ HEALTH CHECK REPORT ━━━━━━━━━━━━━━━━━"}
		for _, st := range states {
			lines = append(lines, fmt.Sprintf("  %s: status=%s, health=%s", st.Name, st.Status, healthLabel(st.Health)))
			if !st.Running {
				notRunning = append(notRunning, st.Name)
			}
		}
		if len(notRunning) > 0 {
			lines = append(lines, fmt.Sprintf("ERROR: %s not running", strings.Join(notRunning, ", ")))
		}
		lines = append(lines, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		return domain.StepResult{Status: domain.StepOK, Output: strings.Join(lines, "\n")}, nil
	}
}

// healthLabel renders a container health value the way the reports word
// it: containers without a healthcheck say so instead of "none".
func healthLabel(h domain.ContainerHealth) string {
	if h == domain.HealthNone {
		return "no healthcheck"
	}
	return string(h)
}
