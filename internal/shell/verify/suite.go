// Package verify runs the eight-point verification checklist against a
// live deployment and produces the operator-facing report.
//
// The check names, statuses, and report rendering live in core/verify;
// this package owns the I/O side: inspecting containers, dialing
// published ports, and execing probes through the container runtime.
package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
	"github.com/artpar/shipwright/internal/core/verify"
)

// =============================================================================
// Runtime Boundary
// =============================================================================

// ContainerRuntime is the slice of the container runtime the checks
// need. docker.Runtime satisfies it.
type ContainerRuntime interface {
	// ListProject returns all containers labeled for a project.
	ListProject(ctx context.Context, project string) ([]domain.ContainerState, error)

	// Inspect returns the current state of one container.
	Inspect(ctx context.Context, containerID string) (*domain.ContainerState, error)

	// Exec runs a command inside a running container.
	Exec(ctx context.Context, containerID string, cmd []string) (output string, exitCode int, err error)

	// Logs returns the last tail lines of combined container output.
	Logs(ctx context.Context, containerID string, tail int) (string, error)

	// Stats returns one resource usage snapshot.
	Stats(ctx context.Context, containerID string) (*domain.ContainerStats, error)
}

// =============================================================================
// Suite
// =============================================================================

const (
	defaultPollCount    = 12
	defaultPollInterval = 5 * time.Second

	portDialTimeout = 3 * time.Second
	logTailLines    = 20

	cpuWarnPercent    = 50.0
	memoryWarnPercent = 70.0
)

// Config bounds the health-stabilization poll in the health check.
type Config struct {
	// PollCount is how many times each container's health is polled
	// before the check gives up.
	PollCount int

	// PollInterval is the spacing between polls.
	PollInterval time.Duration
}

// Suite runs the eight checks in their fixed order.
type Suite struct {
	runtime ContainerRuntime
	logger  *slog.Logger
	cfg     Config
}

// NewSuite creates a verification suite. Zero config fields fall back
// to the 12-poll, 5-second defaults (a 60s health budget).
func NewSuite(runtime ContainerRuntime, cfg Config, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollCount <= 0 {
		cfg.PollCount = defaultPollCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Suite{
		runtime: runtime,
		logger:  logger.With("component", "verify"),
		cfg:     cfg,
	}
}

// Run executes the checklist against a plan's live containers. It never
// returns an error: a runtime that cannot even be listed shows up as a
// failed running check, and the aggregate verdict carries the outcome.
func (s *Suite) Run(ctx context.Context, plan *spec.Plan, composePath string) *verify.Report {
	names := make([]string, len(plan.Services))
	for i, svc := range plan.Services {
		names[i] = svc.Name
	}
	report := verify.NewReport(composePath, names)

	states, err := s.runtime.ListProject(ctx, plan.Project)
	if err != nil {
		s.logger.Warn("failed to list containers for verification", "project", plan.Project, "error", err)
		states = nil
	}

	// Later checks operate on the running set the first check selects.
	status, detail, running := s.checkRunning(plan, states)
	report.Add(verify.CheckRunning, status, detail)

	status, detail = s.checkHealth(ctx, running)
	report.Add(verify.CheckHealth, status, detail)

	status, detail = s.checkPorts(ctx, plan)
	report.Add(verify.CheckPorts, status, detail)

	status, detail = s.checkConnectivity(ctx, running)
	report.Add(verify.CheckConnectivity, status, detail)

	status, detail = s.checkVolumes(ctx, running)
	report.Add(verify.CheckVolumes, status, detail)

	status, detail = s.checkEnvironment(ctx, running)
	report.Add(verify.CheckEnvironment, status, detail)

	status, detail = s.checkLogs(ctx, running)
	report.Add(verify.CheckLogs, status, detail)

	status, detail = s.checkResources(ctx, running)
	report.Add(verify.CheckResources, status, detail)

	pass, warn, fail := report.Counts()
	s.logger.Info("verification finished",
		"project", plan.Project,
		"verdict", string(report.Verdict()),
		"pass", pass,
		"warn", warn,
		"fail", fail)

	return report
}
