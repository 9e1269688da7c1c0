package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
	"github.com/artpar/shipwright/internal/core/verify"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/artpar/shipwright/internal/shell/workspace"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// fakeRuntime scripts the container runtime per scenario and counts the
// calls the engine makes against it.
type fakeRuntime struct {
	deployStates []domain.ContainerState
	deployErrs   []error // consumed one per Deploy call
	deployErr    error   // sticky fallback once deployErrs is drained
	deployCalls  int

	teardownOut   string
	teardownErr   error
	teardownCalls int

	listStates []domain.ContainerState
	listErr    error

	logsOut  string
	logsErr  error
	statsOut *domain.ContainerStats
	statsErr error
}

func newFakeRuntime() *fakeRuntime {
	web := runningContainer("web")
	return &fakeRuntime{
		deployStates: []domain.ContainerState{web},
		teardownOut:  "removed 1 of 1 containers, removed network acme-shop_app_network, volumes preserved",
		listStates:   []domain.ContainerState{web},
	}
}

func (f *fakeRuntime) Deploy(ctx context.Context, plan *spec.Plan) ([]domain.ContainerState, error) {
	f.deployCalls++
	if len(f.deployErrs) > 0 {
		err := f.deployErrs[0]
		f.deployErrs = f.deployErrs[1:]
		if err != nil {
			return nil, err
		}
		return f.deployStates, nil
	}
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	return f.deployStates, nil
}

func (f *fakeRuntime) Teardown(ctx context.Context, project string) (string, error) {
	f.teardownCalls++
	if f.teardownErr != nil {
		return "", f.teardownErr
	}
	return f.teardownOut, nil
}

func (f *fakeRuntime) ListProject(ctx context.Context, project string) ([]domain.ContainerState, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listStates, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, containerID string) (*domain.ContainerState, error) {
	for _, st := range f.listStates {
		if st.ID == containerID {
			return &st, nil
		}
	}
	return nil, fmt.Errorf("no such container: %s", containerID)
}

func (f *fakeRuntime) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	if f.logsErr != nil {
		return "", f.logsErr
	}
	return f.logsOut, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, containerID string) (*domain.ContainerStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.statsOut != nil {
		return f.statsOut, nil
	}
	return &domain.ContainerStats{Name: containerID, CPUPercent: 1.5, MemoryPercent: 12.0}, nil
}

func runningContainer(service string) domain.ContainerState {
	return domain.ContainerState{
		ID:      "c-" + service,
		Name:    "acme-shop-" + service + "-1",
		Service: service,
		Image:   "nginx:1.27",
		Status:  "running",
		Running: true,
		Health:  domain.HealthHealthy,
	}
}

func unhealthyContainer(service string) domain.ContainerState {
	st := runningContainer(service)
	st.Health = domain.HealthUnhealthy
	return st
}

// fakeVerifier produces a failing report for the first failures calls and
// a passing one after that.
type fakeVerifier struct {
	failures int
	calls    int
}

func (f *fakeVerifier) Run(ctx context.Context, plan *spec.Plan, composePath string) *verify.Report {
	f.calls++

	var services []string
	for _, svc := range plan.Services {
		services = append(services, svc.Name)
	}
	report := verify.NewReport(composePath, services)
	if f.calls <= f.failures {
		report.Add(verify.CheckRunning, verify.StatusFail, "0/1 containers running")
	} else {
		report.Add(verify.CheckRunning, verify.StatusPass, "1/1 containers running")
		report.Add(verify.CheckHealth, verify.StatusPass, "all containers healthy")
	}
	return report
}

// fakeAnalyzer scripts the diagnostic collaborator.
type fakeAnalyzer struct {
	analysis string
	err      error
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, project, report string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.analysis, nil
}

// =============================================================================
// Harness
// =============================================================================

// harness wires the engine against an in-memory store, a temp-dir
// workspace, and scripted collaborators. Workers are never started; tests
// drive them through AdvanceRun, AdvanceAll, and CheckNow.
type harness struct {
	store     store.Store
	workspace *workspace.Workspace
	runtime   *fakeRuntime
	verifier  *fakeVerifier
	analyzer  *fakeAnalyzer
	executor  *Executor
	steps     *Steps
	orch      *Orchestrator
	monitor   *MonitorWorker

	composeDir string
	backupDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := setupTestStore(t)
	logger := setupTestLogger()

	composeDir := t.TempDir()
	backupDir := t.TempDir()
	ws := workspace.New(composeDir, backupDir, logger)

	runtime := newFakeRuntime()
	verifier := &fakeVerifier{}
	analyzer := &fakeAnalyzer{analysis: "web is restarting: exit code 137, memory limit reached"}

	executor := NewExecutor(st, logger)
	steps := NewSteps(ws, runtime, verifier, logger)

	return &harness{
		store:      st,
		workspace:  ws,
		runtime:    runtime,
		verifier:   verifier,
		analyzer:   analyzer,
		executor:   executor,
		steps:      steps,
		orch:       NewOrchestrator(st, executor, steps, ws, DefaultOrchestratorConfig(), logger),
		monitor:    NewMonitorWorker(st, executor, steps, analyzer, DefaultMonitorConfig(), logger),
		composeDir: composeDir,
		backupDir:  backupDir,
	}
}

const composeFixture = `name: %s
services:
  web:
    image: nginx:1.27
`

const composeFixtureWithPort = `name: %s
services:
  web:
    image: nginx:1.27
    ports:
      - "%d:80"
`

// writeCompose puts a minimal deployable compose file into the workspace
// and returns its path.
func (h *harness) writeCompose(t *testing.T, project string) string {
	t.Helper()
	return h.writeComposeContent(t, project, fmt.Sprintf(composeFixture, project))
}

// writeComposeWithPort is like writeCompose but publishes a host port, so
// conflict detection has something to probe.
func (h *harness) writeComposeWithPort(t *testing.T, project string, hostPort int) string {
	t.Helper()
	return h.writeComposeContent(t, project, fmt.Sprintf(composeFixtureWithPort, project, hostPort))
}

func (h *harness) writeComposeContent(t *testing.T, project, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(h.composeDir, 0o755))
	path := h.workspace.ComposePath(project)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeBackup drops a restorable backup file into the backup directory.
func (h *harness) writeBackup(t *testing.T, name, project string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(h.backupDir, 0o755))
	path := filepath.Join(h.backupDir, name)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(composeFixture, project)), 0o644))
	return path
}

// drive sweeps all active runs until the named run reaches a terminal
// status, then returns its final state.
func (h *harness) drive(t *testing.T, runID string) *domain.Run {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		run, err := h.store.GetRun(ctx, runID)
		require.NoError(t, err)
		if run.Terminal() {
			return run
		}
		require.NoError(t, h.orch.AdvanceAll(ctx))
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return nil
}

// stepSequence reduces an owner's trace to its step names, in execution
// order.
func (h *harness) stepSequence(t *testing.T, ownerID string) []domain.StepName {
	t.Helper()
	records, err := h.store.ListStepRecords(context.Background(), ownerID)
	require.NoError(t, err)

	var names []domain.StepName
	for _, r := range records {
		names = append(names, r.Step)
	}
	return names
}

// notifications returns every stored notification.
func (h *harness) notifications(t *testing.T) []domain.Notification {
	t.Helper()
	list, err := h.store.ListNotifications(context.Background(), store.DefaultListOptions())
	require.NoError(t, err)
	return list
}

// notificationFor returns the single notification attached to the given
// run, failing the test when there is not exactly one.
func (h *harness) notificationFor(t *testing.T, runID string) domain.Notification {
	t.Helper()

	var matches []domain.Notification
	for _, n := range h.notifications(t) {
		if n.RunID == runID {
			matches = append(matches, n)
		}
	}
	require.Len(t, matches, 1, "run %s should have exactly one notification", runID)
	return matches[0]
}
