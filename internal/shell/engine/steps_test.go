package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipwright/internal/core/domain"
)

// =============================================================================
// Step Body Tests
// =============================================================================

func TestStepsValidate_ValidCompose(t *testing.T) {
	h := newHarness(t)
	composePath := h.writeCompose(t, "acme-shop")

	result, err := h.steps.Validate(composePath)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)
	assert.Contains(t, result.Output, "is valid")
	assert.Contains(t, result.Output, "project acme-shop")
}

func TestStepsValidate_ParseFailureIsBusiness(t *testing.T) {
	h := newHarness(t)
	composePath := h.writeComposeContent(t, "acme-shop", "services: {}\n")

	result, err := h.steps.Validate(composePath)(context.Background())
	require.NoError(t, err, "a bad document is an outcome, not an infrastructure error")
	assert.True(t, result.Failed())
	assert.Contains(t, result.Output, "Validation FAILED for")
	assert.Contains(t, result.Output, "no services defined")
}

func TestStepsValidate_MissingFileIsInfrastructure(t *testing.T) {
	h := newHarness(t)

	_, err := h.steps.Validate(h.workspace.ComposePath("ghost"))(context.Background())
	require.Error(t, err, "an unreadable workspace is worth retrying")
}

func TestStepsDetectConflicts_NoPortMappings(t *testing.T) {
	h := newHarness(t)
	composePath := h.writeCompose(t, "acme-shop")

	result, err := h.steps.DetectConflicts(composePath)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)
	assert.False(t, result.PortConflict)
	assert.Equal(t, "No port mappings found in compose file.", result.Output)
}

func TestStepsDetectConflicts_MixedReport(t *testing.T) {
	h := newHarness(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	busy := listener.Addr().(*net.TCPAddr).Port

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	free := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	content := fmt.Sprintf(`name: acme-shop
services:
  web:
    image: nginx:1.27
    ports:
      - "%d:80"
  api:
    image: nginx:1.27
    ports:
      - "%d:8080"
`, busy, free)
	composePath := h.writeComposeContent(t, "acme-shop", content)

	result, err := h.steps.DetectConflicts(composePath)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status, "a conflict is reported, not errored")
	assert.True(t, result.PortConflict)

	assert.Contains(t, result.Output, "━━ PORT CONFLICT REPORT")
	assert.Contains(t, result.Output, "CONFLICTS DETECTED:")
	assert.Contains(t, result.Output, fmt.Sprintf("Port %d (service: web) — IN USE", busy))
	assert.Contains(t, result.Output, "AVAILABLE PORTS:")
	assert.Contains(t, result.Output, fmt.Sprintf("Port %d (service: api) — available", free))
}

func TestStepsDeploy_RendersServiceStatus(t *testing.T) {
	h := newHarness(t)
	composePath := h.writeCompose(t, "acme-shop")

	result, err := h.steps.Deploy(composePath)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)
	assert.Contains(t, result.Output, "Services deployed successfully from")
	assert.Contains(t, result.Output, "Service Status:")
	assert.Contains(t, result.Output, "acme-shop-web-1: running, health=healthy")
}

func TestStepsDeploy_RuntimeFailureIsBusiness(t *testing.T) {
	h := newHarness(t)
	h.runtime.deployErr = errors.New("port is already allocated")
	composePath := h.writeCompose(t, "acme-shop")

	result, err := h.steps.Deploy(composePath)(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Contains(t, result.Output, "Deployment FAILED for")
	assert.Contains(t, result.Output, "port is already allocated")
}

func TestStepsTeardown_Outputs(t *testing.T) {
	h := newHarness(t)

	result, err := h.steps.Teardown("acme-shop")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)
	assert.Contains(t, result.Output, "Services torn down for project 'acme-shop'")
	assert.Contains(t, result.Output, "removed 1 of 1 containers")

	h.runtime.teardownErr = errors.New("container is in use")
	result, err = h.steps.Teardown("acme-shop")(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Contains(t, result.Output, "Teardown FAILED for project 'acme-shop'")
}

func TestStepsHealthCheck_NoHealthcheckLabel(t *testing.T) {
	h := newHarness(t)

	bare := runningContainer("web")
	bare.Health = domain.HealthNone
	h.runtime.listStates = []domain.ContainerState{bare}

	result, err := h.steps.HealthCheck("acme-shop")(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Output, "health=no healthcheck")
	assert.False(t, domain.ReportFailing(result.Output), "a container without a healthcheck is not a failure")
}

func TestStepsHealthCheck_ReportBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		marker  string
		failing bool
	}{
		{
			name:    "healthy report passes",
			setup:   func(h *harness) {},
			marker:  "health=healthy",
			failing: false,
		},
		{
			name: "unhealthy container flagged",
			setup: func(h *harness) {
				h.runtime.listStates = []domain.ContainerState{unhealthyContainer("web")}
			},
			marker:  "health=unhealthy",
			failing: true,
		},
		{
			name: "empty project flagged",
			setup: func(h *harness) {
				h.runtime.listStates = nil
			},
			marker:  "ERROR: No running containers found",
			failing: true,
		},
		{
			name: "unreachable daemon flagged",
			setup: func(h *harness) {
				h.runtime.listErr = errors.New("connection refused")
			},
			marker:  "ERROR: Could not list containers",
			failing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			result, err := h.steps.HealthCheck("acme-shop")(context.Background())
			require.NoError(t, err)
			assert.Equal(t, domain.StepOK, result.Status)
			assert.Contains(t, result.Output, tt.marker)
			assert.Equal(t, tt.failing, domain.ReportFailing(result.Output))
		})
	}
}

func TestStepsRunTests_VerdictMapsToStatus(t *testing.T) {
	h := newHarness(t)
	composePath := h.writeCompose(t, "acme-shop")

	result, err := h.steps.RunTests(composePath)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)
	assert.Contains(t, result.Output, "DEPLOYMENT TEST REPORT")
	assert.True(t, strings.Contains(result.Output, "Deployment: SUCCESSFUL"))

	h.verifier.failures = 1
	h.verifier.calls = 0
	result, err = h.steps.RunTests(composePath)(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Contains(t, result.Output, "FAILED — rollback recommended")
}
