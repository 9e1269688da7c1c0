package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ExecutionOrder Tests
// =============================================================================

func orderNames(services []*CompiledService) []string {
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	return names
}

func TestExecutionOrder_Empty(t *testing.T) {
	result := ExecutionOrder(&Plan{})
	assert.Empty(t, result)
}

func TestExecutionOrder_StagesAscend(t *testing.T) {
	plan := &Plan{
		Services: []CompiledService{
			{Name: "proxy", Stage: StageIngress},
			{Name: "backend", Stage: StageApp},
			{Name: "db", Stage: StageInfra},
		},
	}
	result := ExecutionOrder(plan)
	assert.Equal(t, []string{"db", "backend", "proxy"}, orderNames(result))
}

func TestExecutionOrder_InputOrderPreservedWithinStage(t *testing.T) {
	plan := &Plan{
		Services: []CompiledService{
			{Name: "db", Stage: StageInfra},
			{Name: "cache", Stage: StageInfra},
			{Name: "queue", Stage: StageInfra},
		},
	}
	result := ExecutionOrder(plan)
	assert.Equal(t, []string{"db", "cache", "queue"}, orderNames(result))
}

func TestExecutionOrder_SameStageExplicitDependency(t *testing.T) {
	// Stage order alone would start migrator last; depends_on wins.
	plan := &Plan{
		Services: []CompiledService{
			{Name: "api", Stage: StageApp, DependsOn: []string{"migrator"}},
			{Name: "migrator", Stage: StageApp},
		},
	}
	result := ExecutionOrder(plan)
	assert.Equal(t, []string{"migrator", "api"}, orderNames(result))
}

func TestExecutionOrder_DiamondDependencies(t *testing.T) {
	// web depends on api and worker, both depend on db
	plan := &Plan{
		Services: []CompiledService{
			{Name: "web", Stage: StageApp, DependsOn: []string{"api", "worker"}},
			{Name: "api", Stage: StageApp, DependsOn: []string{"db"}},
			{Name: "worker", Stage: StageApp, DependsOn: []string{"db"}},
			{Name: "db", Stage: StageApp},
		},
	}
	result := ExecutionOrder(plan)

	indices := make(map[string]int)
	for i, svc := range result {
		indices[svc.Name] = i
	}
	assert.Equal(t, 0, indices["db"], "db should be first")
	assert.Equal(t, 3, indices["web"], "web should be last")
	assert.Less(t, indices["api"], indices["web"])
	assert.Less(t, indices["worker"], indices["web"])
}

func TestExecutionOrder_StagesAndDependenciesTogether(t *testing.T) {
	plan := &Plan{
		Services: []CompiledService{
			{Name: "proxy", Stage: StageIngress, DependsOn: []string{"backend"}},
			{Name: "backend", Stage: StageApp, DependsOn: []string{"cache"}},
			{Name: "cache", Stage: StageInfra},
		},
	}
	result := ExecutionOrder(plan)
	assert.Equal(t, []string{"cache", "backend", "proxy"}, orderNames(result))
}

func TestExecutionOrder_DeepChain(t *testing.T) {
	plan := &Plan{
		Services: []CompiledService{
			{Name: "a", Stage: StageApp, DependsOn: []string{"b"}},
			{Name: "b", Stage: StageApp, DependsOn: []string{"c"}},
			{Name: "c", Stage: StageApp, DependsOn: []string{"d"}},
			{Name: "d", Stage: StageApp, DependsOn: []string{"e"}},
			{Name: "e", Stage: StageApp},
		},
	}
	result := ExecutionOrder(plan)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, orderNames(result))
}

func TestExecutionOrder_CycleFallsBackToStageOrder(t *testing.T) {
	plan := &Plan{
		Services: []CompiledService{
			{Name: "a", Stage: StageApp, DependsOn: []string{"b"}},
			{Name: "b", Stage: StageApp, DependsOn: []string{"a"}},
			{Name: "c", Stage: StageInfra},
		},
	}
	result := ExecutionOrder(plan)

	// All services survive; the acyclic one leads.
	assert.Len(t, result, 3)
	assert.Equal(t, "c", result[0].Name)
}

func TestExecutionOrder_UnknownDependencyIgnored(t *testing.T) {
	plan := &Plan{
		Services: []CompiledService{
			{Name: "web", Stage: StageApp, DependsOn: []string{"ghost"}},
		},
	}
	result := ExecutionOrder(plan)
	assert.Equal(t, []string{"web"}, orderNames(result))
}
