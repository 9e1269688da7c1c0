package spec

import "sort"

// =============================================================================
// Execution Ordering
// =============================================================================

// ExecutionOrder returns the plan's services in start order: every
// dependency before its dependents, stages ascending, input order
// preserved among ties. The walk is Kahn's algorithm seeded in stage
// order, so stage-1 infrastructure starts first even when nothing names
// it in depends_on.
//
// References to services outside the plan are ignored. If a depends_on
// cycle survives compilation, the remaining services are appended in
// stage order rather than wedging the deployment.
func ExecutionOrder(plan *Plan) []*CompiledService {
	staged := make([]*CompiledService, 0, len(plan.Services))
	for i := range plan.Services {
		staged = append(staged, &plan.Services[i])
	}
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].Stage < staged[j].Stage
	})

	known := make(map[string]bool, len(staged))
	for _, svc := range staged {
		known[svc.Name] = true
	}

	// In-degree counts only edges to services that exist in the plan.
	remaining := make(map[string]int, len(staged))
	for _, svc := range staged {
		count := 0
		for _, dep := range svc.DependsOn {
			if known[dep] {
				count++
			}
		}
		remaining[svc.Name] = count
	}

	result := make([]*CompiledService, 0, len(staged))
	emitted := make(map[string]bool, len(staged))
	for len(result) < len(staged) {
		progressed := false
		for _, svc := range staged {
			if emitted[svc.Name] || remaining[svc.Name] > 0 {
				continue
			}
			result = append(result, svc)
			emitted[svc.Name] = true
			progressed = true

			for _, other := range staged {
				if emitted[other.Name] {
					continue
				}
				for _, dep := range other.DependsOn {
					if dep == svc.Name {
						remaining[other.Name]--
					}
				}
			}

			// Rescan from the lowest stage so newly released services
			// do not jump ahead of earlier-stage ones.
			break
		}

		if !progressed {
			for _, svc := range staged {
				if !emitted[svc.Name] {
					result = append(result, svc)
				}
			}
			break
		}
	}

	return result
}
