package spec

import (
	"fmt"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// ManagedBy is the value stamped into the managed-by label of everything the
// compiler emits, so the runtime can tell its own containers apart.
const ManagedBy = "shipwright"

// CompileOptions parameterize a compile. Zero values get sensible defaults so
// callers only set what they care about.
type CompileOptions struct {
	// Project names the plan; runtime resources are namespaced under it.
	Project string
	// Environment is stamped into the environment label. Defaults to
	// DefaultEnvironment.
	Environment string
	// Now is the plan creation time. Defaults to time.Now().UTC(); tests pin
	// it for reproducible output.
	Now time.Time
}

// =============================================================================
// Compiler
// =============================================================================

// Compile turns a list of service specifications into a deployment plan:
// every service classified into a role and startup stage, dependencies
// inferred from the stage topology unless given explicitly, healthchecks and
// persistence volumes attached for recognized images, resource ceilings and
// traceability labels applied.
//
// Compile fails closed: any invalid entry aborts the whole compile with a
// *CompileError naming the offending service and field. A returned plan is
// always internally consistent: every dependency names a plan member in a
// strictly lower stage, which rules out cycles without any graph search.
func Compile(specs []ServiceSpec, opts CompileOptions) (*Plan, error) {
	if len(specs) == 0 {
		return nil, NewCompileError("", "", "no services provided", ErrNoServices)
	}
	if opts.Project == "" {
		opts.Project = "app"
	}
	if opts.Environment == "" {
		opts.Environment = DefaultEnvironment
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	// Pass 1: validate identities and classify every image up front, so
	// dependency inference sees the complete topology before any single
	// service is compiled.
	seen := make(map[string]bool, len(specs))
	stages := make(map[string]int, len(specs))
	for i := range specs {
		s := &specs[i]
		if strings.TrimSpace(s.Name) == "" {
			return nil, NewCompileError(s.Name, "name", "service name is empty", ErrEmptyName)
		}
		if seen[s.Name] {
			return nil, NewCompileError(s.Name, "name", "duplicate service name", ErrDuplicateService)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Image) == "" {
			return nil, NewCompileError(s.Name, "image", "no image specified", ErrNoImage)
		}
		role, _, _ := Classify(s.Image)
		stages[s.Name] = StageFor(role)
	}

	inferred := inferDependencies(specs, stages)

	plan := &Plan{
		Project:     opts.Project,
		Environment: opts.Environment,
		CreatedAt:   opts.Now,
	}
	volumeSeen := make(map[string]bool)
	registerVolume := func(name string) {
		if !volumeSeen[name] {
			volumeSeen[name] = true
			plan.Volumes = append(plan.Volumes, name)
		}
	}

	// Pass 2: compile each service in input order.
	for i := range specs {
		s := &specs[i]
		role, health, defaultVolumes := Classify(s.Image)
		stage := stages[s.Name]

		svc := CompiledService{
			Name:          s.Name,
			Image:         s.Image,
			Role:          role,
			Stage:         stage,
			HealthCheck:   cloneHealthCheck(health),
			RestartPolicy: DefaultRestartPolicy,
			Resources: ResourceSpec{
				CPUs:        DefaultCPULimit,
				MemoryBytes: DefaultMemoryLimit,
			},
			Labels: map[string]string{
				LabelManaged:     ManagedBy,
				LabelCreatedAt:   opts.Now.Format(time.RFC3339),
				LabelEnvironment: opts.Environment,
				LabelStage:       fmt.Sprintf("%d-%s", stage, role),
			},
		}

		if s.Command != "" {
			args, err := shellwords.Parse(s.Command)
			if err != nil {
				return nil, NewCompileError(s.Name, "command", err.Error(), err)
			}
			svc.Command = args
		}

		for _, p := range s.Ports {
			mapping, err := ParsePortMapping(p)
			if err != nil {
				return nil, NewCompileError(s.Name, "ports", err.Error(), err)
			}
			svc.Ports = append(svc.Ports, mapping)
		}

		if len(s.Environment) > 0 {
			svc.Environment = make(map[string]string, len(s.Environment))
			for k, v := range s.Environment {
				svc.Environment[k] = v
			}
		}

		// Explicit dependency lists bypass inference for this service and
		// are validated instead: each target must exist in the plan and sit
		// in a strictly lower stage.
		if len(s.DependsOn) > 0 {
			for _, dep := range s.DependsOn {
				depStage, ok := stages[dep]
				if !ok {
					return nil, NewCompileError(s.Name, "depends_on",
						fmt.Sprintf("depends on unknown service %q", dep), ErrUnknownDependency)
				}
				if depStage >= stage {
					return nil, NewCompileError(s.Name, "depends_on",
						fmt.Sprintf("stage %d service cannot depend on stage %d service %q", stage, depStage, dep),
						ErrDependencyStage)
				}
			}
			svc.DependsOn = append([]string(nil), s.DependsOn...)
		} else {
			svc.DependsOn = append([]string(nil), inferred[s.Name]...)
		}

		// User mounts first; role defaults fill in any mount path the user
		// did not claim.
		claimed := make(map[string]bool)
		for _, v := range s.Volumes {
			mount, err := ParseVolumeMount(v)
			if err != nil {
				return nil, NewCompileError(s.Name, "volumes", err.Error(), err)
			}
			claimed[mount.Target] = true
			if mount.Named {
				registerVolume(mount.Source)
			}
			svc.Volumes = append(svc.Volumes, mount)
		}
		for _, def := range defaultVolumes {
			if claimed[def.Target] {
				continue
			}
			name := def.Source
			if !strings.HasPrefix(name, s.Name) {
				name = s.Name + "_" + name
			}
			svc.Volumes = append(svc.Volumes, VolumeMount{Source: name, Target: def.Target, Named: true})
			registerVolume(name)
		}

		if s.MemoryLimit != "" {
			b, err := ParseMemoryString(s.MemoryLimit)
			if err != nil {
				return nil, NewCompileError(s.Name, "memory_limit", err.Error(), err)
			}
			svc.Resources.MemoryBytes = b
		}
		if s.CPULimit != "" {
			c, err := ParseCPUString(s.CPULimit)
			if err != nil {
				return nil, NewCompileError(s.Name, "cpu_limit", err.Error(), err)
			}
			svc.Resources.CPUs = c
		}

		plan.Services = append(plan.Services, svc)
	}

	return plan, nil
}

// inferDependencies computes the default startup ordering: every application
// service waits on every infrastructure service, and ingress waits on every
// application service (or directly on infrastructure when the plan has no
// application tier). Infrastructure services start unordered.
func inferDependencies(specs []ServiceSpec, stages map[string]int) map[string][]string {
	byStage := make(map[int][]string)
	for i := range specs {
		name := specs[i].Name
		byStage[stages[name]] = append(byStage[stages[name]], name)
	}

	deps := make(map[string][]string)
	for _, name := range byStage[StageApp] {
		if len(byStage[StageInfra]) > 0 {
			deps[name] = byStage[StageInfra]
		}
	}
	for _, name := range byStage[StageIngress] {
		switch {
		case len(byStage[StageApp]) > 0:
			deps[name] = byStage[StageApp]
		case len(byStage[StageInfra]) > 0:
			deps[name] = byStage[StageInfra]
		}
	}
	return deps
}

func cloneHealthCheck(h HealthCheckSpec) HealthCheckSpec {
	h.Test = append([]string(nil), h.Test...)
	return h
}
