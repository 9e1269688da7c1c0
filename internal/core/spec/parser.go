package spec

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Compose Document Parsing
// =============================================================================

// ParseCompose loads a compose YAML document back into a Plan. This is the
// path rollbacks take: a backup file is parsed and handed to the runtime the
// same way a freshly compiled plan is.
//
// Parsing is lossy-tolerant: roles and stages are re-derived from image
// names, but no healthchecks, volumes, or resource defaults are re-attached;
// the document is deployed as written. Dependency references are validated
// against the document's own service set.
func ParseCompose(content []byte) (*Plan, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, NewParseError("", "compose content is empty", ErrEmptyInput)
	}

	project, err := loadComposeProject(content)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, NewParseError("services", "no services defined", ErrNoServices)
	}

	plan := &Plan{
		Project: project.Name,
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc, err := convertService(project.Services[name])
		if err != nil {
			return nil, err
		}
		plan.Services = append(plan.Services, svc)
	}

	if err := validateDependencies(plan.Services); err != nil {
		return nil, err
	}

	for name := range project.Volumes {
		plan.Volumes = append(plan.Volumes, name)
	}
	sort.Strings(plan.Volumes)

	// Recover plan metadata from the labels the renderer stamped, when
	// present. Hand-written documents simply get the defaults.
	for i := range plan.Services {
		if env, ok := plan.Services[i].Labels[LabelEnvironment]; ok && plan.Environment == "" {
			plan.Environment = env
		}
		if created, ok := plan.Services[i].Labels[LabelCreatedAt]; ok && plan.CreatedAt.IsZero() {
			if t, err := time.Parse(time.RFC3339, created); err == nil {
				plan.CreatedAt = t
			}
		}
	}
	if plan.Environment == "" {
		plan.Environment = DefaultEnvironment
	}

	return plan, nil
}

// loadComposeProject loads a compose document using compose-go.
func loadComposeProject(content []byte) (*types.Project, error) {
	// Parse YAML into a map first to catch syntax errors with a clean error
	// before the loader sees them.
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: content,
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("shipwright-temp", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false // Enable interpolation for proper type parsing
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "undefined service") || strings.Contains(errStr, "unknown service") {
			return nil, NewParseError("", errStr, ErrUnknownDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have an image", ErrNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects compose features the runtime does not
// deploy. Everything here fails closed rather than being silently dropped.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
		if svc.Build != nil {
			return NewParseError("services."+svc.Name+".build", "build is not supported, services must name an image", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service into a CompiledService.
func convertService(svc types.ServiceConfig) (CompiledService, error) {
	if svc.Image == "" {
		return CompiledService{}, NewParseError("services."+svc.Name+".image", "service must have an image", ErrNoImage)
	}

	role, _, _ := Classify(svc.Image)
	out := CompiledService{
		Name:          svc.Name,
		Image:         svc.Image,
		Role:          role,
		Stage:         StageFor(role),
		Command:       svc.Command,
		RestartPolicy: svc.Restart,
	}

	for _, p := range svc.Ports {
		if p.Target == 0 || p.Target > 65535 {
			return CompiledService{}, NewParseError("services."+svc.Name+".ports", "target port out of range", ErrInvalidPort)
		}
		mapping := PortMapping{
			ContainerPort: int(p.Target),
			Protocol:      p.Protocol,
		}
		if mapping.Protocol == "" {
			mapping.Protocol = "tcp"
		}
		if p.Published != "" {
			pub, err := strconv.Atoi(p.Published)
			if err != nil || pub < 0 || pub > 65535 {
				return CompiledService{}, NewParseError("services."+svc.Name+".ports", "published port out of range", ErrInvalidPort)
			}
			mapping.HostPort = pub
		}
		out.Ports = append(out.Ports, mapping)
	}

	if len(svc.Environment) > 0 {
		out.Environment = make(map[string]string, len(svc.Environment))
		for k, v := range svc.Environment {
			if v != nil {
				out.Environment[k] = *v
			}
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Named = false
		case "volume":
			mount.Named = true
		default:
			mount.Named = !strings.HasPrefix(v.Source, "/") &&
				!strings.HasPrefix(v.Source, ".") &&
				!strings.HasPrefix(v.Source, "~")
		}
		out.Volumes = append(out.Volumes, mount)
	}

	for dep := range svc.DependsOn {
		out.DependsOn = append(out.DependsOn, dep)
	}
	sort.Strings(out.DependsOn)

	if len(svc.Labels) > 0 {
		out.Labels = make(map[string]string, len(svc.Labels))
		for k, v := range svc.Labels {
			out.Labels[k] = v
		}
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		out.HealthCheck.Test = svc.HealthCheck.Test
		if svc.HealthCheck.Retries != nil {
			out.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			out.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			out.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			out.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	// Note: compose-go's NanoCPUs is misnamed - it's actually the CPU count
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		limits := svc.Deploy.Resources.Limits
		out.Resources.CPUs = float64(limits.NanoCPUs)
		out.Resources.MemoryBytes = int64(limits.MemoryBytes)
	}

	return out, nil
}

// validateDependencies checks that every dependency names a service in the
// same document. Cycles are already rejected by the loader.
func validateDependencies(services []CompiledService) error {
	present := make(map[string]bool, len(services))
	for i := range services {
		present[services[i].Name] = true
	}
	for i := range services {
		for _, dep := range services[i].DependsOn {
			if !present[dep] {
				return NewParseError("services."+services[i].Name+".depends_on",
					"depends on unknown service "+strconv.Quote(dep), ErrUnknownDependency)
			}
		}
	}
	return nil
}
