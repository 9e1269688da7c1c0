package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// NetworkName is the shared network every compiled service joins.
const NetworkName = "app_network"

// =============================================================================
// Compose Document Rendering
// =============================================================================

// The document types mirror the compose schema field-for-field so the
// marshaled output has a fixed key order. Maps render with sorted keys, so
// the same plan always produces byte-identical YAML.

type composeDocument struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
	Volumes  map[string]composeVolume  `yaml:"volumes,omitempty"`
}

type composeService struct {
	Image       string                      `yaml:"image"`
	Restart     string                      `yaml:"restart"`
	HealthCheck composeHealthCheck          `yaml:"healthcheck"`
	Deploy      composeDeploy               `yaml:"deploy"`
	Networks    []string                    `yaml:"networks"`
	Logging     composeLogging              `yaml:"logging"`
	Labels      map[string]string           `yaml:"labels"`
	Ports       []quotedString              `yaml:"ports,omitempty"`
	Environment map[string]string           `yaml:"environment,omitempty"`
	Command     []string                    `yaml:"command,omitempty"`
	DependsOn   map[string]composeCondition `yaml:"depends_on,omitempty"`
	Volumes     []string                    `yaml:"volumes,omitempty"`
}

// quotedString always renders double-quoted. Port mappings need this: an
// unquoted 22:22 reads back as a base-60 integer under YAML 1.1 rules.
type quotedString string

func (s quotedString) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: string(s)}, nil
}

type composeHealthCheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

type composeDeploy struct {
	Resources composeResources `yaml:"resources"`
}

type composeResources struct {
	Limits composeLimits `yaml:"limits"`
}

type composeLimits struct {
	Memory string `yaml:"memory"`
	CPUs   string `yaml:"cpus"`
}

type composeLogging struct {
	Driver  string            `yaml:"driver"`
	Options map[string]string `yaml:"options"`
}

type composeCondition struct {
	Condition string `yaml:"condition"`
}

type composeNetwork struct {
	Driver string `yaml:"driver"`
}

type composeVolume struct {
	Driver string `yaml:"driver"`
}

// MarshalCompose renders a plan as a compose YAML document. Every service
// carries its healthcheck, resource limits, log rotation, labels, and
// health-conditioned dependencies; named volumes and the shared network are
// declared at the top level. The volumes section is omitted when the plan
// declares none.
func MarshalCompose(plan *Plan) ([]byte, error) {
	doc := composeDocument{
		Name:     plan.Project,
		Services: make(map[string]composeService, len(plan.Services)),
		Networks: map[string]composeNetwork{
			NetworkName: {Driver: "bridge"},
		},
	}

	for _, svc := range plan.Services {
		def := composeService{
			Image:   svc.Image,
			Restart: svc.RestartPolicy,
			HealthCheck: composeHealthCheck{
				Test:        svc.HealthCheck.Test,
				Interval:    svc.HealthCheck.Interval,
				Timeout:     svc.HealthCheck.Timeout,
				Retries:     svc.HealthCheck.Retries,
				StartPeriod: svc.HealthCheck.StartPeriod,
			},
			Deploy: composeDeploy{
				Resources: composeResources{
					Limits: composeLimits{
						Memory: FormatMemoryString(svc.Resources.MemoryBytes),
						CPUs:   FormatCPUString(svc.Resources.CPUs),
					},
				},
			},
			Networks: []string{NetworkName},
			Logging: composeLogging{
				Driver:  "json-file",
				Options: map[string]string{"max-size": "10m", "max-file": "3"},
			},
			Labels:      svc.Labels,
			Environment: svc.Environment,
			Command:     svc.Command,
		}

		for _, p := range svc.Ports {
			def.Ports = append(def.Ports, quotedString(p.String()))
		}
		for _, v := range svc.Volumes {
			def.Volumes = append(def.Volumes, v.String())
		}
		if len(svc.DependsOn) > 0 {
			def.DependsOn = make(map[string]composeCondition, len(svc.DependsOn))
			for _, dep := range svc.DependsOn {
				def.DependsOn[dep] = composeCondition{Condition: "service_healthy"}
			}
		}

		doc.Services[svc.Name] = def
	}

	if len(plan.Volumes) > 0 {
		doc.Volumes = make(map[string]composeVolume, len(plan.Volumes))
		for _, name := range plan.Volumes {
			doc.Volumes[name] = composeVolume{Driver: "local"}
		}
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal compose document: %w", err)
	}
	return data, nil
}
