// Package spec compiles declarative service lists into deployment plans.
// The compiler is pure: classification, staging, dependency inference, and
// default attachment are deterministic functions of the input.
package spec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Service Specification (compiler input)
// =============================================================================

// ServiceSpec describes one service as submitted by the caller.
// A nil DependsOn means "infer dependencies"; an empty non-nil slice means
// "explicitly no dependencies".
type ServiceSpec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Ports       []string          `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     []string          `json:"volumes,omitempty"`
	Command     string            `json:"command,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	MemoryLimit string            `json:"memory_limit,omitempty"`
	CPULimit    string            `json:"cpu_limit,omitempty"`
}

// =============================================================================
// Compiled Plan (compiler output)
// =============================================================================

// Plan is the compiled deployment plan for one project.
type Plan struct {
	Project     string
	Environment string
	Services    []CompiledService
	Volumes     []string // named volumes in declaration order
	CreatedAt   time.Time
}

// Service returns the compiled service with the given name, or nil.
func (p *Plan) Service(name string) *CompiledService {
	for i := range p.Services {
		if p.Services[i].Name == name {
			return &p.Services[i]
		}
	}
	return nil
}

// CompiledService is one service definition within a Plan.
type CompiledService struct {
	Name          string
	Image         string
	Role          ServiceRole
	Stage         int
	Command       []string
	Ports         []PortMapping
	Environment   map[string]string
	Volumes       []VolumeMount
	DependsOn     []string
	HealthCheck   HealthCheckSpec
	Resources     ResourceSpec
	RestartPolicy string
	Labels        map[string]string
}

// PortMapping is a parsed host:container port pair.
// HostPort 0 means the host port is unassigned (runtime picks one).
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// String renders the mapping back to compose port syntax.
func (p PortMapping) String() string {
	s := strconv.Itoa(p.ContainerPort)
	if p.HostPort > 0 {
		s = strconv.Itoa(p.HostPort) + ":" + s
	}
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

// VolumeMount is a parsed volume mount. Named is true when Source refers to
// a named volume rather than a host path.
type VolumeMount struct {
	Source   string
	Target   string
	ReadOnly bool
	Named    bool
}

// String renders the mount back to compose volume syntax.
func (v VolumeMount) String() string {
	s := v.Source + ":" + v.Target
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// HealthCheckSpec holds a container healthcheck definition.
// Durations are compose-format strings ("15s", "1m30s").
type HealthCheckSpec struct {
	Test        []string
	Interval    string
	Timeout     string
	Retries     int
	StartPeriod string
}

// ResourceSpec holds per-service resource ceilings.
type ResourceSpec struct {
	CPUs        float64 // CPU cores
	MemoryBytes int64
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultCPULimit is the ceiling applied when a spec does not set one.
	DefaultCPULimit = 0.5
	// DefaultMemoryLimit is the ceiling applied when a spec does not set one.
	DefaultMemoryLimit = 512 * 1024 * 1024 // 512 MB

	// DefaultRestartPolicy keeps services running unless manually stopped.
	DefaultRestartPolicy = "unless-stopped"

	// DefaultEnvironment is the environment label applied to compiled plans.
	DefaultEnvironment = "development"
)

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged     = "com.shipwright.managed"
	LabelPlan        = "com.shipwright.plan"
	LabelService     = "com.shipwright.service"
	LabelCreatedAt   = "com.shipwright.created-at"
	LabelEnvironment = "com.shipwright.environment"
	LabelStage       = "com.shipwright.stage"
)

// =============================================================================
// Parsing Helpers
// =============================================================================

// ParsePortMapping parses compose port syntax: "8080:80", "80", "8080:80/udp".
func ParsePortMapping(s string) (PortMapping, error) {
	mapping := PortMapping{Protocol: "tcp"}

	rest := s
	if idx := strings.LastIndex(rest, "/"); idx >= 0 {
		proto := rest[idx+1:]
		if proto != "tcp" && proto != "udp" {
			return PortMapping{}, fmt.Errorf("%w: unknown protocol %q", ErrInvalidPort, proto)
		}
		mapping.Protocol = proto
		rest = rest[:idx]
	}

	parts := strings.Split(rest, ":")
	switch len(parts) {
	case 1:
		target, err := parsePort(parts[0])
		if err != nil {
			return PortMapping{}, err
		}
		mapping.ContainerPort = target
	case 2:
		host, err := parsePort(parts[0])
		if err != nil {
			return PortMapping{}, err
		}
		target, err := parsePort(parts[1])
		if err != nil {
			return PortMapping{}, err
		}
		mapping.HostPort = host
		mapping.ContainerPort = target
	default:
		return PortMapping{}, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}

	return mapping, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return n, nil
}

// ParseVolumeMount parses compose volume syntax: "name:/path", "/host:/path",
// "name:/path:ro".
func ParseVolumeMount(s string) (VolumeMount, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return VolumeMount{}, fmt.Errorf("%w: %q", ErrInvalidVolume, s)
	}

	mount := VolumeMount{
		Source: strings.TrimSpace(parts[0]),
		Target: strings.TrimSpace(parts[1]),
	}
	if mount.Source == "" || mount.Target == "" {
		return VolumeMount{}, fmt.Errorf("%w: %q", ErrInvalidVolume, s)
	}
	if len(parts) == 3 {
		if parts[2] != "ro" && parts[2] != "rw" {
			return VolumeMount{}, fmt.Errorf("%w: bad mode in %q", ErrInvalidVolume, s)
		}
		mount.ReadOnly = parts[2] == "ro"
	}

	mount.Named = !strings.HasPrefix(mount.Source, "/") &&
		!strings.HasPrefix(mount.Source, ".") &&
		!strings.HasPrefix(mount.Source, "~")
	return mount, nil
}

// ParseMemoryString parses compose memory syntax ("512M", "1G", "256m") into bytes.
func ParseMemoryString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty memory limit", ErrInvalidResource)
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(strings.ToUpper(s), "G"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "M"):
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "K"):
		multiplier = 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "B"):
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResource, s)
	}
	return n * multiplier, nil
}

// FormatMemoryString renders bytes into the shortest compose memory string.
func FormatMemoryString(bytes int64) string {
	const (
		kib = 1024
		mib = 1024 * kib
		gib = 1024 * mib
	)
	switch {
	case bytes >= gib && bytes%gib == 0:
		return strconv.FormatInt(bytes/gib, 10) + "G"
	case bytes >= mib && bytes%mib == 0:
		return strconv.FormatInt(bytes/mib, 10) + "M"
	case bytes >= kib && bytes%kib == 0:
		return strconv.FormatInt(bytes/kib, 10) + "K"
	default:
		return strconv.FormatInt(bytes, 10)
	}
}

// ParseCPUString parses a compose CPU limit ("0.5", "2") into cores.
func ParseCPUString(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResource, s)
	}
	return f, nil
}

// FormatCPUString renders cores into a compose CPU string.
func FormatCPUString(cpus float64) string {
	return strconv.FormatFloat(cpus, 'f', -1, 64)
}
