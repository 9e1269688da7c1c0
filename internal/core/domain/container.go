package domain

import "time"

// =============================================================================
// Container Health
// =============================================================================

// ContainerHealth is the healthcheck verdict reported for one container.
type ContainerHealth string

const (
	HealthHealthy   ContainerHealth = "healthy"
	HealthUnhealthy ContainerHealth = "unhealthy"
	HealthStarting  ContainerHealth = "starting"

	// HealthNone means the container declares no healthcheck.
	HealthNone ContainerHealth = "none"
)

// =============================================================================
// Container State
// =============================================================================

// ContainerState is the runtime snapshot of one managed container, as the
// verification checks and the monitor consume it.
type ContainerState struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Service      string          `json:"service"`
	Image        string          `json:"image"`
	Status       string          `json:"status"` // running, exited, restarting, ...
	Running      bool            `json:"running"`
	Health       ContainerHealth `json:"health"`
	ExitCode     int             `json:"exit_code"`
	RestartCount int             `json:"restart_count"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	Mounts       []string        `json:"mounts,omitempty"` // mount destinations
}

// =============================================================================
// Container Stats
// =============================================================================

// ContainerStats is one resource-usage snapshot for a container.
type ContainerStats struct {
	Name             string  `json:"name"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
}
