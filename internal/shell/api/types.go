package api

import (
	"time"

	"github.com/artpar/shipwright/internal/core/spec"
)

// =============================================================================
// Request Types
// =============================================================================

// CompilePlanRequest compiles service specs into a deployment plan without
// persisting anything. Useful for previewing what a deployment would run.
type CompilePlanRequest struct {
	Project     string             `json:"project"`
	Environment string             `json:"environment,omitempty"`
	Services    []spec.ServiceSpec `json:"services"`
}

// CreateDeploymentRequest creates a deploy run. Callers either submit service
// specs to compile (the compiled compose file is written to the workspace) or
// point at an existing compose file. When both are given the services win.
type CreateDeploymentRequest struct {
	Project     string             `json:"project"`
	Environment string             `json:"environment,omitempty"`
	Services    []spec.ServiceSpec `json:"services,omitempty"`
	ComposePath string             `json:"compose_path,omitempty"`
}

// CreateRollbackRequest creates a standalone rollback run. BackupPath empty
// means the engine resolves the newest backup in the workspace.
type CreateRollbackRequest struct {
	Project     string `json:"project"`
	ComposePath string `json:"compose_path,omitempty"`
	BackupPath  string `json:"backup_path,omitempty"`
}

// CreateMonitorRequest starts periodic health monitoring for a project.
// Zero IntervalSeconds and MaxIterations fall back to the monitor defaults.
type CreateMonitorRequest struct {
	Project         string `json:"project"`
	ComposePath     string `json:"compose_path,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	MaxIterations   int    `json:"max_iterations,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// PlanResponse is the API representation of a compiled plan.
type PlanResponse struct {
	Project     string                `json:"project"`
	Environment string                `json:"environment"`
	Services    []PlanServiceResponse `json:"services"`
	Volumes     []string              `json:"volumes"`
	ComposeYAML string                `json:"compose_yaml"`
	CreatedAt   time.Time             `json:"created_at"`
}

// PlanServiceResponse summarizes one compiled service.
type PlanServiceResponse struct {
	Name        string   `json:"name"`
	Image       string   `json:"image"`
	Role        string   `json:"role"`
	Stage       int      `json:"stage"`
	Ports       []string `json:"ports"`
	DependsOn   []string `json:"depends_on"`
	Healthcheck bool     `json:"healthcheck"`
}

// RunResponse is the API representation of a pipeline run.
type RunResponse struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	Project      string     `json:"project"`
	Environment  string     `json:"environment,omitempty"`
	ComposePath  string     `json:"compose_path"`
	BackupPath   string     `json:"backup_path,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// StepRecordResponse is one attempt from a run's step trace.
type StepRecordResponse struct {
	Step       string    `json:"step"`
	Attempt    int       `json:"attempt"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// RunDetailResponse pairs a run with its full step trace.
type RunDetailResponse struct {
	Run   RunResponse          `json:"run"`
	Steps []StepRecordResponse `json:"steps"`
}

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs   []RunResponse `json:"runs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// MonitorResponse is the API representation of a health monitor.
type MonitorResponse struct {
	ID                  string    `json:"id"`
	Project             string    `json:"project"`
	ComposePath         string    `json:"compose_path"`
	Status              string    `json:"status"`
	IntervalSeconds     int       `json:"interval_seconds"`
	IterationsDone      int       `json:"iterations_done"`
	MaxIterations       int       `json:"max_iterations"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextCheckAt         time.Time `json:"next_check_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ListMonitorsResponse is the response for listing monitors.
type ListMonitorsResponse struct {
	Monitors []MonitorResponse `json:"monitors"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// NotificationResponse is the API representation of an operator notification.
type NotificationResponse struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id,omitempty"`
	MonitorID   string     `json:"monitor_id,omitempty"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ListNotificationsResponse is the response for listing notifications.
type ListNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Total         int                    `json:"total"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness checks.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
