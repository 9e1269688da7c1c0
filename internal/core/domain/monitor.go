package domain

import (
	"errors"
	"strings"
	"time"
)

// =============================================================================
// Monitor Errors
// =============================================================================

var ErrMonitorNotActive = errors.New("monitor is not active")

// =============================================================================
// Monitor Status
// =============================================================================

type MonitorStatus string

const (
	MonitorActive    MonitorStatus = "active"
	MonitorCompleted MonitorStatus = "completed"
	MonitorCancelled MonitorStatus = "cancelled"
)

const (
	// DefaultMonitorInterval is the cadence between health checks.
	DefaultMonitorInterval = 60 * time.Second

	// DefaultMaxIterations bounds a monitor's horizon: 24 hours at the
	// default interval.
	DefaultMaxIterations = 1440

	// DiagnoseThreshold is the consecutive-failure streak that triggers
	// the diagnostic step.
	DiagnoseThreshold = 3
)

// =============================================================================
// Monitor
// =============================================================================

// Monitor is a durable health-check loop over one deployment. The row IS
// the loop state: iteration and failure counters plus the next fire time
// survive restarts, so a resumed worker continues counting where the dead
// one stopped without re-firing alerts it already sent.
type Monitor struct {
	ID                  string        `json:"id"`
	Project             string        `json:"project"`
	ComposePath         string        `json:"compose_path"`
	Status              MonitorStatus `json:"status"`
	Interval            time.Duration `json:"interval"`
	IterationsDone      int           `json:"iterations_done"`
	MaxIterations       int           `json:"max_iterations"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NextCheckAt         time.Time     `json:"next_check_at"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// NewMonitor creates an active monitor due for its first check
// immediately. Zero interval and maxIterations select the defaults.
func NewMonitor(project, composePath string, interval time.Duration, maxIterations int) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	now := time.Now().UTC()
	return &Monitor{
		ID:            newID("monitor", now),
		Project:       project,
		ComposePath:   composePath,
		Status:        MonitorActive,
		Interval:      interval,
		MaxIterations: maxIterations,
		NextCheckAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Due reports whether an active monitor's next check time has passed.
func (m *Monitor) Due(now time.Time) bool {
	return m.Status == MonitorActive && !now.Before(m.NextCheckAt)
}

// Cancel marks the monitor cancelled. The worker skips non-active rows,
// so cancellation takes effect at the next timer boundary.
func (m *Monitor) Cancel() error {
	if m.Status != MonitorActive {
		return ErrMonitorNotActive
	}
	m.Status = MonitorCancelled
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// Streak Escalation
// =============================================================================

// MonitorEvent tells the worker what a completed iteration demands beyond
// persisting counters.
type MonitorEvent string

const (
	MonitorEventNone     MonitorEvent = ""
	MonitorEventAlert    MonitorEvent = "alert"
	MonitorEventDiagnose MonitorEvent = "diagnose"
)

// Observe records one health-check observation and advances the loop:
// the first failure of a streak yields an alert, the third yields a
// diagnosis and resets the streak (a fresh three-failure streak must
// accumulate before the next diagnosis), success resets the streak.
// Reaching the iteration cap completes the monitor.
func (m *Monitor) Observe(failing bool, now time.Time) MonitorEvent {
	event := MonitorEventNone
	if failing {
		m.ConsecutiveFailures++
		if m.ConsecutiveFailures == 1 {
			event = MonitorEventAlert
		}
		if m.ConsecutiveFailures >= DiagnoseThreshold {
			event = MonitorEventDiagnose
			m.ConsecutiveFailures = 0
		}
	} else {
		m.ConsecutiveFailures = 0
	}

	m.IterationsDone++
	m.NextCheckAt = now.Add(m.Interval)
	m.UpdatedAt = now
	if m.IterationsDone >= m.MaxIterations {
		m.Status = MonitorCompleted
	}
	return event
}

// ReportFailing classifies a health report as failing when it mentions an
// unhealthy container or an error, matching how health reports word
// problems.
func ReportFailing(report string) bool {
	lower := strings.ToLower(report)
	return strings.Contains(lower, "unhealthy") || strings.Contains(lower, "error")
}
