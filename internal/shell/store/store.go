package store

import (
	"context"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for Shipwright entities.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error)
	ListRunsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error)
	ListActiveRuns(ctx context.Context) ([]domain.Run, error)

	// Step record operations. Records are an append-only trace of step
	// attempts; RunID holds the owner, which is a run id for pipeline
	// steps and a monitor id for health-check iterations.
	CreateStepRecord(ctx context.Context, record *domain.StepRecord) error
	UpdateStepRecord(ctx context.Context, record *domain.StepRecord) error
	ListStepRecords(ctx context.Context, ownerID string) ([]domain.StepRecord, error)

	// Monitor operations
	CreateMonitor(ctx context.Context, monitor *domain.Monitor) error
	GetMonitor(ctx context.Context, id string) (*domain.Monitor, error)
	UpdateMonitor(ctx context.Context, monitor *domain.Monitor) error
	ListMonitors(ctx context.Context, opts ListOptions) ([]domain.Monitor, error)
	ListDueMonitors(ctx context.Context, now time.Time) ([]domain.Monitor, error)

	// Notification operations
	CreateNotification(ctx context.Context, notification *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	UpdateNotification(ctx context.Context, notification *domain.Notification) error
	ListNotifications(ctx context.Context, opts ListOptions) ([]domain.Notification, error)
	ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
