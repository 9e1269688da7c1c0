package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
)

// monitorBudget bounds one monitor iteration: retried health checks plus
// a possible diagnostic collection.
const monitorBudget = 10 * time.Minute

// MonitorConfig holds monitor worker settings.
type MonitorConfig struct {
	// Interval between polls for due monitors. Each monitor row carries
	// its own check cadence; this only bounds how stale "due" can get.
	Interval time.Duration
}

// DefaultMonitorConfig returns the default monitor worker settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 10 * time.Second,
	}
}

// MonitorWorker runs health-monitor rows: each cycle it loads the active
// monitors whose next check time has passed and gives each exactly one
// iteration. Counters, the next fire time, and whatever notifications the
// iteration produced commit in a single transaction, so a restart never
// double-fires an alert and never loses a streak.
type MonitorWorker struct {
	store    store.Store
	executor *Executor
	steps    *Steps
	analyzer Analyzer
	config   MonitorConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitorWorker creates the monitor-advancing worker.
func NewMonitorWorker(
	s store.Store,
	executor *Executor,
	steps *Steps,
	analyzer Analyzer,
	config MonitorConfig,
	logger *slog.Logger,
) *MonitorWorker {
	if config.Interval == 0 {
		config.Interval = DefaultMonitorConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorWorker{
		store:    s,
		executor: executor,
		steps:    steps,
		analyzer: analyzer,
		config:   config,
		logger:   logger.With("component", "engine.monitor"),
	}
}

// Start launches the polling loop.
func (m *MonitorWorker) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	m.logger.Info("monitor worker started", "interval", m.config.Interval)
}

// Stop halts the polling loop and waits for the current cycle to finish.
func (m *MonitorWorker) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("monitor worker stopped")
}

func (m *MonitorWorker) run() {
	defer m.wg.Done()

	m.runCycle()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

func (m *MonitorWorker) runCycle() {
	monitors, err := m.store.ListDueMonitors(m.ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("failed to list due monitors", "error", err)
		return
	}

	for i := range monitors {
		mon := &monitors[i]
		ctx, cancel := context.WithTimeout(m.ctx, monitorBudget)
		err := m.observe(ctx, mon)
		cancel()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Error("monitor iteration failed",
				"monitor_id", mon.ID,
				"project", mon.Project,
				"error", err)
		}
	}
}

// CheckNow runs one iteration for a monitor immediately, regardless of its
// next check time.
func (m *MonitorWorker) CheckNow(ctx context.Context, monitorID string) error {
	mon, err := m.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return err
	}
	if mon.Status != domain.MonitorActive {
		return domain.ErrMonitorNotActive
	}
	return m.observe(ctx, mon)
}

// observe runs one monitoring iteration: health check, streak accounting,
// escalation, and a single transactional persist of the updated counters
// plus whatever notifications the iteration produced.
func (m *MonitorWorker) observe(ctx context.Context, mon *domain.Monitor) error {
	result, err := m.executor.Run(ctx, mon.ID, domain.StepHealthCheck, m.steps.HealthCheck(mon.Project))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// An unreachable daemon is a failing observation, not a skipped
		// iteration.
		result = domain.StepResult{
			Status: domain.StepFailed,
			Output: "ERROR: health check failed: " + err.Error(),
		}
	}
	report := result.Output
	failing := domain.ReportFailing(report)

	event := mon.Observe(failing, time.Now().UTC())

	var notifications []*domain.Notification
	switch event {
	case domain.MonitorEventAlert:
		m.logger.Warn("unhealthy containers detected",
			"monitor_id", mon.ID, "project", mon.Project)
		notifications = append(notifications, monitorNotification(mon, domain.HealthAlertMessage(report)))
	case domain.MonitorEventDiagnose:
		m.logger.Warn("consecutive failures reached diagnose threshold",
			"monitor_id", mon.ID, "project", mon.Project)
		analysis := m.diagnose(ctx, mon, report)
		notifications = append(notifications, monitorNotification(mon, domain.DiagnosisMessage(domain.DiagnoseThreshold, analysis)))
	}

	if mon.Status == domain.MonitorCompleted {
		m.logger.Info("monitor reached its iteration cap",
			"monitor_id", mon.ID, "project", mon.Project, "iterations", mon.IterationsDone)
	}

	return m.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateMonitor(ctx, mon); err != nil {
			return err
		}
		for _, n := range notifications {
			if err := tx.CreateNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// diagnose runs the diagnostic step against the failing report. Collection
// trouble becomes part of the notification; it never blocks the loop.
func (m *MonitorWorker) diagnose(ctx context.Context, mon *domain.Monitor, report string) string {
	result, err := m.executor.Run(ctx, mon.ID, domain.StepDiagnose, func(stepCtx context.Context) (domain.StepResult, error) {
		analysis, aerr := m.analyzer.Analyze(stepCtx, mon.Project, report)
		if aerr != nil {
			return domain.StepResult{}, aerr
		}
		return domain.StepResult{Status: domain.StepOK, Output: analysis}, nil
	})
	if err != nil {
		m.logger.Error("diagnosis failed", "monitor_id", mon.ID, "error", err)
		return "diagnosis failed: " + err.Error()
	}
	return result.Output
}

func monitorNotification(mon *domain.Monitor, message string) *domain.Notification {
	n := domain.NewNotification(message)
	n.MonitorID = mon.ID
	return n
}
