package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite allows a single writer. One pooled connection also keeps an
	// in-memory database shared across calls.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID           string  `db:"id"`
	Kind         string  `db:"kind"`
	Status       string  `db:"status"`
	Project      string  `db:"project"`
	Environment  string  `db:"environment"`
	ComposePath  string  `db:"compose_path"`
	BackupPath   string  `db:"backup_path"`
	ParentID     *string `db:"parent_id"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) ListRunsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error) {
	return listRunsByProject(ctx, s.db, project, opts)
}

func (s *SQLiteStore) ListActiveRuns(ctx context.Context) ([]domain.Run, error) {
	return listActiveRuns(ctx, s.db)
}

// =============================================================================
// Step Record Operations
// =============================================================================

// stepRow represents a step record row in the database.
type stepRow struct {
	ID          int64   `db:"id"`
	RunID       string  `db:"run_id"`
	Step        string  `db:"step"`
	Attempt     int     `db:"attempt"`
	Status      string  `db:"status"`
	Output      string  `db:"output"`
	Error       string  `db:"error"`
	StartedAt   string  `db:"started_at"`
	FinishedAt  *string `db:"finished_at"`
	DurationMS  int64   `db:"duration_ms"`
	HeartbeatAt *string `db:"heartbeat_at"`
}

func (s *SQLiteStore) CreateStepRecord(ctx context.Context, record *domain.StepRecord) error {
	return createStepRecord(ctx, s.db, record)
}

func (s *SQLiteStore) UpdateStepRecord(ctx context.Context, record *domain.StepRecord) error {
	return updateStepRecord(ctx, s.db, record)
}

func (s *SQLiteStore) ListStepRecords(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	return listStepRecords(ctx, s.db, runID)
}

// =============================================================================
// Monitor Operations
// =============================================================================

// monitorRow represents a monitor row in the database.
type monitorRow struct {
	ID                  string `db:"id"`
	Project             string `db:"project"`
	ComposePath         string `db:"compose_path"`
	Status              string `db:"status"`
	IntervalSeconds     int64  `db:"interval_seconds"`
	IterationsDone      int    `db:"iterations_done"`
	MaxIterations       int    `db:"max_iterations"`
	ConsecutiveFailures int    `db:"consecutive_failures"`
	NextCheckAt         string `db:"next_check_at"`
	CreatedAt           string `db:"created_at"`
	UpdatedAt           string `db:"updated_at"`
}

func (s *SQLiteStore) CreateMonitor(ctx context.Context, monitor *domain.Monitor) error {
	return createMonitor(ctx, s.db, monitor)
}

func (s *SQLiteStore) GetMonitor(ctx context.Context, id string) (*domain.Monitor, error) {
	return getMonitor(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateMonitor(ctx context.Context, monitor *domain.Monitor) error {
	return updateMonitor(ctx, s.db, monitor)
}

func (s *SQLiteStore) ListMonitors(ctx context.Context, opts ListOptions) ([]domain.Monitor, error) {
	return listMonitors(ctx, s.db, opts)
}

func (s *SQLiteStore) ListDueMonitors(ctx context.Context, now time.Time) ([]domain.Monitor, error) {
	return listDueMonitors(ctx, s.db, now)
}

// =============================================================================
// Notification Operations
// =============================================================================

// notificationRow represents a notification row in the database.
type notificationRow struct {
	ID          string  `db:"id"`
	RunID       *string `db:"run_id"`
	MonitorID   *string `db:"monitor_id"`
	Message     string  `db:"message"`
	Status      string  `db:"status"`
	Attempts    int     `db:"attempts"`
	LastError   string  `db:"last_error"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
	DeliveredAt *string `db:"delivered_at"`
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, notification *domain.Notification) error {
	return createNotification(ctx, s.db, notification)
}

func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	return getNotification(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateNotification(ctx context.Context, notification *domain.Notification) error {
	return updateNotification(ctx, s.db, notification)
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, opts ListOptions) ([]domain.Notification, error) {
	return listNotifications(ctx, s.db, opts)
}

func (s *SQLiteStore) ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return listPendingNotifications(ctx, s.db, limit)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListRunsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error) {
	return listRunsByProject(ctx, s.tx, project, opts)
}

func (s *txSQLiteStore) ListActiveRuns(ctx context.Context) ([]domain.Run, error) {
	return listActiveRuns(ctx, s.tx)
}

func (s *txSQLiteStore) CreateStepRecord(ctx context.Context, record *domain.StepRecord) error {
	return createStepRecord(ctx, s.tx, record)
}

func (s *txSQLiteStore) UpdateStepRecord(ctx context.Context, record *domain.StepRecord) error {
	return updateStepRecord(ctx, s.tx, record)
}

func (s *txSQLiteStore) ListStepRecords(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	return listStepRecords(ctx, s.tx, runID)
}

func (s *txSQLiteStore) CreateMonitor(ctx context.Context, monitor *domain.Monitor) error {
	return createMonitor(ctx, s.tx, monitor)
}

func (s *txSQLiteStore) GetMonitor(ctx context.Context, id string) (*domain.Monitor, error) {
	return getMonitor(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateMonitor(ctx context.Context, monitor *domain.Monitor) error {
	return updateMonitor(ctx, s.tx, monitor)
}

func (s *txSQLiteStore) ListMonitors(ctx context.Context, opts ListOptions) ([]domain.Monitor, error) {
	return listMonitors(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListDueMonitors(ctx context.Context, now time.Time) ([]domain.Monitor, error) {
	return listDueMonitors(ctx, s.tx, now)
}

func (s *txSQLiteStore) CreateNotification(ctx context.Context, notification *domain.Notification) error {
	return createNotification(ctx, s.tx, notification)
}

func (s *txSQLiteStore) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	return getNotification(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateNotification(ctx context.Context, notification *domain.Notification) error {
	return updateNotification(ctx, s.tx, notification)
}

func (s *txSQLiteStore) ListNotifications(ctx context.Context, opts ListOptions) ([]domain.Notification, error) {
	return listNotifications(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return listPendingNotifications(ctx, s.tx, limit)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			id, kind, status, project, environment, compose_path, backup_path,
			parent_id, error_message, created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :kind, :status, :project, :environment, :compose_path, :backup_path,
			:parent_id, :error_message, :created_at, :updated_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            run.ID,
		"kind":          string(run.Kind),
		"status":        string(run.Status),
		"project":       run.Project,
		"environment":   run.Environment,
		"compose_path":  run.ComposePath,
		"backup_path":   run.BackupPath,
		"parent_id":     nullString(run.ParentID),
		"error_message": run.ErrorMessage,
		"created_at":    formatTime(run.CreatedAt),
		"updated_at":    formatTime(run.UpdatedAt),
		"started_at":    formatTimePtr(run.StartedAt),
		"finished_at":   formatTimePtr(run.FinishedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateRun", "run", run.ID, "parent run not found", ErrForeignKey)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	query := `SELECT * FROM runs WHERE id = ?`

	var row runRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	return rowToRun(&row)
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		UPDATE runs SET
			status = :status,
			backup_path = :backup_path,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            run.ID,
		"status":        string(run.Status),
		"backup_path":   run.BackupPath,
		"error_message": run.ErrorMessage,
		"updated_at":    formatTime(run.UpdatedAt),
		"started_at":    formatTimePtr(run.StartedAt),
		"finished_at":   formatTimePtr(run.FinishedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRun", "run", run.ID, "run not found", ErrNotFound)
	}

	return nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows)
}

func listRunsByProject(ctx context.Context, exec executor, project string, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs WHERE project = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, project, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRunsByProject", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows)
}

func listActiveRuns(ctx context.Context, exec executor) ([]domain.Run, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domain.ActiveRunStatuses)), ",")
	query := `SELECT * FROM runs WHERE status IN (` + placeholders + `) ORDER BY created_at ASC, id ASC`

	args := make([]any, 0, len(domain.ActiveRunStatuses))
	for _, status := range domain.ActiveRunStatuses {
		args = append(args, string(status))
	}

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, NewStoreError("ListActiveRuns", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows)
}

func createStepRecord(ctx context.Context, exec executor, record *domain.StepRecord) error {
	query := `
		INSERT INTO run_steps (
			run_id, step, attempt, status, output, error,
			started_at, finished_at, duration_ms, heartbeat_at
		) VALUES (
			:run_id, :step, :attempt, :status, :output, :error,
			:started_at, :finished_at, :duration_ms, :heartbeat_at
		)`

	row := map[string]any{
		"run_id":       record.RunID,
		"step":         string(record.Step),
		"attempt":      record.Attempt,
		"status":       string(record.Status),
		"output":       record.Output,
		"error":        record.Error,
		"started_at":   formatTime(record.StartedAt),
		"finished_at":  formatTimeOrNull(record.FinishedAt),
		"duration_ms":  record.Duration,
		"heartbeat_at": formatTimePtr(record.HeartbeatAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("CreateStepRecord", "step", record.RunID, err.Error(), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return NewStoreError("CreateStepRecord", "step", record.RunID, err.Error(), err)
	}
	record.ID = id

	return nil
}

func updateStepRecord(ctx context.Context, exec executor, record *domain.StepRecord) error {
	query := `
		UPDATE run_steps SET
			status = :status,
			output = :output,
			error = :error,
			finished_at = :finished_at,
			duration_ms = :duration_ms,
			heartbeat_at = :heartbeat_at
		WHERE id = :id`

	row := map[string]any{
		"id":           record.ID,
		"status":       string(record.Status),
		"output":       record.Output,
		"error":        record.Error,
		"finished_at":  formatTimeOrNull(record.FinishedAt),
		"duration_ms":  record.Duration,
		"heartbeat_at": formatTimePtr(record.HeartbeatAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateStepRecord", "step", strconv.FormatInt(record.ID, 10), err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateStepRecord", "step", strconv.FormatInt(record.ID, 10), "step record not found", ErrNotFound)
	}

	return nil
}

func listStepRecords(ctx context.Context, exec executor, runID string) ([]domain.StepRecord, error) {
	query := `SELECT * FROM run_steps WHERE run_id = ? ORDER BY id ASC`

	var rows []stepRow
	err := exec.SelectContext(ctx, &rows, query, runID)
	if err != nil {
		return nil, NewStoreError("ListStepRecords", "step", runID, err.Error(), err)
	}

	records := make([]domain.StepRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, *rowToStepRecord(&row))
	}

	return records, nil
}

func createMonitor(ctx context.Context, exec executor, monitor *domain.Monitor) error {
	query := `
		INSERT INTO monitors (
			id, project, compose_path, status, interval_seconds, iterations_done,
			max_iterations, consecutive_failures, next_check_at, created_at, updated_at
		) VALUES (
			:id, :project, :compose_path, :status, :interval_seconds, :iterations_done,
			:max_iterations, :consecutive_failures, :next_check_at, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":                   monitor.ID,
		"project":              monitor.Project,
		"compose_path":         monitor.ComposePath,
		"status":               string(monitor.Status),
		"interval_seconds":     int64(monitor.Interval / time.Second),
		"iterations_done":      monitor.IterationsDone,
		"max_iterations":       monitor.MaxIterations,
		"consecutive_failures": monitor.ConsecutiveFailures,
		"next_check_at":        formatTime(monitor.NextCheckAt),
		"created_at":           formatTime(monitor.CreatedAt),
		"updated_at":           formatTime(monitor.UpdatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: monitors.id") {
			return NewStoreError("CreateMonitor", "monitor", monitor.ID, "monitor with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateMonitor", "monitor", monitor.ID, err.Error(), err)
	}

	return nil
}

func getMonitor(ctx context.Context, exec executor, id string) (*domain.Monitor, error) {
	query := `SELECT * FROM monitors WHERE id = ?`

	var row monitorRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetMonitor", "monitor", id, "monitor not found", ErrNotFound)
		}
		return nil, NewStoreError("GetMonitor", "monitor", id, err.Error(), err)
	}

	return rowToMonitor(&row), nil
}

func updateMonitor(ctx context.Context, exec executor, monitor *domain.Monitor) error {
	query := `
		UPDATE monitors SET
			status = :status,
			iterations_done = :iterations_done,
			consecutive_failures = :consecutive_failures,
			next_check_at = :next_check_at,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":                   monitor.ID,
		"status":               string(monitor.Status),
		"iterations_done":      monitor.IterationsDone,
		"consecutive_failures": monitor.ConsecutiveFailures,
		"next_check_at":        formatTime(monitor.NextCheckAt),
		"updated_at":           formatTime(monitor.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateMonitor", "monitor", monitor.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateMonitor", "monitor", monitor.ID, "monitor not found", ErrNotFound)
	}

	return nil
}

func listMonitors(ctx context.Context, exec executor, opts ListOptions) ([]domain.Monitor, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM monitors ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []monitorRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListMonitors", "monitor", "", err.Error(), err)
	}

	monitors := make([]domain.Monitor, 0, len(rows))
	for _, row := range rows {
		monitors = append(monitors, *rowToMonitor(&row))
	}

	return monitors, nil
}

func listDueMonitors(ctx context.Context, exec executor, now time.Time) ([]domain.Monitor, error) {
	query := `SELECT * FROM monitors WHERE status = ? AND next_check_at <= ? ORDER BY next_check_at ASC`

	var rows []monitorRow
	err := exec.SelectContext(ctx, &rows, query, string(domain.MonitorActive), formatTime(now))
	if err != nil {
		return nil, NewStoreError("ListDueMonitors", "monitor", "", err.Error(), err)
	}

	monitors := make([]domain.Monitor, 0, len(rows))
	for _, row := range rows {
		monitors = append(monitors, *rowToMonitor(&row))
	}

	return monitors, nil
}

func createNotification(ctx context.Context, exec executor, notification *domain.Notification) error {
	query := `
		INSERT INTO notifications (
			id, run_id, monitor_id, message, status, attempts,
			last_error, created_at, updated_at, delivered_at
		) VALUES (
			:id, :run_id, :monitor_id, :message, :status, :attempts,
			:last_error, :created_at, :updated_at, :delivered_at
		)`

	row := map[string]any{
		"id":           notification.ID,
		"run_id":       nullString(notification.RunID),
		"monitor_id":   nullString(notification.MonitorID),
		"message":      notification.Message,
		"status":       string(notification.Status),
		"attempts":     notification.Attempts,
		"last_error":   notification.LastError,
		"created_at":   formatTime(notification.CreatedAt),
		"updated_at":   formatTime(notification.UpdatedAt),
		"delivered_at": formatTimePtr(notification.DeliveredAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: notifications.id") {
			return NewStoreError("CreateNotification", "notification", notification.ID, "notification with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateNotification", "notification", notification.ID, "referenced run or monitor not found", ErrForeignKey)
		}
		return NewStoreError("CreateNotification", "notification", notification.ID, err.Error(), err)
	}

	return nil
}

func getNotification(ctx context.Context, exec executor, id string) (*domain.Notification, error) {
	query := `SELECT * FROM notifications WHERE id = ?`

	var row notificationRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetNotification", "notification", id, "notification not found", ErrNotFound)
		}
		return nil, NewStoreError("GetNotification", "notification", id, err.Error(), err)
	}

	return rowToNotification(&row), nil
}

func updateNotification(ctx context.Context, exec executor, notification *domain.Notification) error {
	query := `
		UPDATE notifications SET
			status = :status,
			attempts = :attempts,
			last_error = :last_error,
			updated_at = :updated_at,
			delivered_at = :delivered_at
		WHERE id = :id`

	row := map[string]any{
		"id":           notification.ID,
		"status":       string(notification.Status),
		"attempts":     notification.Attempts,
		"last_error":   notification.LastError,
		"updated_at":   formatTime(notification.UpdatedAt),
		"delivered_at": formatTimePtr(notification.DeliveredAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateNotification", "notification", notification.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateNotification", "notification", notification.ID, "notification not found", ErrNotFound)
	}

	return nil
}

func listNotifications(ctx context.Context, exec executor, opts ListOptions) ([]domain.Notification, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM notifications ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []notificationRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListNotifications", "notification", "", err.Error(), err)
	}

	notifications := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, *rowToNotification(&row))
	}

	return notifications, nil
}

func listPendingNotifications(ctx context.Context, exec executor, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM notifications WHERE status = ? ORDER BY created_at ASC LIMIT ?`

	var rows []notificationRow
	err := exec.SelectContext(ctx, &rows, query, string(domain.NotificationPending), limit)
	if err != nil {
		return nil, NewStoreError("ListPendingNotifications", "notification", "", err.Error(), err)
	}

	notifications := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, *rowToNotification(&row))
	}

	return notifications, nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// rowToRun converts a database row to a domain.Run.
func rowToRun(row *runRow) (*domain.Run, error) {
	kind := domain.RunKind(row.Kind)
	if kind != domain.KindDeploy && kind != domain.KindRollback {
		return nil, NewStoreError("rowToRun", "run", row.ID, "unknown run kind "+row.Kind, ErrInvalidData)
	}

	return &domain.Run{
		ID:           row.ID,
		Kind:         kind,
		Status:       domain.RunStatus(row.Status),
		Project:      row.Project,
		Environment:  row.Environment,
		ComposePath:  row.ComposePath,
		BackupPath:   row.BackupPath,
		ParentID:     orEmpty(row.ParentID),
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    parseTime(row.CreatedAt),
		UpdatedAt:    parseTime(row.UpdatedAt),
		StartedAt:    parseTimePtr(row.StartedAt),
		FinishedAt:   parseTimePtr(row.FinishedAt),
	}, nil
}

func rowsToRuns(rows []runRow) ([]domain.Run, error) {
	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(&row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// rowToStepRecord converts a database row to a domain.StepRecord.
func rowToStepRecord(row *stepRow) *domain.StepRecord {
	return &domain.StepRecord{
		ID:          row.ID,
		RunID:       row.RunID,
		Step:        domain.StepName(row.Step),
		Attempt:     row.Attempt,
		Status:      domain.StepStatus(row.Status),
		Output:      row.Output,
		Error:       row.Error,
		StartedAt:   parseTime(row.StartedAt),
		FinishedAt:  parseTimeOrZero(row.FinishedAt),
		Duration:    row.DurationMS,
		HeartbeatAt: parseTimePtr(row.HeartbeatAt),
	}
}

// rowToMonitor converts a database row to a domain.Monitor.
func rowToMonitor(row *monitorRow) *domain.Monitor {
	return &domain.Monitor{
		ID:                  row.ID,
		Project:             row.Project,
		ComposePath:         row.ComposePath,
		Status:              domain.MonitorStatus(row.Status),
		Interval:            time.Duration(row.IntervalSeconds) * time.Second,
		IterationsDone:      row.IterationsDone,
		MaxIterations:       row.MaxIterations,
		ConsecutiveFailures: row.ConsecutiveFailures,
		NextCheckAt:         parseTime(row.NextCheckAt),
		CreatedAt:           parseTime(row.CreatedAt),
		UpdatedAt:           parseTime(row.UpdatedAt),
	}
}

// rowToNotification converts a database row to a domain.Notification.
func rowToNotification(row *notificationRow) *domain.Notification {
	return &domain.Notification{
		ID:          row.ID,
		RunID:       orEmpty(row.RunID),
		MonitorID:   orEmpty(row.MonitorID),
		Message:     row.Message,
		Status:      domain.NotificationStatus(row.Status),
		Attempts:    row.Attempts,
		LastError:   row.LastError,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
		DeliveredAt: parseTimePtr(row.DeliveredAt),
	}
}

// =============================================================================
// Column Helpers
// =============================================================================

// Timestamps are stored as RFC3339 UTC strings so lexicographic comparison
// in SQL matches chronological order.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatTimePtr formats an optional timestamp, mapping nil to NULL.
func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// formatTimeOrNull formats a timestamp, mapping the zero time to NULL.
func formatTimeOrNull(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func parseTimeOrZero(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	return parseTime(*s)
}

// nullString maps the empty string to NULL so optional foreign keys stay
// unset rather than dangling.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
