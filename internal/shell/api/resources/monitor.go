package resources

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/manyminds/api2go"
)

// =============================================================================
// Monitor JSON:API Model
// =============================================================================

type Monitor struct {
	ID                  string    `json:"-"`
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

func (m Monitor) GetID() string { return m.ID }

func (m *Monitor) SetID(id string) error { m.ID = id; return nil }

func (m Monitor) GetName() string { return "monitors" }

func MonitorFromDomain(mon *domain.Monitor) Monitor {
	return Monitor{
		ID:                  mon.ID,
		Project:             mon.Project,
		ComposePath:         mon.ComposePath,
		Status:              string(mon.Status),
		IntervalSeconds:     int(mon.Interval / time.Second),
		IterationsDone:      mon.IterationsDone,
		MaxIterations:       mon.MaxIterations,
		ConsecutiveFailures: mon.ConsecutiveFailures,
		NextCheckAt:         mon.NextCheckAt,
		CreatedAt:           mon.CreatedAt,
		UpdatedAt:           mon.UpdatedAt,
	}
}

// =============================================================================
// MonitorResource - Read-Only Operations
// =============================================================================

type MonitorResource struct {
	Store store.Store
}

func NewMonitorResource(s store.Store) *MonitorResource {
	return &MonitorResource{Store: s}
}

// FindAll returns all monitors.
func (r MonitorResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := store.DefaultListOptions()
	if limit, ok := req.QueryParams["page[size]"]; ok && len(limit) > 0 {
		if l, err := strconv.Atoi(limit[0]); err == nil {
			opts.Limit = l
		}
	}
	if offset, ok := req.QueryParams["page[offset]"]; ok && len(offset) > 0 {
		if o, err := strconv.Atoi(offset[0]); err == nil {
			opts.Offset = o
		}
	}

	monitors, err := r.Store.ListMonitors(req.PlainRequest.Context(), opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Monitor, 0, len(monitors))
	for i := range monitors {
		result = append(result, MonitorFromDomain(&monitors[i]))
	}

	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{"total": len(result), "limit": opts.Limit, "offset": opts.Offset},
	}, nil
}

// FindOne returns a single monitor by ID.
func (r MonitorResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	monitor, err := r.Store.GetMonitor(req.PlainRequest.Context(), id)
	if err != nil {
		if isNotFound(err) {
			return &Response{Code: http.StatusNotFound}, api2go.NewHTTPError(
				fmt.Errorf("monitor not found"), "Monitor not found", http.StatusNotFound)
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{Code: http.StatusOK, Res: MonitorFromDomain(monitor)}, nil
}

// Create is not supported - monitors are created through the management API.
func (r MonitorResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	return &Response{Code: http.StatusMethodNotAllowed}, api2go.NewHTTPError(
		fmt.Errorf("monitors cannot be created directly"),
		"Use POST /api/v1/monitors instead",
		http.StatusMethodNotAllowed)
}

// Update is not supported - monitor state is owned by the health checker.
func (r MonitorResource) Update(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	return &Response{Code: http.StatusMethodNotAllowed}, api2go.NewHTTPError(
		fmt.Errorf("monitors cannot be updated"),
		"Monitor state is owned by the health checker",
		http.StatusMethodNotAllowed)
}

// Delete is not supported - cancel monitors through the management API so
// the cancellation is recorded as a state transition.
func (r MonitorResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	return &Response{Code: http.StatusMethodNotAllowed}, api2go.NewHTTPError(
		fmt.Errorf("monitors cannot be deleted"),
		"Use DELETE /api/v1/monitors/{id} to cancel instead",
		http.StatusMethodNotAllowed)
}
