package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/go-chi/chi/v5"
)

// =============================================================================
// Monitor Handlers
// =============================================================================

func (h *Handler) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	project := domain.Slugify(req.Project)
	if project == "" {
		h.writeError(w, http.StatusBadRequest, "project is required", "validation_error")
		return
	}

	composePath := req.ComposePath
	if composePath == "" {
		composePath = h.workspace.ComposePath(project)
	}

	interval := time.Duration(req.IntervalSeconds) * time.Second
	monitor := domain.NewMonitor(project, composePath, interval, req.MaxIterations)
	if err := h.store.CreateMonitor(r.Context(), monitor); err != nil {
		h.logger.Error("failed to create monitor", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create monitor", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, monitorToResponse(monitor))
}

func (h *Handler) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}

	monitors, err := h.store.ListMonitors(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list monitors", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list monitors", "internal_error")
		return
	}

	resp := ListMonitorsResponse{
		Monitors: make([]MonitorResponse, 0, len(monitors)),
		Total:    len(monitors),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	for i := range monitors {
		resp.Monitors = append(resp.Monitors, monitorToResponse(&monitors[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	monitor, err := h.store.GetMonitor(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "monitor not found", "monitor_not_found")
			return
		}
		h.logger.Error("failed to get monitor", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get monitor", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, monitorToResponse(monitor))
}

func (h *Handler) handleCancelMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	monitor, err := h.store.GetMonitor(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "monitor not found", "monitor_not_found")
			return
		}
		h.logger.Error("failed to get monitor", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get monitor", "internal_error")
		return
	}

	if err := monitor.Cancel(); err != nil {
		if errors.Is(err, domain.ErrMonitorNotActive) {
			h.writeError(w, http.StatusConflict, "monitor is not active", "monitor_not_active")
			return
		}
		h.logger.Error("failed to cancel monitor", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel monitor", "internal_error")
		return
	}

	if err := h.store.UpdateMonitor(r.Context(), monitor); err != nil {
		h.logger.Error("failed to update monitor", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update monitor", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, monitorToResponse(monitor))
}

// =============================================================================
// Notification Handlers
// =============================================================================

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}

	notifications, err := h.store.ListNotifications(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list notifications", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list notifications", "internal_error")
		return
	}

	resp := ListNotificationsResponse{
		Notifications: make([]NotificationResponse, 0, len(notifications)),
		Total:         len(notifications),
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	}
	for i := range notifications {
		resp.Notifications = append(resp.Notifications, notificationToResponse(&notifications[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Converters
// =============================================================================

func monitorToResponse(m *domain.Monitor) MonitorResponse {
	return MonitorResponse{
		ID:                  m.ID,
		Project:             m.Project,
		ComposePath:         m.ComposePath,
		Status:              string(m.Status),
		IntervalSeconds:     int(m.Interval / time.Second),
		IterationsDone:      m.IterationsDone,
		MaxIterations:       m.MaxIterations,
		ConsecutiveFailures: m.ConsecutiveFailures,
		NextCheckAt:         m.NextCheckAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func notificationToResponse(n *domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		RunID:       n.RunID,
		MonitorID:   n.MonitorID,
		Message:     n.Message,
		Status:      string(n.Status),
		Attempts:    n.Attempts,
		LastError:   n.LastError,
		CreatedAt:   n.CreatedAt,
		DeliveredAt: n.DeliveredAt,
	}
}
