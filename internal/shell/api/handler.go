// Package api provides HTTP handlers for the Shipwright API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/artpar/shipwright/internal/shell/api/openapi"
	"github.com/artpar/shipwright/internal/shell/api/resources"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/artpar/shipwright/internal/shell/workspace"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/manyminds/api2go"
)

// =============================================================================
// Handler
// =============================================================================

// Pinger reports whether the container runtime is reachable. Satisfied by
// docker.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store     store.Store
	docker    Pinger
	workspace *workspace.Workspace
	jsonAPI   *api2go.API
	openapi   *openapi.Generator
	logger    *slog.Logger
}

// NewHandler creates a new API handler. The workspace is used to render
// compiled compose files and resolve per-project compose paths.
func NewHandler(s store.Store, d Pinger, ws *workspace.Workspace, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     s,
		docker:    d,
		workspace: ws,
		jsonAPI:   newJSONAPI(s),
		openapi:   newOpenAPIGenerator(),
		logger:    logger.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// OpenAPI document
	r.Get("/openapi.json", h.openapi.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.jsonContentType)

		r.Post("/plans", h.handleCompilePlan)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
		})

		r.Post("/rollbacks", h.handleCreateRollback)

		r.Route("/monitors", func(r chi.Router) {
			r.Post("/", h.handleCreateMonitor)
			r.Get("/", h.handleListMonitors)
			r.Get("/{id}", h.handleGetMonitor)
			r.Delete("/{id}", h.handleCancelMonitor)
		})

		r.Get("/notifications", h.handleListNotifications)
	})

	// JSON:API read-only views over runs and monitors
	r.Mount("/jsonapi", h.jsonAPI.Handler())

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	checks := make(map[string]string)

	// The store was constructed before the handler, so the database is up.
	checks["database"] = "ok"

	if err := h.docker.Ping(r.Context()); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// JSON:API and OpenAPI Wiring
// =============================================================================

// newJSONAPI builds the api2go API serving read-only JSON:API views under
// /jsonapi. Writes go through the management endpoints under /api/v1.
func newJSONAPI(s store.Store) *api2go.API {
	jsonAPI := api2go.NewAPIWithResolver("jsonapi", api2go.NewStaticResolver(""))
	jsonAPI.ContentType = "application/vnd.api+json"

	jsonAPI.AddResource(resources.Run{}, resources.NewRunResource(s))
	jsonAPI.AddResource(resources.Monitor{}, resources.NewMonitorResource(s))

	return jsonAPI
}

// newOpenAPIGenerator registers every management endpoint with the reflective
// OpenAPI generator.
func newOpenAPIGenerator() *openapi.Generator {
	gen := openapi.NewGenerator(
		openapi.WithTitle("Shipwright API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Compose deployment pipeline with verification, rollback, and health monitoring"),
		openapi.WithServer("/"),
	)

	gen.Register(openapi.Endpoint{
		Method:      http.MethodPost,
		Path:        "/api/v1/plans",
		OperationID: "compilePlan",
		Summary:     "Compile service specs into a deployment plan",
		Tag:         "plans",
		Request:     CompilePlanRequest{},
		Response:    PlanResponse{},
		Status:      http.StatusOK,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodPost,
		Path:        "/api/v1/deployments",
		OperationID: "createDeployment",
		Summary:     "Create a deploy run",
		Tag:         "deployments",
		Request:     CreateDeploymentRequest{},
		Response:    RunResponse{},
		Status:      http.StatusCreated,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodGet,
		Path:        "/api/v1/deployments",
		OperationID: "listDeployments",
		Summary:     "List runs",
		Tag:         "deployments",
		Response:    ListRunsResponse{},
		Status:      http.StatusOK,
		Paginated:   true,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodGet,
		Path:        "/api/v1/deployments/{id}",
		OperationID: "getDeployment",
		Summary:     "Get a run with its step trace",
		Tag:         "deployments",
		Response:    RunDetailResponse{},
		Status:      http.StatusOK,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodPost,
		Path:        "/api/v1/rollbacks",
		OperationID: "createRollback",
		Summary:     "Create a standalone rollback run",
		Tag:         "rollbacks",
		Request:     CreateRollbackRequest{},
		Response:    RunResponse{},
		Status:      http.StatusCreated,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodPost,
		Path:        "/api/v1/monitors",
		OperationID: "createMonitor",
		Summary:     "Start health monitoring for a project",
		Tag:         "monitors",
		Request:     CreateMonitorRequest{},
		Response:    MonitorResponse{},
		Status:      http.StatusCreated,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodGet,
		Path:        "/api/v1/monitors",
		OperationID: "listMonitors",
		Summary:     "List monitors",
		Tag:         "monitors",
		Response:    ListMonitorsResponse{},
		Status:      http.StatusOK,
		Paginated:   true,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodGet,
		Path:        "/api/v1/monitors/{id}",
		OperationID: "getMonitor",
		Summary:     "Get a monitor",
		Tag:         "monitors",
		Response:    MonitorResponse{},
		Status:      http.StatusOK,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodDelete,
		Path:        "/api/v1/monitors/{id}",
		OperationID: "cancelMonitor",
		Summary:     "Cancel an active monitor",
		Tag:         "monitors",
		Response:    MonitorResponse{},
		Status:      http.StatusOK,
	})
	gen.Register(openapi.Endpoint{
		Method:      http.MethodGet,
		Path:        "/api/v1/notifications",
		OperationID: "listNotifications",
		Summary:     "List operator notifications",
		Tag:         "notifications",
		Response:    ListNotificationsResponse{},
		Status:      http.StatusOK,
		Paginated:   true,
	})

	return gen
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}
