package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/go-chi/chi/v5"
)

// =============================================================================
// Plan Handlers
// =============================================================================

func (h *Handler) handleCompilePlan(w http.ResponseWriter, r *http.Request) {
	var req CompilePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	project := domain.Slugify(req.Project)
	if project == "" {
		h.writeError(w, http.StatusBadRequest, "project is required", "validation_error")
		return
	}

	plan, err := spec.Compile(req.Services, spec.CompileOptions{
		Project:     project,
		Environment: req.Environment,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "compile_error")
		return
	}

	data, err := spec.MarshalCompose(plan)
	if err != nil {
		h.logger.Error("failed to render compose file", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to render compose file", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, planToResponse(plan, string(data)))
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
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
	if len(req.Services) > 0 {
		plan, err := spec.Compile(req.Services, spec.CompileOptions{
			Project:     project,
			Environment: req.Environment,
		})
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "compile_error")
			return
		}
		composePath, err = h.workspace.WriteComposeFile(plan)
		if err != nil {
			h.logger.Error("failed to write compose file", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to write compose file", "internal_error")
			return
		}
	} else if composePath == "" {
		h.writeError(w, http.StatusBadRequest, "either services or compose_path is required", "validation_error")
		return
	}

	run := domain.NewDeployRun(project, composePath, req.Environment)
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, runToResponse(run))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
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

	var (
		runs []domain.Run
		err  error
	)
	if project := r.URL.Query().Get("project"); project != "" {
		runs, err = h.store.ListRunsByProject(r.Context(), project, opts)
	} else {
		runs, err = h.store.ListRuns(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := ListRunsResponse{
		Runs:   make([]RunResponse, 0, len(runs)),
		Total:  len(runs),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&runs[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	records, err := h.store.ListStepRecords(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list step records", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list step records", "internal_error")
		return
	}

	resp := RunDetailResponse{
		Run:   runToResponse(run),
		Steps: make([]StepRecordResponse, 0, len(records)),
	}
	for i := range records {
		resp.Steps = append(resp.Steps, stepToResponse(&records[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Rollback Handlers
// =============================================================================

func (h *Handler) handleCreateRollback(w http.ResponseWriter, r *http.Request) {
	var req CreateRollbackRequest
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

	run := domain.NewRollbackRun(project, composePath, req.BackupPath)
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, runToResponse(run))
}

// =============================================================================
// Converters
// =============================================================================

func planToResponse(plan *spec.Plan, composeYAML string) PlanResponse {
	resp := PlanResponse{
		Project:     plan.Project,
		Environment: plan.Environment,
		Services:    make([]PlanServiceResponse, 0, len(plan.Services)),
		Volumes:     plan.Volumes,
		ComposeYAML: composeYAML,
		CreatedAt:   plan.CreatedAt,
	}
	if resp.Volumes == nil {
		resp.Volumes = []string{}
	}
	for i := range plan.Services {
		svc := &plan.Services[i]
		ports := make([]string, 0, len(svc.Ports))
		for _, p := range svc.Ports {
			ports = append(ports, p.String())
		}
		dependsOn := svc.DependsOn
		if dependsOn == nil {
			dependsOn = []string{}
		}
		resp.Services = append(resp.Services, PlanServiceResponse{
			Name:        svc.Name,
			Image:       svc.Image,
			Role:        string(svc.Role),
			Stage:       svc.Stage,
			Ports:       ports,
			DependsOn:   dependsOn,
			Healthcheck: len(svc.HealthCheck.Test) > 0,
		})
	}
	return resp
}

func runToResponse(run *domain.Run) RunResponse {
	return RunResponse{
		ID:           run.ID,
		Kind:         string(run.Kind),
		Status:       string(run.Status),
		Project:      run.Project,
		Environment:  run.Environment,
		ComposePath:  run.ComposePath,
		BackupPath:   run.BackupPath,
		ParentID:     run.ParentID,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

func stepToResponse(rec *domain.StepRecord) StepRecordResponse {
	return StepRecordResponse{
		Step:       string(rec.Step),
		Attempt:    rec.Attempt,
		Status:     string(rec.Status),
		Output:     rec.Output,
		Error:      rec.Error,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		DurationMS: rec.Duration,
	}
}
