package resources

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/shell/store"
	"github.com/manyminds/api2go"
	"github.com/manyminds/api2go/jsonapi"
)

// =============================================================================
// Run JSON:API Model
// =============================================================================

type Run struct {
	ID           string     `json:"-"`
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

func (r Run) GetID() string { return r.ID }

func (r *Run) SetID(id string) error { r.ID = id; return nil }

func (r Run) GetName() string { return "runs" }

// GetReferences links a rollback run back to the deploy run it covers.
func (r Run) GetReferences() []jsonapi.Reference {
	return []jsonapi.Reference{
		{Type: "runs", Name: "parent"},
	}
}

func (r Run) GetReferencedIDs() []jsonapi.ReferenceID {
	refs := []jsonapi.ReferenceID{}
	if r.ParentID != "" {
		refs = append(refs, jsonapi.ReferenceID{ID: r.ParentID, Type: "runs", Name: "parent"})
	}
	return refs
}

func (r Run) GetReferencedStructs() []jsonapi.MarshalIdentifier { return nil }

func RunFromDomain(run *domain.Run) Run {
	return Run{
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

// =============================================================================
// RunResource - Read-Only Operations
// =============================================================================

type RunResource struct {
	Store store.Store
}

func NewRunResource(s store.Store) *RunResource {
	return &RunResource{Store: s}
}

// FindAll returns runs, optionally filtered by filter[project].
func (r RunResource) FindAll(req api2go.Request) (api2go.Responder, error) {
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

	ctx := req.PlainRequest.Context()

	var (
		runs []domain.Run
		err  error
	)
	if project, ok := req.QueryParams["filter[project]"]; ok && len(project) > 0 && project[0] != "" {
		runs, err = r.Store.ListRunsByProject(ctx, project[0], opts)
	} else {
		runs, err = r.Store.ListRuns(ctx, opts)
	}
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Run, 0, len(runs))
	for i := range runs {
		result = append(result, RunFromDomain(&runs[i]))
	}

	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{"total": len(result), "limit": opts.Limit, "offset": opts.Offset},
	}, nil
}

// FindOne returns a single run by ID.
func (r RunResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	run, err := r.Store.GetRun(req.PlainRequest.Context(), id)
	if err != nil {
		if isNotFound(err) {
			return &Response{Code: http.StatusNotFound}, api2go.NewHTTPError(
				fmt.Errorf("run not found"), "Run not found", http.StatusNotFound)
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{Code: http.StatusOK, Res: RunFromDomain(run)}, nil
}

// Create is not supported - runs are created through the deployment and
// rollback endpoints.
func (r RunResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	return &Response{Code: http.StatusMethodNotAllowed}, api2go.NewHTTPError(
		fmt.Errorf("runs cannot be created directly"),
		"Use POST /api/v1/deployments or /api/v1/rollbacks instead",
		http.StatusMethodNotAllowed)
}

// Update is not supported - run state is owned by the pipeline.
func (r RunResource) Update(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	return &Response{Code: http.StatusMethodNotAllowed}, api2go.NewHTTPError(
		fmt.Errorf("runs cannot be updated"),
		"Run state is owned by the pipeline",
		http.StatusMethodNotAllowed)
}

// Delete is not supported - runs are the audit trail.
func (r RunResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	return &Response{Code: http.StatusMethodNotAllowed}, api2go.NewHTTPError(
		fmt.Errorf("runs cannot be deleted"),
		"Runs are kept as the pipeline audit trail",
		http.StatusMethodNotAllowed)
}
