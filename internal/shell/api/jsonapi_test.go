package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONAPI_ListRuns(t *testing.T) {
	h, s, _ := newTestHandler(t)
	s.runs["deploy-1"] = &domain.Run{ID: "deploy-1", Kind: domain.KindDeploy, Status: domain.RunSucceeded, Project: "acme-shop"}

	req := httptest.NewRequest(http.MethodGet, "/jsonapi/runs", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "vnd.api+json")
	assert.Contains(t, w.Body.String(), `"type":"runs"`)
	assert.Contains(t, w.Body.String(), `"id":"deploy-1"`)
}

func TestJSONAPI_FilterRunsByProject(t *testing.T) {
	h, s, _ := newTestHandler(t)
	s.runs["deploy-1"] = &domain.Run{ID: "deploy-1", Kind: domain.KindDeploy, Status: domain.RunSucceeded, Project: "acme-shop"}
	s.runs["deploy-2"] = &domain.Run{ID: "deploy-2", Kind: domain.KindDeploy, Status: domain.RunPending, Project: "blog"}

	req := httptest.NewRequest(http.MethodGet, "/jsonapi/runs?filter[project]=blog", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"deploy-2"`)
	assert.NotContains(t, w.Body.String(), `"id":"deploy-1"`)
}

func TestJSONAPI_GetRun_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/jsonapi/runs/deploy-missing", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJSONAPI_CreateRun_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := strings.NewReader(`{"data":{"type":"runs","attributes":{"project":"acme-shop"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/jsonapi/runs", body)
	req.Header.Set("Content-Type", "application/vnd.api+json")
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestJSONAPI_ListMonitors(t *testing.T) {
	h, s, _ := newTestHandler(t)
	monitor := domain.NewMonitor("acme-shop", "/srv/compose/acme-shop.yml", 30*time.Second, 20)
	s.monitors[monitor.ID] = monitor

	req := httptest.NewRequest(http.MethodGet, "/jsonapi/monitors", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"monitors"`)
	assert.Contains(t, w.Body.String(), `"interval_seconds":30`)
}

func TestJSONAPI_DeleteMonitor_MethodNotAllowed(t *testing.T) {
	h, s, _ := newTestHandler(t)
	monitor := domain.NewMonitor("acme-shop", "/srv/compose/acme-shop.yml", 0, 0)
	s.monitors[monitor.ID] = monitor

	req := httptest.NewRequest(http.MethodDelete, "/jsonapi/monitors/"+monitor.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, domain.MonitorActive, s.monitors[monitor.ID].Status)
}

func TestOpenAPI_ServesSpec(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	doc := parseResponse[map[string]any](t, w.Body)
	assert.Equal(t, "3.0.3", doc["openapi"])

	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/deployments")
	assert.Contains(t, paths, "/api/v1/monitors/{id}")

	components, ok := doc["components"].(map[string]any)
	require.True(t, ok)
	schemas, ok := components["schemas"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, schemas, "RunResponse")
	assert.Contains(t, schemas, "MonitorResponse")
	assert.Contains(t, schemas, "Error")
}
