package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hack-dance/hackd/internal/model"
	"github.com/hack-dance/hackd/internal/registry"
	"github.com/hack-dance/hackd/internal/runtimecache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) (Deps, *registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.New(filepath.Join(dir, "projects.json"))
	require.NoError(t, err)

	cache := runtimecache.New(zerolog.Nop(), func(ctx context.Context) ([]model.RuntimeProject, error) {
		return nil, nil
	}, reg, nil)

	deps := Deps{
		Logger:   zerolog.Nop(),
		Cache:    cache,
		Runtimes: NewRuntimes(zerolog.Nop(), reg, 2),
	}
	return deps, reg, dir
}

func TestStatusEndpointReturnsOk(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status": "ok"`)
}

func TestUnknownRouteReturns404WithErrorEnvelope(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"error": "not_found"`)
}

func TestJobsForUnknownProjectReturns404(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps, nil)

	req := httptest.NewRequest(http.MethodGet, "/control-plane/projects/missing/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "project_not_found")
}

func TestJobLifecycleThroughRouter(t *testing.T) {
	deps, reg, dir := newTestDeps(t)
	router := NewRouter(deps, nil)

	projectDir := filepath.Join(dir, "myproject")
	result, err := reg.Upsert("myproject", dir, projectDir)
	require.NoError(t, err)

	body := `{"runner":"shell","command":["/bin/sh","-c","echo hi; exit 0"]}`
	req := httptest.NewRequest(http.MethodPost, "/control-plane/projects/"+result.Project.ProjectID+"/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/control-plane/projects/"+result.Project.ProjectID+"/jobs", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestPsEndpointRequiresComposeProject(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ps", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
