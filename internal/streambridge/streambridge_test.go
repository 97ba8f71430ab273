package streambridge

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hack-dance/hackd/internal/httpapi"
	"github.com/hack-dance/hackd/internal/jobstore"
	"github.com/hack-dance/hackd/internal/paths"
	"github.com/hack-dance/hackd/internal/registry"
	"github.com/hack-dance/hackd/internal/runtimecache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestReadLogDeltaReturnsOnlyNewBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "combined.log")
	require.NoError(t, os.WriteFile(path, []byte("hello "), 0o600))

	data, offset, err := readLogDelta(path, 0)
	require.NoError(t, err)
	require.Equal(t, "hello ", string(data))
	require.EqualValues(t, 6, offset)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("world")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data2, offset2, err := readLogDelta(path, offset)
	require.NoError(t, err)
	require.Equal(t, "world", string(data2))
	require.EqualValues(t, 11, offset2)
}

func TestReadLogDeltaMissingFileReturnsEmpty(t *testing.T) {
	data, offset, err := readLogDelta("/no/such/file", 5)
	require.NoError(t, err)
	require.Nil(t, data)
	require.EqualValues(t, 5, offset)
}

func newTestRouter(t *testing.T) (http.Handler, *registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.New(filepath.Join(dir, "projects.json"))
	require.NoError(t, err)

	cache := runtimecache.New(zerolog.Nop(), nil, reg, nil)
	deps := httpapi.Deps{
		Logger:   zerolog.Nop(),
		Cache:    cache,
		Runtimes: httpapi.NewRuntimes(zerolog.Nop(), reg, 2),
	}

	bridge := New(zerolog.Nop())
	router := httpapi.NewRouter(deps, bridge.Wire)
	return router, reg, dir
}

func TestJobStreamRejectsNonUpgradeRequest(t *testing.T) {
	router, reg, dir := newTestRouter(t)
	result, err := reg.Upsert("p", dir, filepath.Join(dir, "p"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/control-plane/projects/"+result.Project.ProjectID+"/jobs/abc/stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestJobStreamHelloReadySequence(t *testing.T) {
	router, reg, dir := newTestRouter(t)
	projectDir := filepath.Join(dir, "p")
	result, err := reg.Upsert("p", dir, projectDir)
	require.NoError(t, err)

	store := jobstore.New(paths.JobsRoot(projectDir))
	_, err = store.CreateJob("job1", "shell", []string{"/bin/sh"}, result.Project.ProjectID, result.Project.Name)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/control-plane/projects/" + result.Project.ProjectID + "/jobs/job1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "hello"}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "ready", resp["type"])
}

