package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "projects.json"))
	require.NoError(t, err)
	return r
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Upsert("demo", "/repo", "/repo/demo")
	require.NoError(t, err)
	require.Equal(t, Inserted, res.Status)
	id := res.Project.ProjectID

	res, err = r.Upsert("demo", "/repo", "/repo/demo")
	require.NoError(t, err)
	require.Equal(t, Updated, res.Status)
	require.Equal(t, id, res.Project.ProjectID)
}

func TestUpsertConflictOnNameCollision(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Upsert("demo", "/repo", "/repo/demo")
	require.NoError(t, err)

	res, err := r.Upsert("Demo", "/other", "/other/demo")
	require.NoError(t, err)
	require.Equal(t, Conflict, res.Status)
	require.Equal(t, "/repo/demo", res.Project.ProjectDir)
}

func TestResolveByIDAndName(t *testing.T) {
	r := newTestRegistry(t)
	res, err := r.Upsert("demo", "/repo", "/repo/demo")
	require.NoError(t, err)

	byID, err := r.ResolveByID(res.Project.ProjectID)
	require.NoError(t, err)
	require.Equal(t, "demo", byID.Name)

	byName, err := r.ResolveByName("DEMO")
	require.NoError(t, err)
	require.Equal(t, res.Project.ProjectID, byName.ProjectID)

	_, err = r.ResolveByID("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	res, err := r.Upsert("demo", "/repo", "/repo/demo")
	require.NoError(t, err)

	require.NoError(t, r.Remove([]string{res.Project.ProjectID}))

	list, err := r.List()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestWritingSameInputTwiceIsByteIdentical(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Upsert("demo", "/repo", "/repo/demo")
	require.NoError(t, err)

	before, err := os.ReadFile(r.path)
	require.NoError(t, err)
	doc, err := r.read()
	require.NoError(t, err)
	require.NoError(t, r.write(doc))
	after, err := os.ReadFile(r.path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
