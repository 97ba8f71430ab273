package shell

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCreateShellEchoesInput(t *testing.T) {
	dir := t.TempDir()
	m := New(zerolog.Nop())

	meta, err := m.CreateShell(CreateRequest{
		ProjectRoot: dir,
		Cwd:         dir,
		Shell:       "/bin/sh",
	})
	require.NoError(t, err)
	require.Equal(t, dir, meta.Cwd)

	var mu sync.Mutex
	var out strings.Builder
	unsub, _, err := m.AttachShell(meta.ShellID, Listener{
		OnData: func(b []byte) {
			mu.Lock()
			out.Write(b)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, m.Write(meta.ShellID, []byte("echo marker123\n")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(out.String(), "marker123")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCreateShellRejectsEscapingCwd(t *testing.T) {
	dir := t.TempDir()
	m := New(zerolog.Nop())

	_, err := m.CreateShell(CreateRequest{
		ProjectRoot: dir,
		Cwd:         "/etc",
		Shell:       "/bin/sh",
	})
	require.ErrorIs(t, err, ErrInvalidCwd)
}

func TestCloseShellMarksExited(t *testing.T) {
	dir := t.TempDir()
	m := New(zerolog.Nop())

	meta, err := m.CreateShell(CreateRequest{
		ProjectRoot: dir,
		Cwd:         dir,
		Shell:       "/bin/sh",
	})
	require.NoError(t, err)

	require.NoError(t, m.Close(meta.ShellID))

	require.Eventually(t, func() bool {
		got, err := m.GetShell(meta.ShellID)
		return err == nil && got.Status == "exited"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGetShellUnknownReturnsErrNotFound(t *testing.T) {
	m := New(zerolog.Nop())
	_, err := m.GetShell("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListShellsIncludesCreated(t *testing.T) {
	dir := t.TempDir()
	m := New(zerolog.Nop())

	meta, err := m.CreateShell(CreateRequest{ProjectRoot: dir, Cwd: dir, Shell: "/bin/sh"})
	require.NoError(t, err)

	shells := m.ListShells()
	require.Len(t, shells, 1)
	require.Equal(t, meta.ShellID, shells[0].ShellID)
}
