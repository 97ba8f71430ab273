package jobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hack-dance/hackd/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "jobs"))
}

func TestCreateJobWritesMetaAndCreatedEvent(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.CreateJob("job-1", "shell", []string{"echo", "hi"}, "proj-1", "demo")
	require.NoError(t, err)
	require.Equal(t, model.JobQueued, meta.Status)
	require.EqualValues(t, 1, meta.LastEventSeq)

	onDisk, err := s.ReadJobMeta("job-1")
	require.NoError(t, err)
	require.Equal(t, meta.LastEventSeq, onDisk.LastEventSeq)

	events, err := s.ReadEvents("job-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "job.created", events[0].Type)
	require.EqualValues(t, 1, events[0].Seq)
}

func TestAppendEventIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob("job-1", "shell", nil, "", "")
	require.NoError(t, err)

	e2, err := s.AppendEvent("job-1", "job.starting", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, e2.Seq)

	e3, err := s.AppendEvent("job-1", "job.started", map[string]any{"pid": 123})
	require.NoError(t, err)
	require.EqualValues(t, 3, e3.Seq)

	meta, err := s.ReadJobMeta("job-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, meta.LastEventSeq)

	events, err := s.ReadEvents("job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestUpdateJobStatusPersists(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob("job-1", "shell", nil, "", "")
	require.NoError(t, err)

	meta, err := s.UpdateJobStatus("job-1", model.JobRunning)
	require.NoError(t, err)
	require.Equal(t, model.JobRunning, meta.Status)

	onDisk, err := s.ReadJobMeta("job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobRunning, onDisk.Status)
}

func TestReadEventsDropsCorruptLines(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob("job-1", "shell", nil, "", "")
	require.NoError(t, err)

	paths := s.GetJobPaths("job-1")
	require.NoError(t, appendChunk(paths.Events, []byte("not json\n")))

	events, err := s.ReadEvents("job-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "job.created", events[0].Type)
}

func TestAppendLogWritesStreamAndCombined(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob("job-1", "shell", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.AppendLog("job-1", "stdout", []byte("hello\n")))
	require.NoError(t, s.AppendLog("job-1", "stderr", []byte("oops\n")))

	paths := s.GetJobPaths("job-1")
	stdout, err := os.ReadFile(paths.Stdout)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(stdout))

	combined, err := os.ReadFile(paths.Combined)
	require.NoError(t, err)
	require.Equal(t, "hello\noops\n", string(combined))
}

func TestListJobsSkipsCorruptDirectories(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob("job-1", "shell", nil, "", "")
	require.NoError(t, err)
	_, err = s.CreateJob("job-2", "shell", nil, "", "")
	require.NoError(t, err)

	broken := s.GetJobPaths("job-broken")
	require.NoError(t, os.MkdirAll(broken.Dir, 0o700))
	require.NoError(t, os.WriteFile(broken.Meta, []byte("not json"), 0o600))

	jobs, err := s.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}
