package supervisor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hack-dance/hackd/internal/jobstore"
	"github.com/hack-dance/hackd/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T, maxConcurrent int) (*Supervisor, *jobstore.Store) {
	t.Helper()
	store := jobstore.New(filepath.Join(t.TempDir(), "jobs"))
	return New(zerolog.Nop(), store, maxConcurrent), store
}

func TestCreateJobRunsToCompletion(t *testing.T) {
	s, _ := newTestSupervisor(t, 2)

	meta, err := s.CreateJob(CreateJobRequest{
		Runner:  "shell",
		Command: []string{"/bin/sh", "-c", "echo hello; exit 0"},
	})
	require.NoError(t, err)
	require.Equal(t, model.JobQueued, meta.Status)

	require.Eventually(t, func() bool {
		job, err := s.GetJob(meta.JobID)
		return err == nil && job.Status == model.JobCompleted
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCreateJobRecordsFailure(t *testing.T) {
	s, _ := newTestSupervisor(t, 2)

	meta, err := s.CreateJob(CreateJobRequest{
		Runner:  "shell",
		Command: []string{"/bin/sh", "-c", "exit 7"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := s.GetJob(meta.JobID)
		return err == nil && job.Status == model.JobFailed
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCancelJobTerminatesProcess(t *testing.T) {
	s, _ := newTestSupervisor(t, 2)

	meta, err := s.CreateJob(CreateJobRequest{
		Runner:  "shell",
		Command: []string{"/bin/sh", "-c", "sleep 30"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := s.GetJob(meta.JobID)
		return err == nil && job.Status == model.JobRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.CancelJob(meta.JobID))

	require.Eventually(t, func() bool {
		job, err := s.GetJob(meta.JobID)
		return err == nil && job.Status == model.JobCancelled
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCancelUnknownJobReturnsErrNotRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, 2)
	err := s.CancelJob("no-such-job")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestListJobsReturnsAllCreated(t *testing.T) {
	s, _ := newTestSupervisor(t, 2)

	_, err := s.CreateJob(CreateJobRequest{Runner: "shell", Command: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)
	_, err = s.CreateJob(CreateJobRequest{Runner: "shell", Command: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		jobs, err := s.ListJobs()
		return err == nil && len(jobs) == 2
	}, 3*time.Second, 10*time.Millisecond)
}
