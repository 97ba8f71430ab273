// Package supervisor runs job processes on behalf of the gateway/API layer
// (spec.md section 4.8), bounding concurrency to maxConcurrentJobs and
// recording every status transition and log chunk through jobstore.
// Grounded on the teacher's pkg/worker/worker.go task-executor loop
// (mutex-guarded in-memory task map, per-task goroutine, stopCh-style
// cancellation) re-expressed over os/exec instead of containerd, since
// spec.md section 1 treats container runtime execution as out of scope.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hack-dance/hackd/internal/jobstore"
	"github.com/hack-dance/hackd/internal/model"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("supervisor: job not found")
var ErrNotRunning = errors.New("supervisor: job is not running")

// killGrace is how long a cancelled job is given to exit after SIGTERM
// before the supervisor escalates to SIGKILL.
const killGrace = 5 * time.Second

// CreateJobRequest describes a job to spawn.
type CreateJobRequest struct {
	Runner      string
	Command     []string
	Dir         string
	Env         map[string]string
	ProjectID   string
	ProjectName string
}

type runningJob struct {
	proc *os.Process

	// cancelRequested is set by CancelJob and read by run() after
	// cmd.Wait() returns, since killGrace must elapse before escalating
	// to SIGKILL — a context cancelled at the same moment as the SIGTERM
	// would kill the process instantly and the grace window would never
	// apply.
	cancelRequested bool
}

// Supervisor bounds concurrent job execution and owns the in-memory
// table of currently running processes.
type Supervisor struct {
	logger zerolog.Logger
	store  *jobstore.Store

	sem chan struct{}

	mu      sync.Mutex
	running map[string]*runningJob
}

// New creates a Supervisor backed by store, allowing at most
// maxConcurrentJobs processes to run simultaneously; additional jobs
// queue until a slot frees up.
func New(logger zerolog.Logger, store *jobstore.Store, maxConcurrentJobs int) *Supervisor {
	if maxConcurrentJobs < 1 {
		maxConcurrentJobs = 1
	}
	return &Supervisor{
		logger:  logger,
		store:   store,
		sem:     make(chan struct{}, maxConcurrentJobs),
		running: map[string]*runningJob{},
	}
}

// CreateJob persists a queued job and spawns it asynchronously, returning
// immediately with the job's initial metadata.
func (s *Supervisor) CreateJob(req CreateJobRequest) (model.JobMeta, error) {
	if len(req.Command) == 0 {
		return model.JobMeta{}, errors.New("supervisor: command must not be empty")
	}

	jobID := uuid.NewString()
	meta, err := s.store.CreateJob(jobID, req.Runner, req.Command, req.ProjectID, req.ProjectName)
	if err != nil {
		return model.JobMeta{}, err
	}

	go s.run(jobID, req)
	return meta, nil
}

func (s *Supervisor) run(jobID string, req CreateJobRequest) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	if _, err := s.store.UpdateJobStatus(jobID, model.JobStarting); err != nil {
		s.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to mark job starting")
	}
	if _, err := s.store.AppendEvent(jobID, "job.starting", nil); err != nil {
		s.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to append job.starting event")
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.SysProcAttr = setsidAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.fail(jobID, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.fail(jobID, err)
		return
	}

	if err := cmd.Start(); err != nil {
		s.fail(jobID, err)
		return
	}

	job := &runningJob{proc: cmd.Process}
	s.mu.Lock()
	s.running[jobID] = job
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
	}()

	if _, err := s.store.UpdateJobStatus(jobID, model.JobRunning); err != nil {
		s.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to mark job running")
	}
	if _, err := s.store.AppendEvent(jobID, "job.started", map[string]any{"pid": cmd.Process.Pid}); err != nil {
		s.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to append job.started event")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pipeToLog(&wg, jobID, "stdout", stdout)
	go s.pipeToLog(&wg, jobID, "stderr", stderr)
	wg.Wait()

	waitErr := cmd.Wait()

	s.mu.Lock()
	cancelled := job.cancelRequested
	s.mu.Unlock()

	switch {
	case cancelled:
		s.store.UpdateJobStatus(jobID, model.JobCancelled)
		s.store.AppendEvent(jobID, "job.cancelled", nil)
	case waitErr != nil:
		s.store.UpdateJobStatus(jobID, model.JobFailed)
		s.store.AppendEvent(jobID, "job.failed", map[string]any{"error": waitErr.Error()})
	default:
		s.store.UpdateJobStatus(jobID, model.JobCompleted)
		s.store.AppendEvent(jobID, "job.completed", map[string]any{"exitCode": 0})
	}
}

func (s *Supervisor) fail(jobID string, err error) {
	s.logger.Error().Err(err).Str("jobId", jobID).Msg("job failed to start")
	s.store.UpdateJobStatus(jobID, model.JobFailed)
	s.store.AppendEvent(jobID, "job.failed", map[string]any{"error": err.Error()})
}

func (s *Supervisor) pipeToLog(wg *sync.WaitGroup, jobID, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append(append([]byte(nil), scanner.Bytes()...), '\n')
		if err := s.store.AppendLog(jobID, stream, line); err != nil {
			s.logger.Warn().Err(err).Str("jobId", jobID).Str("stream", stream).Msg("failed to append job log")
		}
	}
}

// CancelJob signals a running job to stop, escalating from SIGTERM to
// SIGKILL after killGrace if it has not exited.
func (s *Supervisor) CancelJob(jobID string) error {
	s.mu.Lock()
	job, ok := s.running[jobID]
	if ok {
		job.cancelRequested = true
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	if err := job.proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("supervisor: signal job %s: %w", jobID, err)
	}

	go func() {
		timer := time.NewTimer(killGrace)
		defer timer.Stop()
		<-timer.C

		s.mu.Lock()
		still, ok := s.running[jobID]
		s.mu.Unlock()
		if ok && still == job {
			_ = job.proc.Kill()
		}
	}()

	return nil
}

// GetJob returns one job's metadata.
func (s *Supervisor) GetJob(jobID string) (model.JobMeta, error) {
	meta, err := s.store.ReadJobMeta(jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return model.JobMeta{}, ErrNotFound
	}
	return meta, err
}

// ListJobs returns every known job's metadata.
func (s *Supervisor) ListJobs() ([]model.JobMeta, error) {
	return s.store.ListJobs()
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := append([]string(nil), base...)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
