// Package jobstore implements the per-job on-disk directory (meta.json,
// events.jsonl, stdout/stderr/combined logs) described in spec.md section
// 4.7. Grounded on the teacher's pkg/storage/boltdb.go per-entity file
// conventions, re-expressed as one directory per job instead of one
// bucket per type since spec.md section 6 names the on-disk layout
// explicitly.
package jobstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hack-dance/hackd/internal/fsutil"
	"github.com/hack-dance/hackd/internal/model"
)

var ErrNotFound = errors.New("jobstore: job not found")

// Paths are the deterministic paths for one job: its directory, meta.json,
// events.jsonl, and the three logs.
type Paths struct {
	Dir      string
	Meta     string
	Events   string
	Stdout   string
	Stderr   string
	Combined string
}

// Store manages job directories under root (typically
// <projectDir>/supervisor/jobs). Event-sequence monotonicity is
// maintained by serializing every meta+event write per job through jobMu.
type Store struct {
	root string

	mu    sync.Mutex
	jobMu map[string]*sync.Mutex
}

// New creates a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root, jobMu: map[string]*sync.Mutex{}}
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.jobMu[jobID]
	if !ok {
		m = &sync.Mutex{}
		s.jobMu[jobID] = m
	}
	return m
}

// GetJobPaths yields the job's directory, meta, events, and three log
// paths deterministically.
func (s *Store) GetJobPaths(jobID string) Paths {
	dir := filepath.Join(s.root, jobID)
	return Paths{
		Dir:      dir,
		Meta:     filepath.Join(dir, "meta.json"),
		Events:   filepath.Join(dir, "events.jsonl"),
		Stdout:   filepath.Join(dir, "stdout.log"),
		Stderr:   filepath.Join(dir, "stderr.log"),
		Combined: filepath.Join(dir, "combined.log"),
	}
}

func (s *Store) readMeta(paths Paths) (model.JobMeta, error) {
	var meta model.JobMeta
	data, err := os.ReadFile(paths.Meta)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, ErrNotFound
		}
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func (s *Store) writeMeta(paths Paths, meta model.JobMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(paths.Meta, data, 0o600)
}

// CreateJob writes meta.json (status queued, seq 0), appends a
// job.created event (seq 1, updating meta), and returns the populated
// meta.
func (s *Store) CreateJob(jobID, runner string, command []string, projectID, projectName string) (model.JobMeta, error) {
	paths := s.GetJobPaths(jobID)
	if err := os.MkdirAll(paths.Dir, 0o700); err != nil {
		return model.JobMeta{}, err
	}

	now := time.Now()
	meta := model.JobMeta{
		JobID:        jobID,
		Status:       model.JobQueued,
		Runner:       runner,
		Command:      command,
		ProjectID:    projectID,
		ProjectName:  projectName,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastEventSeq: 0,
	}
	if err := s.writeMeta(paths, meta); err != nil {
		return model.JobMeta{}, err
	}

	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.appendEventLocked(paths, &meta, "job.created", nil); err != nil {
		return model.JobMeta{}, err
	}
	return meta, nil
}

// ReadJobMeta reads meta.json for jobID.
func (s *Store) ReadJobMeta(jobID string) (model.JobMeta, error) {
	return s.readMeta(s.GetJobPaths(jobID))
}

// UpdateJobStatus sets status and bumps updatedAt.
func (s *Store) UpdateJobStatus(jobID string, status model.JobStatus) (model.JobMeta, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	paths := s.GetJobPaths(jobID)
	meta, err := s.readMeta(paths)
	if err != nil {
		return model.JobMeta{}, err
	}
	meta.Status = status
	meta.UpdatedAt = time.Now()
	if err := s.writeMeta(paths, meta); err != nil {
		return model.JobMeta{}, err
	}
	return meta, nil
}

// AppendEvent appends one event, bumping meta.LastEventSeq. Monotonicity
// is maintained by reading meta, incrementing, writing the event, then
// writing meta, all under the per-job lock.
func (s *Store) AppendEvent(jobID, eventType string, payload map[string]any) (model.JobEvent, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	paths := s.GetJobPaths(jobID)
	meta, err := s.readMeta(paths)
	if err != nil {
		return model.JobEvent{}, err
	}
	return s.appendEventLocked(paths, &meta, eventType, payload)
}

// appendEventLocked assumes the caller holds the per-job lock and that
// meta reflects the current on-disk state.
func (s *Store) appendEventLocked(paths Paths, meta *model.JobMeta, eventType string, payload map[string]any) (model.JobEvent, error) {
	evt := model.JobEvent{
		Seq:     meta.LastEventSeq + 1,
		Ts:      time.Now(),
		Type:    eventType,
		Payload: payload,
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return model.JobEvent{}, err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(paths.Events, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return model.JobEvent{}, err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return model.JobEvent{}, err
	}
	if err := f.Close(); err != nil {
		return model.JobEvent{}, err
	}

	meta.LastEventSeq = evt.Seq
	meta.UpdatedAt = evt.Ts
	if err := s.writeMeta(paths, *meta); err != nil {
		return model.JobEvent{}, err
	}
	return evt, nil
}

// ReadEvents parses events.jsonl, silently dropping corrupt lines.
func (s *Store) ReadEvents(jobID string) ([]model.JobEvent, error) {
	paths := s.GetJobPaths(jobID)
	f, err := os.Open(paths.Events)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []model.JobEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var evt model.JobEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// AppendLog appends data to both the named stream log (stdout or stderr)
// and combined.log, atomically per chunk.
func (s *Store) AppendLog(jobID string, stream string, data []byte) error {
	paths := s.GetJobPaths(jobID)
	var streamPath string
	switch stream {
	case "stdout":
		streamPath = paths.Stdout
	case "stderr":
		streamPath = paths.Stderr
	default:
		return errors.New("jobstore: unknown stream " + stream)
	}

	if err := appendChunk(streamPath, data); err != nil {
		return err
	}
	return appendChunk(paths.Combined, data)
}

func appendChunk(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// ListJobs lists every job directory under root, newest first, reading
// each meta.json. Corrupt or missing meta files are skipped.
func (s *Store) ListJobs() ([]model.JobMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []model.JobMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.ReadJobMeta(e.Name())
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}
