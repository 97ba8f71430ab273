// Package shell manages PTY-backed shell sessions (spec.md section 4.9):
// one pseudo-terminal per session, fanned out to any number of attached
// stream listeners, lingering for a while after the underlying process
// exits so a reconnecting client can still observe the exit. Output is not
// buffered: a listener only receives chunks read while it is attached.
// Grounded on the teacher's pkg/events/events.go Broker/Subscriber
// fan-out (subscribe/unsubscribe/broadcast over buffered channels),
// replaced here with raw PTY byte chunks instead of typed cluster
// events, plus github.com/creack/pty for the PTY itself (pack:
// cfilipov-dockge, masegraye-docker-mcp-gateway).
package shell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/hack-dance/hackd/internal/model"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound    = errors.New("shell: session not found")
	ErrInvalidCwd  = errors.New("shell: invalid_cwd")
	ErrAlreadyDone = errors.New("shell: session already closed")
)

// lingerAfterExit is how long a closed session's metadata (status, exit
// code, signal) stays addressable after the PTY process exits, per
// spec.md section 4.9.
const lingerAfterExit = 10 * time.Minute

// Listener receives a session's output chunks and its exit notification.
type Listener struct {
	OnData func([]byte)
	OnExit func(exitCode *int, signal *string)
}

// CreateRequest describes a new shell session.
type CreateRequest struct {
	ProjectID   string
	ProjectName string
	ProjectRoot string
	Cwd         string
	Shell       string
	Env         map[string]string
	Cols        int
	Rows        int
}

type session struct {
	meta model.ShellMeta

	pty  *os.File
	proc *os.Process

	mu        sync.Mutex
	listeners map[int]Listener
	nextSub   int
	closed    bool

	lingerTimer *time.Timer
}

// Manager owns every live and lingering shell session.
type Manager struct {
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an empty shell Manager.
func New(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger, sessions: map[string]*session{}}
}

// CreateShell starts a new PTY-backed shell rooted at req.Cwd, refusing
// any working directory outside req.ProjectRoot.
func (m *Manager) CreateShell(req CreateRequest) (model.ShellMeta, error) {
	cwd := req.Cwd
	if cwd == "" {
		cwd = req.ProjectRoot
	}
	if err := validateCwd(req.ProjectRoot, cwd); err != nil {
		return model.ShellMeta{}, err
	}

	shellBin := req.Shell
	if shellBin == "" {
		shellBin = defaultShell()
	}
	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(shellBin)
	cmd.Dir = cwd
	cmd.Env = buildEnv(req.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return model.ShellMeta{}, fmt.Errorf("shell: start pty: %w", err)
	}

	now := time.Now()
	shellID := uuid.NewString()
	sess := &session{
		pty:  ptmx,
		proc: cmd.Process,
		meta: model.ShellMeta{
			ShellID:     shellID,
			Status:      model.ShellRunning,
			ProjectID:   req.ProjectID,
			ProjectName: req.ProjectName,
			Cwd:         cwd,
			Shell:       shellBin,
			Cols:        cols,
			Rows:        rows,
			Pid:         cmd.Process.Pid,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		listeners: map[int]Listener{},
	}

	m.mu.Lock()
	m.sessions[shellID] = sess
	m.mu.Unlock()

	go m.pump(shellID, sess, cmd)

	return sess.meta, nil
}

func (m *Manager) pump(shellID string, sess *session, cmd *exec.Cmd) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			sess.broadcastData(chunk)
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()

	var exitCode *int
	var signal *string
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			exitCode = &code
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				s := status.Signal().String()
				signal = &s
			}
		}
	} else {
		code := 0
		exitCode = &code
	}

	sess.mu.Lock()
	sess.meta.Status = model.ShellExited
	sess.meta.ExitCode = exitCode
	sess.meta.Signal = signal
	sess.meta.UpdatedAt = time.Now()
	sess.closed = true
	sess.mu.Unlock()

	sess.broadcastExit(exitCode, signal)

	sess.lingerTimer = time.AfterFunc(lingerAfterExit, func() {
		m.mu.Lock()
		delete(m.sessions, shellID)
		m.mu.Unlock()
	})
}

func (s *session) broadcastData(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.OnData != nil {
			l.OnData(chunk)
		}
	}
}

func (s *session) broadcastExit(exitCode *int, signal *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.OnExit != nil {
			l.OnExit(exitCode, signal)
		}
	}
}

func (m *Manager) get(shellID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[shellID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// AttachShell registers a listener on shellID, returning an unsubscribe
// function and the session's current metadata. If the session has
// already exited, OnExit fires immediately with its recorded exit code
// and signal, so a late attach during the linger window still observes
// the exit (spec.md section 4.9).
func (m *Manager) AttachShell(shellID string, l Listener) (func(), model.ShellMeta, error) {
	sess, err := m.get(shellID)
	if err != nil {
		return nil, model.ShellMeta{}, err
	}

	sess.mu.Lock()
	id := sess.nextSub
	sess.nextSub++
	sess.listeners[id] = l
	meta := sess.meta
	closed := sess.closed
	sess.mu.Unlock()

	if closed && l.OnExit != nil {
		l.OnExit(meta.ExitCode, meta.Signal)
	}

	unsub := func() {
		sess.mu.Lock()
		delete(sess.listeners, id)
		sess.mu.Unlock()
	}
	return unsub, meta, nil
}

// Write sends input bytes to the PTY's stdin.
func (m *Manager) Write(shellID string, data []byte) error {
	sess, err := m.get(shellID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	closed := sess.closed
	sess.mu.Unlock()
	if closed {
		return ErrAlreadyDone
	}
	_, err = sess.pty.Write(data)
	return err
}

// Resize changes the PTY's window size.
func (m *Manager) Resize(shellID string, cols, rows int) error {
	sess, err := m.get(shellID)
	if err != nil {
		return err
	}
	if err := pty.Setsize(sess.pty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return err
	}
	sess.mu.Lock()
	sess.meta.Cols = cols
	sess.meta.Rows = rows
	sess.meta.UpdatedAt = time.Now()
	sess.mu.Unlock()
	return nil
}

// Signal sends sig (e.g. syscall.SIGINT) to the shell process itself; it
// is not delivered to the PTY's foreground process group.
func (m *Manager) Signal(shellID string, sig syscall.Signal) error {
	sess, err := m.get(shellID)
	if err != nil {
		return err
	}
	return sess.proc.Signal(sig)
}

// Close terminates a running shell's process. Exit bookkeeping happens
// in pump once cmd.Wait() returns.
func (m *Manager) Close(shellID string) error {
	sess, err := m.get(shellID)
	if err != nil {
		return err
	}
	return sess.proc.Signal(syscall.SIGHUP)
}

// GetShell returns a session's current metadata.
func (m *Manager) GetShell(shellID string) (model.ShellMeta, error) {
	sess, err := m.get(shellID)
	if err != nil {
		return model.ShellMeta{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.meta, nil
}

// ListShells returns metadata for every live or lingering session.
func (m *Manager) ListShells() []model.ShellMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ShellMeta, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		out = append(out, sess.meta)
		sess.mu.Unlock()
	}
	return out
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// buildEnv merges the caller-supplied environment overrides onto the
// daemon's own environment and ensures TERM is set, since a PTY without
// TERM confuses full-screen programs (spec.md section 4.9).
func buildEnv(overrides map[string]string) []string {
	env := os.Environ()
	hasTerm := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			hasTerm = true
			break
		}
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// validateCwd rejects any working directory that escapes projectRoot,
// returning ErrInvalidCwd (surfaced by the API as the invalid_cwd error
// code).
func validateCwd(projectRoot, cwd string) error {
	if projectRoot == "" {
		return nil
	}
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return err
	}
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absRoot, absCwd)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrInvalidCwd
	}
	return nil
}
