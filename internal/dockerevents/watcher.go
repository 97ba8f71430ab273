// Package dockerevents tails `docker events` and delivers parsed lines to
// a callback, reconnecting with capped backoff on failure (spec.md
// section 4.5). Grounded on the teacher's subprocess-lifecycle
// conventions in pkg/embedded/containerd.go (spawn, pipe stdout, restart
// loop) and the exec-based health checker in pkg/health/exec.go. Docker
// itself is treated as an external collaborator reached only through its
// CLI, per spec.md section 1 — no Docker SDK client is imported.
package dockerevents

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one parsed `docker events --format {{json .}}` line. Fields
// beyond those the daemon cares about are preserved in Raw.
type Event struct {
	Type   string `json:"Type"`
	Action string `json:"Action"`
	Actor  struct {
		ID         string            `json:"ID"`
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
	Raw json.RawMessage `json:"-"`
}

// Callback is invoked once per parsed event.
type Callback func(Event)

const maxBackoff = 2000 * time.Millisecond

// Watcher tails docker events in a background goroutine and restarts the
// child process with exponential backoff (capped) when it exits or errors.
type Watcher struct {
	logger   zerolog.Logger
	callback Callback
	cmdName  string
	cmdArgs  []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Watcher. cmdName/cmdArgs default to
// ("docker", []string{"events", "--filter", "type=container", "--format",
// "{{json .}}"}) when empty, so tests can substitute a fake binary.
func New(logger zerolog.Logger, callback Callback, cmdName string, cmdArgs []string) *Watcher {
	if cmdName == "" {
		cmdName = "docker"
		cmdArgs = []string{"events", "--filter", "type=container", "--format", "{{json .}}"}
	}
	return &Watcher{
		logger:   logger,
		callback: callback,
		cmdName:  cmdName,
		cmdArgs:  cmdArgs,
	}
}

// Start begins the tail-and-reconnect loop in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop terminates the child process and its loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn().Err(err).Int("attempt", attempt).Msg("docker events exited, retrying")
		}

		delay := backoffDelay(attempt)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(200*(1<<uint(attempt))) * time.Millisecond
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func (w *Watcher) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.cmdName, w.cmdArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			w.logger.Debug().Err(err).Msg("docker events: dropping unparsable line")
			continue
		}
		evt.Raw = append(json.RawMessage(nil), line...)
		w.callback(evt)
	}

	return cmd.Wait()
}
