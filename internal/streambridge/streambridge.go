// Package streambridge implements the two WebSocket protocols described
// in spec.md section 4.12: a resumable job-stream that polls
// combined.log/events.jsonl on a timer, and a shell-stream that fans out
// PTY output live and accepts control messages. Grounded on the
// teacher's pkg/worker/worker.go ticker-driven poll loops (heartbeat,
// containerExecutorLoop), re-purposed here to push over a WebSocket
// connection instead of reconciling containerd state. Transport:
// github.com/gorilla/websocket (pack: masegraye-docker-mcp-gateway and
// others carry it as an indirect dependency; GLINCKER-glinrdock-core,
// dphaener-conduit, hectolitro-yeet use it directly).
package streambridge

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hack-dance/hackd/internal/httpapi"
	"github.com/hack-dance/hackd/internal/jobstore"
	"github.com/hack-dance/hackd/internal/shell"
	"github.com/rs/zerolog"
)

const (
	logPollInterval   = 500 * time.Millisecond
	eventPollInterval = 500 * time.Millisecond
	heartbeatInterval = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8 * 1024,
	WriteBufferSize: 8 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var allowedSignals = map[string]syscall.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
	"SIGTSTP": syscall.SIGTSTP,
}

// Bridge wires the job-stream and shell-stream WebSocket handlers onto a
// chi-compatible router, tracking the number of currently attached
// streams for internal/metrics.
type Bridge struct {
	logger zerolog.Logger

	mu     sync.Mutex
	active int64
}

// New creates a Bridge.
func New(logger zerolog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// ActiveStreams returns the number of currently attached job/shell
// streams, for internal/metrics.Collector's streamsFn.
func (b *Bridge) ActiveStreams() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Bridge) enter() {
	b.mu.Lock()
	b.active++
	b.mu.Unlock()
}

func (b *Bridge) leave() {
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
}

// Wire registers the job-stream and shell-stream routes. It is passed to
// httpapi.NewRouter as the wireStreams callback so the routes live in the
// one shared route table.
func (b *Bridge) Wire(r chi.Router, deps httpapi.Deps) {
	r.Get("/control-plane/projects/{projectId}/jobs/{jobId}/stream", b.handleJobStream(deps))
	r.Get("/control-plane/projects/{projectId}/shells/{shellId}/stream", b.handleShellStream(deps))
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func writeUpgradeRequired(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUpgradeRequired)
	w.Write([]byte(`{"error": "upgrade_required"}` + "\n"))
}

type helloMessage struct {
	Type       string `json:"type"`
	LogsFrom   *int64 `json:"logsFrom,omitempty"`
	EventsFrom *int64 `json:"eventsFrom,omitempty"`
}

func (b *Bridge) handleJobStream(deps httpapi.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isWebSocketUpgrade(r) {
			writeUpgradeRequired(w)
			return
		}

		projectID := urlParam(r, "projectId")
		jobID := urlParam(r, "jobId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.enter()
		defer b.leave()
		defer conn.Close()

		runJobStream(conn, rt.JobStore, jobID)
	}
}

func runJobStream(conn *websocket.Conn, store *jobstore.Store, jobID string) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var hello helloMessage
	if jsonErr := json.Unmarshal(raw, &hello); jsonErr != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "invalid_message"})
		return
	}
	if hello.Type != "hello" {
		conn.WriteJSON(map[string]string{"type": "error", "message": "expected_hello"})
		return
	}

	paths := store.GetJobPaths(jobID)

	var logsOffset int64
	if hello.LogsFrom != nil {
		logsOffset = *hello.LogsFrom
	}
	var eventsSeq int64
	if hello.EventsFrom != nil {
		eventsSeq = *hello.EventsFrom
	}

	if err := conn.WriteJSON(map[string]any{
		"type":        "ready",
		"logsOffset":  logsOffset,
		"eventsSeq":   eventsSeq,
	}); err != nil {
		return
	}

	logTicker := time.NewTicker(logPollInterval)
	eventTicker := time.NewTicker(eventPollInterval)
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer logTicker.Stop()
	defer eventTicker.Stop()
	defer heartbeatTicker.Stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeMu := &sync.Mutex{}
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		select {
		case <-closed:
			return
		case <-logTicker.C:
			data, newOffset, err := readLogDelta(paths.Combined, logsOffset)
			if err == nil && len(data) > 0 {
				logsOffset = newOffset
				if writeJSON(map[string]any{
					"type":   "log",
					"stream": "combined",
					"offset": logsOffset,
					"data":   string(data),
				}) != nil {
					return
				}
			}
		case <-eventTicker.C:
			events, err := store.ReadEvents(jobID)
			if err == nil {
				for _, e := range events {
					if e.Seq > eventsSeq {
						eventsSeq = e.Seq
						if writeJSON(map[string]any{
							"type":  "event",
							"seq":   e.Seq,
							"event": e,
						}) != nil {
							return
						}
					}
				}
			}
		case <-heartbeatTicker.C:
			if writeJSON(map[string]any{
				"type":       "heartbeat",
				"ts":         time.Now().Format(time.RFC3339),
				"logsOffset": logsOffset,
				"eventsSeq":  eventsSeq,
			}) != nil {
				return
			}
		}
	}
}

// readLogDelta reads everything written to path since offset, returning
// the new offset (size of the file after the read).
func readLogDelta(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() <= offset {
		return nil, offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, err
	}
	return data, offset + int64(len(data)), nil
}

type shellControlMessage struct {
	Type   string `json:"type"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Data   string `json:"data,omitempty"`
	Signal string `json:"signal,omitempty"`
}

func (b *Bridge) handleShellStream(deps httpapi.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isWebSocketUpgrade(r) {
			writeUpgradeRequired(w)
			return
		}

		projectID := urlParam(r, "projectId")
		shellID := urlParam(r, "shellId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.enter()
		defer b.leave()
		defer conn.Close()

		runShellStream(conn, rt.Shells, shellID)
	}
}

func runShellStream(conn *websocket.Conn, mgr *shell.Manager, shellID string) {
	writeMu := &sync.Mutex{}
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	unsub, meta, err := mgr.AttachShell(shellID, shell.Listener{
		OnData: func(data []byte) {
			writeJSON(map[string]any{"type": "output", "data": string(data)})
		},
		OnExit: func(exitCode *int, signal *string) {
			writeJSON(map[string]any{"type": "exit", "exitCode": exitCode, "signal": signal})
		},
	})
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "shell_not_found"})
		return
	}
	defer unsub()

	writeJSON(map[string]any{
		"type":   "ready",
		"shellId": meta.ShellID,
		"cols":   meta.Cols,
		"rows":   meta.Rows,
		"cwd":    meta.Cwd,
		"shell":  meta.Shell,
		"status": meta.Status,
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.BinaryMessage {
			mgr.Write(shellID, data)
			continue
		}

		var ctrl shellControlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			mgr.Write(shellID, data)
			continue
		}

		switch ctrl.Type {
		case "hello", "resize":
			if ctrl.Cols > 0 && ctrl.Rows > 0 {
				mgr.Resize(shellID, ctrl.Cols, ctrl.Rows)
			}
		case "input":
			mgr.Write(shellID, []byte(ctrl.Data))
		case "signal":
			if sig, ok := allowedSignals[ctrl.Signal]; ok {
				mgr.Signal(shellID, sig)
			}
		case "close":
			mgr.Close(shellID)
		default:
			mgr.Write(shellID, data)
		}
	}
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
