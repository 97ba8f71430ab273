// Package httpapi is the single shared route table for hackd's local
// Unix-socket API and (in-process, via internal/gateway) its public TCP
// Gateway, per spec.md sections 4.10/4.11 ("one route table, reused").
// Grounded on github.com/go-chi/chi/v5 (pack: cfilipov-dockge,
// masegraye-docker-mcp-gateway) for routing, and on the teacher's
// pkg/api/server.go for the shape of a thin handler layer delegating to
// a domain object (there: manager.Manager; here: runtimecache.Cache,
// supervisor.Supervisor, shell.Manager) — re-expressed over net/http
// JSON instead of gRPC since spec.md section 4.10 mandates plain
// HTTP/WebSocket endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hack-dance/hackd/internal/metrics"
	"github.com/hack-dance/hackd/internal/runtimecache"
	"github.com/hack-dance/hackd/internal/shell"
	"github.com/hack-dance/hackd/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the handlers' dependencies, assembled by the daemon's boot
// sequence.
type Deps struct {
	Logger    zerolog.Logger
	Cache     *runtimecache.Cache
	Runtimes  *Runtimes
	Metrics   *metrics.Collector
	Version   string
	StartedAt time.Time
}

// NewRouter builds the shared chi route table. wireStreams, when non-nil,
// wires job/shell WebSocket upgrade handlers onto the stream routes;
// non-WS requests to those routes respond 426 per spec.md section 4.12.
func NewRouter(deps Deps, wireStreams func(r chi.Router, deps Deps)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/v1/status", handleStatus(deps))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/metrics", handleMetrics(deps))
	r.Get("/v1/projects", handleProjects(deps))
	r.Get("/v1/ps", handlePs(deps))

	r.Route("/control-plane/projects/{projectId}", func(pr chi.Router) {
		pr.Route("/jobs", func(jr chi.Router) {
			jr.Post("/", handleCreateJob(deps))
			jr.Get("/", handleListJobs(deps))
			jr.Get("/{jobId}", handleGetJob(deps))
			jr.Get("/{jobId}/events", handleJobEvents(deps))
			jr.Post("/{jobId}/cancel", handleCancelJob(deps))
		})
		pr.Route("/shells", func(sr chi.Router) {
			sr.Post("/", handleCreateShell(deps))
			sr.Get("/", handleListShells(deps))
			sr.Get("/{shellId}", handleGetShell(deps))
			sr.Delete("/{shellId}", handleCloseShell(deps))
		})
	})

	if wireStreams != nil {
		wireStreams(r, deps)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	w.Write(data)
	w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"version":    deps.Version,
			"pid":        os.Getpid(),
			"started_at": deps.StartedAt.Format(time.RFC3339),
			"uptime_ms":  time.Since(deps.StartedAt).Milliseconds(),
		})
	}
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Metrics == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		writeJSON(w, http.StatusOK, deps.Metrics.Snapshot())
	}
}

func handleProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := runtimecache.ProjectsQuery{
			Filter:              r.URL.Query().Get("filter"),
			IncludeGlobal:       r.URL.Query().Get("include_global") == "true",
			IncludeUnregistered: r.URL.Query().Get("include_unregistered") == "true",
		}
		payload, err := deps.Cache.GetProjectsPayload(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

func handlePs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := runtimecache.PsQuery{
			ComposeProject: r.URL.Query().Get("compose_project"),
			Project:        r.URL.Query().Get("project"),
			Branch:         r.URL.Query().Get("branch"),
		}
		if q.ComposeProject == "" {
			writeError(w, http.StatusBadRequest, "missing_compose_project")
			return
		}
		payload, err := deps.Cache.GetPsPayload(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

type createJobBody struct {
	Runner  string            `json:"runner"`
	Command []string          `json:"command"`
	Dir     string            `json:"dir"`
	Env     map[string]string `json:"env"`
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}

		var body createJobBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}

		meta, err := rt.Supervisor.CreateJob(supervisor.CreateJobRequest{
			Runner:      body.Runner,
			Command:     body.Command,
			Dir:         body.Dir,
			Env:         body.Env,
			ProjectID:   rt.Project.ProjectID,
			ProjectName: rt.Project.Name,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_job")
			return
		}
		writeJSON(w, http.StatusCreated, meta)
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}
		jobs, err := rt.Supervisor.ListJobs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}
		meta, err := rt.Supervisor.GetJob(chi.URLParam(r, "jobId"))
		if err != nil {
			writeError(w, http.StatusNotFound, "job_not_found")
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func handleJobEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}

		events, err := rt.JobStore.ReadEvents(chi.URLParam(r, "jobId"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		if fromStr := r.URL.Query().Get("from"); fromStr != "" {
			from, parseErr := strconv.ParseInt(fromStr, 10, 64)
			if parseErr == nil {
				filtered := events[:0]
				for _, e := range events {
					if e.Seq >= from {
						filtered = append(filtered, e)
					}
				}
				events = filtered
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}
		if err := rt.Supervisor.CancelJob(chi.URLParam(r, "jobId")); err != nil {
			if err == supervisor.ErrNotRunning {
				writeError(w, http.StatusConflict, "job_not_running")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

type createShellBody struct {
	Cwd   string            `json:"cwd"`
	Shell string            `json:"shell"`
	Env   map[string]string `json:"env"`
	Cols  int               `json:"cols"`
	Rows  int               `json:"rows"`
}

func handleCreateShell(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}

		var body createShellBody
		_ = json.NewDecoder(r.Body).Decode(&body)

		meta, err := rt.Shells.CreateShell(shell.CreateRequest{
			ProjectID:   rt.Project.ProjectID,
			ProjectName: rt.Project.Name,
			ProjectRoot: rt.Project.ProjectDir,
			Cwd:         body.Cwd,
			Shell:       body.Shell,
			Env:         body.Env,
			Cols:        body.Cols,
			Rows:        body.Rows,
		})
		if err != nil {
			if err == shell.ErrInvalidCwd {
				writeError(w, http.StatusBadRequest, "invalid_cwd")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusCreated, meta)
	}
}

func handleListShells(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shells": rt.Shells.ListShells()})
	}
}

func handleGetShell(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}
		meta, err := rt.Shells.GetShell(chi.URLParam(r, "shellId"))
		if err != nil {
			writeError(w, http.StatusNotFound, "shell_not_found")
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func handleCloseShell(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		rt, err := deps.Runtimes.Get(projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, "project_not_found")
			return
		}
		if err := rt.Shells.Close(chi.URLParam(r, "shellId")); err != nil {
			writeError(w, http.StatusNotFound, "shell_not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closing"})
	}
}
