// Package runtimecache maintains the daemon's single source of truth for
// "what Docker Compose projects are running right now" (spec.md section
// 4.6). Grounded on the teacher's pkg/manager/metrics_collector.go
// ticker+collect loop for the refresh cadence and pkg/scheduler/scheduler.go
// for the coalescing/debounce shape of reconciliation.
package runtimecache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hack-dance/hackd/internal/model"
	"github.com/hack-dance/hackd/internal/registry"
	"github.com/rs/zerolog"
)

// Enumerator lists the currently running compose projects. The default
// implementation shells out to `docker compose ls`/`docker ps`; spec.md
// section 1 treats Docker Compose invocation as trivial external plumbing,
// so no Docker SDK client is used here.
type Enumerator func(ctx context.Context) ([]model.RuntimeProject, error)

const debounceDelay = 250 * time.Millisecond

// Cache is the debounced, event-triggered snapshot builder described in
// spec.md section 4.6.
type Cache struct {
	logger    zerolog.Logger
	enumerate Enumerator
	registry  *registry.Registry
	onRefresh func(*model.RuntimeSnapshot)

	stateMu  sync.Mutex
	snapshot *model.RuntimeSnapshot

	coordMu  sync.Mutex
	inFlight bool
	pending  bool
	doneCh   chan struct{}

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	refreshCount    int64
	refreshFailures int64
	lastRefreshAt   time.Time
	lastEventAt     time.Time
	eventsSeen      int64
	statsMu         sync.Mutex
}

// New creates a Cache. onRefresh (may be nil) is invoked after every
// successful snapshot swap.
func New(logger zerolog.Logger, enumerate Enumerator, reg *registry.Registry, onRefresh func(*model.RuntimeSnapshot)) *Cache {
	return &Cache{
		logger:    logger,
		enumerate: enumerate,
		registry:  reg,
		onRefresh: onRefresh,
	}
}

// Refresh coalesces concurrent callers: if a refresh is already running,
// this call waits for it and then performs at most one more, per spec.md
// section 4.6 step 1.
func (c *Cache) Refresh(ctx context.Context, reason string) error {
	c.coordMu.Lock()
	if c.inFlight {
		c.pending = true
		waitCh := c.doneCh
		c.coordMu.Unlock()

		<-waitCh

		c.coordMu.Lock()
		if c.pending {
			c.pending = false
			c.coordMu.Unlock()
			return c.Refresh(ctx, "pending:"+reason)
		}
		c.coordMu.Unlock()
		return nil
	}

	c.inFlight = true
	c.doneCh = make(chan struct{})
	c.coordMu.Unlock()

	err := c.doRefresh(ctx, reason)

	c.coordMu.Lock()
	c.inFlight = false
	close(c.doneCh)
	c.coordMu.Unlock()

	return err
}

func (c *Cache) doRefresh(ctx context.Context, reason string) error {
	projects, err := c.enumerate(ctx)

	c.statsMu.Lock()
	c.refreshCount++
	c.lastRefreshAt = time.Now()
	if err != nil {
		c.refreshFailures++
	}
	c.statsMu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Str("reason", reason).Msg("runtime cache refresh failed")
		return err
	}

	c.autoRegister(projects)

	snapshot := &model.RuntimeSnapshot{
		UpdatedAtMs: time.Now().UnixMilli(),
		Projects:    projects,
	}

	c.stateMu.Lock()
	c.snapshot = snapshot
	c.stateMu.Unlock()

	c.logger.Debug().Str("reason", reason).Int("projects", len(projects)).Msg("runtime cache refreshed")

	if c.onRefresh != nil {
		c.onRefresh(snapshot)
	}
	return nil
}

// autoRegister registers, in the project registry, every observed compose
// project whose working directory contains a .hack/ layout.
func (c *Cache) autoRegister(projects []model.RuntimeProject) {
	if c.registry == nil {
		return
	}
	for _, p := range projects {
		if p.WorkingDir == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(p.WorkingDir, ".hack")); err != nil {
			continue
		}
		if _, err := c.registry.Upsert(p.ComposeProjectName, p.WorkingDir, p.WorkingDir); err != nil {
			c.logger.Warn().Err(err).Str("project", p.ComposeProjectName).Msg("auto-register failed")
		}
	}
}

// OnDockerEvent schedules a debounced refresh 250ms after the most recent
// call, via a single shared timer (spec.md section 4.6).
func (c *Cache) OnDockerEvent() {
	c.statsMu.Lock()
	c.lastEventAt = time.Now()
	c.eventsSeen++
	c.statsMu.Unlock()

	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(debounceDelay, func() {
		_ = c.Refresh(context.Background(), "event")
	})
}

// Startup performs the one required reason="startup" refresh.
func (c *Cache) Startup(ctx context.Context) error {
	return c.Refresh(ctx, "startup")
}

func (c *Cache) current() *model.RuntimeSnapshot {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.snapshot
}

// ensureSnapshot triggers one blocking refresh if no snapshot exists yet;
// readers never otherwise wait on Docker.
func (c *Cache) ensureSnapshot(ctx context.Context) *model.RuntimeSnapshot {
	if s := c.current(); s != nil {
		return s
	}
	_ = c.Refresh(ctx, "first-read")
	return c.current()
}

// ProjectView is a registry entry joined with its observed runtime state.
type ProjectView struct {
	Project model.Project          `json:"project"`
	Runtime *model.RuntimeProject  `json:"runtime,omitempty"`
}

// ProjectsPayload is the response body for GET /v1/projects.
type ProjectsPayload struct {
	UpdatedAtMs int64         `json:"updatedAtMs"`
	Projects    []ProjectView `json:"projects"`
}

// ProjectsQuery holds the filters accepted by GetProjectsPayload.
type ProjectsQuery struct {
	Filter              string
	IncludeGlobal       bool
	IncludeUnregistered bool
}

// GetProjectsPayload joins the snapshot with the project registry.
func (c *Cache) GetProjectsPayload(ctx context.Context, q ProjectsQuery) (ProjectsPayload, error) {
	snapshot := c.ensureSnapshot(ctx)
	if snapshot == nil {
		return ProjectsPayload{}, nil
	}

	var registered []model.Project
	if c.registry != nil {
		var err error
		registered, err = c.registry.List()
		if err != nil {
			return ProjectsPayload{}, err
		}
	}

	byDir := make(map[string]model.Project, len(registered))
	for _, p := range registered {
		byDir[p.ProjectDir] = p
	}

	views := make([]ProjectView, 0, len(snapshot.Projects))
	seenDirs := make(map[string]bool)

	for i := range snapshot.Projects {
		rp := snapshot.Projects[i]
		if rp.IsGlobal && !q.IncludeGlobal {
			continue
		}
		if q.Filter != "" && rp.ComposeProjectName != q.Filter {
			continue
		}
		project, registered := byDir[rp.WorkingDir]
		if !registered && !q.IncludeUnregistered {
			continue
		}
		seenDirs[rp.WorkingDir] = true
		views = append(views, ProjectView{Project: project, Runtime: &rp})
	}

	if q.IncludeUnregistered {
		for _, p := range registered {
			if !seenDirs[p.ProjectDir] {
				views = append(views, ProjectView{Project: p})
			}
		}
	}

	return ProjectsPayload{UpdatedAtMs: snapshot.UpdatedAtMs, Projects: views}, nil
}

// PsQuery holds the parameters accepted by GetPsPayload.
type PsQuery struct {
	ComposeProject string
	Project        string
	Branch         string
}

// PsPayload is the response body for GET /v1/ps: containers for one
// compose project, sorted by (service, name).
type PsPayload struct {
	ComposeProject string                   `json:"composeProject"`
	Containers     []model.RuntimeContainer `json:"containers"`
}

type psEntry struct {
	service   string
	container model.RuntimeContainer
}

// GetPsPayload returns the container list for a single compose project.
func (c *Cache) GetPsPayload(ctx context.Context, q PsQuery) (PsPayload, error) {
	snapshot := c.ensureSnapshot(ctx)
	payload := PsPayload{ComposeProject: q.ComposeProject}
	if snapshot == nil {
		return payload, nil
	}

	for _, rp := range snapshot.Projects {
		if rp.ComposeProjectName != q.ComposeProject {
			continue
		}
		var entries []psEntry
		for svc, containers := range rp.Services {
			for _, ctr := range containers.Containers {
				entries = append(entries, psEntry{service: svc, container: ctr})
			}
		}
		sortPsEntries(entries)
		for _, e := range entries {
			payload.Containers = append(payload.Containers, e.container)
		}
		break
	}
	return payload, nil
}

func sortPsEntries(entries []psEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			if lessPsEntry(b, a) {
				entries[j-1], entries[j] = entries[j], entries[j-1]
			} else {
				break
			}
		}
	}
}

func lessPsEntry(a, b psEntry) bool {
	if a.service != b.service {
		return a.service < b.service
	}
	return a.container.Name < b.container.Name
}

// Stats backs the /v1/metrics cache_* and last_event_at/events_seen
// fields.
type Stats struct {
	CacheUpdatedAtMs int64
	LastRefreshAt    time.Time
	RefreshCount     int64
	RefreshFailures  int64
	LastEventAt      time.Time
	EventsSeen       int64
}

// StatsSnapshot returns a point-in-time copy of the cache's counters.
func (c *Cache) StatsSnapshot() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	var updatedAt int64
	if s := c.current(); s != nil {
		updatedAt = s.UpdatedAtMs
	}

	return Stats{
		CacheUpdatedAtMs: updatedAt,
		LastRefreshAt:    c.lastRefreshAt,
		RefreshCount:     c.refreshCount,
		RefreshFailures:  c.refreshFailures,
		LastEventAt:      c.lastEventAt,
		EventsSeen:       c.eventsSeen,
	}
}
