package httpapi

import (
	"fmt"
	"sync"

	"github.com/hack-dance/hackd/internal/jobstore"
	"github.com/hack-dance/hackd/internal/model"
	"github.com/hack-dance/hackd/internal/paths"
	"github.com/hack-dance/hackd/internal/registry"
	"github.com/hack-dance/hackd/internal/shell"
	"github.com/hack-dance/hackd/internal/supervisor"
	"github.com/rs/zerolog"
)

// Runtime bundles the per-project job and shell subsystems. Each
// registered project gets exactly one, created lazily on first use and
// kept alive for the daemon's lifetime.
type Runtime struct {
	Project   model.Project
	JobStore  *jobstore.Store
	Supervisor *supervisor.Supervisor
	Shells    *shell.Manager
}

// Runtimes lazily constructs and caches a Runtime per project, resolving
// the project's on-disk location through the registry.
type Runtimes struct {
	logger            zerolog.Logger
	registry          *registry.Registry
	maxConcurrentJobs int

	mu  sync.Mutex
	byProject map[string]*Runtime
}

// NewRuntimes builds a Runtimes backed by reg, bounding every project's
// supervisor to maxConcurrentJobs concurrent jobs.
func NewRuntimes(logger zerolog.Logger, reg *registry.Registry, maxConcurrentJobs int) *Runtimes {
	return &Runtimes{
		logger:            logger,
		registry:          reg,
		maxConcurrentJobs: maxConcurrentJobs,
		byProject:         map[string]*Runtime{},
	}
}

// Get returns the Runtime for projectID, constructing it on first use.
func (r *Runtimes) Get(projectID string) (*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.byProject[projectID]; ok {
		return rt, nil
	}

	project, err := r.registry.ResolveByID(projectID)
	if err != nil {
		return nil, fmt.Errorf("httpapi: resolve project %s: %w", projectID, err)
	}

	store := jobstore.New(paths.JobsRoot(project.ProjectDir))
	rt := &Runtime{
		Project:    project,
		JobStore:   store,
		Supervisor: supervisor.New(r.logger, store, r.maxConcurrentJobs),
		Shells:     shell.New(r.logger),
	}
	r.byProject[projectID] = rt
	return rt, nil
}
