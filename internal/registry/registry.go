// Package registry implements the on-disk project registry: a single JSON
// document mapping projectId -> (name, repoRoot, projectDir), per spec.md
// section 4.2. Grounded on the teacher's pkg/storage/boltdb.go
// create/get/list/update shape, re-expressed over one JSON file since the
// spec names "projects.json" explicitly rather than a KV store.
package registry

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hack-dance/hackd/internal/fsutil"
	"github.com/hack-dance/hackd/internal/model"
)

// Outcome describes the result of Upsert.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Updated  Outcome = "updated"
	Conflict Outcome = "conflict"
)

// UpsertResult is returned by Upsert.
type UpsertResult struct {
	Status  Outcome
	Project model.Project
}

var ErrNotFound = errors.New("registry: project not found")

type document struct {
	Projects []model.Project `json:"projects"`
}

// Registry is a file-backed, read-modify-write project table. Concurrent
// writers from separate CLI invocations serialize on the filesystem;
// within one process, writes serialize on mu.
type Registry struct {
	path string
	mu   sync.Mutex
}

// New creates a Registry backed by path, creating an empty document if it
// does not exist yet.
func New(path string) (*Registry, error) {
	r := &Registry{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := r.write(document{Projects: []model.Project{}}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func slug(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) read() (document, error) {
	var doc document
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Projects: []model.Project{}}, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return document{Projects: []model.Project{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (r *Registry) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(r.path, data, 0o600)
}

// Upsert inserts a new project, updates an existing one (matched by
// case-folded name and the same projectDir), or reports a conflict if
// another project already owns the given (case-folded) name with a
// different projectDir.
func (r *Registry) Upsert(name, repoRoot, projectDir string) (UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return UpsertResult{}, err
	}

	folded := slug(name)
	now := time.Now()

	for i, p := range doc.Projects {
		if slug(p.Name) == folded {
			if p.ProjectDir != projectDir {
				return UpsertResult{Status: Conflict, Project: p}, nil
			}
			p.LastSeenAt = now
			p.RepoRoot = repoRoot
			doc.Projects[i] = p
			if err := r.write(doc); err != nil {
				return UpsertResult{}, err
			}
			return UpsertResult{Status: Updated, Project: p}, nil
		}
	}

	p := model.Project{
		ProjectID:  uuid.NewString(),
		Name:       name,
		RepoRoot:   repoRoot,
		ProjectDir: projectDir,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	doc.Projects = append(doc.Projects, p)
	if err := r.write(doc); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Status: Inserted, Project: p}, nil
}

// Touch bumps lastSeenAt for an existing project.
func (r *Registry) Touch(projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	for i, p := range doc.Projects {
		if p.ProjectID == projectID {
			doc.Projects[i].LastSeenAt = time.Now()
			return r.write(doc)
		}
	}
	return ErrNotFound
}

// ResolveByID returns the project with the given id.
func (r *Registry) ResolveByID(projectID string) (model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return model.Project{}, err
	}
	for _, p := range doc.Projects {
		if p.ProjectID == projectID {
			return p, nil
		}
	}
	return model.Project{}, ErrNotFound
}

// ResolveByName returns the project with the given case-folded name.
func (r *Registry) ResolveByName(name string) (model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return model.Project{}, err
	}
	folded := slug(name)
	for _, p := range doc.Projects {
		if slug(p.Name) == folded {
			return p, nil
		}
	}
	return model.Project{}, ErrNotFound
}

// List returns every registered project.
func (r *Registry) List() ([]model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	return doc.Projects, nil
}

// Remove deletes the given project ids from the registry.
func (r *Registry) Remove(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := doc.Projects[:0]
	for _, p := range doc.Projects {
		if !remove[p.ProjectID] {
			kept = append(kept, p)
		}
	}
	doc.Projects = kept
	return r.write(doc)
}
