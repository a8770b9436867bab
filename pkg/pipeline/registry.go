package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry tracks in-flight and completed jobs by identifier.
//
// Jobs live in memory for fast polling and are mirrored to per-job
// job.json files so the registry survives process restarts:
//
//	<root>/<job_id>/job.json
//
// Writes go through a temp file and rename, so a crash never leaves a
// corrupt record behind.
type Registry struct {
	root string

	mu   sync.RWMutex
	jobs map[string]*Job
}

// OpenRegistry loads any persisted job records from root.
func OpenRegistry(root string) (*Registry, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("job registry root dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create registry root: %w", err)
	}

	r := &Registry{root: root, jobs: make(map[string]*Job)}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read registry root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := readJobFile(filepath.Join(root, entry.Name(), "job.json"))
		if err != nil {
			continue
		}
		// A job that claimed to be in flight when the process died can
		// never complete; its artifacts, if any, remain cached.
		if !job.Status.Terminal() {
			job.fail(job.CurrentStage, 0, "conversion_failed", "process restarted mid-job; resubmit to resume from cached stages")
			_ = r.persist(job)
		}
		r.jobs[job.ID] = job
	}
	return r, nil
}

// Create registers and persists a new job.
func (r *Registry) Create(job *Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if err := r.persist(job); err != nil {
		return err
	}
	r.jobs[job.ID] = job
	return nil
}

// Get returns a snapshot of a job. Fails with ErrNotFound for unknown ids.
func (r *Registry) Get(jobID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.clone(), nil
}

// List returns snapshots of all jobs, most recently created first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies mutate to a job under the registry lock and persists the
// result. The orchestrator is the only caller that mutates jobs.
func (r *Registry) Update(jobID string, mutate func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	mutate(job)
	return r.persist(job)
}

// Remove deletes a job record entirely. Used only to back out a submission
// that could not be enqueued.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	_ = os.RemoveAll(filepath.Join(r.root, jobID))
}

// persist writes job.json atomically. Callers hold r.mu.
func (r *Registry) persist(job *Job) error {
	jobDir := filepath.Join(r.root, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}
	return os.Rename(tmpName, filepath.Join(jobDir, "job.json"))
}

func readJobFile(path string) (*Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	if strings.TrimSpace(job.ID) == "" {
		return nil, fmt.Errorf("job.json missing job_id")
	}
	return &job, nil
}
