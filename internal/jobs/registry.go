package jobs

import (
	"context"
	"sync"
	"time"
)

// Job kinds tracked by the registry. Extraction and ML jobs live in
// separate tables with overlapping ID spaces, so an ID alone does not
// identify a job.
const (
	KindExtraction = "extraction"
	KindML         = "ml"
)

// ActiveJob describes one running job for status endpoints
type ActiveJob struct {
	JobID       int64     `json:"job_id"`
	ExecutionID int64     `json:"execution_id,omitempty"`
	Kind        string    `json:"kind"` // KindExtraction or KindML
	StartedAt   time.Time `json:"started_at"`
}

type jobKey struct {
	kind string
	id   int64
}

type runningJob struct {
	info   ActiveJob
	cancel context.CancelFunc
}

// Registry tracks running jobs so they can be listed and cancelled
type Registry struct {
	mu   sync.Mutex
	jobs map[jobKey]*runningJob
}

// NewRegistry builds an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[jobKey]*runningJob)}
}

// Add registers a running job and returns false when a job of the same
// kind and ID is already running
func (r *Registry) Add(info ActiveJob, cancel context.CancelFunc) bool {
	key := jobKey{kind: info.Kind, id: info.JobID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[key]; exists {
		return false
	}
	r.jobs[key] = &runningJob{info: info, cancel: cancel}
	return true
}

// Remove drops a finished job
func (r *Registry) Remove(kind string, jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobKey{kind: kind, id: jobID})
}

// Cancel stops a running job. Returns false when the job is not running.
func (r *Registry) Cancel(kind string, jobID int64) bool {
	r.mu.Lock()
	job, ok := r.jobs[jobKey{kind: kind, id: jobID}]
	r.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// Running reports whether a job is currently executing
func (r *Registry) Running(kind string, jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobKey{kind: kind, id: jobID}]
	return ok
}

// List snapshots the running jobs
func (r *Registry) List() []ActiveJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.info)
	}
	return out
}

// Count returns the number of running jobs
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
