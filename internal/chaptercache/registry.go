package chaptercache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ServiceJobRegistry is the service registry key for the shared *Registry.
const ServiceJobRegistry = "chaptercache.registry"

// Factory builds the job for one chapter. It runs at most once per
// concurrent burst of GetOrCreate calls for the same chapter ID.
type Factory func(ctx context.Context) (*Job, error)

// JobSnapshot is a point-in-time view of one in-flight job.
type JobSnapshot struct {
	ChapterID string    `json:"chapter_id"`
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	Cached    int       `json:"cached"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// RegistryOption mutates registry construction configuration.
type RegistryOption func(*Registry)

// WithRegistryLogger configures registry diagnostics logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(registry *Registry) {
		if logger != nil {
			registry.logger = logger
		}
	}
}

// Registry keeps at most one in-flight job per chapter ID.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	pending map[string]*pendingJob
}

type pendingJob struct {
	done chan struct{}
	job  *Job
	err  error
}

// NewRegistry creates an empty registry.
func NewRegistry(options ...RegistryOption) *Registry {
	registry := &Registry{
		logger:  slog.Default(),
		jobs:    make(map[string]*Job),
		pending: make(map[string]*pendingJob),
	}
	for _, option := range options {
		option(registry)
	}

	return registry
}

// GetOrCreate returns the in-flight job for chapterID, building it with
// factory when none exists.
//
// Callers arriving while factory runs wait for and share its result. A factory
// error is returned to every waiter and nothing is registered. Jobs that are
// already terminal are returned without being registered.
func (r *Registry) GetOrCreate(ctx context.Context, chapterID string, factory Factory) (*Job, error) {
	if chapterID == "" {
		return nil, fmt.Errorf("get or create job: empty chapter id")
	}
	if factory == nil {
		return nil, fmt.Errorf("get or create job %s: nil factory", chapterID)
	}

	r.mu.Lock()
	if job, exists := r.jobs[chapterID]; exists {
		r.mu.Unlock()
		return job, nil
	}
	if pending, exists := r.pending[chapterID]; exists {
		r.mu.Unlock()
		select {
		case <-pending.done:
			return pending.job, pending.err
		case <-ctx.Done():
			return nil, fmt.Errorf("get or create job %s: %w", chapterID, ctx.Err())
		}
	}
	pending := &pendingJob{done: make(chan struct{})}
	r.pending[chapterID] = pending
	r.mu.Unlock()

	job, err := runFactory(ctx, chapterID, factory)

	r.mu.Lock()
	delete(r.pending, chapterID)
	if err == nil && job.onTerminal(func() { r.remove(chapterID, job) }) {
		r.jobs[chapterID] = job
		r.logger.DebugContext(ctx, "chapter job registered", "chapter_id", chapterID, "run_id", job.RunID())
	}
	pending.job, pending.err = job, err
	close(pending.done)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return job, nil
}

// Lookup returns the in-flight job for chapterID.
func (r *Registry) Lookup(chapterID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[chapterID]

	return job, exists
}

// Len returns the number of in-flight jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.jobs)
}

// Snapshot lists in-flight jobs ordered by chapter ID.
func (r *Registry) Snapshot() []JobSnapshot {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	snapshots := make([]JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		job.mu.Lock()
		snapshots = append(snapshots, JobSnapshot{
			ChapterID: job.ID(),
			RunID:     job.RunID(),
			Status:    job.status,
			Cached:    job.cached,
			Total:     job.total,
			StartedAt: job.startedAt,
		})
		job.mu.Unlock()
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ChapterID < snapshots[j].ChapterID
	})

	return snapshots
}

func (r *Registry) remove(chapterID string, job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jobs[chapterID] == job {
		delete(r.jobs, chapterID)
	}
}

func runFactory(ctx context.Context, chapterID string, factory Factory) (job *Job, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			job = nil
			err = fmt.Errorf("create job %s: panic recovered: %v", chapterID, recovered)
		}
	}()

	job, err = factory(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("create job %s: factory returned nil job", chapterID)
	}
	if job.ID() != chapterID {
		return nil, fmt.Errorf("create job %s: factory returned job for %s", chapterID, job.ID())
	}

	return job, nil
}
