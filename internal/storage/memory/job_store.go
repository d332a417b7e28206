package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

// JobStore keeps every job in memory, in insertion order.
// A single lock covers id allocation and every status write, so readers
// never observe a job between two fields of one transition.
type JobStore struct {
	mu    sync.RWMutex
	jobs  []ingest.Job
	index map[ingest.JobID]int
	now   func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock falls back to time.Now.
func NewJobStore(clock ingest.Clock) *JobStore {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		index: make(map[ingest.JobID]int),
		now:   func() time.Time { return now().UTC() },
	}
}

// Create appends a queued job with the next id.
func (s *JobStore) Create(url string, source *ingest.SourceRef) ingest.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := ingest.Job{
		ID:        ingest.JobID(len(s.jobs) + 1),
		URL:       url,
		Status:    ingest.JobStatusQueued,
		Source:    cloneRef(source),
		CreatedAt: s.now(),
	}
	s.index[job.ID] = len(s.jobs)
	s.jobs = append(s.jobs, job)
	return job
}

// Get fetches a job by id.
func (s *JobStore) Get(id ingest.JobID) (ingest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return ingest.Job{}, fmt.Errorf("job %d: %w", id, ingest.ErrJobNotFound)
	}
	return s.jobs[pos], nil
}

// List returns a snapshot of all jobs ordered by id.
func (s *JobStore) List() []ingest.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Len reports the number of jobs ever created.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Transition moves a job forward and attaches the result for terminal states.
func (s *JobStore) Transition(id ingest.JobID, status ingest.JobStatus, result *ingest.Result) (ingest.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return ingest.Job{}, fmt.Errorf("job %d: %w", id, ingest.ErrJobNotFound)
	}
	job := s.jobs[pos]
	if !allowed(job.Status, status) {
		return job, fmt.Errorf("job %d %s -> %s: %w", id, job.Status, status, ingest.ErrInvalidTransition)
	}
	now := s.now()
	job.Status = status
	switch status {
	case ingest.JobStatusRunning:
		job.StartedAt = pointerTime(now)
	case ingest.JobStatusCompleted, ingest.JobStatusFailed:
		job.FinishedAt = pointerTime(now)
		if result != nil {
			res := *result
			job.Result = &res
		}
	}
	s.jobs[pos] = job
	return job, nil
}

// allowed encodes the forward-only lifecycle. queued -> failed covers jobs
// abandoned before a worker picked them up.
func allowed(from, to ingest.JobStatus) bool {
	switch from {
	case ingest.JobStatusQueued:
		return to == ingest.JobStatusRunning || to == ingest.JobStatusFailed
	case ingest.JobStatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

func cloneRef(ref *ingest.SourceRef) *ingest.SourceRef {
	if ref == nil {
		return nil
	}
	out := *ref
	return &out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
