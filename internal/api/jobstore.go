package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailblast/internal/dispatch"
)

// JobStatus is the lifecycle state of a background dispatch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord tracks one background dispatch job. Records live in memory only;
// a restart forgets them.
type JobRecord struct {
	ID         uuid.UUID        `json:"id"`
	Status     JobStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	Result     *dispatch.Result `json:"result,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// JobStore is an in-memory registry of background dispatch jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*JobRecord
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*JobRecord)}
}

// Create registers a new queued job and returns a snapshot of it.
func (s *JobStore) Create() JobRecord {
	rec := &JobRecord{
		ID:        uuid.New(),
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[rec.ID] = rec
	s.mu.Unlock()
	return *rec
}

// Get returns a snapshot of the job, if known.
func (s *JobStore) Get(id uuid.UUID) (JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// SetRunning marks the job as started.
func (s *JobStore) SetRunning(id uuid.UUID) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		rec.Status = JobStatusRunning
		rec.StartedAt = &now
	}
}

// SetCompleted records the job's result.
func (s *JobStore) SetCompleted(id uuid.UUID, result *dispatch.Result) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		rec.Status = JobStatusCompleted
		rec.Result = result
		rec.FinishedAt = &now
	}
}

// SetFailed records a job-level failure (precondition or connect error).
func (s *JobStore) SetFailed(id uuid.UUID, err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		rec.Status = JobStatusFailed
		rec.Error = err.Error()
		rec.FinishedAt = &now
	}
}
