// Package memory keeps job state and blobs in process memory for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var (
	_ support.JobStore     = (*JobStore)(nil)
	_ support.Deduplicator = (*JobStore)(nil)
)

// JobStore is an in-memory support.JobStore that also deduplicates webhook
// events.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]support.Job
	leases   map[string]time.Time
	events   map[string]dedupEntry
	clock    support.Clock
	dedupTTL time.Duration
}

type dedupEntry struct {
	jobID   string
	expires time.Time
}

// Option customizes a JobStore.
type Option func(*JobStore)

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(clock support.Clock) Option {
	return func(s *JobStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDedupTTL sets how long webhook event ids are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(s *JobStore) {
		s.dedupTTL = ttl
	}
}

// NewJobStore constructs a JobStore.
func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{
		jobs:     make(map[string]support.Job),
		leases:   make(map[string]time.Time),
		events:   make(map[string]dedupEntry),
		clock:    system.New(),
		dedupTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job support.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return support.ErrJobExists
	}
	job.Status = support.JobStatusQueued
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = s.clock.Now()
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (support.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return support.Job{}, support.ErrNotFound
	}
	return cloneJob(job), nil
}

// ClaimJob moves a job to started and records its lease.
func (s *JobStore) ClaimJob(_ context.Context, jobID string, leaseUntil time.Time) (support.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return support.Job{}, support.ErrNotFound
	}
	if !job.Status.CanTransition(support.JobStatusStarted) {
		return support.Job{}, support.Errorf(support.ErrInvalidTransition, "%s is %s", jobID, job.Status)
	}
	job.Status = support.JobStatusStarted
	job.Attempts++
	if job.StartedAt == nil {
		job.StartedAt = pointerTime(s.clock.Now())
	}
	s.jobs[jobID] = job
	s.leases[jobID] = leaseUntil
	return cloneJob(job), nil
}

// FinishJob stores the answer and marks the job finished.
func (s *JobStore) FinishJob(_ context.Context, jobID string, answer support.Answer) error {
	return s.complete(jobID, support.JobStatusFinished, func(job *support.Job) {
		a := answer
		a.Links = append([]string(nil), answer.Links...)
		job.Result = &a
	})
}

// FailJob records reason and marks the job failed.
func (s *JobStore) FailJob(_ context.Context, jobID string, reason string) error {
	return s.complete(jobID, support.JobStatusFailed, func(job *support.Job) {
		job.Error = reason
	})
}

func (s *JobStore) complete(jobID string, status support.JobStatus, apply func(*support.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return support.ErrNotFound
	}
	if job.Status != support.JobStatusStarted {
		return support.Errorf(support.ErrInvalidTransition, "%s is %s", jobID, job.Status)
	}
	apply(&job)
	job.Status = status
	job.EndedAt = pointerTime(s.clock.Now())
	s.jobs[jobID] = job
	delete(s.leases, jobID)
	return nil
}

// ExpiredLeases lists jobs whose lease ended before now, oldest first.
func (s *JobStore) ExpiredLeases(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, until := range s.leases {
		if until.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.leases[ids[i]].Before(s.leases[ids[j]])
	})
	return ids, nil
}

// ExpireLease drops the lease and decides whether the job runs again.
func (s *JobStore) ExpireLease(
	_ context.Context,
	jobID string,
	maxAttempts int,
	reason string,
) (support.LeaseOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, jobID)
	job, ok := s.jobs[jobID]
	if !ok {
		return support.LeaseCleared, support.ErrNotFound
	}
	if job.Status != support.JobStatusStarted {
		return support.LeaseCleared, nil
	}
	if job.Attempts >= maxAttempts {
		job.Status = support.JobStatusFailed
		job.Error = reason
		job.EndedAt = pointerTime(s.clock.Now())
		s.jobs[jobID] = job
		return support.LeaseFailed, nil
	}
	return support.LeaseRequeued, nil
}

// Ping always succeeds for the in-memory store.
func (s *JobStore) Ping(context.Context) error {
	return nil
}

// Reserve records eventID for jobID unless it was seen within the dedup TTL.
func (s *JobStore) Reserve(_ context.Context, eventID, jobID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if entry, ok := s.events[eventID]; ok && (s.dedupTTL <= 0 || now.Before(entry.expires)) {
		return entry.jobID, false, nil
	}
	s.events[eventID] = dedupEntry{jobID: jobID, expires: now.Add(s.dedupTTL)}
	return jobID, true, nil
}

// Release forgets eventID so a redelivery can be processed.
func (s *JobStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
	return nil
}

func cloneJob(job support.Job) support.Job {
	cp := job
	if job.Result != nil {
		r := *job.Result
		r.Links = append([]string(nil), job.Result.Links...)
		cp.Result = &r
	}
	if job.StartedAt != nil {
		cp.StartedAt = pointerTime(*job.StartedAt)
	}
	if job.EndedAt != nil {
		cp.EndedAt = pointerTime(*job.EndedAt)
	}
	return cp
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
