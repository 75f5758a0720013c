package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// JobStore is the in-memory implementation of extraction.JobStore. It is the
// system of record while a job runs; finished jobs may additionally be copied
// to a durable archive. All mutations happen under the lock and recompute
// progress, so any snapshot read through GetJob satisfies the job invariants:
// the URL containers are disjoint and progress matches their sizes.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]extraction.Job
	seen  map[string]map[string]struct{}
	order []string
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]extraction.Job),
		seen: make(map[string]map[string]struct{}),
	}
}

// CreateJob stores a new job. Any URLs already present in the job's
// containers are registered for duplicate suppression.
func (s *JobStore) CreateJob(_ context.Context, job extraction.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", extraction.ErrJobExists, job.ID)
	}
	stored := copyJob(job)
	seen := make(map[string]struct{})
	for _, u := range stored.Pending {
		seen[u] = struct{}{}
	}
	for _, u := range stored.Completed {
		seen[u] = struct{}{}
	}
	for _, e := range stored.Errored {
		seen[e.URL] = struct{}{}
	}
	recompute(&stored)
	s.jobs[job.ID] = stored
	s.seen[job.ID] = seen
	s.order = append(s.order, job.ID)
	return nil
}

// GetJob returns a deep copy of the job so callers can never mutate store
// state through the snapshot.
func (s *JobStore) GetJob(_ context.Context, jobID string) (extraction.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return extraction.Job{}, fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	return copyJob(job), nil
}

// ListJobs returns job summaries newest-first. A limit <= 0 means no limit.
func (s *JobStore) ListJobs(_ context.Context, limit, offset int) ([]extraction.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	n := len(s.order)
	if limit <= 0 {
		limit = n
	}
	out := make([]extraction.JobSummary, 0, limit)
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		job := s.jobs[s.order[i]]
		out = append(out, job.Summary())
	}
	return out, nil
}

// MarkRunning transitions initialized -> running and stamps Started.
func (s *JobStore) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	if job.Status != extraction.StatusInitialized {
		return fmt.Errorf("%w: %s -> %s", extraction.ErrInvalidTransition, job.Status, extraction.StatusRunning)
	}
	now := time.Now().UTC()
	job.Status = extraction.StatusRunning
	job.Started = pointerTime(now)
	s.jobs[jobID] = job
	return nil
}

// FinishJob transitions a running job to a terminal status, records the error
// text, and stamps Finished. A completed job's progress is forced to 1.0.
func (s *JobStore) FinishJob(_ context.Context, jobID string, status extraction.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", extraction.ErrInvalidTransition, status)
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", extraction.ErrInvalidTransition, job.Status, status)
	}
	now := time.Now().UTC()
	job.Status = status
	job.Error = errText
	job.Finished = pointerTime(now)
	recompute(&job)
	s.jobs[jobID] = job
	return nil
}

// NextPending peeks the head of the pending frontier without removing it.
func (s *JobStore) NextPending(_ context.Context, jobID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	if len(job.Pending) == 0 {
		return "", false, nil
	}
	return job.Pending[0], true, nil
}

// CompleteURL moves a pending URL to the completed list.
func (s *JobStore) CompleteURL(_ context.Context, jobID string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	idx := pendingIndex(job.Pending, url)
	if idx < 0 {
		return fmt.Errorf("%w: %s", extraction.ErrURLNotPending, url)
	}
	job.Pending = append(job.Pending[:idx], job.Pending[idx+1:]...)
	job.Completed = append(job.Completed, url)
	recompute(&job)
	s.jobs[jobID] = job
	return nil
}

// FailURL moves a pending URL to the errored list with a reason.
func (s *JobStore) FailURL(_ context.Context, jobID string, url string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	idx := pendingIndex(job.Pending, url)
	if idx < 0 {
		return fmt.Errorf("%w: %s", extraction.ErrURLNotPending, url)
	}
	job.Pending = append(job.Pending[:idx], job.Pending[idx+1:]...)
	job.Errored = append(job.Errored, extraction.PageError{URL: url, Error: reason})
	recompute(&job)
	s.jobs[jobID] = job
	return nil
}

// EnqueueURLs appends URLs the job has never tracked to the pending frontier
// and returns how many were added. Duplicates, including duplicates within
// the argument slice, are dropped.
func (s *JobStore) EnqueueURLs(_ context.Context, jobID string, urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	seen := s.seen[jobID]
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		job.Pending = append(job.Pending, u)
		added++
	}
	if added > 0 {
		recompute(&job)
		s.jobs[jobID] = job
	}
	return added, nil
}

// AppendRecords accumulates extracted records on the job.
func (s *JobStore) AppendRecords(_ context.Context, jobID string, records []extraction.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
	}
	job.Records = append(job.Records, records...)
	s.jobs[jobID] = job
	return nil
}

func recompute(job *extraction.Job) {
	if job.Status == extraction.StatusCompleted {
		job.Progress = 1.0
		return
	}
	job.Progress = extraction.ComputeProgress(len(job.Completed), len(job.Pending), len(job.Errored))
}

func pendingIndex(pending []string, url string) int {
	for i, u := range pending {
		if u == url {
			return i
		}
	}
	return -1
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func copyJob(job extraction.Job) extraction.Job {
	out := job
	out.Pending = make([]string, len(job.Pending))
	copy(out.Pending, job.Pending)
	out.Completed = make([]string, len(job.Completed))
	copy(out.Completed, job.Completed)
	out.Errored = make([]extraction.PageError, len(job.Errored))
	copy(out.Errored, job.Errored)
	out.Records = make([]extraction.Record, len(job.Records))
	copy(out.Records, job.Records)
	if job.Started != nil {
		out.Started = pointerTime(*job.Started)
	}
	if job.Finished != nil {
		out.Finished = pointerTime(*job.Finished)
	}
	if job.Request.Selectors != nil {
		sel := make(map[string]string, len(job.Request.Selectors))
		for k, v := range job.Request.Selectors {
			sel[k] = v
		}
		out.Request.Selectors = sel
	}
	return out
}
