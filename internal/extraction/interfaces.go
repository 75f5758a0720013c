package extraction

import (
	"context"
	"time"
)

// JobStore holds job state and mediates every mutation of it. Container
// mutations (NextPending/CompleteURL/FailURL/EnqueueURLs) keep the pending,
// completed, and errored sets disjoint and recompute progress atomically, so
// every snapshot a reader obtains satisfies the job invariants.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]JobSummary, error)

	// MarkRunning transitions initialized -> running and stamps Started.
	MarkRunning(ctx context.Context, jobID string) error
	// FinishJob transitions running -> completed/failed and stamps Finished.
	// A completed job's progress is forced to 1.0.
	FinishJob(ctx context.Context, jobID string, status JobStatus, errText string) error

	// NextPending peeks the head of the pending frontier without removing it.
	// The second return is false when the frontier is empty.
	NextPending(ctx context.Context, jobID string) (string, bool, error)
	// CompleteURL moves a pending URL to the completed list.
	CompleteURL(ctx context.Context, jobID string, url string) error
	// FailURL moves a pending URL to the errored list with a reason.
	FailURL(ctx context.Context, jobID string, url string, reason string) error
	// EnqueueURLs appends URLs not already tracked by any container and
	// returns how many were added.
	EnqueueURLs(ctx context.Context, jobID string, urls []string) (int, error)

	AppendRecords(ctx context.Context, jobID string, records []Record) error
}

// Renderer turns a URL into rendered HTML.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderedPage, error)
}

// GraphPublisher pushes extracted records to the knowledge-graph service.
// Publishing is best effort: implementations log failures and never report
// them to the caller.
type GraphPublisher interface {
	Publish(ctx context.Context, records []Record)
}

// EventPublisher emits job lifecycle events to a topic and returns the
// broker-assigned message ID.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// JobArchiver persists a finished job outside the in-memory store.
type JobArchiver interface {
	ArchiveJob(ctx context.Context, job Job) error
}

// Hasher computes content digests for archive object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
