// Package orchestrator admits extraction jobs, runs each one on its own
// goroutine with a cancel handle, and serves job snapshots.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// ErrInvalidRequest marks submissions rejected by validation. The API layer
// maps it to a 400.
var ErrInvalidRequest = errors.New("orchestrator: invalid extraction request")

// JobRunner executes one job to its terminal status.
type JobRunner interface {
	Run(ctx context.Context, jobID string)
}

// ArchiveReader looks up finished jobs that have aged out of the live store.
type ArchiveReader interface {
	GetArchivedJob(ctx context.Context, jobID string) (extraction.Job, error)
}

// Config controls admission defaults and limits.
type Config struct {
	DefaultMaxDepth int
	MaxSelectors    int
	MaxConcurrent   int
}

// jobHandle ties a running loop to its cancellation.
type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the job lifecycle outside the loop itself: validation,
// ID minting, goroutine spawn, cancellation, and lookup.
type Orchestrator struct {
	store   extraction.JobStore
	runner  JobRunner
	ids     extraction.IDGenerator
	clock   extraction.Clock
	archive ArchiveReader
	cfg     Config
	logger  *zap.Logger

	sem chan struct{}

	mu      sync.Mutex
	handles map[string]*jobHandle
}

// New constructs an Orchestrator. The archive reader may be nil; lookups then
// serve the live store only.
func New(
	store extraction.JobStore,
	runner JobRunner,
	ids extraction.IDGenerator,
	clock extraction.Clock,
	archive ArchiveReader,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.DefaultMaxDepth <= 0 {
		cfg.DefaultMaxDepth = 1
	}
	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return &Orchestrator{
		store:   store,
		runner:  runner,
		ids:     ids,
		clock:   clock,
		archive: archive,
		cfg:     cfg,
		logger:  logger,
		sem:     sem,
		handles: make(map[string]*jobHandle),
	}
}

// Submit validates the request, creates the job with the seed URL pending,
// and spawns its loop. The returned snapshot is the job as created; the loop
// may already be advancing it by the time the caller reads the response.
func (o *Orchestrator) Submit(ctx context.Context, req extraction.Request) (extraction.Job, error) {
	req, err := o.prepare(req)
	if err != nil {
		return extraction.Job{}, err
	}

	id, err := o.ids.NewID()
	if err != nil {
		return extraction.Job{}, fmt.Errorf("mint job id: %w", err)
	}

	job := extraction.Job{
		ID:      id,
		Request: req,
		Status:  extraction.StatusInitialized,
		Pending: []string{req.URL},
		Created: o.clock.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return extraction.Job{}, fmt.Errorf("create job: %w", err)
	}
	created, err := o.store.GetJob(ctx, id)
	if err != nil {
		return extraction.Job{}, fmt.Errorf("load created job: %w", err)
	}

	// The loop outlives the submit request, so its context derives from
	// Background; only Cancel and Shutdown end it.
	runCtx, cancel := context.WithCancel(context.Background())
	handle := &jobHandle{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.handles[id] = handle
	o.mu.Unlock()

	o.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("url", req.URL),
		zap.String("company", req.Company),
		zap.Bool("recursive", req.Recursive),
		zap.Int("max_depth", req.MaxDepth),
	)

	go func() {
		defer close(handle.done)
		defer cancel()
		if o.sem != nil {
			select {
			case o.sem <- struct{}{}:
				defer func() { <-o.sem }()
			case <-runCtx.Done():
				// Canceled while queued; the loop still runs so the job
				// reaches failed/"job canceled" through the one code path.
			}
		}
		o.runner.Run(runCtx, id)
	}()

	return created, nil
}

// Status returns the current job snapshot.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (extraction.Job, error) {
	return o.snapshot(ctx, jobID)
}

// Results returns the same snapshot as Status. The API layer decides whether
// records are released based on the job's status.
func (o *Orchestrator) Results(ctx context.Context, jobID string) (extraction.Job, error) {
	return o.snapshot(ctx, jobID)
}

// List returns newest-first job summaries.
func (o *Orchestrator) List(ctx context.Context, limit, offset int) ([]extraction.JobSummary, error) {
	summaries, err := o.store.ListJobs(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return summaries, nil
}

// Cancel stops a running job's loop. Canceling a job that already finished
// is a no-op; an unknown id returns ErrJobNotFound.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	handle, ok := o.handles[jobID]
	o.mu.Unlock()
	if !ok {
		if _, err := o.snapshot(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	o.logger.Info("job cancel requested", zap.String("job_id", jobID))
	handle.cancel()
	return nil
}

// Shutdown cancels every job and waits for the loops to finish, bounded by
// ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	handles := make([]*jobHandle, 0, len(o.handles))
	for _, h := range o.handles {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown wait: %w", ctx.Err())
		}
	}
	return nil
}

// snapshot serves the live store first and falls back to the archive for
// jobs that finished before a restart.
func (o *Orchestrator) snapshot(ctx context.Context, jobID string) (extraction.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if errors.Is(err, extraction.ErrJobNotFound) && o.archive != nil {
		if archived, aerr := o.archive.GetArchivedJob(ctx, jobID); aerr == nil {
			return archived, nil
		}
	}
	return extraction.Job{}, err
}

// prepare validates the submission and fills defaults.
func (o *Orchestrator) prepare(req extraction.Request) (extraction.Request, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.Company = strings.TrimSpace(req.Company)

	if req.URL == "" {
		return req, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return req, fmt.Errorf("%w: url must be absolute http or https", ErrInvalidRequest)
	}
	if req.Company == "" {
		return req, fmt.Errorf("%w: company is required", ErrInvalidRequest)
	}
	if req.CompanyType == "" {
		req.CompanyType = "Company"
	}
	if req.Product != "" && req.ProductType == "" {
		req.ProductType = "AIProduct"
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = o.cfg.DefaultMaxDepth
	}
	if req.MaxDepth < 1 {
		return req, fmt.Errorf("%w: max_depth must be >= 1", ErrInvalidRequest)
	}
	if o.cfg.MaxSelectors > 0 && len(req.Selectors) > o.cfg.MaxSelectors {
		return req, fmt.Errorf("%w: at most %d selectors allowed", ErrInvalidRequest, o.cfg.MaxSelectors)
	}
	return req, nil
}
