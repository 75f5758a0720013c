// Package crawl runs the per-job extraction loop: drain the pending frontier,
// render each page, extract records, and fan results out to the graph, the
// archive, and the event stream.
package crawl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/events"
	"github.com/uda-platform/doc-extractor/internal/extraction"
	"github.com/uda-platform/doc-extractor/internal/telemetry"
)

// Config controls Loop behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
}

// Loop executes one job at a time. The graph, blob, archiver, and events
// collaborators may be nil; a nil collaborator disables that concern without
// changing job semantics.
type Loop struct {
	store     extraction.JobStore
	renderer  extraction.Renderer
	extractor *extraction.Extractor
	graph     extraction.GraphPublisher
	blobs     extraction.BlobStore
	archiver  extraction.JobArchiver
	events    extraction.EventPublisher
	hasher    extraction.Hasher
	clock     extraction.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Loop.
func New(
	store extraction.JobStore,
	renderer extraction.Renderer,
	extractor *extraction.Extractor,
	graph extraction.GraphPublisher,
	blobs extraction.BlobStore,
	archiver extraction.JobArchiver,
	eventPub extraction.EventPublisher,
	hasher extraction.Hasher,
	clock extraction.Clock,
	cfg Config,
	logger *zap.Logger,
) *Loop {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Loop{
		store:     store,
		renderer:  renderer,
		extractor: extractor,
		graph:     graph,
		blobs:     blobs,
		archiver:  archiver,
		events:    eventPub,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run drains the job's frontier until it empties, the page budget is spent,
// or the context is canceled. The job always reaches a terminal status before
// Run returns.
func (l *Loop) Run(ctx context.Context, jobID string) {
	log := l.logger.With(zap.String("job_id", jobID))

	job, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error("load job failed", zap.Error(err))
		return
	}
	if err := l.store.MarkRunning(ctx, jobID); err != nil {
		log.Error("mark running failed", zap.Error(err))
		return
	}
	telemetry.IncActiveJobs()
	defer telemetry.DecActiveJobs()

	l.emit(ctx, events.JobStarted, map[string]any{
		"job_id":    jobID,
		"url":       job.Request.URL,
		"recursive": job.Request.Recursive,
		"max_depth": job.Request.MaxDepth,
		"timestamp": l.clock.Now().UTC().Format(time.RFC3339),
	}, log)
	log.Info("job started",
		zap.String("url", job.Request.URL),
		zap.Bool("recursive", job.Request.Recursive),
		zap.Int("max_depth", job.Request.MaxDepth),
	)

	// The budget counts completed pages only; errored pages never consume it.
	completed := len(job.Completed)
	for completed < job.Request.MaxDepth {
		if ctx.Err() != nil {
			l.finish(ctx, jobID, extraction.StatusFailed, "job canceled", log)
			return
		}

		url, ok, err := l.store.NextPending(ctx, jobID)
		if err != nil {
			l.finish(ctx, jobID, extraction.StatusFailed, fmt.Sprintf("next pending: %v", err), log)
			return
		}
		if !ok {
			break
		}

		done, err := l.processPage(ctx, job, url, completed, log)
		if err != nil {
			reason := err.Error()
			if ctx.Err() != nil {
				reason = "job canceled"
			}
			l.finish(ctx, jobID, extraction.StatusFailed, reason, log)
			return
		}
		if done {
			completed++
		}
	}

	l.finish(ctx, jobID, extraction.StatusCompleted, "", log)
}

// processPage handles one frontier URL. The returned bool reports whether the
// page completed; a returned error is job-fatal. Render and extraction
// failures are page-level: the URL moves to the errored list and the loop
// continues.
func (l *Loop) processPage(ctx context.Context, job extraction.Job, url string, completedSoFar int, log *zap.Logger) (bool, error) {
	page, err := l.renderer.Render(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return false, l.failPage(ctx, job.ID, url, fmt.Sprintf("render: %v", err), log)
	}

	mode := "static"
	if page.Headless {
		mode = "headless"
	}
	telemetry.ObserveRender(mode, page.Duration)

	if page.StatusCode >= 400 {
		return false, l.failPage(ctx, job.ID, url, fmt.Sprintf("HTTP %d", page.StatusCode), log)
	}

	records, err := l.extractor.Extract(job.Request, url, page.HTML)
	if err != nil {
		return false, l.failPage(ctx, job.ID, url, fmt.Sprintf("extract: %v", err), log)
	}

	blobURI := l.archivePage(ctx, job.ID, page, log)

	if err := l.store.AppendRecords(ctx, job.ID, records); err != nil {
		return false, fmt.Errorf("append records: %w", err)
	}
	if l.graph != nil {
		l.graph.Publish(ctx, records)
	}

	l.emit(ctx, events.PageExtracted, map[string]any{
		"job_id":    job.ID,
		"url":       url,
		"final_url": page.FinalURL,
		"status":    page.StatusCode,
		"headless":  page.Headless,
		"records":   len(records),
		"blob_uri":  blobURI,
		"timestamp": l.clock.Now().UTC().Format(time.RFC3339),
	}, log)

	if job.Request.Recursive && completedSoFar < job.Request.MaxDepth {
		if err := l.discoverAndEnqueue(ctx, job.ID, url, page, log); err != nil {
			return false, err
		}
	}

	if err := l.store.CompleteURL(ctx, job.ID, url); err != nil {
		return false, fmt.Errorf("complete url: %w", err)
	}

	entities, relations := extraction.PartitionRecords(records)
	telemetry.ObservePage(url, "extracted")
	telemetry.ObserveRecords(len(entities), len(relations))
	log.Debug("page processed",
		zap.String("url", url),
		zap.Int("records", len(records)),
		zap.Bool("headless", page.Headless),
	)
	return true, nil
}

// failPage moves a pending URL to the errored list. Only the store write can
// make this fatal.
func (l *Loop) failPage(ctx context.Context, jobID, url, reason string, log *zap.Logger) error {
	log.Warn("page failed", zap.String("url", url), zap.String("reason", reason))
	telemetry.ObservePage(url, "errored")
	if err := l.store.FailURL(ctx, jobID, url, reason); err != nil {
		return fmt.Errorf("fail url: %w", err)
	}
	return nil
}

// discoverAndEnqueue pushes same-host links from the rendered page onto the
// frontier. Hrefs resolve against the post-redirect URL, matching what a
// browser would do.
func (l *Loop) discoverAndEnqueue(ctx context.Context, jobID, pendingURL string, page extraction.RenderedPage, log *zap.Logger) error {
	base := page.FinalURL
	if base == "" {
		base = pendingURL
	}
	links, err := extraction.DiscoverLinks(page.HTML, base)
	if err != nil {
		log.Warn("link discovery failed", zap.String("url", pendingURL), zap.Error(err))
		return nil
	}
	if len(links) == 0 {
		return nil
	}
	added, err := l.store.EnqueueURLs(ctx, jobID, links)
	if err != nil {
		return fmt.Errorf("enqueue urls: %w", err)
	}
	if added > 0 {
		log.Debug("links enqueued", zap.String("url", pendingURL), zap.Int("added", added))
	}
	return nil
}

// archivePage stores the rendered HTML and returns its URI, or "" when
// archiving is off or failed. Archive failures never affect the job.
func (l *Loop) archivePage(ctx context.Context, jobID string, page extraction.RenderedPage, log *zap.Logger) string {
	if l.blobs == nil {
		return ""
	}
	body := []byte(page.HTML)
	hash, err := l.hasher.Hash(body)
	if err != nil {
		log.Warn("hash page failed", zap.String("url", page.URL), zap.Error(err))
		return ""
	}
	uri, err := l.blobs.PutObject(ctx, l.blobPath(jobID, hash), l.cfg.ContentType, body)
	if err != nil {
		log.Warn("archive page failed", zap.String("url", page.URL), zap.Error(err))
		return ""
	}
	return uri
}

func (l *Loop) blobPath(jobID, hash string) string {
	if len(hash) > 16 {
		hash = hash[:16]
	}
	prefix := strings.Trim(l.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

// finish drives the job to its terminal status and runs the terminal hooks.
// The detached context keeps terminal writes working after a cancel.
func (l *Loop) finish(ctx context.Context, jobID string, status extraction.JobStatus, errText string, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := l.store.FinishJob(ctx, jobID, status, errText); err != nil {
		log.Error("finish job failed", zap.String("status", string(status)), zap.Error(err))
	}
	telemetry.ObserveJob(string(status))

	job, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		log.Warn("load finished job failed", zap.Error(err))
		return
	}

	l.emit(ctx, events.JobFinished, map[string]any{
		"job_id":    jobID,
		"status":    string(job.Status),
		"pages":     len(job.Completed),
		"errors":    len(job.Errored),
		"records":   len(job.Records),
		"error":     job.Error,
		"timestamp": l.clock.Now().UTC().Format(time.RFC3339),
	}, log)

	if l.archiver != nil {
		if err := l.archiver.ArchiveJob(ctx, job); err != nil {
			log.Warn("archive job failed", zap.Error(err))
		}
	}

	log.Info("job finished",
		zap.String("status", string(job.Status)),
		zap.Int("pages", len(job.Completed)),
		zap.Int("errors", len(job.Errored)),
		zap.Int("records", len(job.Records)),
	)
}

func (l *Loop) emit(ctx context.Context, event string, payload map[string]any, log *zap.Logger) {
	if l.events == nil {
		return
	}
	if _, err := l.events.Publish(ctx, event, payload); err != nil {
		log.Warn("event publish failed", zap.String("event", event), zap.Error(err))
	}
}
