package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/clock/system"
	"github.com/uda-platform/doc-extractor/internal/crawl"
	"github.com/uda-platform/doc-extractor/internal/extraction"
	"github.com/uda-platform/doc-extractor/internal/id/uuid"
	"github.com/uda-platform/doc-extractor/internal/render"
	storagemem "github.com/uda-platform/doc-extractor/internal/storage/memory"
)

func validRequest() extraction.Request {
	return extraction.Request{
		URL:     "https://acme.dev/docs/start",
		Company: "Acme",
	}
}

func newOrchestrator(store extraction.JobStore, runner JobRunner, cfg Config) *Orchestrator {
	return New(store, runner, uuid.NewGenerator(), system.New(), nil, cfg, zap.NewNop())
}

func waitForStatus(t *testing.T, store extraction.JobStore, jobID string, want extraction.JobStatus) extraction.Job {
	t.Helper()
	var job extraction.Job
	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = got
		return job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitCreatesJobAndSpawnsRunner(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	runner := completingRunner(store)
	orch := newOrchestrator(store, runner, Config{DefaultMaxDepth: 3})

	job, err := orch.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, extraction.StatusInitialized, job.Status)
	assert.Equal(t, []string{"https://acme.dev/docs/start"}, job.Pending)
	assert.False(t, job.Created.IsZero())

	waitForStatus(t, store, job.ID, extraction.StatusCompleted)
	assert.Equal(t, []string{job.ID}, runner.ran())
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*extraction.Request)
		cfg    Config
	}{
		{
			name:   "missing url",
			mutate: func(r *extraction.Request) { r.URL = "" },
		},
		{
			name:   "whitespace url",
			mutate: func(r *extraction.Request) { r.URL = "   " },
		},
		{
			name:   "relative url",
			mutate: func(r *extraction.Request) { r.URL = "/docs/start" },
		},
		{
			name:   "ftp scheme",
			mutate: func(r *extraction.Request) { r.URL = "ftp://acme.dev/docs" },
		},
		{
			name:   "missing host",
			mutate: func(r *extraction.Request) { r.URL = "https:///docs" },
		},
		{
			name:   "missing company",
			mutate: func(r *extraction.Request) { r.Company = "  " },
		},
		{
			name:   "negative depth",
			mutate: func(r *extraction.Request) { r.MaxDepth = -2 },
		},
		{
			name: "too many selectors",
			mutate: func(r *extraction.Request) {
				r.Selectors = map[string]string{"a": "h1", "b": "h2", "c": "h3"}
			},
			cfg: Config{MaxSelectors: 2},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := storagemem.NewJobStore()
			runner := &fakeRunner{}
			orch := newOrchestrator(store, runner, tc.cfg)

			req := validRequest()
			tc.mutate(&req)

			_, err := orch.Submit(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)

			summaries, lerr := store.ListJobs(context.Background(), 0, 0)
			require.NoError(t, lerr)
			assert.Empty(t, summaries, "rejected submissions must not create jobs")
			assert.Empty(t, runner.ran())
		})
	}
}

func TestSubmitAppliesDefaults(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	orch := newOrchestrator(store, completingRunner(store), Config{DefaultMaxDepth: 5})

	req := extraction.Request{
		URL:     "  https://acme.dev/docs  ",
		Company: "  Acme  ",
		Product: "AcmeAssist",
	}
	job, err := orch.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "https://acme.dev/docs", job.Request.URL)
	assert.Equal(t, "Acme", job.Request.Company)
	assert.Equal(t, "Company", job.Request.CompanyType)
	assert.Equal(t, "AIProduct", job.Request.ProductType)
	assert.Equal(t, 5, job.Request.MaxDepth)
}

func TestSubmitKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	orch := newOrchestrator(store, completingRunner(store), Config{DefaultMaxDepth: 5})

	req := extraction.Request{
		URL:         "https://acme.dev/docs",
		Company:     "Acme",
		CompanyType: "Startup",
		Product:     "AcmeAssist",
		ProductType: "MLModel",
		MaxDepth:    2,
	}
	job, err := orch.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Startup", job.Request.CompanyType)
	assert.Equal(t, "MLModel", job.Request.ProductType)
	assert.Equal(t, 2, job.Request.MaxDepth)
}

func TestSubmitIDGenerationFailure(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	orch := New(store, &fakeRunner{}, failingIDs{}, system.New(), nil, Config{}, zap.NewNop())

	_, err := orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mint job id")
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	runner := blockingRunner(store)
	orch := newOrchestrator(store, runner, Config{})

	job, err := orch.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, extraction.StatusRunning)

	require.NoError(t, orch.Cancel(context.Background(), job.ID))

	got := waitForStatus(t, store, job.ID, extraction.StatusFailed)
	assert.Equal(t, "job canceled", got.Error)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	orch := newOrchestrator(store, &fakeRunner{}, Config{})

	err := orch.Cancel(context.Background(), "no-such-job")
	require.ErrorIs(t, err, extraction.ErrJobNotFound)
}

func TestCancelFinishedJobIsNoOp(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	orch := newOrchestrator(store, completingRunner(store), Config{})

	job, err := orch.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, extraction.StatusCompleted)

	require.NoError(t, orch.Cancel(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, extraction.StatusCompleted, got.Status)
}

func TestStatusFallsBackToArchive(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	archived := extraction.Job{
		ID:     "job-archived",
		Status: extraction.StatusCompleted,
		Records: []extraction.Record{
			extraction.Entity{Name: "Old Docs", EntityType: "Documentation"},
		},
	}
	archive := &fakeArchive{jobs: map[string]extraction.Job{"job-archived": archived}}
	orch := New(store, &fakeRunner{}, uuid.NewGenerator(), system.New(), archive, Config{}, zap.NewNop())

	got, err := orch.Status(context.Background(), "job-archived")
	require.NoError(t, err)
	assert.Equal(t, extraction.StatusCompleted, got.Status)

	res, err := orch.Results(context.Background(), "job-archived")
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)

	_, err = orch.Status(context.Background(), "never-existed")
	require.ErrorIs(t, err, extraction.ErrJobNotFound)
}

func TestListReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	orch := newOrchestrator(store, completingRunner(store), Config{})

	first, err := orch.Submit(context.Background(), extraction.Request{URL: "https://acme.dev/a", Company: "Acme"})
	require.NoError(t, err)
	second, err := orch.Submit(context.Background(), extraction.Request{URL: "https://acme.dev/b", Company: "Acme"})
	require.NoError(t, err)

	waitForStatus(t, store, first.ID, extraction.StatusCompleted)
	waitForStatus(t, store, second.ID, extraction.StatusCompleted)

	summaries, err := orch.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.ID, summaries[0].ID)
	assert.Equal(t, first.ID, summaries[1].ID)

	page, err := orch.List(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)
}

func TestMaxConcurrentQueuesJobs(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	started := make(chan string, 3)
	release := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, jobID string) {
		started <- jobID
		<-release
	}}
	orch := newOrchestrator(store, runner, Config{MaxConcurrent: 1})

	for i := 0; i < 3; i++ {
		req := validRequest()
		req.URL = fmt.Sprintf("https://acme.dev/docs/%d", i)
		_, err := orch.Submit(context.Background(), req)
		require.NoError(t, err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no job started")
	}
	select {
	case id := <-started:
		t.Fatalf("job %s started past the concurrency limit", id)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("queued job never started after release")
		}
	}
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	runner := blockingRunner(store)
	orch := newOrchestrator(store, runner, Config{})

	var ids []string
	for i := 0; i < 2; i++ {
		req := validRequest()
		req.URL = fmt.Sprintf("https://acme.dev/docs/%d", i)
		job, err := orch.Submit(context.Background(), req)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitForStatus(t, store, id, extraction.StatusRunning)
	}

	require.NoError(t, orch.Shutdown(context.Background()))

	for _, id := range ids {
		got, err := store.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, extraction.StatusFailed, got.Status)
	}
}

func TestShutdownTimesOutOnStuckJob(t *testing.T) {
	t.Parallel()

	store := storagemem.NewJobStore()
	never := make(chan struct{})
	t.Cleanup(func() { close(never) })
	runner := &fakeRunner{fn: func(ctx context.Context, jobID string) {
		<-never
	}}
	orch := newOrchestrator(store, runner, Config{})

	_, err := orch.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(runner.ran()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = orch.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown wait")
}

// TestOrchestratorDrivesCrawlLoop wires the real loop behind the orchestrator
// and runs a small recursive job against a local server.
func TestOrchestratorDrivesCrawlLoop(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/docs/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Acme Docs</title></head><body>
			<h1>Acme Docs</h1>
			<p>Acme provides the Assist API for document workflows.</p>
			<a href="/docs/guide">Guide</a>
		</body></html>`)
	})
	mux.HandleFunc("/docs/guide", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Guide</title></head><body>
			<h1>Guide</h1>
			<p>Step by step setup instructions.</p>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := storagemem.NewJobStore()
	clk := system.New()
	renderer := render.NewStatic(render.StaticConfig{UserAgent: "extractor-test", Timeout: 5 * time.Second})
	loop := crawl.New(store, renderer, extraction.NewExtractor(clk), nil, nil, nil, nil, nil, clk, crawl.Config{}, zap.NewNop())
	orch := New(store, loop, uuid.NewGenerator(), clk, nil, Config{DefaultMaxDepth: 3}, zap.NewNop())

	job, err := orch.Submit(context.Background(), extraction.Request{
		URL:       srv.URL + "/docs/start",
		Company:   "Acme",
		Recursive: true,
		MaxDepth:  2,
	})
	require.NoError(t, err)

	got := waitForStatus(t, store, job.ID, extraction.StatusCompleted)
	assert.Len(t, got.Completed, 2)
	assert.Empty(t, got.Pending)
	assert.NotEmpty(t, got.Records)
	assert.InDelta(t, 1.0, got.Progress, 0.0001)

	require.NoError(t, orch.Shutdown(context.Background()))
}

// --- fakes ---

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	fn   func(ctx context.Context, jobID string)
}

func (r *fakeRunner) Run(ctx context.Context, jobID string) {
	r.mu.Lock()
	r.runs = append(r.runs, jobID)
	r.mu.Unlock()
	if r.fn != nil {
		r.fn(ctx, jobID)
	}
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

// completingRunner drives the job straight to completed.
func completingRunner(store extraction.JobStore) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, jobID string) {
		_ = store.MarkRunning(ctx, jobID)
		_ = store.FinishJob(ctx, jobID, extraction.StatusCompleted, "")
	}}
}

// blockingRunner marks the job running, then waits for cancellation and fails
// it the way the real loop does.
func blockingRunner(store extraction.JobStore) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, jobID string) {
		_ = store.MarkRunning(ctx, jobID)
		<-ctx.Done()
		_ = store.FinishJob(context.WithoutCancel(ctx), jobID, extraction.StatusFailed, "job canceled")
	}}
}

type fakeArchive struct {
	jobs map[string]extraction.Job
}

func (a *fakeArchive) GetArchivedJob(_ context.Context, jobID string) (extraction.Job, error) {
	job, ok := a.jobs[jobID]
	if !ok {
		return extraction.Job{}, extraction.ErrJobNotFound
	}
	return job, nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", errors.New("entropy source unavailable")
}
