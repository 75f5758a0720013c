package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// HeadlessConfig controls the chromedp-backed renderer.
type HeadlessConfig struct {
	MaxParallel   int
	UserAgent     string
	NavTimeout    time.Duration
	NoSandbox     bool
	DisableDevShm bool
}

// HeadlessRenderer renders pages with headless Chrome. A single warm browser
// is shared; each render opens its own tab.
type HeadlessRenderer struct {
	cfg           HeadlessConfig
	limiter       chan struct{}
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewHeadless launches the browser and verifies it responds. Constructing a
// renderer on a host without Chrome fails here, not on first render.
func NewHeadless(cfg HeadlessConfig) (*HeadlessRenderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if cfg.DisableDevShm {
		opts = append(opts, chromedp.Flag("disable-dev-shm-usage", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &HeadlessRenderer{
		cfg:           cfg,
		limiter:       make(chan struct{}, cfg.MaxParallel),
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// Close tears down the browser and allocator.
func (r *HeadlessRenderer) Close() {
	if r == nil {
		return
	}
	r.browserCancel()
	r.allocCancel()
}

// Render navigates a fresh tab to the URL, waits for the document body plus a
// short settle delay, and returns the live DOM.
func (r *HeadlessRenderer) Render(ctx context.Context, rawURL string) (extraction.RenderedPage, error) {
	if err := r.acquire(ctx); err != nil {
		return extraction.RenderedPage{}, err
	}
	defer r.release()

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return extraction.RenderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	return extraction.RenderedPage{
		URL:        rawURL,
		FinalURL:   responseURL,
		StatusCode: status,
		HTML:       html,
		Headless:   true,
		Duration:   time.Since(start),
	}, nil
}

func (r *HeadlessRenderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *HeadlessRenderer) acquire(ctx context.Context) error {
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *HeadlessRenderer) release() {
	select {
	case <-r.limiter:
	default:
	}
}

// responseMeta captures the main document response out of the CDP event
// stream; sub-resource responses are ignored.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// snapshotWithFallbacks prefers the CDP-observed document URL, then the
// location reported by the page, then the requested URL. A status of 0 means
// the event never arrived; assume 200 since navigation succeeded.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, url
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
