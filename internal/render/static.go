package render

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// StaticConfig controls the plain-HTTP fetcher.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// StaticRenderer fetches pages over plain HTTP using a Colly collector. No
// JavaScript runs; the bytes on the wire are the page.
type StaticRenderer struct {
	cfg           StaticConfig
	baseCollector *colly.Collector
}

// NewStatic builds a StaticRenderer.
func NewStatic(cfg StaticConfig) *StaticRenderer {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &StaticRenderer{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Render executes a single HTTP GET. HTTP error statuses are not render
// errors: the page comes back with its status code set and callers decide
// what a 404 means. The error return covers transport failures only.
func (r *StaticRenderer) Render(ctx context.Context, rawURL string) (extraction.RenderedPage, error) {
	var (
		result     extraction.RenderedPage
		statusPage *extraction.RenderedPage
		fetchErr   error
	)
	start := time.Now()

	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// Different jobs legitimately revisit the same URL.
	collector.AllowURLRevisit = true
	timeout := r.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(resp *colly.Response) {
		result = extraction.RenderedPage{
			URL:        rawURL,
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			HTML:       string(resp.Body),
			Headless:   false,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode > 0 {
			finalURL := rawURL
			if resp.Request != nil && resp.Request.URL != nil {
				finalURL = resp.Request.URL.String()
			}
			page := extraction.RenderedPage{
				URL:        rawURL,
				FinalURL:   finalURL,
				StatusCode: resp.StatusCode,
				HTML:       string(resp.Body),
				Headless:   false,
				Duration:   time.Since(start),
			}
			statusPage = &page
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return extraction.RenderedPage{}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if statusPage != nil {
			return *statusPage, nil
		}
		if fetchErr != nil {
			return extraction.RenderedPage{}, fmt.Errorf("static fetch failed: %w", fetchErr)
		}
		if err != nil {
			return extraction.RenderedPage{}, fmt.Errorf("static fetch failed: %w", err)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
