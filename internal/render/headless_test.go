package render

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewHeadlessRejectsZeroParallel(t *testing.T) {
	t.Parallel()

	if _, err := NewHeadless(HeadlessConfig{MaxParallel: 0}); err == nil {
		t.Fatal("expected error for zero parallelism")
	}
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()

	status, url := meta.snapshotWithFallbacks("https://example.com/req", "")
	if status != 200 || url != "https://example.com/req" {
		t.Fatalf("expected request fallback, got %d %q", status, url)
	}

	status, url = meta.snapshotWithFallbacks("https://example.com/req", "https://example.com/loc")
	if status != 200 || url != "https://example.com/loc" {
		t.Fatalf("expected location fallback, got %d %q", status, url)
	}

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/cdp"},
	})
	status, url = meta.snapshotWithFallbacks("https://example.com/req", "https://example.com/loc")
	if status != 404 || url != "https://example.com/cdp" {
		t.Fatalf("expected captured document response, got %d %q", status, url)
	}
}

func TestResponseMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeStylesheet,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.css"},
	})
	meta.captureEvent("not an event")
	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument})

	status, url := meta.snapshotWithFallbacks("https://example.com/req", "")
	if status != 200 || url != "https://example.com/req" {
		t.Fatalf("subresource must not override document meta, got %d %q", status, url)
	}
}

func TestForwardCancelPropagates(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context not canceled")
	}
}

// TestHeadlessRendererRender needs a Chrome binary; it skips itself when the
// allocator cannot start one.
func TestHeadlessRendererRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="app">loading</div>`+
			`<script>document.getElementById("app").textContent = "late content";</script>`+
			`</body></html>`)
	}))
	defer srv.Close()

	renderer, err := NewHeadless(HeadlessConfig{
		MaxParallel:   1,
		NavTimeout:    15 * time.Second,
		NoSandbox:     true,
		DisableDevShm: true,
	})
	if err != nil {
		t.Skipf("headless browser unavailable: %v", err)
	}
	defer renderer.Close()

	page, err := renderer.Render(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !page.Headless {
		t.Fatal("expected headless flag set")
	}
	if page.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", page.StatusCode)
	}
	if !strings.Contains(page.HTML, "late content") {
		t.Fatalf("expected script-injected content, got %q", page.HTML)
	}
}
