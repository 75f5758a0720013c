// Package render turns URLs into HTML. It holds a colly-backed static
// fetcher, a chromedp-backed headless browser, and a promoting renderer that
// decides per page which of the two to trust.
package render

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultMarkers are substrings that betray a client-side rendered app.
var defaultMarkers = []string{
	"__NEXT_DATA__",
	"data-reactroot",
	"ng-app",
	"window.__APOLLO_STATE__",
}

// Detector decides whether a statically fetched page needs a JavaScript
// render before extraction.
type Detector struct {
	minHTMLBytes int
	selectors    []string
	markers      [][]byte
}

// NewDetector constructs a Detector with the configured thresholds. Passing
// nil markers selects the default set.
func NewDetector(minBytes int, selectors, markers []string) *Detector {
	if markers == nil {
		markers = defaultMarkers
	}
	lowered := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(m)))
	}
	return &Detector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		markers:      lowered,
	}
}

// NeedsJS inspects the page for signals that the static HTML is not the real
// content.
func (d *Detector) NeedsJS(body []byte) bool {
	if d == nil {
		return false
	}
	switch {
	case d.bodyBelowThreshold(body):
		return true
	case d.containsMarkers(body):
		return true
	default:
		return d.missingSelectors(body)
	}
}

func (d *Detector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *Detector) containsMarkers(body []byte) bool {
	if len(body) == 0 || len(d.markers) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, m := range d.markers {
		if bytes.Contains(lowerBody, m) {
			return true
		}
	}
	return false
}

func (d *Detector) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
