package extraction

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// fallbackTitle names documentation entities when a page carries no title.
const fallbackTitle = "Untitled"

// Extractor derives entity and relation records from rendered documentation
// HTML. It holds no mutable state; given the same clock reading and inputs it
// always produces the same records.
type Extractor struct {
	clock Clock
}

// NewExtractor returns an Extractor stamping documentation entities with
// times from clock.
func NewExtractor(clock Clock) *Extractor {
	return &Extractor{clock: clock}
}

// pageView is the reduced form of a rendered page handed to strategies: the
// boilerplate-stripped DOM, its plain text, and the request context.
type pageView struct {
	URL      string
	urlLower string
	Title    string
	Doc      *goquery.Document
	Text     string
	Request  Request
	Now      string
}

// Extract runs the strategy pipeline over one page and returns the records in
// emission order. Strategies run in a fixed order and each appends its
// records before the next runs; the documentation strategy always fires last.
func (e *Extractor) Extract(req Request, pageURL string, html string) ([]Record, error) {
	view, err := e.reduce(req, pageURL, html)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, s := range strategyPipeline {
		if !s.match(view) {
			continue
		}
		records = append(records, s.extract(view)...)
	}
	return records, nil
}

// reduce strips boilerplate with a readability pass and parses the remaining
// content. When readability fails or keeps nothing, the full page HTML is
// scanned instead so sparse pages still extract.
func (e *Extractor) reduce(req Request, pageURL string, html string) (pageView, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return pageView{}, fmt.Errorf("parse page url: %w", err)
	}

	title := ""
	content := ""
	if article, rerr := readability.FromReader(strings.NewReader(html), parsed); rerr == nil {
		title = strings.TrimSpace(article.Title)
		content = article.Content
	}
	if strings.TrimSpace(content) == "" {
		content = html
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return pageView{}, fmt.Errorf("parse content: %w", err)
	}
	if title == "" {
		if full, ferr := goquery.NewDocumentFromReader(strings.NewReader(html)); ferr == nil {
			title = strings.TrimSpace(full.Find("title").First().Text())
		}
	}

	return pageView{
		URL:      pageURL,
		urlLower: strings.ToLower(pageURL),
		Title:    title,
		Doc:      doc,
		Text:     doc.Text(),
		Request:  req,
		Now:      e.clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

// documentationRecords emits the per-page documentation entity and its
// ownership relations. Every page produces these regardless of which other
// strategies matched.
func documentationRecords(view pageView) []Record {
	title := view.Title
	if title == "" {
		title = fallbackTitle
	}
	name := title + " Documentation"

	records := []Record{
		Entity{
			Name:       name,
			EntityType: "Documentation",
			Observations: []string{
				"URL: " + view.URL,
				"Title: " + title,
				"Extracted on: " + view.Now,
			},
		},
		Relation{From: view.Request.Company, Type: "has_documentation", To: name},
	}
	if view.Request.Product != "" {
		records = append(records, Relation{From: view.Request.Product, Type: "has_documentation", To: name})
	}
	return records
}

// truncate limits s to max runes, marking longer content with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
