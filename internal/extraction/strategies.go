package extraction

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// strategy pairs a match predicate with an extraction function. The pipeline
// below runs them in declaration order; every matching strategy contributes
// records for the page.
type strategy struct {
	name    string
	match   func(pageView) bool
	extract func(pageView) []Record
}

// strategyPipeline is the fixed dispatch order. The documentation strategy is
// last and unconditional.
var strategyPipeline = []strategy{
	{name: "api", match: matchAPI, extract: apiRecords},
	{name: "guide", match: matchGuide, extract: guideRecords},
	{name: "best_practice", match: matchBestPractice, extract: bestPracticeRecords},
	{name: "custom_selectors", match: matchCustomSelectors, extract: customSelectorRecords},
	{name: "documentation", match: func(pageView) bool { return true }, extract: documentationRecords},
}

const contentObservationLimit = 200

// endpointPathPattern accepts slash-separated path segments where a segment
// may be a brace-delimited parameter, e.g. /users, /users/{id}, /a/b{c}.
var (
	httpVerbPattern     = regexp.MustCompile(`GET|POST|PUT|DELETE|PATCH`)
	endpointPathPattern = regexp.MustCompile(`^/\w+(/(\w+|\{[^{}]*\}))*(\{[^{}]*\})?$`)
)

func matchAPI(view pageView) bool {
	return strings.Contains(view.urlLower, "api") || strings.Contains(view.urlLower, "reference")
}

// apiRecords collects endpoint signatures from code blocks mentioning an HTTP
// verb and from path-shaped h2/h3/dt headings. Pages with at least one
// endpoint yield a single API entity plus a provides relation.
func apiRecords(view pageView) []Record {
	var endpoints []string
	view.Doc.Find("code").Each(func(_ int, s *goquery.Selection) {
		if text := s.Text(); httpVerbPattern.MatchString(text) {
			endpoints = append(endpoints, strings.TrimSpace(text))
		}
	})
	view.Doc.Find("h2, h3, dt").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); endpointPathPattern.MatchString(text) {
			endpoints = append(endpoints, text)
		}
	})
	if len(endpoints) == 0 {
		return nil
	}

	subject := view.Request.Subject()
	name := subject + " API"
	sample := endpoints
	if len(sample) > 5 {
		sample = sample[:5]
	}
	return []Record{
		Entity{
			Name:       name,
			EntityType: "API",
			Observations: []string{
				"Source: " + view.URL,
				"Endpoints: " + strings.Join(sample, ", "),
				fmt.Sprintf("Total endpoints: %d", len(endpoints)),
			},
		},
		Relation{From: subject, Type: "provides", To: name},
	}
}

func matchGuide(view pageView) bool {
	return strings.Contains(view.urlLower, "guide") ||
		strings.Contains(view.urlLower, "tutorial") ||
		strings.Contains(view.urlLower, "docs")
}

// guideRecords classifies the page from its headings and emits one guide
// entity named after the page title.
func guideRecords(view pageView) []Record {
	var headings []string
	view.Doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			headings = append(headings, text)
		}
	})

	guideType := "General Guide"
	switch {
	case anyHeadingContains(headings, "getting started"):
		guideType = "Getting Started Guide"
	case anyHeadingContains(headings, "tutorial"):
		guideType = "Tutorial"
	case anyHeadingContains(headings, "how to"):
		guideType = "How-To Guide"
	}

	title := view.Title
	if title == "" {
		title = "Documentation Guide"
	}

	topics := "Unknown"
	if len(headings) > 0 {
		sample := headings
		if len(sample) > 5 {
			sample = sample[:5]
		}
		topics = strings.Join(sample, ", ")
	}

	subject := view.Request.Subject()
	return []Record{
		Entity{
			Name:       title,
			EntityType: guideType,
			Observations: []string{
				"Source: " + view.URL,
				"Topics: " + topics,
				"Related to: " + subject,
			},
		},
		Relation{From: subject, Type: "has_guide", To: title},
	}
}

func anyHeadingContains(headings []string, needle string) bool {
	for _, h := range headings {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func matchBestPractice(view pageView) bool {
	return strings.Contains(view.urlLower, "best-practice") ||
		strings.Contains(strings.ToLower(view.Text), "best practice")
}

// bestPracticeRecords forms one section per best-practice/recommendation
// heading. A section spans following siblings up to the next heading of equal
// or higher rank; lower-rank subheadings stay inside the section.
func bestPracticeRecords(view pageView) []Record {
	type section struct {
		title   string
		content string
	}
	var sections []section

	view.Doc.Find("h1, h2, h3, h4").Each(func(_ int, heading *goquery.Selection) {
		if !isPracticeHeading(heading.Text()) {
			return
		}
		level := headingLevel(goquery.NodeName(heading))

		var parts []string
		heading.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if l := headingLevel(goquery.NodeName(sib)); l > 0 && l <= level {
				return false
			}
			if text := strings.TrimSpace(sib.Text()); text != "" {
				parts = append(parts, text)
			}
			return true
		})

		sections = append(sections, section{
			title:   strings.TrimSpace(heading.Text()),
			content: strings.Join(parts, "\n"),
		})
	})

	subject := view.Request.Subject()
	var records []Record
	for idx, sec := range sections {
		name := fmt.Sprintf("%s Best Practice %d", subject, idx+1)
		records = append(records,
			Entity{
				Name:       name,
				EntityType: "BestPractice",
				Observations: []string{
					"Title: " + sec.title,
					"Source: " + view.URL,
					"Content: " + truncate(sec.content, contentObservationLimit),
				},
			},
			Relation{From: subject, Type: "recommends", To: name},
		)
	}
	return records
}

func isPracticeHeading(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "best practice") || strings.Contains(lower, "recommendation")
}

// headingLevel maps h1..h4 node names to their rank; other nodes return 0.
func headingLevel(nodeName string) int {
	switch nodeName {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	default:
		return 0
	}
}

func matchCustomSelectors(view pageView) bool {
	return len(view.Request.Selectors) > 0
}

// customSelectorRecords runs caller-supplied CSS selectors. Entity types are
// visited in sorted order so extraction stays deterministic.
func customSelectorRecords(view pageView) []Record {
	types := make([]string, 0, len(view.Request.Selectors))
	for entityType := range view.Request.Selectors {
		types = append(types, entityType)
	}
	sort.Strings(types)

	subject := view.Request.Subject()
	var records []Record
	for _, entityType := range types {
		selector := view.Request.Selectors[entityType]
		view.Doc.Find(selector).Each(func(idx int, s *goquery.Selection) {
			name := fmt.Sprintf("%s %s %d", subject, entityType, idx+1)
			records = append(records,
				Entity{
					Name:       name,
					EntityType: entityType,
					Observations: []string{
						"Source: " + view.URL,
						"Content: " + truncate(strings.TrimSpace(s.Text()), contentObservationLimit),
					},
				},
				Relation{From: subject, Type: "has", To: name},
			)
		})
	}
	return records
}
