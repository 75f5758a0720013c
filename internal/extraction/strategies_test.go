package extraction

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func newView(t *testing.T, req Request, pageURL, title, html string) pageView {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return pageView{
		URL:      pageURL,
		urlLower: strings.ToLower(pageURL),
		Title:    title,
		Doc:      doc,
		Text:     doc.Text(),
		Request:  req,
		Now:      "2026-08-25T10:00:00Z",
	}
}

func TestMatchAPI(t *testing.T) {
	t.Parallel()

	req := Request{URL: "https://acme.dev", Company: "Acme"}
	require.True(t, matchAPI(newView(t, req, "https://acme.dev/api/v2", "", "<p>x</p>")))
	require.True(t, matchAPI(newView(t, req, "https://acme.dev/REFERENCE", "", "<p>x</p>")))
	require.False(t, matchAPI(newView(t, req, "https://acme.dev/pricing", "", "<p>x</p>")))
}

func TestAPIRecords_CollectsEndpointsFromCodeAndHeadings(t *testing.T) {
	t.Parallel()

	html := `
<div>
  <code>GET /users</code>
  <code>curl -X POST /users</code>
  <code>no verbs here</code>
  <h2>/users/{id}</h2>
  <h3>/teams/members</h3>
  <dt>/billing</dt>
  <h2>Not a path</h2>
</div>`
	view := newView(t, Request{Company: "Acme"}, "https://acme.dev/api", "", html)

	records := apiRecords(view)
	require.Len(t, records, 2)

	entity, ok := records[0].(Entity)
	require.True(t, ok)
	require.Equal(t, "Acme API", entity.Name)
	require.Equal(t, "API", entity.EntityType)
	require.Equal(t, []string{
		"Source: https://acme.dev/api",
		"Endpoints: GET /users, curl -X POST /users, /users/{id}, /teams/members, /billing",
		"Total endpoints: 5",
	}, entity.Observations)

	relation, ok := records[1].(Relation)
	require.True(t, ok)
	require.Equal(t, Relation{From: "Acme", Type: "provides", To: "Acme API"}, relation)
}

func TestAPIRecords_SampleCapsAtFive(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("<div>")
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e", "/f", "/g"} {
		sb.WriteString("<h2>" + p + "</h2>")
	}
	sb.WriteString("</div>")
	view := newView(t, Request{Company: "Acme"}, "https://acme.dev/api", "", sb.String())

	records := apiRecords(view)
	require.Len(t, records, 2)
	entity := records[0].(Entity)
	require.Equal(t, "Endpoints: /a, /b, /c, /d, /e", entity.Observations[1])
	require.Equal(t, "Total endpoints: 7", entity.Observations[2])
}

func TestAPIRecords_NoEndpointsNoRecords(t *testing.T) {
	t.Parallel()

	view := newView(t, Request{Company: "Acme"}, "https://acme.dev/api", "", "<p>prose only</p>")
	require.Empty(t, apiRecords(view))
}

func TestAPIRecords_ProductTakesPrecedence(t *testing.T) {
	t.Parallel()

	view := newView(t, Request{Company: "Acme", Product: "AcmeCloud"},
		"https://acme.dev/api", "", "<code>DELETE /sessions</code>")

	records := apiRecords(view)
	require.Len(t, records, 2)
	require.Equal(t, "AcmeCloud API", records[0].(Entity).Name)
	require.Equal(t, Relation{From: "AcmeCloud", Type: "provides", To: "AcmeCloud API"}, records[1].(Relation))
}

func TestMatchGuide(t *testing.T) {
	t.Parallel()

	req := Request{Company: "Acme"}
	require.True(t, matchGuide(newView(t, req, "https://acme.dev/docs/start", "", "<p>x</p>")))
	require.True(t, matchGuide(newView(t, req, "https://acme.dev/Tutorial", "", "<p>x</p>")))
	require.True(t, matchGuide(newView(t, req, "https://acme.dev/user-guide", "", "<p>x</p>")))
	require.False(t, matchGuide(newView(t, req, "https://acme.dev/blog", "", "<p>x</p>")))
}

func TestGuideRecords_TypeClassificationPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		html     string
		wantType string
	}{
		{
			name:     "getting started wins over tutorial",
			html:     "<h2>Tutorial basics</h2><h3>Getting Started here</h3>",
			wantType: "Getting Started Guide",
		},
		{
			name:     "tutorial wins over how to",
			html:     "<h1>How to deploy</h1><h2>A Tutorial</h2>",
			wantType: "Tutorial",
		},
		{
			name:     "how to",
			html:     "<h1>How To Install</h1>",
			wantType: "How-To Guide",
		},
		{
			name:     "general fallback",
			html:     "<h1>Overview</h1>",
			wantType: "General Guide",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			view := newView(t, Request{Company: "Acme"}, "https://acme.dev/docs", "Acme Docs", tc.html)
			records := guideRecords(view)
			require.Len(t, records, 2)
			require.Equal(t, tc.wantType, records[0].(Entity).EntityType)
		})
	}
}

func TestGuideRecords_ObservationsAndRelation(t *testing.T) {
	t.Parallel()

	html := "<h1>One</h1><h2>Two</h2><h2>Three</h2><h3>Four</h3><h1>Five</h1><h2>Six</h2>"
	view := newView(t, Request{Company: "Acme", Product: "AcmeCloud"},
		"https://acme.dev/docs", "Acme Handbook", html)

	records := guideRecords(view)
	require.Len(t, records, 2)

	entity := records[0].(Entity)
	require.Equal(t, "Acme Handbook", entity.Name)
	require.Equal(t, []string{
		"Source: https://acme.dev/docs",
		"Topics: One, Two, Three, Four, Five",
		"Related to: AcmeCloud",
	}, entity.Observations)
	require.Equal(t, Relation{From: "AcmeCloud", Type: "has_guide", To: "Acme Handbook"}, records[1].(Relation))
}

func TestGuideRecords_NoHeadingsNoTitle(t *testing.T) {
	t.Parallel()

	view := newView(t, Request{Company: "Acme"}, "https://acme.dev/docs", "", "<p>bare</p>")
	records := guideRecords(view)
	require.Len(t, records, 2)

	entity := records[0].(Entity)
	require.Equal(t, "Documentation Guide", entity.Name)
	require.Equal(t, "Topics: Unknown", entity.Observations[1])
}

func TestMatchBestPractice(t *testing.T) {
	t.Parallel()

	req := Request{Company: "Acme"}
	require.True(t, matchBestPractice(newView(t, req, "https://acme.dev/best-practices", "", "<p>x</p>")))
	require.True(t, matchBestPractice(newView(t, req, "https://acme.dev/docs", "", "<p>Our Best Practices for keys</p>")))
	require.False(t, matchBestPractice(newView(t, req, "https://acme.dev/docs", "", "<p>nothing here</p>")))
}

func TestBestPracticeRecords_SectionsAndBoundaries(t *testing.T) {
	t.Parallel()

	html := `
<div>
  <h2>Security Best Practices</h2>
  <p>Rotate API keys.</p>
  <h3>Key storage</h3>
  <p>Use a vault.</p>
  <h2>Unrelated Topic</h2>
  <p>Not collected.</p>
  <h2>Scaling Recommendations</h2>
  <p>Shard early.</p>
</div>`
	view := newView(t, Request{Company: "Acme"}, "https://acme.dev/best-practices", "", html)

	records := bestPracticeRecords(view)
	require.Len(t, records, 4)

	first := records[0].(Entity)
	require.Equal(t, "Acme Best Practice 1", first.Name)
	require.Equal(t, "BestPractice", first.EntityType)
	require.Equal(t, []string{
		"Title: Security Best Practices",
		"Source: https://acme.dev/best-practices",
		"Content: Rotate API keys.\nKey storage\nUse a vault.",
	}, first.Observations)
	require.Equal(t, Relation{From: "Acme", Type: "recommends", To: "Acme Best Practice 1"}, records[1].(Relation))

	second := records[2].(Entity)
	require.Equal(t, "Acme Best Practice 2", second.Name)
	require.Equal(t, "Title: Scaling Recommendations", second.Observations[0])
	require.Equal(t, "Content: Shard early.", second.Observations[2])
}

func TestBestPracticeRecords_TruncatesLongContent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 250)
	html := "<h2>Best Practices</h2><p>" + long + "</p>"
	view := newView(t, Request{Company: "Acme"}, "https://acme.dev/best-practices", "", html)

	records := bestPracticeRecords(view)
	require.Len(t, records, 2)
	content := records[0].(Entity).Observations[2]
	require.Equal(t, "Content: "+strings.Repeat("a", 200)+"...", content)
}

func TestCustomSelectorRecords_SortedTypesAndNumbering(t *testing.T) {
	t.Parallel()

	html := `
<div>
  <pre class="example">first example</pre>
  <pre class="example">second example</pre>
  <div class="note">a note</div>
</div>`
	req := Request{
		Company: "Acme",
		Selectors: map[string]string{
			"Note":        ".note",
			"CodeExample": "pre.example",
		},
	}
	view := newView(t, req, "https://acme.dev/docs", "", html)

	records := customSelectorRecords(view)
	require.Len(t, records, 6)

	require.Equal(t, "Acme CodeExample 1", records[0].(Entity).Name)
	require.Equal(t, "CodeExample", records[0].(Entity).EntityType)
	require.Equal(t, "Content: first example", records[0].(Entity).Observations[1])
	require.Equal(t, Relation{From: "Acme", Type: "has", To: "Acme CodeExample 1"}, records[1].(Relation))
	require.Equal(t, "Acme CodeExample 2", records[2].(Entity).Name)
	require.Equal(t, "Acme Note 1", records[4].(Entity).Name)
}

func TestCustomSelectorRecords_InvalidSelectorYieldsNothing(t *testing.T) {
	t.Parallel()

	req := Request{Company: "Acme", Selectors: map[string]string{"Broken": "??!bad"}}
	view := newView(t, req, "https://acme.dev/docs", "", "<p>x</p>")
	require.Empty(t, customSelectorRecords(view))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncate("short", 200))
	require.Equal(t, strings.Repeat("x", 200)+"...", truncate(strings.Repeat("x", 201), 200))
	exact := strings.Repeat("y", 200)
	require.Equal(t, exact, truncate(exact, 200))
}
