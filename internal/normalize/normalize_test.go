package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// filler builds a sentence-structured string of at least n bytes.
func filler(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "This is sentence number %d about nothing in particular. ", i)
	}
	return b.String()[:n]
}

func TestApplyThresholdBoundary(t *testing.T) {
	under := filler(4999)
	assert.Equal(t, under, Apply("tool", under), "4999 bytes passes through")

	over := filler(5000)
	out := Apply("tool", over)
	cc, ok := out.(ChunkedContent)
	require.True(t, ok, "5000 bytes triggers normalization")
	assert.Equal(t, 5000, cc.Metadata.OriginalLength)
}

func TestApplyPassesThroughNonStrings(t *testing.T) {
	value := map[string]interface{}{"big": filler(10000)}
	assert.Equal(t, value, Apply("tool", value))
}

func TestHTMLNormalization(t *testing.T) {
	html := `<html><head>
		<title>Example Domain</title>
		<meta name="description" content="An illustrative example page.">
	</head><body>
		<header>chrome</header>
		<nav>menu menu menu</nav>
		<h1>Welcome</h1>
		<h2>Details</h2>
		<p>See https://example.com/docs for more.</p>
		<script>var x = 1;</script>
		<p>` + filler(19652) + `</p>
		<footer>legal</footer>
	</body></html>`
	html = html[:20000]

	out := Normalize("s1_fetch", html)
	cc, ok := out.(ChunkedContent)
	require.True(t, ok)

	assert.Equal(t, "chunked_response", cc.Type)
	assert.Equal(t, "s1_fetch", cc.Tool)
	assert.Equal(t, 20000, cc.Metadata.OriginalLength)
	assert.Equal(t, "Example Domain", cc.Metadata.Title)
	assert.Equal(t, "https://example.com/docs", cc.Metadata.URL)
	assert.Equal(t, "An illustrative example page.", cc.Summary)

	require.NotEmpty(t, cc.Sections)
	assert.LessOrEqual(t, len(cc.Sections), 5)
	assert.Equal(t, "Page Title", cc.Sections[0].Title)
	assert.Equal(t, "Example Domain", cc.Sections[0].Content)
	assert.Equal(t, ImportanceHigh, cc.Sections[0].Importance)

	var keySections string
	for _, s := range cc.Sections {
		if s.Title == "Key Sections" {
			keySections = s.Content
		}
		assert.NotContains(t, s.Content, "<script>")
		assert.NotContains(t, s.Content, "menu menu menu")
	}
	assert.Contains(t, keySections, "Welcome")
	assert.Contains(t, keySections, "Details")
}

func TestHTMLFallbackTitle(t *testing.T) {
	html := "<html><body><p>" + filler(9000) + "</p></body></html>"
	cc := Normalize("fetch_page", html).(ChunkedContent)
	assert.Equal(t, "Web Page", cc.Sections[0].Content)
	assert.Empty(t, cc.Metadata.URL)
}

func TestHTMLSectionsBoundedByOriginalLength(t *testing.T) {
	// Plain text through the fetch path: the summary duplicates the content
	// head, so without a bound the sections would outgrow the input.
	text := filler(5000)
	cc := Normalize("web_fetch", text).(ChunkedContent)

	total := 0
	for _, s := range cc.Sections {
		total += len(s.Content)
	}
	assert.Equal(t, total, cc.Metadata.ProcessedLength)
	assert.LessOrEqual(t, total, cc.Metadata.OriginalLength)
}

func TestSearchResultList(t *testing.T) {
	results := make([]map[string]interface{}, 9)
	for i := range results {
		results[i] = map[string]interface{}{
			"title":   fmt.Sprintf("Result %d", i),
			"snippet": filler(700),
		}
	}
	doc, err := json.Marshal(map[string]interface{}{"results": results})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(doc), Threshold)

	cc := Normalize("web_search", string(doc)).(ChunkedContent)
	assert.Equal(t, "Found 9 results", cc.Summary)
	require.Len(t, cc.Sections, 6, "summary plus five results")
	assert.Equal(t, "Search Summary", cc.Sections[0].Title)
	assert.Equal(t, ImportanceMedium, cc.Sections[1].Importance)
	assert.Equal(t, ImportanceMedium, cc.Sections[2].Importance)
	assert.Equal(t, ImportanceLow, cc.Sections[3].Importance)
}

func TestSearchNonJSONFallsBackToText(t *testing.T) {
	text := filler(8000)
	cc := Normalize("site_crawl", text).(ChunkedContent)

	require.NotEmpty(t, cc.Sections)
	assert.LessOrEqual(t, len(cc.Sections), 4)
	assert.Equal(t, ImportanceHigh, cc.Sections[0].Importance)
	for _, s := range cc.Sections {
		assert.LessOrEqual(t, len(s.Content), 1500)
	}
}

func TestGenericChunking(t *testing.T) {
	text := filler(12000)
	cc := Normalize("db_dump", text).(ChunkedContent)

	require.NotEmpty(t, cc.Sections)
	assert.LessOrEqual(t, len(cc.Sections), 3)
	assert.Equal(t, ImportanceHigh, cc.Sections[0].Importance)
	for i, s := range cc.Sections {
		assert.LessOrEqual(t, len(s.Content), 2000)
		if i > 0 {
			assert.Equal(t, ImportanceMedium, s.Importance)
		}
	}

	total := 0
	for _, s := range cc.Sections {
		total += len(s.Content)
	}
	assert.Equal(t, total, cc.Metadata.ProcessedLength)
	assert.LessOrEqual(t, total, cc.Metadata.OriginalLength)
}

func TestChunkTextSentencePacking(t *testing.T) {
	chunks := chunkText("One. Two! Three? Four.", 12, 10)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 12)
		assert.True(t, strings.HasSuffix(c, "."), "sentences get their period back")
	}
}

func TestChunkTextTruncatesOversizeSentence(t *testing.T) {
	long := strings.Repeat("x", 100)
	chunks := chunkText(long, 20, 3)
	require.Len(t, chunks, 1)
	assert.Equal(t, 20, len(chunks[0]))
	assert.True(t, strings.HasSuffix(chunks[0], "..."))
}

func TestChunkTextRespectsMaxChunks(t *testing.T) {
	chunks := chunkText(filler(50000), 2000, 3)
	assert.Len(t, chunks, 3)
}
