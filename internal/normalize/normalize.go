// Package normalize converts oversized string tool results into a bounded
// structured summary. It is pure: the invocation wrapper calls it after all
// transport I/O has completed.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Threshold is the string length at which normalization kicks in. Results
// shorter than this pass through untouched.
const Threshold = 5000

const (
	summaryLength = 300
	maxHeadings   = 8

	htmlChunkSize   = 2000
	htmlMaxChunks   = 3
	htmlMaxSections = 5

	searchMaxResults    = 5
	searchTextChunkSize = 1500
	searchTextMaxChunks = 4

	genericChunkSize = 2000
	genericMaxChunks = 3

	truncatedLength = 3000
)

// Importance ranks a section for consumers that trim aggressively.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Section is one titled slice of a normalized response.
type Section struct {
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Importance Importance `json:"importance"`
}

// Metadata describes the size reduction and, for web content, provenance.
type Metadata struct {
	OriginalLength  int    `json:"original_length"`
	ProcessedLength int    `json:"processed_length"`
	URL             string `json:"url,omitempty"`
	Title           string `json:"title,omitempty"`
}

// ChunkedContent is the structured replacement for an oversized string
// result.
type ChunkedContent struct {
	Type     string    `json:"type"`
	Tool     string    `json:"tool"`
	Summary  string    `json:"summary"`
	Sections []Section `json:"sections"`
	Metadata Metadata  `json:"metadata"`
}

// TruncatedResponse is the fallback emitted when normalization itself fails.
type TruncatedResponse struct {
	Type           string `json:"type"`
	Tool           string `json:"tool"`
	Content        string `json:"content"`
	Note           string `json:"note"`
	OriginalLength int    `json:"original_length"`
}

var (
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	urlRe      = regexp.MustCompile(`https?://[^\s"'<>]+`)
	headingRe  = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	metaDescRe = regexp.MustCompile(`(?is)<meta[^>]+name=["']description["'][^>]*content=["']([^"']*)["']`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe    = regexp.MustCompile(`\s+`)
	sentenceRe = regexp.MustCompile(`[.!?]+`)

	// RE2 has no backreferences, so each stripped block gets its own pattern.
	blockRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`),
		regexp.MustCompile(`(?is)<footer[^>]*>.*?</footer>`),
		regexp.MustCompile(`(?is)<header[^>]*>.*?</header>`),
	}
)

// Apply normalizes value when it is a string of at least Threshold bytes;
// everything else passes through unchanged.
func Apply(toolName string, value interface{}) interface{} {
	s, ok := value.(string)
	if !ok || len(s) < Threshold {
		return value
	}
	return Normalize(toolName, s)
}

// Normalize dispatches on the tool name: fetch-like tools get HTML
// treatment, search/crawl tools get result-list treatment, everything else
// is chunked generically. A processing failure degrades to a
// TruncatedResponse rather than surfacing an error.
func Normalize(toolName, result string) (out interface{}) {
	defer func() {
		if r := recover(); r != nil {
			out = TruncatedResponse{
				Type:           "truncated_response",
				Tool:           toolName,
				Content:        head(result, truncatedLength),
				Note:           fmt.Sprintf("response processing failed: %v", r),
				OriginalLength: len(result),
			}
		}
	}()

	lname := strings.ToLower(toolName)
	switch {
	case strings.Contains(lname, "fetch"):
		return normalizeHTML(toolName, result)
	case strings.Contains(lname, "search"), strings.Contains(lname, "crawl"):
		return normalizeSearch(toolName, result)
	default:
		return normalizeGeneric(toolName, result)
	}
}

func normalizeHTML(toolName, result string) ChunkedContent {
	title := "Web Page"
	if m := titleRe.FindStringSubmatch(result); m != nil {
		if t := cleanText(m[1]); t != "" {
			title = t
		}
	}

	url := urlRe.FindString(result)

	var headings []string
	for _, m := range headingRe.FindAllStringSubmatch(result, maxHeadings) {
		if h := cleanText(m[1]); h != "" {
			headings = append(headings, h)
		}
	}

	metaDesc := ""
	if m := metaDescRe.FindStringSubmatch(result); m != nil {
		metaDesc = cleanText(m[1])
	}

	stripped := result
	for _, re := range blockRes {
		stripped = re.ReplaceAllString(stripped, " ")
	}
	content := cleanText(tagRe.ReplaceAllString(stripped, " "))

	summary := metaDesc
	if summary == "" {
		summary = ellipsize(content, summaryLength)
	}

	sections := []Section{
		{Title: "Page Title", Content: title, Importance: ImportanceHigh},
		{Title: "Summary", Content: summary, Importance: ImportanceHigh},
	}
	if len(headings) > 0 {
		sections = append(sections, Section{
			Title:      "Key Sections",
			Content:    strings.Join(headings, " • "),
			Importance: ImportanceMedium,
		})
	}
	for i, chunk := range chunkText(content, htmlChunkSize, htmlMaxChunks) {
		if len(sections) >= htmlMaxSections {
			break
		}
		imp := ImportanceLow
		if i == 0 {
			imp = ImportanceMedium
		}
		sections = append(sections, Section{
			Title:      fmt.Sprintf("Content Part %d", i+1),
			Content:    chunk,
			Importance: imp,
		})
	}

	return build(toolName, summary, sections, Metadata{
		OriginalLength: len(result),
		URL:            url,
		Title:          title,
	})
}

func normalizeSearch(toolName, result string) ChunkedContent {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(result), &doc); err == nil {
		if results, ok := doc["results"].([]interface{}); ok {
			return normalizeResultList(toolName, result, results)
		}
	}

	summary := ellipsize(cleanText(result), summaryLength)
	sections := make([]Section, 0, searchTextMaxChunks)
	for i, chunk := range chunkText(cleanText(result), searchTextChunkSize, searchTextMaxChunks) {
		imp := ImportanceMedium
		if i == 0 {
			imp = ImportanceHigh
		}
		sections = append(sections, Section{
			Title:      fmt.Sprintf("Content Part %d", i+1),
			Content:    chunk,
			Importance: imp,
		})
	}
	return build(toolName, summary, sections, Metadata{OriginalLength: len(result)})
}

func normalizeResultList(toolName, result string, results []interface{}) ChunkedContent {
	summary := fmt.Sprintf("Found %d results", len(results))
	sections := []Section{
		{Title: "Search Summary", Content: summary, Importance: ImportanceHigh},
	}
	for i, r := range results {
		if i >= searchMaxResults {
			break
		}
		imp := ImportanceLow
		if i < 2 {
			imp = ImportanceMedium
		}
		sections = append(sections, Section{
			Title:      fmt.Sprintf("Result %d", i+1),
			Content:    stringifyResult(r),
			Importance: imp,
		})
	}
	return build(toolName, summary, sections, Metadata{OriginalLength: len(result)})
}

func normalizeGeneric(toolName, result string) ChunkedContent {
	content := cleanText(result)
	summary := ellipsize(content, summaryLength)

	sections := make([]Section, 0, genericMaxChunks)
	for i, chunk := range chunkText(content, genericChunkSize, genericMaxChunks) {
		imp := ImportanceMedium
		if i == 0 {
			imp = ImportanceHigh
		}
		sections = append(sections, Section{
			Title:      fmt.Sprintf("Content Part %d", i+1),
			Content:    chunk,
			Importance: imp,
		})
	}
	return build(toolName, summary, sections, Metadata{OriginalLength: len(result)})
}

func build(toolName, summary string, sections []Section, meta Metadata) ChunkedContent {
	sections = fitSections(sections, meta.OriginalLength)
	for _, s := range sections {
		meta.ProcessedLength += len(s.Content)
	}
	return ChunkedContent{
		Type:     "chunked_response",
		Tool:     toolName,
		Summary:  summary,
		Sections: sections,
		Metadata: meta,
	}
}

// fitSections bounds the concatenated section content to the original
// response length. The summary and chunk builders each add small amounts of
// synthesized text (titles, periods, counters), so for short inputs their
// combined output can outgrow the input; the overflowing section is truncated
// and anything after it dropped.
func fitSections(sections []Section, limit int) []Section {
	remaining := limit
	out := sections[:0]
	for _, s := range sections {
		if remaining <= 0 {
			break
		}
		if len(s.Content) > remaining {
			s.Content = head(s.Content, remaining)
		}
		out = append(out, s)
		remaining -= len(s.Content)
	}
	return out
}

// chunkText splits text on sentence boundaries and packs the sentences into
// at most maxChunks chunks of at most maxChunkSize bytes. A single sentence
// longer than maxChunkSize is truncated with an ellipsis.
func chunkText(text string, maxChunkSize, maxChunks int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, raw := range sentenceRe.Split(text, -1) {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		sentence := s + "."
		if len(sentence) > maxChunkSize {
			sentence = head(sentence, maxChunkSize-3) + "..."
		}

		if current.Len() > 0 && current.Len()+1+len(sentence) > maxChunkSize {
			flush()
			if len(chunks) >= maxChunks {
				return chunks
			}
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}

	if len(chunks) < maxChunks {
		flush()
	}
	return chunks
}

// stringifyResult renders one search result entry compactly.
func stringifyResult(r interface{}) string {
	if s, ok := r.(string); ok {
		return s
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", r)
	}
	return string(data)
}

// cleanText collapses runs of whitespace and trims the result.
func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func ellipsize(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return head(s, max) + "..."
}

func head(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}
