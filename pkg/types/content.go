package types

import (
	"net/http"
	"net/url"
	"time"
)

// PageContentResult is the outcome of extracting a single page. Exactly one of
// TextContent or Error carries meaning once the result is complete.
type PageContentResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	TextContent string `json:"text_content,omitempty"`
	Error       string `json:"error,omitempty"`
}

// OK reports whether the result carries usable content.
func (r PageContentResult) OK() bool {
	return r.Error == "" && r.TextContent != ""
}

// SameDomainLink is a discovered outbound link whose host matches the page it
// was found on. Produced per page and consumed immediately to seed the next
// recursion depth.
type SameDomainLink struct {
	AbsoluteURL *url.URL
	AnchorText  string
}

// CrawlStatus classifies the overall outcome of a recursive crawl.
type CrawlStatus string

const (
	// CrawlSuccess means every attempted page produced content.
	CrawlSuccess CrawlStatus = "success"
	// CrawlSuccessPartial means some but not all attempted pages produced content.
	CrawlSuccessPartial CrawlStatus = "success_with_partial_content"
	// CrawlError means no attempted page produced content.
	CrawlError CrawlStatus = "error"
)

// CrawlEnvelope is the multi-page response shape returned for depths above one.
type CrawlEnvelope struct {
	Status           CrawlStatus         `json:"status"`
	Message          string              `json:"message,omitempty"`
	RootURL          string              `json:"root_url"`
	ExplorationDepth int                 `json:"exploration_depth"`
	PagesExplored    int                 `json:"pages_explored"`
	Content          []PageContentResult `json:"content"`
}

// ClassifyResults derives the envelope status from the individual page results.
func ClassifyResults(results []PageContentResult) CrawlStatus {
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	switch {
	case len(results) > 0 && ok == len(results):
		return CrawlSuccess
	case ok > 0:
		return CrawlSuccessPartial
	default:
		return CrawlError
	}
}

// Page represents fetched page content on the direct HTTP path.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	ResponseLatency time.Duration
}
