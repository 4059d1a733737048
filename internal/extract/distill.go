// Package extract distills readable text from fetched HTML and discovers
// same-domain links for recursive exploration.
package extract

import (
	"bytes"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ErrNoContent is returned when every distillation tier comes up empty.
var ErrNoContent = errors.New("no extractable content found")

// Structural containers tried when readability yields too little, ordered by
// how strongly they signal primary content.
var structuralSelectors = []string{
	"article",
	"main",
	`[role="main"]`,
	"#content",
	".article-content",
	".post-content",
	".content",
	".main-content",
}

// Elements stripped from the body-wide fallback before reading its text.
var chromeSelectors = []string{
	"nav", "header", "footer", "script", "style", "noscript", "iframe", "aside", "form",
}

const (
	// Readability output must beat the title by this margin to count as real
	// article text rather than an echoed heading.
	readabilityMinGain = 100

	structuralMinLength = 200
	fallbackMinLength   = 80
)

// Distilled is the outcome of content distillation for one page.
type Distilled struct {
	Title string
	Text  string
}

// Distill extracts the readable text of an HTML document, trying progressively
// looser strategies.
func Distill(html []byte, pageURL *url.URL) (Distilled, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Distilled{}, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	if text, ok := distillReadability(html, pageURL, title); ok {
		return Distilled{Title: title, Text: text}, nil
	}
	if text, ok := distillStructural(doc); ok {
		return Distilled{Title: title, Text: text}, nil
	}
	if text, ok := distillBody(doc); ok {
		return Distilled{Title: title, Text: text}, nil
	}
	return Distilled{Title: title}, ErrNoContent
}

func distillReadability(html []byte, pageURL *url.URL, title string) (string, bool) {
	article, err := readability.FromReader(bytes.NewReader(html), pageURL)
	if err != nil {
		return "", false
	}
	text := normalizeText(article.TextContent)
	if len(text) > len(title)+readabilityMinGain {
		return text, true
	}
	return "", false
}

func distillStructural(doc *goquery.Document) (string, bool) {
	for _, sel := range structuralSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := normalizeText(node.Text())
		if len(text) >= structuralMinLength {
			return text, true
		}
	}
	return "", false
}

func distillBody(doc *goquery.Document) (string, bool) {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return "", false
	}
	clone := body.Clone()
	for _, sel := range chromeSelectors {
		clone.Find(sel).Remove()
	}
	text := normalizeText(clone.Text())
	if len(text) >= fallbackMinLength {
		return text, true
	}
	return "", false
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// normalizeText collapses whitespace while preserving paragraph breaks.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
