package extract

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestDistillArticle(t *testing.T) {
	paragraph := strings.Repeat("The migration finished ahead of schedule and no data was lost. ", 8)
	html := `<html><head><title>Migration Report</title></head><body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<article>
<h1>Migration Report</h1>
<p>` + paragraph + `</p>
<p>` + paragraph + `</p>
</article>
<footer>Copyright 2024</footer>
</body></html>`

	got, err := Distill([]byte(html), mustParse(t, "https://example.com/report"))
	if err != nil {
		t.Fatalf("Distill returned error: %v", err)
	}
	if got.Title != "Migration Report" {
		t.Fatalf("title = %q, want %q", got.Title, "Migration Report")
	}
	if !strings.Contains(got.Text, "finished ahead of schedule") {
		t.Fatalf("text missing article body: %q", truncate(got.Text, 120))
	}
}

func TestDistillStructuralFallback(t *testing.T) {
	body := strings.Repeat("Quarterly throughput rose across every region we track. ", 10)
	html := `<html><head><title>Numbers</title></head><body>
<div class="content">` + body + `</div>
</body></html>`

	got, err := Distill([]byte(html), mustParse(t, "https://example.com/numbers"))
	if err != nil {
		t.Fatalf("Distill returned error: %v", err)
	}
	if !strings.Contains(got.Text, "Quarterly throughput rose") {
		t.Fatalf("text missing structural content: %q", truncate(got.Text, 120))
	}
}

func TestDistillBodyFallbackStripsChrome(t *testing.T) {
	html := `<html><head><title>Bare</title></head><body>
<nav>Site navigation links</nav>
<script>var tracking = true;</script>
<div>Plain page text that lives outside any recognised container but is long enough to keep.</div>
<footer>Footer boilerplate</footer>
</body></html>`

	got, err := Distill([]byte(html), mustParse(t, "https://example.com/bare"))
	if err != nil {
		t.Fatalf("Distill returned error: %v", err)
	}
	if !strings.Contains(got.Text, "Plain page text") {
		t.Fatalf("text missing body content: %q", got.Text)
	}
	if strings.Contains(got.Text, "Site navigation links") {
		t.Fatalf("navigation chrome leaked into text: %q", got.Text)
	}
	if strings.Contains(got.Text, "tracking") {
		t.Fatalf("script content leaked into text: %q", got.Text)
	}
}

func TestDistillNoContent(t *testing.T) {
	html := `<html><head><title>Empty</title></head><body><div>tiny</div></body></html>`

	got, err := Distill([]byte(html), mustParse(t, "https://example.com/empty"))
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got err=%v text=%q", err, got.Text)
	}
	if got.Title != "Empty" {
		t.Fatalf("title should survive even without content, got %q", got.Title)
	}
}

func TestNormalizeTextPreservesParagraphs(t *testing.T) {
	in := "First   paragraph\twith  runs.\n\n\n\n  Second paragraph.  \n"
	want := "First paragraph with runs.\n\nSecond paragraph."
	if got := normalizeText(in); got != want {
		t.Fatalf("normalizeText = %q, want %q", got, want)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
