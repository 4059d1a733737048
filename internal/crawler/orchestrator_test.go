package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/security"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/pkg/types"
)

type fakeBrowser struct {
	pages   map[string]string
	digest  string
	err     error
	renders []string
}

func (f *fakeBrowser) RenderHTML(_ context.Context, rawURL string) (string, error) {
	f.renders = append(f.renders, rawURL)
	if f.err != nil {
		return "", f.err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return "", fmt.Errorf("no page for %s", rawURL)
	}
	return html, nil
}

func (f *fakeBrowser) RepoDigest(_ context.Context, repoPath string, _ time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.digest, nil
}

type fakeFetcher struct {
	pages  map[string]string
	errors map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, u *url.URL) (*types.Page, error) {
	key := u.String()
	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	html, ok := f.pages[key]
	if !ok {
		return nil, fmt.Errorf("no page for %s", key)
	}
	return &types.Page{
		URL:         u,
		FinalURL:    u,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
	}, nil
}

func (f *fakeFetcher) Preflight(context.Context, *url.URL) (bool, error) {
	return true, nil
}

type allowAllRobots struct{}

func (allowAllRobots) Allowed(context.Context, *url.URL) bool { return true }

type publicResolver struct{}

func (publicResolver) LookupIP(context.Context, string, string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}

func articleHTML(title, body string, links ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><head><title>" + title + "</title></head><body><article><h1>" + title + "</h1><p>")
	for i := 0; i < 6; i++ {
		sb.WriteString(body)
	}
	sb.WriteString("</p></article>")
	for i, href := range links {
		fmt.Fprintf(&sb, `<a href=%q>Descriptive anchor text number %d</a>`, href, i)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func newTestOrchestrator(b Browser, f Fetcher) *Orchestrator {
	cfg := config.Default().Crawl
	cfg.PerHostDelay = config.DurationFrom(0)
	gate := security.NewGateWithResolver(publicResolver{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, gate, b, f, allowAllRobots{}, logger)
}

func TestClampDepth(t *testing.T) {
	cases := []struct{ in, want int }{
		{-3, 1}, {0, 1}, {1, 1}, {3, 3}, {5, 5}, {6, 5}, {100, 5},
	}
	for _, tc := range cases {
		if got := ClampDepth(tc.in); got != tc.want {
			t.Errorf("ClampDepth(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestExtractPage(t *testing.T) {
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/post": articleHTML("Post", "Readable paragraph content for the page. "),
	}}
	orch := newTestOrchestrator(b, &fakeFetcher{})

	result := orch.ExtractPage(context.Background(), "https://example.com/post")
	if !result.OK() {
		t.Fatalf("expected content, got error %q", result.Error)
	}
	if result.Title != "Post" {
		t.Fatalf("title = %q, want %q", result.Title, "Post")
	}
}

func TestExtractPageRejectsInternalTarget(t *testing.T) {
	orch := newTestOrchestrator(&fakeBrowser{}, &fakeFetcher{})

	result := orch.ExtractPage(context.Background(), "http://169.254.169.254/latest/meta-data/")
	if result.OK() {
		t.Fatal("metadata endpoint should be rejected")
	}
	if result.Error == "" {
		t.Fatal("rejection should carry an error message")
	}
}

func TestExtractPageRepositoryRoot(t *testing.T) {
	digest := strings.Repeat("flattened repository text ", 20)
	orch := newTestOrchestrator(&fakeBrowser{digest: digest}, &fakeFetcher{})

	result := orch.ExtractPage(context.Background(), "https://github.com/golang/go")
	if !result.OK() {
		t.Fatalf("expected digest content, got error %q", result.Error)
	}
	if result.TextContent != digest {
		t.Fatal("digest should be returned verbatim")
	}
}

func TestExtractRecursiveFanOut(t *testing.T) {
	body := "Readable paragraph content for the crawler to keep. "
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/": articleHTML("Root", body, "/a", "/b", "/c", "/d"),
	}}
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/a": articleHTML("A", body),
		"https://example.com/b": articleHTML("B", body),
		"https://example.com/c": articleHTML("C", body),
		"https://example.com/d": articleHTML("D", body),
	}}
	orch := newTestOrchestrator(b, f)

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 2)
	if env.Status != types.CrawlSuccess {
		t.Fatalf("status = %s (%s), want success", env.Status, env.Message)
	}
	// Root plus at most three followed links.
	if env.PagesExplored != 4 {
		t.Fatalf("pages explored = %d, want 4", env.PagesExplored)
	}
	if env.ExplorationDepth != 2 {
		t.Fatalf("exploration depth = %d, want 2", env.ExplorationDepth)
	}
}

func TestExtractRecursiveRendersRootOnce(t *testing.T) {
	body := "Readable paragraph content for the crawler to keep. "
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/": articleHTML("Root", body, "/a"),
	}}
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/a": articleHTML("A", body),
	}}
	orch := newTestOrchestrator(b, f)

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 3)
	if env.Status != types.CrawlSuccess {
		t.Fatalf("status = %s (%s), want success", env.Status, env.Message)
	}
	// Link discovery must reuse the capture the distiller saw, not navigate
	// the root a second time.
	if len(b.renders) != 1 {
		t.Fatalf("root rendered %d times (%v), want 1 navigation", len(b.renders), b.renders)
	}
	if env.PagesExplored != 2 {
		t.Fatalf("pages explored = %d, want 2", env.PagesExplored)
	}
}

func TestExtractRecursiveClampsDepth(t *testing.T) {
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/": articleHTML("Root", "Readable paragraph content. "),
	}}
	orch := newTestOrchestrator(b, &fakeFetcher{})

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 40)
	if env.ExplorationDepth != MaxDepth {
		t.Fatalf("exploration depth = %d, want %d", env.ExplorationDepth, MaxDepth)
	}
}

func TestExtractRecursiveNoRevisit(t *testing.T) {
	body := "Readable paragraph content for the crawler to keep. "
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/": articleHTML("Root", body, "/", "/a"),
	}}
	f := &fakeFetcher{pages: map[string]string{
		// The child links straight back to the root and to itself.
		"https://example.com/a": articleHTML("A", body, "/", "/a"),
	}}
	orch := newTestOrchestrator(b, f)

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 3)
	if env.PagesExplored != 2 {
		t.Fatalf("pages explored = %d, want 2 (no revisits)", env.PagesExplored)
	}
}

func TestExtractRecursivePartialContent(t *testing.T) {
	body := "Readable paragraph content for the crawler to keep. "
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/": articleHTML("Root", body, "/a", "/b"),
	}}
	f := &fakeFetcher{
		pages: map[string]string{
			"https://example.com/a": articleHTML("A", body),
		},
		errors: map[string]error{
			"https://example.com/b": errors.New("connection reset"),
		},
	}
	orch := newTestOrchestrator(b, f)

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 2)
	if env.Status != types.CrawlSuccessPartial {
		t.Fatalf("status = %s, want %s", env.Status, types.CrawlSuccessPartial)
	}

	var failed int
	for _, r := range env.Content {
		if !r.OK() {
			failed++
			if r.Error == "" {
				t.Fatal("failed page should carry an error message")
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed pages = %d, want 1", failed)
	}
}

// slowFetcher delays each fetch long enough for the crawl budget to expire.
type slowFetcher struct {
	inner Fetcher
	delay time.Duration
}

func (s *slowFetcher) Fetch(ctx context.Context, u *url.URL) (*types.Page, error) {
	time.Sleep(s.delay)
	return s.inner.Fetch(ctx, u)
}

func (s *slowFetcher) Preflight(ctx context.Context, u *url.URL) (bool, error) {
	return s.inner.Preflight(ctx, u)
}

func TestExtractRecursiveDeadlineReturnsPartial(t *testing.T) {
	body := "Readable paragraph content for the crawler to keep. "
	b := &fakeBrowser{pages: map[string]string{
		"https://example.com/": articleHTML("Root", body, "/a"),
	}}
	f := &slowFetcher{
		inner: &fakeFetcher{pages: map[string]string{
			// The child links onward, but the budget expires before the
			// grandchildren can be explored.
			"https://example.com/a": articleHTML("A", body, "/b"),
		}},
		delay: 80 * time.Millisecond,
	}

	cfg := config.Default().Crawl
	cfg.PerHostDelay = config.DurationFrom(0)
	cfg.Deadline = config.DurationFrom(50 * time.Millisecond)
	cfg.DeadlineBuffer = config.DurationFrom(0)
	gate := security.NewGateWithResolver(publicResolver{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := New(cfg, gate, b, f, allowAllRobots{}, logger)

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 3)
	if env.Status != types.CrawlSuccessPartial {
		t.Fatalf("status = %s (%s), want %s", env.Status, env.Message, types.CrawlSuccessPartial)
	}
	if env.PagesExplored < 1 {
		t.Fatal("collected results should be returned despite the deadline")
	}
}

func TestExtractRecursiveRootFailure(t *testing.T) {
	orch := newTestOrchestrator(&fakeBrowser{err: errors.New("net::ERR_CONNECTION_REFUSED")}, &fakeFetcher{})

	env := orch.ExtractRecursive(context.Background(), "https://example.com/", 2)
	if env.Status != types.CrawlError {
		t.Fatalf("status = %s, want %s", env.Status, types.CrawlError)
	}
	if env.PagesExplored != 1 {
		t.Fatalf("pages explored = %d, want 1 (the failed root)", env.PagesExplored)
	}
}

func TestExtractRecursiveRejectedRoot(t *testing.T) {
	orch := newTestOrchestrator(&fakeBrowser{}, &fakeFetcher{})

	env := orch.ExtractRecursive(context.Background(), "http://localhost:9000/admin", 2)
	if env.Status != types.CrawlError {
		t.Fatalf("status = %s, want %s", env.Status, types.CrawlError)
	}
	if len(env.Content) != 0 {
		t.Fatalf("rejected root must not be fetched, got %d results", len(env.Content))
	}
}

func TestCanonicalKey(t *testing.T) {
	a, _ := url.Parse("HTTPS://Example.com")
	b, _ := url.Parse("https://example.com/#top")
	if canonicalKey(a) != canonicalKey(b) {
		t.Fatalf("keys differ: %q vs %q", canonicalKey(a), canonicalKey(b))
	}
}
