package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
)

func robotsServer(t *testing.T, body string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		_, _ = w.Write([]byte(body))
	}))
}

func target(t *testing.T, base, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(base + path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return u
}

func TestAllowedDisabledByDefault(t *testing.T) {
	agent := NewAgent(config.RobotsConfig{Respect: false}, nil)

	u := target(t, "https://example.com", "/private/page")
	if !agent.Allowed(context.Background(), u) {
		t.Fatal("robots handling disabled should allow everything")
	}
}

func TestAllowedHonorsDisallowRules(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nDisallow: /private/\n", nil)
	defer srv.Close()

	agent := NewAgent(config.RobotsConfig{
		Respect:   true,
		UserAgent: "ask-crawler/1.0",
		CacheTTL:  config.DurationFrom(time.Minute),
	}, srv.Client())

	if agent.Allowed(context.Background(), target(t, srv.URL, "/private/secret")) {
		t.Fatal("disallowed path was permitted")
	}
	if !agent.Allowed(context.Background(), target(t, srv.URL, "/public/page")) {
		t.Fatal("allowed path was refused")
	}
}

func TestAllowedCachesRules(t *testing.T) {
	var hits atomic.Int64
	srv := robotsServer(t, "User-agent: *\nDisallow:\n", &hits)
	defer srv.Close()

	agent := NewAgent(config.RobotsConfig{
		Respect:   true,
		UserAgent: "ask-crawler/1.0",
		CacheTTL:  config.DurationFrom(time.Minute),
	}, srv.Client())

	for i := 0; i < 5; i++ {
		agent.Allowed(context.Background(), target(t, srv.URL, "/page"))
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("robots.txt fetched %d times, want 1", got)
	}
}

func TestAllowedFailsOpenOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	agent := NewAgent(config.RobotsConfig{
		Respect:   true,
		UserAgent: "ask-crawler/1.0",
	}, srv.Client())

	if !agent.Allowed(context.Background(), target(t, srv.URL, "/page")) {
		t.Fatal("robots error should fail open")
	}
}

func TestAllowedRejectsNilAndRelative(t *testing.T) {
	agent := NewAgent(config.RobotsConfig{}, nil)
	if agent.Allowed(context.Background(), nil) {
		t.Fatal("nil URL should be refused")
	}
	rel := &url.URL{Path: "/relative"}
	if agent.Allowed(context.Background(), rel) {
		t.Fatal("relative URL should be refused")
	}
}
