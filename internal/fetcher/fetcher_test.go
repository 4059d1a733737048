package fetcher

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func testFetcher(maxBody int64) *HTTPFetcher {
	return NewHTTPFetcher(Options{
		UserAgent:    "test-agent",
		Timeout:      5 * time.Second,
		MaxBodyBytes: maxBody,
	})
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestFetchSetsHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	page, err := testFetcher(1 << 20).Fetch(context.Background(), mustURL(t, srv.URL))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != "test-agent" {
		t.Fatalf("user agent = %q", gotUA)
	}
	if !strings.Contains(gotAccept, "text/html") {
		t.Fatalf("accept header = %q", gotAccept)
	}
	if page.StatusCode != 200 || !strings.Contains(string(page.Body), "hello") {
		t.Fatalf("unexpected page: status=%d body=%q", page.StatusCode, page.Body)
	}
}

func TestFetchDecodesGzip(t *testing.T) {
	payload := strings.Repeat("compressible content ", 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(payload))
		_ = gz.Close()
	}))
	defer srv.Close()

	page, err := testFetcher(1 << 20).Fetch(context.Background(), mustURL(t, srv.URL))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != payload {
		t.Fatalf("gzip body not decoded, got %d bytes", len(page.Body))
	}
}

func TestFetchDecodesBrotli(t *testing.T) {
	payload := strings.Repeat("brotli compressible content ", 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte(payload))
		_ = bw.Close()
	}))
	defer srv.Close()

	page, err := testFetcher(1 << 20).Fetch(context.Background(), mustURL(t, srv.URL))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != payload {
		t.Fatalf("brotli body not decoded, got %d bytes", len(page.Body))
	}
}

type closeTrackingBody struct {
	*strings.Reader
	closed bool
}

func (c *closeTrackingBody) Close() error {
	c.closed = true
	return nil
}

func TestReadBodyClosesOnGzipHeaderError(t *testing.T) {
	body := &closeTrackingBody{Reader: strings.NewReader("not gzip data")}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Encoding": []string{"gzip"}},
		Body:       body,
	}

	if _, err := testFetcher(1 << 20).readBody(resp); err == nil {
		t.Fatal("malformed gzip body should fail")
	}
	if !body.closed {
		t.Fatal("response body must be closed when decoding fails")
	}
}

func TestFetchEnforcesBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	if _, err := testFetcher(1024).Fetch(context.Background(), mustURL(t, srv.URL)); err == nil {
		t.Fatal("oversized body should be rejected")
	}
}

func TestPreflight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		case "/archive":
			w.Header().Set("Content-Type", "application/zip")
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/no-head":
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	f := testFetcher(1 << 20)
	cases := []struct {
		path string
		want bool
	}{
		{"/page", true},
		{"/archive", false},
		{"/missing", false},
		{"/no-head", true},
	}
	for _, tc := range cases {
		got, err := f.Preflight(context.Background(), mustURL(t, srv.URL+tc.path))
		if err != nil {
			t.Fatalf("Preflight(%s): %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("Preflight(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
