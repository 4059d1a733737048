package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/browser"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/extract"
)

// SessionBrowser adapts the shared browser session to the Browser interface.
type SessionBrowser struct {
	session *browser.Session
}

// NewSessionBrowser wraps an existing session for crawl use.
func NewSessionBrowser(session *browser.Session) *SessionBrowser {
	return &SessionBrowser{session: session}
}

// RenderHTML loads the URL in the shared session and returns the rendered DOM.
func (b *SessionBrowser) RenderHTML(ctx context.Context, rawURL string) (string, error) {
	b.session.BeginOperation()
	defer b.session.EndOperation()

	if !b.session.IsReady() {
		if err := b.session.Initialize(ctx); err != nil {
			return "", err
		}
	}
	b.session.ResetIdleTimeout()

	if err := b.session.Navigate(ctx, rawURL); err != nil {
		return "", err
	}

	var html string
	if err := b.session.Auto().Evaluate(ctx, "document.documentElement.outerHTML", &html); err != nil {
		return "", fmt.Errorf("read rendered document: %w", err)
	}
	return html, nil
}

// RepoDigest resolves a repository root through the digest mirror.
func (b *SessionBrowser) RepoDigest(ctx context.Context, repoPath string, timeout time.Duration) (string, error) {
	b.session.BeginOperation()
	defer b.session.EndOperation()

	if !b.session.IsReady() {
		if err := b.session.Initialize(ctx); err != nil {
			return "", err
		}
	}
	b.session.ResetIdleTimeout()

	return extract.RepoDigest(ctx, b.session, repoPath, timeout)
}
