package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/browser"
)

// Code-hosting repository roots are rewritten to a digest mirror that serves
// the whole repository as a single flattened text document.
const repoMirrorHost = "gitingest.com"

// Candidate selectors for the mirror's digest output.
var digestSelectors = []string{
	`textarea.result-text`,
	`textarea[name="content"]`,
	`textarea[readonly]`,
	`textarea`,
}

const (
	digestMinLength    = 100
	digestPollInterval = 500 * time.Millisecond
)

// IsRepositoryRoot reports whether the URL points at a GitHub repository root:
// the github.com host with exactly an owner and a repository path segment.
func IsRepositoryRoot(rawHost, rawPath string) bool {
	host := strings.ToLower(rawHost)
	if host != "github.com" && host != "www.github.com" {
		return false
	}
	segments := 0
	for _, part := range strings.Split(rawPath, "/") {
		if strings.TrimSpace(part) != "" {
			segments++
		}
	}
	return segments == 2
}

// MirrorURL maps a repository root to its digest mirror equivalent.
func MirrorURL(rawPath string) string {
	return "https://" + repoMirrorHost + strings.TrimSuffix(rawPath, "/")
}

// RepoDigest loads the digest mirror for a repository in the browser session
// and returns the flattened repository text once it renders.
func RepoDigest(ctx context.Context, session *browser.Session, rawPath string, timeout time.Duration) (string, error) {
	mirror := MirrorURL(rawPath)
	if err := session.Navigate(ctx, mirror); err != nil {
		return "", fmt.Errorf("navigate to digest mirror: %w", err)
	}

	deadline := time.Now().Add(timeout)
	auto := session.Auto()
	for {
		for _, sel := range digestSelectors {
			script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	return el ? (el.value || el.textContent || "").trim() : "";
})()`, sel)
			var text string
			if err := auto.Evaluate(ctx, script, &text); err != nil {
				return "", err
			}
			if len(text) >= digestMinLength {
				return text, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("digest mirror produced no content for %s", mirror)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(digestPollInterval):
		}
	}
}
