// Package crawler performs depth-bounded same-domain content extraction: a
// browser-rendered root page followed by polite HTTP exploration of the links
// it exposes.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/extract"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/security"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/pkg/types"
)

// Depth bounds for recursive exploration.
const (
	MinDepth = 1
	MaxDepth = 5
)

// maxBranchFactor caps how many discovered links each page follows.
const maxBranchFactor = 3

// Fetcher is the HTTP retrieval capability the explorer uses past the root.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) (*types.Page, error)
	Preflight(ctx context.Context, u *url.URL) (bool, error)
}

// Browser renders pages that need a real browser: the crawl root and the
// repository digest mirror.
type Browser interface {
	RenderHTML(ctx context.Context, rawURL string) (string, error)
	RepoDigest(ctx context.Context, repoPath string, timeout time.Duration) (string, error)
}

// RobotsAgent gates HTTP fetches by robots.txt policy.
type RobotsAgent interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Orchestrator coordinates validation, retrieval, distillation, and link
// exploration for a single crawl.
type Orchestrator struct {
	cfg     config.CrawlConfig
	gate    *security.Gate
	browser Browser
	fetch   Fetcher
	robots  RobotsAgent
	limiter *HostLimiter
	logger  *slog.Logger
}

// New assembles an orchestrator from its collaborators.
func New(cfg config.CrawlConfig, gate *security.Gate, b Browser, f Fetcher, r RobotsAgent, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		gate:    gate,
		browser: b,
		fetch:   f,
		robots:  r,
		limiter: NewHostLimiter(cfg),
		logger:  logger,
	}
}

// ClampDepth folds any requested depth into the supported range.
func ClampDepth(depth int) int {
	if depth < MinDepth {
		return MinDepth
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}

// ExtractPage retrieves and distills a single page through the browser. The
// result always comes back; failures are reported in its Error field.
func (o *Orchestrator) ExtractPage(ctx context.Context, rawURL string) types.PageContentResult {
	target, err := o.gate.Validate(ctx, rawURL)
	if err != nil {
		return types.PageContentResult{URL: rawURL, Error: err.Error()}
	}
	result, _ := o.renderAndDistill(ctx, target)
	return result
}

// ExtractRecursive explores the root URL and its same-domain links to the
// requested depth, returning whatever content survived the time budget.
func (o *Orchestrator) ExtractRecursive(ctx context.Context, rawURL string, depth int) *types.CrawlEnvelope {
	depth = ClampDepth(depth)

	envelope := &types.CrawlEnvelope{
		RootURL:          rawURL,
		ExplorationDepth: depth,
	}

	root, err := o.gate.Validate(ctx, rawURL)
	if err != nil {
		envelope.Status = types.CrawlError
		envelope.Message = err.Error()
		return envelope
	}

	budget := o.cfg.CrawlBudget()
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var timedOut atomic.Bool
	stop := context.AfterFunc(ctx, func() { timedOut.Store(true) })
	defer stop()

	run := &crawlRun{
		timedOut: &timedOut,
		visited:  map[string]struct{}{canonicalKey(root): {}},
	}

	rootResult, links := o.exploreRoot(ctx, root, depth)
	run.append(rootResult)

	if depth > 1 && rootResult.OK() {
		o.exploreChildren(ctx, run, links, depth-1)
	}

	envelope.Content = run.results
	envelope.PagesExplored = len(run.results)
	envelope.Status = types.ClassifyResults(run.results)
	if timedOut.Load() && envelope.Status == types.CrawlSuccess {
		// The deadline cut exploration short, so the content is incomplete
		// even though every collected page succeeded.
		envelope.Status = types.CrawlSuccessPartial
	}
	envelope.Message = crawlMessage(envelope, timedOut.Load())
	return envelope
}

// crawlRun carries the shared mutable state of one crawl.
type crawlRun struct {
	timedOut *atomic.Bool

	mu      sync.Mutex
	visited map[string]struct{}
	results []types.PageContentResult
}

func (r *crawlRun) append(res types.PageContentResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// claim marks a URL visited, reporting false when it already was.
func (r *crawlRun) claim(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.visited[key]; seen {
		return false
	}
	r.visited[key] = struct{}{}
	return true
}

// exploreRoot renders the root through the browser and harvests links from
// the same capture the distiller saw.
func (o *Orchestrator) exploreRoot(ctx context.Context, root *url.URL, depth int) (types.PageContentResult, []types.SameDomainLink) {
	result, html := o.renderAndDistill(ctx, root)
	if !result.OK() || depth == 1 || html == "" {
		return result, nil
	}

	links, err := extract.SameDomainLinks([]byte(html), root, extract.MaxLinksPerPage)
	if err != nil {
		o.logger.Warn("link discovery failed", "url", root.String(), "error", err)
		return result, nil
	}
	return result, links
}

// renderAndDistill loads a page in the browser and distills it, routing
// repository roots through the digest mirror. The rendered markup is returned
// alongside the result so callers can discover links without a second
// navigation; it is empty on the digest path and on failure.
func (o *Orchestrator) renderAndDistill(ctx context.Context, target *url.URL) (types.PageContentResult, string) {
	result := types.PageContentResult{URL: target.String()}

	if extract.IsRepositoryRoot(target.Hostname(), target.Path) {
		digest, err := o.browser.RepoDigest(ctx, target.Path, o.cfg.RequestTimeout.Duration*3)
		if err != nil {
			result.Error = fmt.Sprintf("repository digest failed: %v", err)
			return result, ""
		}
		result.Title = strings.Trim(target.Path, "/")
		result.TextContent = digest
		return result, ""
	}

	html, err := o.browser.RenderHTML(ctx, target.String())
	if err != nil {
		result.Error = fmt.Sprintf("page load failed: %v", err)
		return result, ""
	}
	distilled, err := extract.Distill([]byte(html), target)
	if err != nil {
		result.Error = err.Error()
		return result, html
	}
	result.Title = distilled.Title
	result.TextContent = distilled.Text
	return result, html
}

// exploreChildren fans out over at most maxBranchFactor links concurrently.
func (o *Orchestrator) exploreChildren(ctx context.Context, run *crawlRun, links []types.SameDomainLink, remaining int) {
	if remaining < 1 || run.timedOut.Load() {
		return
	}

	var wg sync.WaitGroup
	launched := 0
	for _, link := range links {
		if launched >= maxBranchFactor {
			break
		}
		if link.AbsoluteURL == nil || !run.claim(canonicalKey(link.AbsoluteURL)) {
			continue
		}
		launched++
		wg.Add(1)
		go func(target *url.URL) {
			defer wg.Done()
			o.explorePage(ctx, run, target, remaining)
		}(link.AbsoluteURL)
	}
	wg.Wait()
}

// explorePage fetches one page over HTTP, records its result, and recurses.
func (o *Orchestrator) explorePage(ctx context.Context, run *crawlRun, target *url.URL, remaining int) {
	if run.timedOut.Load() {
		return
	}

	if _, err := o.gate.Validate(ctx, target.String()); err != nil {
		o.logger.Debug("link rejected by security gate", "url", target.String(), "error", err)
		return
	}
	if !o.robots.Allowed(ctx, target) {
		o.logger.Debug("link disallowed by robots.txt", "url", target.String())
		return
	}
	if err := o.limiter.Wait(ctx, target.Hostname()); err != nil {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout.Duration)
	defer cancel()

	if htmlLike, err := o.fetch.Preflight(reqCtx, target); err == nil && !htmlLike {
		o.logger.Debug("skipping non-HTML target", "url", target.String())
		return
	}

	result := types.PageContentResult{URL: target.String()}
	page, err := o.fetch.Fetch(reqCtx, target)
	if err != nil {
		result.Error = fmt.Sprintf("fetch failed: %v", err)
		run.append(result)
		return
	}
	if page.StatusCode >= 400 {
		result.Error = fmt.Sprintf("fetch returned status %d", page.StatusCode)
		run.append(result)
		return
	}

	distilled, err := extract.Distill(page.Body, pageBase(page, target))
	if err != nil {
		result.Error = err.Error()
		run.append(result)
		return
	}
	result.Title = distilled.Title
	result.TextContent = distilled.Text
	run.append(result)

	if remaining > 1 {
		links, err := extract.SameDomainLinks(page.Body, pageBase(page, target), extract.MaxLinksPerPage)
		if err != nil {
			return
		}
		o.exploreChildren(ctx, run, links, remaining-1)
	}
}

func pageBase(page *types.Page, fallback *url.URL) *url.URL {
	if page.FinalURL != nil {
		return page.FinalURL
	}
	return fallback
}

// canonicalKey normalizes a URL for visited-set membership.
func canonicalKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	c.Scheme = strings.ToLower(c.Scheme)
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func crawlMessage(env *types.CrawlEnvelope, timedOut bool) string {
	switch env.Status {
	case types.CrawlSuccess:
		return fmt.Sprintf("explored %d pages to depth %d", env.PagesExplored, env.ExplorationDepth)
	case types.CrawlSuccessPartial:
		if timedOut {
			return fmt.Sprintf("time budget expired after %d pages; returning partial content", env.PagesExplored)
		}
		return fmt.Sprintf("explored %d pages to depth %d; some pages yielded no content", env.PagesExplored, env.ExplorationDepth)
	default:
		if timedOut {
			return "time budget expired before any page yielded content"
		}
		return "no page yielded extractable content"
	}
}
