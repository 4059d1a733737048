// Command askd answers questions through an automated browser session against
// a conversational search engine, and extracts readable content from arbitrary
// URLs with bounded same-domain exploration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/browser"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/crawler"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/fetcher"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/resilience"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/robots"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/search"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/security"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML configuration file (defaults apply when empty)")
	query := flag.String("query", "", "Question to submit to the search engine")
	rawURL := flag.String("url", "", "URL to extract content from")
	depth := flag.Int("depth", 1, "Exploration depth for URL extraction (1-5)")
	flag.Parse()

	if (*query == "") == (*rawURL == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -query or -url is required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session := browser.NewSession(cfg.Browser, browser.NewChromedpAutomator(logger), logger)
	defer session.Close(context.Background())

	if *query != "" {
		runSearch(ctx, cfg, session, logger, *query)
		return
	}
	runExtract(ctx, cfg, session, logger, *rawURL, *depth)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func runSearch(ctx context.Context, cfg *config.Config, session *browser.Session, logger *slog.Logger, query string) {
	policy := resilience.DefaultPolicy()
	policy.MaxAttempts = cfg.Resilience.MaxAttempts
	policy.BaseDelay = cfg.Resilience.BaseDelay.Duration
	policy.MaxDelay = cfg.Resilience.MaxDelay.Duration
	policy.Jitter = cfg.Resilience.Jitter
	executor := resilience.NewExecutor(policy, logger)

	breaker := resilience.NewBreaker(resilience.BreakerSettings{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout.Duration,
		HalfOpenMax:      cfg.Resilience.HalfOpenMax,
	}, logger)

	engine := search.NewEngine(cfg.Search, session, executor, breaker, logger)
	answer, err := engine.PerformSearch(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search unavailable: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(answer)
}

func runExtract(ctx context.Context, cfg *config.Config, session *browser.Session, logger *slog.Logger, rawURL string, depth int) {
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Browser.UserAgent,
		Timeout:      cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
	})
	agent := robots.NewAgent(cfg.Robots, httpFetcher.Client())
	orch := crawler.New(cfg.Crawl, security.NewGate(), crawler.NewSessionBrowser(session), httpFetcher, agent, logger)

	depth = crawler.ClampDepth(depth)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if depth == 1 {
		result := orch.ExtractPage(ctx, rawURL)
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
			os.Exit(1)
		}
		return
	}

	envelope := orch.ExtractRecursive(ctx, rawURL, depth)
	if err := enc.Encode(envelope); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
}
