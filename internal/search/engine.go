// Package search submits queries through the active browser session and
// distills the rendered answer once it stabilizes.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/browser"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/resilience"
)

// Candidate response containers, most specific first. The rendered answer is
// the concatenated text of whichever matches.
var responseSelectors = []string{
	`[data-testid="answer"]`,
	`.prose`,
	`[class*="answer"]`,
	`[class*="response"]`,
	`main article`,
}

// User-facing degradation messages keyed by failure category. The caller is a
// human-facing tool consumer, so raw errors never cross this boundary.
const (
	msgSessionLost = "The search session was interrupted because the browser connection was lost. Please retry the query."
	msgTimedOut    = "The search timed out before a complete answer was available. The service may be busy; please retry shortly."
	msgUnreachable = "The search service could not be reached. Please verify connectivity and retry."
	msgInterrupted = "Answer retrieval was interrupted before any content was produced. Please retry the query."
	msgFailed      = "The search could not be completed after multiple attempts. Please retry later."
)

// Engine is the answer extraction engine. It owns no browser state; the
// session is injected and shared.
type Engine struct {
	cfg      config.SearchConfig
	session  *browser.Session
	executor *resilience.Executor
	breaker  *resilience.Breaker
	logger   *slog.Logger

	// Injectable time hooks keep the stabilization loop testable against a
	// virtual clock.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewEngine wires the engine to a session and resilience primitives.
func NewEngine(cfg config.SearchConfig, session *browser.Session, executor *resilience.Executor, breaker *resilience.Breaker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		session:  session,
		executor: executor,
		breaker:  breaker,
		logger:   logger,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// PerformSearch runs the full submit-and-wait sequence under the retry policy
// and circuit breaker. Terminal failures come back as explanatory text, not
// errors; only ErrCircuitOpen propagates as an error so callers can back off.
func (e *Engine) PerformSearch(ctx context.Context, query string) (string, error) {
	e.session.BeginOperation()
	defer e.session.EndOperation()

	var answer string
	err := e.breaker.Do(ctx, "perform_search", func(ctx context.Context) error {
		res := e.executor.Do(ctx, "perform_search", func(ctx context.Context) error {
			text, err := e.attempt(ctx, query)
			if err != nil {
				e.remediate(ctx, err)
				return err
			}
			answer = text
			return nil
		})
		return res.Err
	})

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", err
	}
	if err != nil {
		e.logger.Error("search failed after all attempts", "query_len", len(query), "error", err)
		return degradationMessage(err), nil
	}
	return answer, nil
}

// attempt runs one full search interaction against a ready session.
func (e *Engine) attempt(ctx context.Context, query string) (string, error) {
	if !e.session.IsReady() {
		if err := e.session.Initialize(ctx); err != nil {
			return "", err
		}
	}
	e.session.ResetIdleTimeout()

	if err := e.session.NavigateToTarget(ctx); err != nil {
		return "", err
	}
	if err := e.session.VerifyFrameAttached(ctx); err != nil {
		return "", err
	}

	selector, err := e.session.WaitForSearchInput(ctx, e.cfg.SelectorTimeout.Duration)
	if err != nil {
		return "", err
	}

	auto := e.session.Auto()
	if err := auto.Clear(ctx, selector); err != nil {
		return "", fmt.Errorf("clear input: %w", err)
	}
	minDelay := time.Duration(e.cfg.TypeDelayMinMS) * time.Millisecond
	maxDelay := time.Duration(e.cfg.TypeDelayMaxMS) * time.Millisecond
	if err := auto.TypeText(ctx, selector, query, minDelay, maxDelay); err != nil {
		return "", fmt.Errorf("type query: %w", err)
	}
	if err := auto.PressEnter(ctx, selector); err != nil {
		return "", fmt.Errorf("submit query: %w", err)
	}

	container, err := e.waitForResponseContainer(ctx)
	if err != nil {
		return "", err
	}
	return e.waitForCompleteAnswer(ctx, container)
}

// remediate runs between a failed attempt and its retry: a visible CAPTCHA or
// a tier-3 failure triggers session recovery, a tier-2 failure only needs the
// re-navigation the next attempt performs anyway.
func (e *Engine) remediate(ctx context.Context, cause error) {
	if e.session.CheckForCaptcha(ctx) {
		e.logger.Warn("captcha detected, recovering session before retry")
		if err := e.session.PerformRecovery(ctx, browser.ErrCaptchaDetected); err != nil {
			e.logger.Error("captcha recovery failed", "error", err)
		}
		return
	}
	if resilience.ClassifyRecovery(cause) == resilience.RecoveryRestart {
		if err := e.session.PerformRecovery(ctx, cause); err != nil {
			e.logger.Error("session recovery failed", "error", err)
		}
	}
}

// waitForResponseContainer probes the candidate containers until one holds a
// rendered element.
func (e *Engine) waitForResponseContainer(ctx context.Context) (string, error) {
	deadline := e.now().Add(e.cfg.SelectorTimeout.Duration * 2)
	for {
		for _, sel := range responseSelectors {
			var present bool
			script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
			if err := e.session.Auto().Evaluate(ctx, script, &present); err != nil {
				return "", err
			}
			if present {
				return sel, nil
			}
		}
		if e.now().After(deadline) {
			return "", fmt.Errorf("%w: response container never appeared", browser.ErrSelectorNotFound)
		}
		if err := e.sleep(ctx, e.cfg.PollInterval.Duration); err != nil {
			return "", err
		}
	}
}

func degradationMessage(err error) string {
	switch {
	case errors.Is(err, browser.ErrFrameDetached), errors.Is(err, browser.ErrBrowserInit):
		return msgSessionLost
	case errors.Is(err, browser.ErrNavigation):
		return msgUnreachable
	case resilience.ClassifyRecovery(err) == resilience.RecoveryRestart:
		return msgSessionLost
	case isTimeout(err):
		return msgTimedOut
	case resilience.ClassifyRecovery(err) == resilience.RecoveryNavigate:
		return msgUnreachable
	default:
		return msgFailed
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return containsFold(msg, "timeout") || containsFold(msg, "timed out")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
