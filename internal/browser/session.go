package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
)

// State is the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRecovering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRecovering:
		return "recovering"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Candidate input selectors in decreasing order of confidence. The third-party
// UI changes frequently; the first working selector is cached until recovery.
var searchInputSelectors = []string{
	`textarea[placeholder*="Ask"]`,
	`textarea[placeholder*="Search"]`,
	`div[contenteditable="true"][role="textbox"]`,
	`textarea.query-input`,
	`main textarea`,
	`textarea`,
}

// DOM indicators of an active bot challenge.
const captchaProbeScript = `(() => {
	if (document.querySelector('[class*="captcha"], [id*="captcha"], #challenge-running, .cf-challenge, [class*="turnstile"]')) {
		return true;
	}
	const hosts = ['recaptcha', 'hcaptcha', 'turnstile', 'challenges.cloudflare.com'];
	for (const frame of document.querySelectorAll('iframe[src]')) {
		const src = frame.getAttribute('src') || '';
		if (hosts.some(h => src.includes(h))) {
			return true;
		}
	}
	return false;
})()`

// Session owns the single automated browser session. All mutation of session
// state happens through its methods; at most one initialization is ever in
// flight.
type Session struct {
	cfg    config.BrowserConfig
	auto   Automator
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	inputSelector string
	idleTimer     *time.Timer
	inFlight      int
	// opSeq increases on every recovery so a slow recovery that lost the race
	// can detect it went stale and stand down.
	opSeq uint64
}

// NewSession wires a session around the given automator.
func NewSession(cfg config.BrowserConfig, auto Automator, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, auto: auto, logger: logger}
}

// Initialize launches the browser with fingerprint-evasion overrides and
// navigates to the target site. If an initialization is already in flight it
// returns immediately rather than racing a second launch. A failed
// initialization nulls the session so a later call can retry cleanly.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateInitializing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateInitializing
	s.inputSelector = ""
	s.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout.Duration)
	defer cancel()

	opts := LaunchOptions{
		UserAgent:       s.cfg.UserAgent,
		ViewportWidth:   s.cfg.ViewportWidth,
		ViewportHeight:  s.cfg.ViewportHeight,
		DisableHeadless: s.cfg.DisableHeadless,
	}
	if err := s.auto.Launch(initCtx, opts); err != nil {
		s.setState(StateUninitialized)
		return fmt.Errorf("%w: %v", ErrBrowserInit, err)
	}
	if err := s.auto.Navigate(initCtx, s.cfg.TargetURL, s.cfg.NavTimeout.Duration); err != nil {
		_ = s.auto.Close(context.Background())
		s.setState(StateUninitialized)
		return fmt.Errorf("%w: initial navigation: %v", ErrBrowserInit, err)
	}

	s.setState(StateReady)
	s.ResetIdleTimeout()
	s.logger.Info("browser session ready", "target", s.cfg.TargetURL)
	return nil
}

// NavigateToTarget loads the canonical entry URL in the active page.
func (s *Session) NavigateToTarget(ctx context.Context) error {
	if !s.IsReady() {
		return fmt.Errorf("%w: no active page", ErrNavigation)
	}
	if err := s.auto.Navigate(ctx, s.cfg.TargetURL, s.cfg.NavTimeout.Duration); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	return nil
}

// Navigate loads an arbitrary URL in the active page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if !s.IsReady() {
		return fmt.Errorf("%w: no active page", ErrNavigation)
	}
	if err := s.auto.Navigate(ctx, url, s.cfg.NavTimeout.Duration); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	return nil
}

// WaitForSearchInput probes the candidate selectors until one matches an
// element that is visible, enabled, and not aria-hidden. The winner is cached
// for subsequent searches.
func (s *Session) WaitForSearchInput(ctx context.Context, timeout time.Duration) (string, error) {
	s.mu.Lock()
	cached := s.inputSelector
	s.mu.Unlock()

	candidates := searchInputSelectors
	if cached != "" {
		candidates = append([]string{cached}, searchInputSelectors...)
	}

	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range candidates {
			usable, err := s.selectorUsable(ctx, sel)
			if err != nil {
				return "", err
			}
			if usable {
				s.mu.Lock()
				s.inputSelector = sel
				s.mu.Unlock()
				return sel, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: search input not found within %s", ErrSelectorNotFound, timeout)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (s *Session) selectorUsable(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		if (el.disabled) return false;
		if (el.getAttribute('aria-hidden') === 'true') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, selector)

	var usable bool
	if err := s.auto.Evaluate(ctx, script, &usable); err != nil {
		return false, err
	}
	return usable, nil
}

// CheckForCaptcha evaluates a fixed set of DOM indicators for an active bot
// challenge.
func (s *Session) CheckForCaptcha(ctx context.Context) bool {
	var present bool
	if err := s.auto.Evaluate(ctx, captchaProbeScript, &present); err != nil {
		s.logger.Debug("captcha probe failed", "error", err)
		return false
	}
	return present
}

// VerifyFrameAttached fails fast with ErrFrameDetached when the main content
// frame is no longer usable.
func (s *Session) VerifyFrameAttached(ctx context.Context) error {
	var ready string
	err := s.auto.Evaluate(ctx, `document.readyState`, &ready)
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "detached") || strings.Contains(msg, "target closed") {
		return fmt.Errorf("%w: %v", ErrFrameDetached, err)
	}
	return err
}

// PerformRecovery tears down the current page and session, waits the
// configured cool-down, and initializes again. Idempotent with respect to
// already-null session state; a recovery that lost a race with a newer one
// stands down without touching the fresh session.
func (s *Session) PerformRecovery(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateRecovering
	s.opSeq++
	seq := s.opSeq
	s.stopIdleLocked()
	s.mu.Unlock()

	if cause != nil {
		s.logger.Warn("recovering browser session", "cause", cause)
	} else {
		s.logger.Warn("recovering browser session")
	}
	_ = s.auto.Close(context.Background())

	select {
	case <-time.After(s.cfg.RecoveryCooldown.Duration):
	case <-ctx.Done():
		s.setState(StateUninitialized)
		return ctx.Err()
	}

	s.mu.Lock()
	if s.opSeq != seq {
		// A newer recovery superseded this one.
		s.mu.Unlock()
		return nil
	}
	s.state = StateUninitialized
	s.mu.Unlock()

	return s.Initialize(ctx)
}

// ResetIdleTimeout reschedules the proactive teardown timer. When the idle
// window elapses with no operation in flight, the session is closed to
// release the browser.
func (s *Session) ResetIdleTimeout() {
	idle := s.cfg.IdleTimeout.Duration
	if idle <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.stopIdleLocked()
	s.idleTimer = time.AfterFunc(idle, s.idleTeardown)
}

func (s *Session) idleTeardown() {
	s.mu.Lock()
	if s.inFlight > 0 || s.state != StateReady {
		// An operation is mid-flight; teardown would strand it. The timer is
		// rescheduled when the operation completes.
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Info("closing idle browser session")
	_ = s.auto.Close(context.Background())
}

// BeginOperation marks an operation in flight, blocking idle teardown, and
// refreshes the idle window.
func (s *Session) BeginOperation() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	s.ResetIdleTimeout()
}

// EndOperation releases the in-flight mark and restarts the idle window.
func (s *Session) EndOperation() {
	s.mu.Lock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.mu.Unlock()
	s.ResetIdleTimeout()
}

// IsReady reports whether the session can serve an operation right now.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return state == StateReady && s.auto.Alive()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Auto exposes the underlying automation capability for components that drive
// the page directly (typing, polling, in-page reads).
func (s *Session) Auto() Automator {
	return s.auto
}

// Close tears the session down permanently.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.stopIdleLocked()
	s.mu.Unlock()
	return s.auto.Close(ctx)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) stopIdleLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}
