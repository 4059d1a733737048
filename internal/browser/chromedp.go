package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpAutomator implements Automator over a long-lived chromedp context.
// The allocator and browser contexts live until Close so a single Chrome
// process serves many operations.
type ChromedpAutomator struct {
	logger *slog.Logger

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpAutomator constructs an automator; Launch must be called before
// any other operation.
func NewChromedpAutomator(logger *slog.Logger) *ChromedpAutomator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpAutomator{logger: logger}
}

// Launch starts Chrome, applies the fingerprint overrides, and leaves the
// session on about:blank ready for navigation.
func (a *ChromedpAutomator) Launch(ctx context.Context, opts LaunchOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.browserCtx != nil {
		a.teardownLocked()
	}

	a.allocCtx, a.allocCancel = chromedp.NewExecAllocator(context.Background(), execAllocatorOptions(opts)...)
	a.browserCtx, a.browserCancel = chromedp.NewContext(a.allocCtx,
		chromedp.WithLogf(func(string, ...any) {}),
	)

	runCtx, cancel := mergeDeadline(a.browserCtx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(cctx context.Context) error {
			return network.SetExtraHTTPHeaders(network.Headers{
				"Accept-Language":           "en-US,en;q=0.9",
				"Upgrade-Insecure-Requests": "1",
			}).Do(cctx)
		}),
		chromedp.ActionFunc(func(cctx context.Context) error {
			return emulation.SetUserAgentOverride(opts.UserAgent).
				WithAcceptLanguage("en-US,en;q=0.9").
				WithPlatform(navigatorPlatformFor(opts.UserAgent)).
				Do(cctx)
		}),
		chromedp.ActionFunc(func(cctx context.Context) error {
			for _, script := range stealthScripts {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(cctx); err != nil {
					return err
				}
			}
			return nil
		}),
		chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight)),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		a.teardownLocked()
		return fmt.Errorf("browser launch: %w", err)
	}
	a.logger.Debug("browser launched", "headless", !opts.DisableHeadless)
	return nil
}

// Navigate loads url and polls document.readyState until complete.
func (a *ChromedpAutomator) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(bctx, timeout)
	defer cancel()

	err = chromedp.Run(runCtx,
		chromedp.Navigate(url),
		waitDocumentReady(),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Evaluate runs expr in the page and stores the value in out when non-nil.
func (a *ChromedpAutomator) Evaluate(ctx context.Context, expr string, out any) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := mergeDeadline(bctx, ctx)
	defer cancel()
	if out == nil {
		return chromedp.Run(runCtx, chromedp.Evaluate(expr, nil))
	}
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out, chromedp.EvalAsValue))
}

// WaitVisible blocks until selector matches a visible element or the timeout
// elapses.
func (a *ChromedpAutomator) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(bctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Click dispatches a click on the matched element.
func (a *ChromedpAutomator) Click(ctx context.Context, selector string) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := mergeDeadline(bctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery))
}

// Clear empties the matched input element.
func (a *ChromedpAutomator) Clear(ctx context.Context, selector string) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := mergeDeadline(bctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
	)
}

// TypeText sends text one character at a time with a randomized inter-key
// pause so the input resembles a human operator.
func (a *ChromedpAutomator) TypeText(ctx context.Context, selector, text string, minDelay, maxDelay time.Duration) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := mergeDeadline(bctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	for _, r := range text {
		if err := chromedp.Run(runCtx, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		if pause := keystrokePause(minDelay, maxDelay); pause > 0 {
			select {
			case <-time.After(pause):
			case <-runCtx.Done():
				return runCtx.Err()
			}
		}
	}
	return nil
}

// PressEnter submits the matched element via a carriage-return key event.
func (a *ChromedpAutomator) PressEnter(ctx context.Context, selector string) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := mergeDeadline(bctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.SendKeys(selector, "\r", chromedp.ByQuery))
}

// ClosePage navigates the active page back to about:blank, releasing the
// loaded document while keeping the browser alive.
func (a *ChromedpAutomator) ClosePage(ctx context.Context) error {
	bctx, err := a.context()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(bctx, 5*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate("about:blank"))
}

// Close tears down the browser process and both contexts.
func (a *ChromedpAutomator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
	return nil
}

// Alive reports whether the browser context exists and has not been cancelled.
func (a *ChromedpAutomator) Alive() bool {
	a.mu.Lock()
	bctx := a.browserCtx
	a.mu.Unlock()
	if bctx == nil {
		return false
	}
	select {
	case <-bctx.Done():
		return false
	default:
		return true
	}
}

func (a *ChromedpAutomator) context() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browserCtx == nil {
		return nil, errors.New("browser not launched")
	}
	return a.browserCtx, nil
}

func (a *ChromedpAutomator) teardownLocked() {
	if a.browserCancel != nil {
		a.browserCancel()
	}
	if a.allocCancel != nil {
		a.allocCancel()
	}
	a.browserCtx = nil
	a.browserCancel = nil
	a.allocCtx = nil
	a.allocCancel = nil
}

func waitDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func keystrokePause(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// mergeDeadline derives a child of parent that is also cancelled when caller
// is done, so browser operations respect both the session lifetime and the
// caller's deadline.
func mergeDeadline(parent, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if caller == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
