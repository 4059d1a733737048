// Package browser owns the single automated browser session: launch with
// anti-detection overrides, navigation, idle teardown, and recovery.
package browser

import (
	"context"
	"time"
)

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	UserAgent       string
	ViewportWidth   int
	ViewportHeight  int
	DisableHeadless bool
}

// Automator is the browser-automation capability the session manager drives.
// The concrete implementation is chromedp; tests substitute a double so the
// session and search logic run without a live browser.
type Automator interface {
	// Launch starts the browser process with anti-detection overrides applied
	// before any navigation.
	Launch(ctx context.Context, opts LaunchOptions) error
	// Navigate loads url in the active page and waits for document readiness.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Evaluate runs an in-page expression and unmarshals its result into out.
	// Pass a nil out to discard the result.
	Evaluate(ctx context.Context, expr string, out any) error
	// WaitVisible blocks until the selector matches a visible element.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Click dispatches a click on the first element matching selector.
	Click(ctx context.Context, selector string) error
	// Clear empties the value of the matched input element.
	Clear(ctx context.Context, selector string) error
	// TypeText enters text into the matched element one character at a time,
	// pausing a random duration in [minDelay, maxDelay] between keystrokes.
	TypeText(ctx context.Context, selector, text string, minDelay, maxDelay time.Duration) error
	// PressEnter submits via a newline key event on the matched element.
	PressEnter(ctx context.Context, selector string) error
	// ClosePage closes the active page, leaving the browser running.
	ClosePage(ctx context.Context) error
	// Close tears down the page and the browser process.
	Close(ctx context.Context) error
	// Alive reports whether the browser context is still usable.
	Alive() bool
}
