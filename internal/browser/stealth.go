package browser

import (
	"strings"

	"github.com/chromedp/chromedp"
)

// Fingerprint overrides installed before any navigation. Each script runs on
// every new document so SPA navigations inherit the same surface.
const (
	webdriverOverrideScript   = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`
	languagesOverrideScript   = `Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });`
	pluginsOverrideScript     = `Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });`
	hardwareOverrideScript    = `Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8 });`
	deviceMemoryOverride      = `Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });`
	chromeRuntimeStandIn      = `window.chrome = window.chrome || {}; window.chrome.runtime = window.chrome.runtime || {};`
	permissionsOverrideScript = `const origQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
window.navigator.permissions.query = (parameters) =>
	parameters && parameters.name === 'notifications'
		? Promise.resolve({ state: 'default' })
		: origQuery(parameters);`
)

var stealthScripts = []string{
	webdriverOverrideScript,
	chromeRuntimeStandIn,
	languagesOverrideScript,
	pluginsOverrideScript,
	permissionsOverrideScript,
	hardwareOverrideScript,
	deviceMemoryOverride,
}

// execAllocatorOptions returns the Chrome launch flags for a low-detection
// headless session.
func execAllocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	headless := !opts.DisableHeadless
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	return execOpts
}

// navigatorPlatformFor picks the navigator.platform value consistent with the
// user agent, so the two fingerprint surfaces do not contradict each other.
func navigatorPlatformFor(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "windows"):
		return "Win32"
	case strings.Contains(ua, "linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}
