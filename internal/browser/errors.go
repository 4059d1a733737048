package browser

import "errors"

var (
	// ErrBrowserInit wraps a launch or initial-navigation failure. A full
	// session restart is required before retrying.
	ErrBrowserInit = errors.New("browser initialization failed")
	// ErrNavigation is returned when navigation is requested without an
	// active page or the target is unreachable.
	ErrNavigation = errors.New("navigation failed")
	// ErrFrameDetached signals the session is internally broken; only a full
	// recovery helps.
	ErrFrameDetached = errors.New("main frame detached")
	// ErrSelectorNotFound means no candidate selector matched a usable
	// element; the third-party UI may have changed or is still loading.
	ErrSelectorNotFound = errors.New("no working selector found")
	// ErrCaptchaDetected means a bot challenge is being shown. Recovery, not
	// a plain retry, is the remediation.
	ErrCaptchaDetected = errors.New("captcha challenge detected")
	// ErrSessionClosed is returned for operations against a closed session.
	ErrSessionClosed = errors.New("session closed")
)
