package resilience

import "strings"

// RecoveryLevel is the remediation tier for an observed failure. Derived fresh
// from each error, never stored.
type RecoveryLevel int

const (
	// RecoveryRetry means a local, in-place retry is expected to suffice.
	RecoveryRetry RecoveryLevel = 1
	// RecoveryNavigate means the page is broken but the browser process is
	// fine; re-navigation is required.
	RecoveryNavigate RecoveryLevel = 2
	// RecoveryRestart means the browser process itself is unusable and the
	// session must be rebuilt.
	RecoveryRestart RecoveryLevel = 3
)

// Failures that imply the browser process is gone. Checked before the
// navigation tier.
var criticalMarkers = []string{
	"detached",
	"crashed",
	"disconnected",
	"protocol error",
	"target closed",
	"browser closed",
}

// Failures that imply only the page is broken.
var navigationMarkers = []string{
	"navigation",
	"timeout",
	"timed out",
	"net::err",
	"err_name",
	"err_connection",
	"connection refused",
	"network",
}

// ClassifyRecovery maps an observed failure to its remediation tier using
// case-insensitive substring matching. A nil error classifies as RecoveryRetry.
func ClassifyRecovery(err error) RecoveryLevel {
	if err == nil {
		return RecoveryRetry
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range criticalMarkers {
		if strings.Contains(msg, marker) {
			return RecoveryRestart
		}
	}
	for _, marker := range navigationMarkers {
		if strings.Contains(msg, marker) {
			return RecoveryNavigate
		}
	}
	return RecoveryRetry
}
