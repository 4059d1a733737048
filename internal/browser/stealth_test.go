package browser

import (
	"strings"
	"testing"
)

func TestNavigatorPlatformFor(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36", "MacIntel"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", "Win32"},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36", "Linux x86_64"},
		{"", "Win32"},
	}
	for _, tc := range cases {
		if got := navigatorPlatformFor(tc.ua); got != tc.want {
			t.Errorf("navigatorPlatformFor(%q) = %q, want %q", tc.ua, got, tc.want)
		}
	}
}

func TestStealthScriptsCoverKnownProbes(t *testing.T) {
	joined := ""
	for _, s := range stealthScripts {
		joined += s
	}
	for _, probe := range []string{"webdriver", "languages", "plugins", "hardwareConcurrency", "deviceMemory", "chrome", "permissions"} {
		if !strings.Contains(joined, probe) {
			t.Errorf("no stealth override for navigator %s probe", probe)
		}
	}
}
