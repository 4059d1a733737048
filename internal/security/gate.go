// Package security validates candidate URLs against an SSRF policy before any
// navigation or HTTP fetch is attempted.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrSecurityRejected marks a URL that failed SSRF validation. Rejections are
// terminal: the URL is never fetched or navigated to.
var ErrSecurityRejected = errors.New("url rejected by security policy")

// Resolver abstracts DNS lookup so the gate is testable without the network.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Gate enforces the SSRF policy: no loopback, link-local, private, or
// cloud-metadata destinations, http/https only.
type Gate struct {
	resolver   Resolver
	lookupWait time.Duration
}

// NewGate builds a gate using the default system resolver.
func NewGate() *Gate {
	return &Gate{resolver: net.DefaultResolver, lookupWait: 5 * time.Second}
}

// NewGateWithResolver builds a gate with an injected resolver for tests.
func NewGateWithResolver(r Resolver) *Gate {
	return &Gate{resolver: r, lookupWait: 5 * time.Second}
}

// Hostnames always refused regardless of what they resolve to.
var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
}

// Validate parses raw and checks it against the policy. It returns the parsed
// URL on success, or an error wrapping ErrSecurityRejected on refusal.
func (g *Gate) Validate(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable url: %v", ErrSecurityRejected, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrSecurityRejected, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrSecurityRejected)
	}
	if _, blocked := blockedHosts[host]; blocked {
		return nil, fmt.Errorf("%w: host %q is blocked", ErrSecurityRejected, host)
	}
	if strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("%w: host %q is blocked", ErrSecurityRejected, host)
	}

	// Literal IPs are judged directly, no DNS involved.
	if ip := net.ParseIP(host); ip != nil {
		if disallowedIP(ip) {
			return nil, fmt.Errorf("%w: address %s is not routable externally", ErrSecurityRejected, ip)
		}
		return u, nil
	}

	// Browsers also accept decimal, octal, and hex IPv4 forms that
	// net.ParseIP rejects. Those never reach DNS either.
	if ip, ok := parseNumericIPv4(host); ok {
		if disallowedIP(ip) {
			return nil, fmt.Errorf("%w: address %s is not routable externally", ErrSecurityRejected, ip)
		}
		return u, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.lookupWait)
	defer cancel()
	ips, err := g.resolver.LookupIP(lookupCtx, "ip", host)
	if err != nil {
		// Fail open on resolution errors: the subsequent fetch will fail on its
		// own if the host genuinely does not exist.
		return u, nil
	}
	for _, ip := range ips {
		if disallowedIP(ip) {
			return nil, fmt.Errorf("%w: host %q resolves to %s", ErrSecurityRejected, host, ip)
		}
	}
	return u, nil
}

// parseNumericIPv4 interprets host the way Chromium's URL parser does: one to
// four dot separated components, each decimal, octal (leading 0), or hex
// (0x prefix), the last one filling the remaining address bytes. Plain
// hostnames fail the numeric parse and fall through to DNS.
func parseNumericIPv4(host string) (net.IP, bool) {
	parts := strings.Split(host, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return nil, false
	}
	vals := make([]uint64, len(parts))
	for i, part := range parts {
		base := 10
		switch {
		case strings.HasPrefix(part, "0x") || strings.HasPrefix(part, "0X"):
			base = 16
			part = part[2:]
		case len(part) > 1 && part[0] == '0':
			base = 8
			part = part[1:]
		}
		if part == "" {
			return nil, false
		}
		v, err := strconv.ParseUint(part, base, 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}
	var addr uint32
	for i := 0; i < len(vals)-1; i++ {
		if vals[i] > 0xff {
			return nil, false
		}
		addr = addr<<8 | uint32(vals[i])
	}
	restBits := uint(4-(len(vals)-1)) * 8
	last := vals[len(vals)-1]
	if restBits < 32 && last >= 1<<restBits {
		return nil, false
	}
	if last > 0xffffffff {
		return nil, false
	}
	addr = addr<<restBits | uint32(last)
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)), true
}

// disallowedIP reports whether the address falls in a range the policy
// forbids: loopback, link-local (incl. 169.254.169.254), RFC 1918, unique
// local IPv6, or unspecified.
func disallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	// Covers RFC 1918 IPv4 ranges and RFC 4193 IPv6 unique-local addresses.
	if ip.IsPrivate() {
		return true
	}
	return false
}
