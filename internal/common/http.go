package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address in canonical form. Forwarding headers are
// trusted in the order X-Forwarded-For (first hop), X-Real-IP, then RemoteAddr;
// a header that does not hold an address is skipped.
func ClientIP(r *http.Request) string {
	if addr, ok := clientAddr(r); ok {
		return addr.String()
	}
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// ClientKey identifies the caller for per-client quotas. IPv6 callers are
// grouped by their /64 since a single host usually controls the whole prefix.
func ClientKey(r *http.Request) string {
	addr, ok := clientAddr(r)
	if !ok {
		return ClientIP(r)
	}
	if addr.Is6() {
		if prefix, err := addr.Prefix(64); err == nil {
			return prefix.String()
		}
	}
	return addr.String()
}

func clientAddr(r *http.Request) (netip.Addr, bool) {
	if r == nil {
		return netip.Addr{}, false
	}
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	candidates := []string{first, r.Header.Get("X-Real-IP"), r.RemoteAddr}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if host, _, err := net.SplitHostPort(c); err == nil {
			c = host
		}
		if addr, err := netip.ParseAddr(c); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}
