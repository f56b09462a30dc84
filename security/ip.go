package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP extracts the client IP address used for rate limiting and audit.
// X-Forwarded-For and X-Real-IP are only consulted when trustProxy is set.
//
// SECURITY: only enable trustProxy behind a reverse proxy that overwrites
// these headers. trustedProxyCount is the number of proxies we control at the
// right end of X-Forwarded-For; 0 means one.
//
// The result is normalised (IPv4-mapped IPv6 unmapped, zone stripped) so the
// same client always maps to the same rate limiter key.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return clientIPFromRemoteAddr(r.RemoteAddr)
}

// clientIPFromXFF picks the client entry from "client, proxy1, ..., proxyN".
// The rightmost trustedProxyCount entries belong to our own proxies.
func clientIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}
	return normalizeIP(ips[idx])
}

// clientIPFromRemoteAddr extracts the IP of the direct connection.
func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := normalizeIP(host); ip != "" {
		return ip
	}
	return host
}

// normalizeIP returns the canonical text form of s, or "" if it is not an IP.
func normalizeIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}
