package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from the request.
// X-Forwarded-For and X-Real-IP are only honored when trustProxy is
// set, since both are attacker-controlled on direct connections.
// trustedProxyCount says how many proxies at the right end of
// X-Forwarded-For are ours; the client IP sits just left of them.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the client IP out of an X-Forwarded-For
// list of the form "client, proxy-n, ..., proxy-1". With
// trustedProxyCount proxies of ours on the right, the client is at
// index len-count-1. A count of 0 is treated as 1.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")

	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	idx := len(ips) - proxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}

// ipFromRemoteAddr strips the port from a direct connection's address.
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
