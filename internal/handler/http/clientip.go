package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIPHeaders are checked in order. The CDN and proxy headers come
// first because RemoteAddr is the proxy itself once one is in front.
var clientIPHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Original-For",
	"X-Forwarded-For",
	"X-Real-IP",
}

// ClientIP extracts the originating client address of a request.
func ClientIP(r *http.Request) string {
	for _, header := range clientIPHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		// X-Forwarded-For may carry a chain; the first hop is the client.
		if i := strings.Index(value, ","); i >= 0 {
			value = value[:i]
		}
		value = strings.TrimSpace(value)
		if value != "" {
			return stripPort(value)
		}
	}
	return stripPort(r.RemoteAddr)
}

// IsTrustedIP reports whether ip belongs to a private, loopback or
// link-local range. Those callers sit inside the perimeter and bypass
// the brute-force throttle.
func IsTrustedIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
