package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP_RemoteAddrFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:54321"

	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestClientIP_HeaderPriority(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	req.Header.Set("CF-Connecting-IP", "203.0.113.7")

	// The CDN header outranks X-Forwarded-For.
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestClientIP_ForwardedForChainTakesFirstHop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", " 198.51.100.9 , 10.0.0.1, 10.0.0.2")

	assert.Equal(t, "198.51.100.9", ClientIP(req))
}

func TestClientIP_XRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.9")

	assert.Equal(t, "198.51.100.9", ClientIP(req))
}

func TestIsTrustedIP(t *testing.T) {
	tests := []struct {
		ip      string
		trusted bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.7", true},
		{"192.168.1.1", true},
		{"169.254.10.10", true},
		{"203.0.113.7", false},
		{"2001:db8::1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.trusted, IsTrustedIP(tt.ip), "ip %q", tt.ip)
	}
}
