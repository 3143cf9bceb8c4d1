package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
	"github.com/stretchr/testify/assert"
)

var internalProxies = &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "127.0.0.1"}}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct client headers ignored",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			realIP:     "192.168.1.1",
			config:     internalProxies,
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy forwards client",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42",
			config:     internalProxies,
			want:       "203.0.113.42",
		},
		{
			name:       "trusted hops are skipped from the right",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 172.16.4.4, 10.0.0.9",
			config:     internalProxies,
			want:       "203.0.113.42",
		},
		{
			name:       "client-supplied prefix is not believed",
			remoteAddr: "10.0.0.5:54321",
			xff:        "127.0.0.1, 198.51.100.7",
			config:     internalProxies,
			want:       "198.51.100.7",
		},
		{
			name:       "garbage hop stops the walk",
			remoteAddr: "10.0.0.5:54321",
			xff:        "not-an-ip",
			realIP:     "203.0.113.50",
			config:     internalProxies,
			want:       "203.0.113.50",
		},
		{
			name:       "all hops trusted falls back to peer",
			remoteAddr: "10.0.0.5:54321",
			xff:        "10.0.0.7",
			config:     internalProxies,
			want:       "10.0.0.5",
		},
		{
			name:       "ipv6 proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"::1/128"}},
			want:       "2001:db8::1",
		},
		{
			name:       "ipv4-mapped peer matches ipv4 range",
			remoteAddr: "[::ffff:10.0.0.5]:443",
			xff:        "203.0.113.42",
			config:     internalProxies,
			want:       "203.0.113.42",
		},
		{
			name:       "nil config",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			want:       "203.0.113.10",
		},
		{
			name:       "empty proxy list",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{},
			want:       "203.0.113.10",
		},
		{
			name:       "invalid entries trust nobody",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"invalid-cidr-range", "also-invalid"}},
			want:       "203.0.113.10",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.10",
			config:     internalProxies,
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/login-tokens/abc", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestExtractClientIP_UnknownRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = ""
	assert.Equal(t, "unknown", pkghttp.ExtractClientIP(req, nil))
}

func TestUserAgent(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", "  tokenlink/1.0  ")
	assert.Equal(t, "tokenlink/1.0", pkghttp.UserAgent(req))

	req.Header.Set("User-Agent", strings.Repeat("é", 200))
	ua := pkghttp.UserAgent(req)
	assert.LessOrEqual(t, len(ua), 256)
	assert.Equal(t, strings.Repeat("é", 128), ua)
}
