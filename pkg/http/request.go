package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// maxUserAgentLength bounds what is stored alongside a login token.
const maxUserAgentLength = 256

// IPConfig lists the proxies whose forwarding headers are believed.
// Entries are CIDR ranges or single addresses; unparsable entries are ignored.
type IPConfig struct {
	TrustedProxies []string
}

func (c *IPConfig) prefixes() []netip.Prefix {
	if c == nil {
		return nil
	}
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// ExtractClientIP returns the address a request came from.
//
// Forwarding headers are only read when the peer is a trusted proxy. The
// X-Forwarded-For chain is walked from the right, skipping trusted hops, so
// a client cannot prepend an address of its choosing. X-Real-IP is used
// when X-Forwarded-For yields nothing.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer := remoteAddr(r)

	trusted := config.prefixes()
	if len(trusted) == 0 || !contains(trusted, peer) {
		return formatAddr(peer, r.RemoteAddr)
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			addr = addr.Unmap()
			if !contains(trusted, addr) {
				return addr.String()
			}
		}
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}

	return formatAddr(peer, r.RemoteAddr)
}

// UserAgent returns the request's User-Agent cut to a storable length.
func UserAgent(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) <= maxUserAgentLength {
		return ua
	}
	ua = ua[:maxUserAgentLength]
	for !utf8.ValidString(ua) {
		ua = ua[:len(ua)-1]
	}
	return ua
}

func remoteAddr(r *http.Request) netip.Addr {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func formatAddr(addr netip.Addr, raw string) string {
	if addr.IsValid() {
		return addr.String()
	}
	if raw == "" {
		return "unknown"
	}
	return raw
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
