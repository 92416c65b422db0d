package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

// RealIPMiddleware extracts the real client IP from trusted proxy headers.
// It only trusts X-Forwarded-For and CF-Connecting-IP headers when the request
// comes from a configured trusted proxy IP/CIDR.
type RealIPMiddleware struct {
	trusted []netip.Prefix
}

// NewRealIPMiddleware creates a new RealIPMiddleware with the given trusted proxies.
// trustedProxies can be IP addresses (e.g., "192.168.1.1") or CIDRs (e.g., "10.0.0.0/8").
// Unparseable entries are ignored.
func NewRealIPMiddleware(trustedProxies []string) *RealIPMiddleware {
	m := &RealIPMiddleware{}

	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if strings.Contains(proxy, "/") {
			if prefix, err := netip.ParsePrefix(proxy); err == nil {
				m.trusted = append(m.trusted, prefix.Masked())
			}
			continue
		}

		if addr, err := netip.ParseAddr(proxy); err == nil {
			addr = addr.Unmap()
			m.trusted = append(m.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}

	return m
}

// Handler returns the middleware handler
func (m *RealIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del("X-Real-IP")
		if realIP := m.extractRealIP(r); realIP != "" {
			r.Header.Set("X-Real-IP", realIP)
		}
		next.ServeHTTP(w, r)
	})
}

// extractRealIP returns the forwarded client address when the peer is a
// trusted proxy, otherwise the peer address itself.
func (m *RealIPMiddleware) extractRealIP(r *http.Request) string {
	remote, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !m.isTrustedProxy(remote) {
		return remote.String()
	}

	if cfIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))); err == nil {
		return cfIP.Unmap().String()
	}

	// first hop in the chain is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap().String()
		}
	}

	return remote.String()
}

func (m *RealIPMiddleware) isTrustedProxy(addr netip.Addr) bool {
	for _, prefix := range m.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr extracts the IP from RemoteAddr, with or without a port.
func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(remoteAddr); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
