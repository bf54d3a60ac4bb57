package gateway

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// proxySet matches addresses of trusted reverse proxies.
type proxySet struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func newProxySet(entries []string, logger *slog.Logger) *proxySet {
	set := &proxySet{addrs: make(map[netip.Addr]struct{})}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			set.prefixes = append(set.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid trusted proxy IP", "entry", entry, "error", err)
			continue
		}
		set.addrs[addr.Unmap()] = struct{}{}
	}

	if len(set.addrs) == 0 && len(set.prefixes) == 0 {
		return nil
	}
	return set
}

func (s *proxySet) trusted(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if _, ok := s.addrs[addr]; ok {
		return true
	}
	for _, prefix := range s.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr returns the peer address of r. When the direct peer is a
// trusted proxy, the right-most untrusted hop of Forwarded or
// X-Forwarded-For wins; if every hop is trusted the left-most does.
func clientAddr(r *http.Request, proxies *proxySet) string {
	peer := parseHost(r.RemoteAddr)
	if !peer.IsValid() {
		return r.RemoteAddr
	}
	if !proxies.trusted(peer) {
		return r.RemoteAddr
	}

	hops := forwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(hops) == 0 {
		return r.RemoteAddr
	}

	for i := len(hops) - 1; i >= 0; i-- {
		if !proxies.trusted(hops[i]) {
			return hops[i].String()
		}
	}
	return hops[0].String()
}

func forwardedFor(header string) []netip.Addr {
	var hops []netip.Addr
	for _, element := range strings.Split(header, ",") {
		for _, pair := range strings.Split(element, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			if addr := parseHost(value); addr.IsValid() {
				hops = append(hops, addr)
			}
		}
	}
	return hops
}

func xForwardedFor(header string) []netip.Addr {
	var hops []netip.Addr
	for _, part := range strings.Split(header, ",") {
		if addr := parseHost(part); addr.IsValid() {
			hops = append(hops, addr)
		}
	}
	return hops
}

// parseHost accepts "ip", "ip:port", "[v6]:port" and quoted forms.
// Zones are dropped. It returns the zero Addr for anything else.
func parseHost(value string) netip.Addr {
	value = strings.Trim(strings.TrimSpace(value), "\"")
	if value == "" || strings.EqualFold(value, "unknown") {
		return netip.Addr{}
	}
	if ap, err := netip.ParseAddrPort(value); err == nil {
		return ap.Addr().WithZone("").Unmap()
	}
	addr, err := netip.ParseAddr(strings.Trim(value, "[]"))
	if err != nil {
		return netip.Addr{}
	}
	return addr.WithZone("").Unmap()
}
