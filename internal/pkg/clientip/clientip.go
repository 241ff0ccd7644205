// Package clientip extracts the caller's address and CDN country hint from
// proxy headers.
package clientip

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

var countryHeaders = []string{
	"CF-IPCountry",
	"X-Vercel-IP-Country",
	"CloudFront-Viewer-Country",
	"X-Country-Code",
}

// FromRequest returns the best guess at the client address. Public addresses
// from proxy headers win; otherwise the socket address is used even when it
// is private, so local deployments still get a stable identity. Returns ""
// when nothing usable is found.
func FromRequest(c *fiber.Ctx) string {
	if ip := SelectPreferred(strings.Split(c.Get(fiber.HeaderXForwardedFor), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := SelectPreferred([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := SelectPreferred(parseForwarded(forwarded)); ip != "" {
			return ip
		}
	}

	if ip, _ := Normalize(c.Context().RemoteAddr().String()); ip != "" && ip != "0.0.0.0" {
		return ip
	}
	if ip, _ := Normalize(c.IP()); ip != "" && ip != "0.0.0.0" {
		return ip
	}
	return ""
}

// Country returns the first country code set by a known CDN header.
func Country(c *fiber.Ctx) string {
	for _, header := range countryHeaders {
		if value := strings.TrimSpace(c.Get(header)); value != "" {
			return value
		}
	}
	return ""
}

// SelectPreferred picks the first public IPv4 address, falling back to the
// first public IPv6 address.
func SelectPreferred(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		clean, parsed := Normalize(raw)
		if parsed == nil || IsPrivate(parsed) {
			continue
		}
		if parsed.To4() != nil {
			return clean
		}
		if ipv6Fallback == "" {
			ipv6Fallback = clean
		}
	}

	return ipv6Fallback
}

// Normalize strips quotes, ports, brackets and zones, and unmaps IPv4-mapped
// IPv6 addresses.
func Normalize(raw string) (string, net.IP) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return "", nil
	}

	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return fromAddr(addrPort.Addr())
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return fromAddr(addr)
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return Normalize(host)
	}

	return "", nil
}

func fromAddr(addr netip.Addr) (string, net.IP) {
	addr = addr.Unmap()
	s := addr.String()
	return s, net.ParseIP(s)
}

var privateBlocks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("::1/128"),
}

// IsPrivate covers RFC 1918, unique-local, link-local and loopback ranges.
func IsPrivate(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, block := range privateBlocks {
		if block.Contains(addr) {
			return true
		}
	}
	return false
}

func parseForwarded(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}
	return candidates
}
