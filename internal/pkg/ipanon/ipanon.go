// Package ipanon truncates client addresses before they are persisted.
package ipanon

import "strings"

// Anonymise zeroes the host part of an address.
//
// IPv4 addresses lose their last octet (203.0.113.42 -> 203.0.113.0) and
// colon-separated IPv6 addresses lose their last two segments. The input is
// treated as text: anything that is neither shape is returned unchanged and
// an empty string stays empty.
func Anonymise(ip string) string {
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ".") {
		parts := strings.Split(ip, ".")
		if len(parts) == 4 {
			parts[3] = "0"
			return strings.Join(parts, ".")
		}
	}

	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		if len(parts) >= 2 {
			parts[len(parts)-1] = "0"
			parts[len(parts)-2] = "0"
			return strings.Join(parts, ":")
		}
	}

	return ip
}
