package events

import "strings"

// DefaultIgnoredPrefixes are never auto-tracked: JSON APIs and scrapes.
var DefaultIgnoredPrefixes = []string{"/api/", "/x/", "/metrics"}

// PageViewRequest is the subset of an incoming request the auto-track gate
// looks at.
type PageViewRequest struct {
	Method  string
	Path    string
	Accept  string
	Purpose string
}

// ShouldAutoTrack reports whether a request is a human-facing page load that
// should produce a page view: a GET that accepts HTML, outside internal
// ("/_") routes, without a file extension, not a prefetch and not under an
// ignored prefix.
func ShouldAutoTrack(req PageViewRequest, ignoredPrefixes []string) bool {
	if !strings.EqualFold(req.Method, "GET") {
		return false
	}
	if !strings.Contains(strings.ToLower(req.Accept), "text/html") {
		return false
	}
	if req.Path == "" || strings.HasPrefix(req.Path, "/_") || strings.Contains(req.Path, ".") {
		return false
	}
	if strings.Contains(strings.ToLower(req.Purpose), "prefetch") {
		return false
	}
	for _, prefix := range ignoredPrefixes {
		if strings.HasPrefix(req.Path, prefix) {
			return false
		}
	}
	return true
}
