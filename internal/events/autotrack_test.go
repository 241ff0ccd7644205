package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tally/internal/events"
)

func TestShouldAutoTrack(t *testing.T) {
	const html = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	tests := []struct {
		name string
		req  events.PageViewRequest
		want bool
	}{
		{"page navigation", events.PageViewRequest{Method: "GET", Path: "/blog", Accept: html}, true},
		{"root", events.PageViewRequest{Method: "GET", Path: "/", Accept: html}, true},
		{"post", events.PageViewRequest{Method: "POST", Path: "/blog", Accept: html}, false},
		{"json request", events.PageViewRequest{Method: "GET", Path: "/blog", Accept: "application/json"}, false},
		{"no accept header", events.PageViewRequest{Method: "GET", Path: "/blog"}, false},
		{"asset", events.PageViewRequest{Method: "GET", Path: "/favicon.ico", Accept: html}, false},
		{"internal route", events.PageViewRequest{Method: "GET", Path: "/_health", Accept: html}, false},
		{"prefetch", events.PageViewRequest{Method: "GET", Path: "/blog", Accept: html, Purpose: "prefetch"}, false},
		{"api", events.PageViewRequest{Method: "GET", Path: "/api/stats/overview", Accept: html}, false},
		{"public api", events.PageViewRequest{Method: "GET", Path: "/x/api/v1/events", Accept: html}, false},
		{"metrics", events.PageViewRequest{Method: "GET", Path: "/metrics", Accept: html}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, events.ShouldAutoTrack(tc.req, events.DefaultIgnoredPrefixes))
		})
	}
}
