package internal_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tally/internal/events"
	"tally/internal/testsupport"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"

func get(t *testing.T, app *fiber.App, target string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&events.Event{}).Count(&n).Error)
	return n
}

func TestRoutesRegistered(t *testing.T) {
	testsupport.UseTestConfig(t, nil)
	app := testsupport.CreateMinimalTestApp(t, testsupport.SetupTestDB(t))

	registered := map[string]bool{}
	for _, route := range app.GetRoutes(true) {
		registered[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"GET /",
		"GET /tally.js",
		"GET /_health",
		"HEAD /_health",
		"GET /metrics",
		"POST /api/track",
		"POST /x/api/v1/events",
		"OPTIONS /x/api/v1/events",
		"GET /api/stats/overview",
		"GET /api/stats/top-pages",
		"GET /api/stats/referrers",
		"GET /api/stats/custom-events",
		"GET /api/stats/timeline",
		"GET /api/stats/recent",
		"GET /api/stats/browsers",
		"GET /api/stats/devices",
		"GET /api/stats/countries",
		"GET /api/stats/os",
		"GET /api/stats/dashboard",
		"GET /api/stats/active",
		"GET /api/stats/active-on-path",
		"POST /api/rollup",
		"GET /api/rollup/status",
	} {
		assert.Truef(t, registered[want], "expected route %s", want)
	}
}

func TestPublicEventsRouteRateLimited(t *testing.T) {
	testsupport.UseTestConfig(t, nil)
	app := testsupport.CreateMinimalTestApp(t, testsupport.SetupTestDB(t))

	var eventRoute *fiber.Route
	routes := app.GetRoutes(true)
	for idx := range routes {
		if routes[idx].Method == fiber.MethodPost && routes[idx].Path == "/x/api/v1/events" {
			eventRoute = &routes[idx]
			break
		}
	}
	require.NotNil(t, eventRoute, "expected events route to be registered")

	// The limiter sits behind a production-only wrapper defined in MountRoutes.
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range eventRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountRoutes.func") {
			hasRateLimiter = true
			break
		}
	}
	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for public events route, handlers: %v", handlerNames)
}

func TestHealthAndMetrics(t *testing.T) {
	testsupport.UseTestConfig(t, nil)
	app := testsupport.CreateMinimalTestApp(t, testsupport.SetupTestDB(t))

	resp, body := get(t, app, "/_health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["db_status"])
	assert.Equal(t, "hash", health["identity_mode"])
	assert.Equal(t, false, health["geoip"])

	resp, body = get(t, app, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestAutoPageViews(t *testing.T) {
	testsupport.UseTestConfig(t, nil)
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("browser navigation is recorded", func(t *testing.T) {
		testsupport.CleanTables(db)

		resp, body := get(t, app, "/", map[string]string{
			"Accept":  "text/html,application/xhtml+xml",
			"Referer": "https://www.google.com/search?q=tally",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "<html")

		var rows []events.Event
		require.NoError(t, db.Find(&rows).Error)
		require.Len(t, rows, 1)
		assert.Equal(t, events.EventTypePageView, rows[0].EventType)
		assert.Equal(t, "/", rows[0].Path)
		require.NotNil(t, rows[0].ReferrerDomain)
		assert.Equal(t, "www.google.com", *rows[0].ReferrerDomain)
		require.NotNil(t, rows[0].Browser)
		assert.Equal(t, "Safari", *rows[0].Browser)
	})

	tests := []struct {
		name    string
		target  string
		headers map[string]string
	}{
		{"non html accept", "/", map[string]string{"Accept": "application/json"}},
		{"prefetch", "/", map[string]string{"Accept": "text/html", "Sec-Purpose": "prefetch"}},
		{"static asset", "/tally.js", map[string]string{"Accept": "text/html"}},
		{"stats api", "/api/stats/overview", map[string]string{"Accept": "text/html"}},
		{"health probe", "/_health", map[string]string{"Accept": "text/html"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testsupport.CleanTables(db)
			get(t, app, tt.target, tt.headers)
			assert.Zero(t, countEvents(t, db))
		})
	}
}

func TestTrackerScript(t *testing.T) {
	testsupport.UseTestConfig(t, nil)
	app := testsupport.CreateMinimalTestApp(t, testsupport.SetupTestDB(t))

	resp, body := get(t, app, "/tally.js", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, string(body), "/api/track")
}

func TestStatsEndpoints(t *testing.T) {
	testsupport.UseTestConfig(t, nil)
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	testsupport.InsertEvent(t, db, testsupport.EventSpec{Path: "/", VisitorKey: "a", Browser: "Chrome", Country: "DE"})
	testsupport.InsertEvent(t, db, testsupport.EventSpec{Path: "/", VisitorKey: "b", Browser: "Firefox", Country: "US"})
	testsupport.InsertEvent(t, db, testsupport.EventSpec{Path: "/pricing", VisitorKey: "a", Browser: "Chrome", Country: "DE"})
	testsupport.InsertEvent(t, db, testsupport.EventSpec{Path: "/", VisitorKey: "bot", IsBot: testsupport.Bool(true)})
	testsupport.InsertEvent(t, db, testsupport.EventSpec{Type: events.EventTypeCustom, Name: "signup", Path: "/pricing", VisitorKey: "a"})

	t.Run("overview", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/overview?range=today", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var overview map[string]any
		require.NoError(t, json.Unmarshal(body, &overview))
		assert.Equal(t, float64(3), overview["total_views"])
		assert.Equal(t, float64(2), overview["unique_visitors"])
		assert.Equal(t, float64(2), overview["active_now"])
		assert.Equal(t, float64(1), overview["bots"])
	})

	t.Run("top pages", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/top-pages?limit=1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var pages []map[string]any
		require.NoError(t, json.Unmarshal(body, &pages))
		require.Len(t, pages, 1)
		assert.Equal(t, "/", pages[0]["path"])
		assert.Equal(t, float64(2), pages[0]["views"])
	})

	t.Run("custom events", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/custom-events", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"event_name":"signup"`)
	})

	t.Run("countries breakdown", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/countries", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "Germany")
	})

	t.Run("dashboard", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/dashboard?range=30d", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var dashboard map[string]any
		require.NoError(t, json.Unmarshal(body, &dashboard))
		for _, key := range []string{"overview", "top_pages", "referrers", "custom_events", "timeline", "recent", "browsers", "devices", "countries", "os"} {
			assert.Contains(t, dashboard, key)
		}
	})

	t.Run("active visitors", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/active", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var active map[string]any
		require.NoError(t, json.Unmarshal(body, &active))
		assert.Equal(t, float64(2), active["total"])
		assert.Equal(t, float64(1), active["bots"])
	})

	t.Run("active on path", func(t *testing.T) {
		resp, body := get(t, app, "/api/stats/active-on-path?path=/pricing", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"count":1`)

		resp, _ = get(t, app, "/api/stats/active-on-path", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	bad := []string{
		"/api/stats/overview?range=yesterday",
		"/api/stats/top-pages?limit=0",
		"/api/stats/recent?limit=abc",
	}
	for _, target := range bad {
		t.Run("rejects "+target, func(t *testing.T) {
			resp, body := get(t, app, target, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), "error")
		})
	}
}

func TestDashboardToken(t *testing.T) {
	testsupport.UseTestConfig(t, map[string]string{"TALLY_DASHBOARD_TOKEN": "dash-secret"})
	app := testsupport.CreateMinimalTestApp(t, testsupport.SetupTestDB(t))

	resp, _ := get(t, app, "/api/stats/overview", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, app, "/api/stats/overview", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, app, "/api/stats/overview", map[string]string{"Authorization": "Bearer dash-secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Tracking stays open.
	resp, _ = get(t, app, "/_health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
