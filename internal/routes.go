package internal

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "tally/api/v1"
	"tally/internal/analytics"
	"tally/internal/config"
	"tally/internal/http"
	"tally/internal/http/middleware"
)

// publicCORSConfig is shared by endpoints called from other origins.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes builds the services over the server's database and mounts
// every route.
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	services, err := NewServices(cfg, srv.GetDBManager(), srv.GetLogger())
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}
	MountRoutes(srv, services)
}

// MountRoutes mounts every route over already built services.
func MountRoutes(srv *cartridge.Server, services *Services) {
	cfg := services.Config

	// Rate limiting only applies in production; it would interfere with tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP handles legitimate tracking traffic while capping abuse.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	rollupRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	trackConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
	}

	// Stats and rollup are called by dashboards, cron and curl rather than
	// browsers navigating between sites.
	statsConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{middleware.DashboardAuth(cfg.DashboardToken)},
	}

	rollupConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{rollupRateLimiter},
	}

	// Auto page views run ahead of routing so they see every navigation.
	srv.App().Use(middleware.PageViewTracker(middleware.PageViewOptions{
		Recorder:      services.Recorder,
		Logger:        services.Logger,
		SecureCookies: cfg.SecureCookies,
	}))

	api := &v1.Handlers{
		Recorder:      services.Recorder,
		Rollup:        services.Rollup,
		SecureCookies: cfg.SecureCookies,
	}

	h := &http.Handlers{
		Live:         services.Live,
		Pool:         services.Pool,
		GeoIP:        services.GeoIP,
		IdentityMode: services.Resolver.Mode(),
	}

	// === ROOT ROUTES ===
	srv.Get("/", http.HomeIndexAction)
	srv.Get("/tally.js", http.TrackerScriptAction)

	srv.Get("/_health", h.HealthIndexAction)
	srv.Head("/_health", h.HealthIndexAction)
	srv.Get("/metrics", http.MetricsAction, &cartridge.RouteConfig{EnableSecFetchSite: cartridge.Bool(false)})

	// === TRACKING ===
	srv.Post("/api/track", api.TrackAction, trackConfig)

	srv.Post("/x/api/v1/events", api.CreateEventPublicAPIHandler, publicAPIConfig)
	srv.Options("/x/api/v1/events", http.OptionsAction, publicAPIConfig)

	// === STATS ===
	srv.Get("/api/stats/overview", h.OverviewAction, statsConfig)
	srv.Get("/api/stats/top-pages", h.TopPagesAction, statsConfig)
	srv.Get("/api/stats/referrers", h.ReferrersAction, statsConfig)
	srv.Get("/api/stats/custom-events", h.CustomEventsAction, statsConfig)
	srv.Get("/api/stats/timeline", h.TimelineAction, statsConfig)
	srv.Get("/api/stats/recent", h.RecentAction, statsConfig)
	srv.Get("/api/stats/browsers", h.BreakdownAction(analytics.DimensionBrowsers), statsConfig)
	srv.Get("/api/stats/devices", h.BreakdownAction(analytics.DimensionDevices), statsConfig)
	srv.Get("/api/stats/countries", h.BreakdownAction(analytics.DimensionCountries), statsConfig)
	srv.Get("/api/stats/os", h.BreakdownAction(analytics.DimensionOS), statsConfig)
	srv.Get("/api/stats/dashboard", h.DashboardAction, statsConfig)
	srv.Get("/api/stats/active", h.ActiveVisitorsAction, statsConfig)
	srv.Get("/api/stats/active-on-path", h.ActiveOnPathAction, statsConfig)

	// === ROLLUP ===
	srv.Post("/api/rollup", api.RollupAction, rollupConfig)
	srv.Get("/api/rollup/status", api.RollupStatusAction, rollupConfig)
}
