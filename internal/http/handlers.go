// Package http holds the dashboard read API and operational endpoints.
package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tally/internal/analytics"
	"tally/internal/pkg/async"
	"tally/internal/pkg/geoip"
	"tally/internal/visitors"
)

// Handlers carries the read-side dependencies shared by every action.
type Handlers struct {
	Live         *analytics.LiveQuerier
	Pool         *async.Pool
	GeoIP        *geoip.Locator
	IdentityMode visitors.Mode
}

// countBots is true for hash identities only. Session identities give a
// cookie-less bot a new key on every request, which inflates the count.
func (h *Handlers) countBots() bool {
	return h.IdentityMode == visitors.ModeHash
}

var metricsHandler = adaptor.HTTPHandler(promhttp.Handler())

// MetricsAction exposes Prometheus metrics.
func MetricsAction(ctx *cartridge.Context) error {
	return metricsHandler(ctx.Ctx)
}

// OptionsAction answers CORS preflight requests.
func OptionsAction(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}
