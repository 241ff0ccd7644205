package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/web"
)

var (
	indexHTML = web.File("index.html")
	trackerJS = web.File("tally.js")
)

// HomeIndexAction serves the landing page. The page-view middleware has
// already counted the visit by the time this runs.
func HomeIndexAction(ctx *cartridge.Context) error {
	ctx.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return ctx.Send(indexHTML)
}

// TrackerScriptAction serves the browser helper exposing tally.track().
func TrackerScriptAction(ctx *cartridge.Context) error {
	ctx.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	return ctx.Send(trackerJS)
}
