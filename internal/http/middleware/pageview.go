package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"tally/internal/events"
	"tally/internal/pkg/clientip"
	"tally/internal/visitors"
)

// RequestMetadata collects what the recorder needs to know about the caller.
func RequestMetadata(c *fiber.Ctx) events.RequestMetadata {
	userAgent := c.Get(fiber.HeaderUserAgent)
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		userAgent = forwarded
	}
	return events.RequestMetadata{
		IP:            clientip.FromRequest(c),
		UserAgent:     userAgent,
		Country:       clientip.Country(c),
		SessionCookie: c.Cookies(visitors.SessionCookieName),
	}
}

// IssueVisitorCookie persists a newly minted session identity. Hash
// identities never set cookies.
func IssueVisitorCookie(c *fiber.Ctx, identity visitors.Identity, secure bool) {
	if !identity.Issued {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     visitors.SessionCookieName,
		Value:    identity.VisitorKey,
		Path:     "/",
		MaxAge:   int(visitors.SessionCookieMaxAge.Seconds()),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

type PageViewOptions struct {
	Recorder        *events.Recorder
	Logger          *slog.Logger
	IgnoredPrefixes []string
	SecureCookies   bool
}

// PageViewTracker records a page view for every qualifying navigation before
// handing the request on. Recording failures are logged and never affect the
// response.
func PageViewTracker(opts PageViewOptions) fiber.Handler {
	prefixes := opts.IgnoredPrefixes
	if prefixes == nil {
		prefixes = events.DefaultIgnoredPrefixes
	}

	return func(c *fiber.Ctx) error {
		purpose := c.Get("Sec-Purpose")
		if purpose == "" {
			purpose = c.Get("Purpose")
		}

		req := events.PageViewRequest{
			Method:  c.Method(),
			Path:    c.Path(),
			Accept:  c.Get(fiber.HeaderAccept),
			Purpose: purpose,
		}
		if !events.ShouldAutoTrack(req, prefixes) {
			return c.Next()
		}

		receipt, err := opts.Recorder.Record(c.UserContext(), events.RecordInput{
			Type:     events.EventTypePageView,
			Path:     req.Path,
			Referrer: c.Get(fiber.HeaderReferer),
			Request:  RequestMetadata(c),
		})
		if err != nil {
			opts.Logger.Warn("Failed to record page view",
				slog.String("path", req.Path),
				slog.Any("error", err))
		} else {
			IssueVisitorCookie(c, receipt.Identity, opts.SecureCookies)
		}

		return c.Next()
	}
}
