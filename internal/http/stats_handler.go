package http

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/analytics"
	"tally/internal/timeframe"
)

// queryParams reads ?range= and ?limit= from the request.
func queryParams(ctx *cartridge.Context) (analytics.QueryParams, error) {
	r, err := timeframe.ParseRange(ctx.Query("range"))
	if err != nil {
		return analytics.QueryParams{}, err
	}
	limit, err := queryLimit(ctx)
	if err != nil {
		return analytics.QueryParams{}, err
	}
	return analytics.QueryParams{Range: r, Limit: limit}, nil
}

var errInvalidLimit = errors.New("limit must be a positive integer")

func queryLimit(ctx *cartridge.Context) (int, error) {
	raw := ctx.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errInvalidLimit
	}
	return limit, nil
}

func badRequest(ctx *cartridge.Context, err error) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func queryFailed(ctx *cartridge.Context, name string, err error) error {
	ctx.Logger.Error("Stats query failed", slog.String("query", name), slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load " + name})
}

func (h *Handlers) OverviewAction(ctx *cartridge.Context) error {
	params, err := queryParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	overview, err := analytics.GetOverview(ctx.DB().WithContext(ctx.UserContext()), params, h.countBots())
	if err != nil {
		return queryFailed(ctx, "overview", err)
	}
	return ctx.JSON(overview)
}

func (h *Handlers) TopPagesAction(ctx *cartridge.Context) error {
	params, err := queryParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	pages, err := analytics.GetTopPages(ctx.DB().WithContext(ctx.UserContext()), params)
	if err != nil {
		return queryFailed(ctx, "top pages", err)
	}
	return ctx.JSON(pages)
}

func (h *Handlers) ReferrersAction(ctx *cartridge.Context) error {
	params, err := queryParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	stats, err := analytics.GetReferrers(ctx.DB().WithContext(ctx.UserContext()), params)
	if err != nil {
		return queryFailed(ctx, "referrers", err)
	}
	return ctx.JSON(stats)
}

func (h *Handlers) CustomEventsAction(ctx *cartridge.Context) error {
	params, err := queryParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	stats, err := analytics.GetCustomEvents(ctx.DB().WithContext(ctx.UserContext()), params)
	if err != nil {
		return queryFailed(ctx, "custom events", err)
	}
	return ctx.JSON(stats)
}

func (h *Handlers) TimelineAction(ctx *cartridge.Context) error {
	params, err := queryParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	points, err := analytics.GetVisitorTimeline(ctx.DB().WithContext(ctx.UserContext()), params)
	if err != nil {
		return queryFailed(ctx, "timeline", err)
	}
	return ctx.JSON(points)
}

// RecentAction ignores ?range=; it always returns the newest events.
func (h *Handlers) RecentAction(ctx *cartridge.Context) error {
	limit, err := queryLimit(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	recent, err := analytics.GetRecentEvents(ctx.DB().WithContext(ctx.UserContext()), limit)
	if err != nil {
		return queryFailed(ctx, "recent events", err)
	}
	return ctx.JSON(recent)
}

// BreakdownAction serves /api/stats/{browsers,devices,countries,os}.
func (h *Handlers) BreakdownAction(dim analytics.Dimension) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		params, err := queryParams(ctx)
		if err != nil {
			return badRequest(ctx, err)
		}
		items, err := analytics.GetBreakdown(ctx.DB().WithContext(ctx.UserContext()), dim, params)
		if err != nil {
			return queryFailed(ctx, string(dim), err)
		}
		return ctx.JSON(items)
	}
}

func (h *Handlers) DashboardAction(ctx *cartridge.Context) error {
	params, err := queryParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	dashboard, err := analytics.GetDashboard(ctx.UserContext(), ctx.DB(), h.Pool, params, h.countBots())
	if err != nil {
		return queryFailed(ctx, "dashboard", err)
	}
	return ctx.JSON(dashboard)
}

// ActiveVisitorsAction never fails; storage errors yield zero values.
func (h *Handlers) ActiveVisitorsAction(ctx *cartridge.Context) error {
	limit, err := queryLimit(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	return ctx.JSON(h.Live.ActiveVisitors(ctx.UserContext(), limit))
}

func (h *Handlers) ActiveOnPathAction(ctx *cartridge.Context) error {
	path := ctx.Query("path")
	if path == "" {
		return badRequest(ctx, errors.New("path is required"))
	}
	return ctx.JSON(h.Live.ActiveOnPath(ctx.UserContext(), path))
}
