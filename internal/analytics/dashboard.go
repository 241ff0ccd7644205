package analytics

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"tally/internal/pkg/async"
)

// Dashboard bundles every primary read for one range.
type Dashboard struct {
	Overview     Overview          `json:"overview"`
	TopPages     []PageStat        `json:"top_pages"`
	Referrers    []ReferrerStat    `json:"referrers"`
	CustomEvents []CustomEventStat `json:"custom_events"`
	Timeline     []TimelinePoint   `json:"timeline"`
	Recent       []RecentEvent     `json:"recent"`
	Browsers     []BreakdownItem   `json:"browsers"`
	Devices      []BreakdownItem   `json:"devices"`
	Countries    []BreakdownItem   `json:"countries"`
	OS           []BreakdownItem   `json:"os"`
}

// GetDashboard runs the primary reads concurrently on pool. The first failing
// read, in declaration order, is returned.
func GetDashboard(ctx context.Context, db *gorm.DB, pool *async.Pool, params QueryParams, countBots bool) (Dashboard, error) {
	db = db.WithContext(ctx)
	// Pin the clock so every read sees the same window.
	params.Now = params.now()

	var d Dashboard
	tasks := []async.Task{
		{Name: "overview", Execute: func(context.Context) (any, error) { return GetOverview(db, params, countBots) }},
		{Name: "top_pages", Execute: func(context.Context) (any, error) { return GetTopPages(db, params) }},
		{Name: "referrers", Execute: func(context.Context) (any, error) { return GetReferrers(db, params) }},
		{Name: "custom_events", Execute: func(context.Context) (any, error) { return GetCustomEvents(db, params) }},
		{Name: "timeline", Execute: func(context.Context) (any, error) { return GetVisitorTimeline(db, params) }},
		{Name: "recent", Execute: func(context.Context) (any, error) { return GetRecentEvents(db, DefaultRecentLimit) }},
		{Name: "browsers", Execute: func(context.Context) (any, error) { return GetBreakdown(db, DimensionBrowsers, params) }},
		{Name: "devices", Execute: func(context.Context) (any, error) { return GetBreakdown(db, DimensionDevices, params) }},
		{Name: "countries", Execute: func(context.Context) (any, error) { return GetBreakdown(db, DimensionCountries, params) }},
		{Name: "os", Execute: func(context.Context) (any, error) { return GetBreakdown(db, DimensionOS, params) }},
	}

	results := pool.Execute(ctx, tasks)
	for _, task := range tasks {
		if err := results[task.Name].Err; err != nil {
			return d, fmt.Errorf("dashboard %s: %w", task.Name, err)
		}
	}

	d.Overview = results["overview"].Data.(Overview)
	d.TopPages = results["top_pages"].Data.([]PageStat)
	d.Referrers = results["referrers"].Data.([]ReferrerStat)
	d.CustomEvents = results["custom_events"].Data.([]CustomEventStat)
	d.Timeline = results["timeline"].Data.([]TimelinePoint)
	d.Recent = results["recent"].Data.([]RecentEvent)
	d.Browsers = results["browsers"].Data.([]BreakdownItem)
	d.Devices = results["devices"].Data.([]BreakdownItem)
	d.Countries = results["countries"].Data.([]BreakdownItem)
	d.OS = results["os"].Data.([]BreakdownItem)
	return d, nil
}
